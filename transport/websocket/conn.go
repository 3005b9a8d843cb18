// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket links nodes over WebSocket. Each binary message carries
// one codec frame. A Conn is a routing link for outbound samples and feeds
// inbound samples to the session as remote data.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/routing"
	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned when writing to a closed connection.
var ErrConnClosed = errors.New("websocket connection closed")

const defaultWriteTimeout = 5 * time.Second

var _ routing.Link = (*Conn)(nil)

// Injector receives samples read from the network.
type Injector interface {
	HandleRemote(key keyexpr.KeyExpr, info *core.DataInfo, payload *core.Buffer) error
}

// Conn is one WebSocket peer.
type Conn struct {
	ws          *websocket.Conn
	remote      string
	compression codec.Compression
	pool        *core.BufferPool
	logger      *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConn(ws *websocket.Conn, remote string, compression codec.Compression, pool *core.BufferPool, logger *slog.Logger) *Conn {
	return &Conn{
		ws:          ws,
		remote:      remote,
		compression: compression,
		pool:        pool,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// WriteFrame encodes f and sends it as one binary message.
func (c *Conn) WriteFrame(ctx context.Context, f codec.Frame) error {
	data, err := codec.Encode(f, c.compression)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write frame to %s: %w", c.remote, err)
	}
	return nil
}

// ReadLoop reads frames until the connection fails or is closed and hands
// each sample to inj. Malformed frames are logged and skipped. Payloads are
// copied into the connection's pool and released once inj returns, so an
// injector that keeps a payload must Retain it.
func (c *Conn) ReadLoop(inj Injector) error {
	defer c.Close()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
				return nil
			}
			return err
		}
		if msgType != websocket.BinaryMessage {
			c.logger.Debug("websocket_non_binary_message_ignored", slog.String("remote_addr", c.remote))
			continue
		}

		f, err := codec.Decode(data)
		if err != nil {
			c.logger.Warn("websocket_frame_decode_failed",
				slog.String("remote_addr", c.remote),
				slog.String("error", err.Error()))
			continue
		}
		key, err := keyexpr.New(f.KeyExpr)
		if err != nil {
			c.logger.Warn("websocket_frame_invalid_key",
				slog.String("remote_addr", c.remote),
				slog.String("key_expr", f.KeyExpr))
			continue
		}

		payload := c.pool.Copy(f.Payload)
		err = inj.HandleRemote(key, f.Info, payload)
		payload.Release()
		if err != nil {
			return fmt.Errorf("deliver remote sample: %w", err)
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close sends a close message and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.logger.Debug("websocket_connection_closed", slog.String("remote_addr", c.remote))
	return c.ws.Close()
}

// DialConfig holds client settings.
type DialConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	Compression      codec.Compression
	// MaxMessageSize bounds inbound messages. Zero means no limit.
	MaxMessageSize int64
	Pool           *core.BufferPool
}

// Dial connects to a peer. When inj is non-nil the returned Conn reads
// inbound frames in the background until it is closed.
func Dial(ctx context.Context, cfg DialConfig, inj Injector, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}

	c := newConn(ws, cfg.URL, cfg.Compression, cfg.Pool, logger)
	logger.Info("websocket_peer_connected", slog.String("url", cfg.URL))

	if inj != nil {
		go func() {
			if err := c.ReadLoop(inj); err != nil {
				logger.Warn("websocket_read_loop_stopped",
					slog.String("url", cfg.URL),
					slog.String("error", err.Error()))
			}
		}()
	}
	return c, nil
}
