// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package node assembles a session, its router, its links and an optional
// storage into one running process.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxpub/bridge/mqtt"
	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/config"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/health"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/publication"
	"github.com/absmach/fluxpub/routing"
	"github.com/absmach/fluxpub/session"
	"github.com/absmach/fluxpub/storage"
	"github.com/absmach/fluxpub/storage/badger"
	"github.com/absmach/fluxpub/storage/memory"
	"github.com/absmach/fluxpub/telemetry"
	"github.com/absmach/fluxpub/transport/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ health.Source = (*Node)(nil)

// MQTTFace is the router face name of the MQTT bridge.
const MQTTFace = "mqtt"

// Inbound payload pool capacity per size class.
const (
	inboundPoolSmall  = 1024
	inboundPoolMedium = 256
	inboundPoolLarge  = 16
)

var (
	// ErrStorageDisabled is returned by Get and Match when no store is attached.
	ErrStorageDisabled = errors.New("storage disabled")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("node closed")
)

// Node is a running fluxpub process.
type Node struct {
	logger  *slog.Logger
	metrics publication.Metrics
	tracer  trace.Tracer

	congestion  core.CongestionControl
	priority    core.Priority
	reliability publication.ReliabilityPolicy

	session *session.Session
	router  *routing.Router
	pool    *core.BufferPool
	store   storage.Store
	detach  func()

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errCh   chan error
	closeMu sync.Mutex
	closed  bool
}

// Open builds and starts a node. metrics and tracer may be nil.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics, tracer trace.Tracer) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	id := uuid.Nil
	if cfg.Node.ID != "" {
		var err error
		if id, err = uuid.Parse(cfg.Node.ID); err != nil {
			return nil, fmt.Errorf("node.id: %w", err)
		}
	}

	cc, _ := core.ParseCongestionControl(cfg.Publication.CongestionControl)
	prio, _ := core.ParsePriority(cfg.Publication.Priority)
	reliability, err := reliabilityPolicy(cfg.Publication.BestEffort)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	n := &Node{
		logger:      logger,
		tracer:      tracer,
		congestion:  cc,
		priority:    prio,
		reliability: reliability,
		pool:        core.NewBufferPool(inboundPoolSmall, inboundPoolMedium, inboundPoolLarge),
		cancel:      cancel,
		errCh:       make(chan error, 1),
	}

	var routingMetrics routing.Metrics
	if metrics != nil {
		n.metrics = metrics
		routingMetrics = metrics
	}

	n.session = session.New(session.Config{
		ID:           id,
		LocalRouting: cfg.Publication.LocalRouting,
		Timestamping: cfg.Timestamping.Enabled,
	}, logger)

	n.router = routing.New(routing.Config{
		QueueSize:       cfg.Routing.QueueSize,
		RateLimit:       cfg.Routing.RateLimit,
		RateBurst:       cfg.Routing.RateBurst,
		BreakerFailures: cfg.Routing.BreakerFailures,
		BreakerTimeout:  cfg.Routing.BreakerTimeout,
		WriteTimeout:    cfg.Routing.WriteTimeout,
	}, routingMetrics, logger)
	n.session.SetPrimitives(n.router)

	if err := n.start(ctx, cfg); err != nil {
		_ = n.Close()
		return nil, err
	}

	logger.Info("node_started",
		slog.String("id", n.session.ID().String()),
		slog.Bool("local_routing", cfg.Publication.LocalRouting),
		slog.Bool("timestamping", cfg.Timestamping.Enabled),
		slog.Int("faces", len(n.router.Faces())),
		slog.Bool("storage", n.store != nil))
	return n, nil
}

func (n *Node) start(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Enabled {
		if err := n.openStorage(cfg.Storage); err != nil {
			return err
		}
	}

	if cfg.Health.Enabled {
		hs := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Transport.WebSocket.ShutdownTimeout,
		}, n, n.logger)
		n.serve(func() error { return hs.Listen(ctx) }, "health_server_failed")
	}

	compression, _ := codec.ParseCompression(cfg.Transport.Compression)

	if ws := cfg.Transport.WebSocket; ws.Enabled {
		srv := websocket.NewServer(websocket.Config{
			Address:         ws.Addr,
			Path:            ws.Path,
			ShutdownTimeout: ws.ShutdownTimeout,
			MaxMessageSize:  ws.MaxMessageSize,
			Compression:     compression,
			ConnectionRate:  ws.ConnectionRate,
			ConnectionBurst: ws.ConnectionBurst,
			Pool:            n.pool,
		}, n.session, n.router, n.logger)

		n.serve(func() error { return srv.Listen(ctx) }, "websocket_server_failed")
	}

	for _, url := range cfg.Transport.Peers {
		conn, err := websocket.Dial(ctx, websocket.DialConfig{
			URL:              url,
			HandshakeTimeout: 10 * time.Second,
			Compression:      compression,
			MaxMessageSize:   cfg.Transport.WebSocket.MaxMessageSize,
			Pool:             n.pool,
		}, n.session, n.logger)
		if err != nil {
			return fmt.Errorf("connect peer: %w", err)
		}
		if err := n.router.AddFace("peer:"+url, conn); err != nil {
			_ = conn.Close()
			return fmt.Errorf("add peer %s: %w", url, err)
		}
	}

	if mc := cfg.Bridge.MQTT; mc.Enabled {
		if err := n.openBridge(ctx, mc); err != nil {
			return err
		}
	}

	return nil
}

// serve runs listen in the background and reports its failure on Errors.
func (n *Node) serve(listen func() error, event string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := listen(); err != nil {
			n.logger.Error(event, slog.String("error", err.Error()))
			select {
			case n.errCh <- err:
			default:
			}
		}
	}()
}

func (n *Node) openStorage(cfg config.StorageConfig) error {
	switch cfg.Type {
	case "badger":
		compression, _ := codec.ParseCompression(cfg.Compression)
		s, err := badger.New(badger.Config{
			Dir:         cfg.BadgerDir,
			Compression: compression,
		})
		if err != nil {
			return err
		}
		n.store = s
	default:
		n.store = memory.New()
	}

	detach, err := storage.Attach(n.session, keyexpr.MustNew(cfg.KeyExpr), n.store, n.logger)
	if err != nil {
		return err
	}
	n.detach = detach
	return nil
}

func (n *Node) openBridge(ctx context.Context, cfg config.MQTTBridgeConfig) error {
	filters := make([]keyexpr.KeyExpr, 0, len(cfg.Forward))
	for _, f := range cfg.Forward {
		filters = append(filters, keyexpr.MustNew(f))
	}

	b, err := mqtt.New(mqtt.Config{
		Broker:         cfg.Broker,
		ClientID:       cfg.ClientID,
		Username:       cfg.Username,
		Password:       cfg.Password,
		TopicPrefix:    cfg.TopicPrefix,
		Retain:         cfg.Retain,
		ConnectTimeout: cfg.ConnectTimeout,
		PublishTimeout: cfg.PublishTimeout,
		Subscriptions:  cfg.Subscriptions,
		Pool:           n.pool,
	}, n.logger)
	if err != nil {
		return fmt.Errorf("mqtt bridge: %w", err)
	}
	if err := n.router.AddFace(MQTTFace, b, filters...); err != nil {
		_ = b.Close()
		return fmt.Errorf("mqtt bridge: %w", err)
	}
	if err := b.Relay(ctx, n.session); err != nil {
		return fmt.Errorf("mqtt bridge: %w", err)
	}
	return nil
}

func reliabilityPolicy(bestEffort []string) (publication.ReliabilityPolicy, error) {
	if len(bestEffort) == 0 {
		return publication.AlwaysReliable{}, nil
	}
	policy := make(publication.BestEffortOn, 0, len(bestEffort))
	for _, k := range bestEffort {
		ke, err := keyexpr.New(k)
		if err != nil {
			return nil, fmt.Errorf("publication.best_effort: %w", err)
		}
		policy = append(policy, ke)
	}
	return policy, nil
}

// ID returns the session identifier.
func (n *Node) ID() uuid.UUID {
	return n.session.ID()
}

// Session returns the node's session.
func (n *Node) Session() *session.Session {
	return n.session
}

// Router returns the node's router.
func (n *Node) Router() *routing.Router {
	return n.router
}

// Ready returns nil while the node accepts publications.
func (n *Node) Ready() error {
	n.closeMu.Lock()
	defer n.closeMu.Unlock()
	if n.closed {
		return ErrClosed
	}
	_, err := n.session.RoutingHandle()
	return err
}

// Status reports the session and per-face routing counters.
func (n *Node) Status() health.Status {
	st := health.Status{
		NodeID:        n.session.ID().String(),
		Subscriptions: n.session.Subscriptions(),
		Storage:       n.store != nil,
	}
	st.BufferPool.Hits, st.BufferPool.Misses = n.pool.Stats()
	for _, name := range n.router.Faces() {
		fs, ok := n.router.FaceStats(name)
		if !ok {
			continue
		}
		st.Faces = append(st.Faces, health.FaceStatus{
			Name:    name,
			Sent:    fs.Sent,
			Dropped: fs.Dropped,
			Failed:  fs.Failed,
		})
	}
	return st
}

// Errors reports fatal errors of background listeners.
func (n *Node) Errors() <-chan error {
	return n.errCh
}

// Publish returns a PublishBuilder for key carrying the node's configured
// defaults. Any setting can still be overridden before resolving.
func (n *Node) Publish(key string) *publication.PublishBuilder {
	return publication.Publish(n.session, key).
		CongestionControl(n.congestion).
		Priority(n.priority).
		ReliabilityPolicy(n.reliability).
		Metrics(n.metrics).
		Logger(n.logger)
}

// Put writes value on key with the node's defaults.
func (n *Node) Put(ctx context.Context, key string, value core.Value) error {
	return n.traced(ctx, core.Put, key, func() error {
		_, err := publication.Put(n.session, key, value).
			CongestionControl(n.congestion).
			Priority(n.priority).
			ReliabilityPolicy(n.reliability).
			Metrics(n.metrics).
			Logger(n.logger).
			Res()
		return err
	})
}

// Delete writes a delete on key with the node's defaults.
func (n *Node) Delete(ctx context.Context, key string) error {
	return n.traced(ctx, core.Delete, key, func() error {
		_, err := publication.Delete(n.session, key).
			CongestionControl(n.congestion).
			Priority(n.priority).
			ReliabilityPolicy(n.reliability).
			Metrics(n.metrics).
			Logger(n.logger).
			Res()
		return err
	})
}

func (n *Node) traced(ctx context.Context, kind core.SampleKind, key string, write func() error) error {
	if n.tracer == nil {
		return write()
	}

	_, span := n.tracer.Start(ctx, "fluxpub."+kind.String(),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("fluxpub.key_expr", key),
			attribute.String("fluxpub.congestion_control", n.congestion.String()),
			attribute.String("fluxpub.priority", n.priority.String()),
		))
	defer span.End()

	err := write()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Subscribe registers h for every sample whose key intersects key.
func (n *Node) Subscribe(key string, h session.Handler) (uint64, error) {
	ke, err := keyexpr.New(key)
	if err != nil {
		return 0, err
	}
	return n.session.Subscribe(ke, h)
}

// Unsubscribe removes a subscription.
func (n *Node) Unsubscribe(id uint64) {
	n.session.Unsubscribe(id)
}

// Get returns the stored value of key.
func (n *Node) Get(ctx context.Context, key string) (storage.Entry, error) {
	if n.store == nil {
		return storage.Entry{}, ErrStorageDisabled
	}
	return n.store.Get(ctx, key)
}

// Match returns the stored values whose keys intersect filter.
func (n *Node) Match(ctx context.Context, filter string) ([]storage.Entry, error) {
	if n.store == nil {
		return nil, ErrStorageDisabled
	}
	ke, err := keyexpr.New(filter)
	if err != nil {
		return nil, err
	}
	return n.store.Match(ctx, ke)
}

// Close stops listeners, closes every face and the storage, then the session.
func (n *Node) Close() error {
	n.closeMu.Lock()
	if n.closed {
		n.closeMu.Unlock()
		return ErrClosed
	}
	n.closed = true
	n.closeMu.Unlock()

	if n.detach != nil {
		n.detach()
	}
	n.cancel()
	n.wg.Wait()

	var errs []error
	if err := n.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close router: %w", err))
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if err := n.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}

	n.logger.Info("node_stopped", slog.String("id", n.session.ID().String()))
	return errors.Join(errs...)
}
