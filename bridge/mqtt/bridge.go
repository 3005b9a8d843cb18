// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt bridges samples to and from an MQTT broker. Outbound, the
// bridge is a routing link that publishes every frame on the topic named by
// its key expression. Inbound, it subscribes to MQTT topic filters and
// injects the messages into the session as remote data.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/routing"
	paho "github.com/eclipse/paho.mqtt.golang"
)

var (
	// ErrWildcardKey is returned when a frame's key cannot name an MQTT topic.
	ErrWildcardKey = errors.New("wildcard key expression cannot be published over mqtt")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt operation timed out")
)

var _ routing.Link = (*Bridge)(nil)

// Injector receives samples read from the broker.
type Injector interface {
	HandleRemote(key keyexpr.KeyExpr, info *core.DataInfo, payload *core.Buffer) error
}

// client is the part of paho.Client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// TopicPrefix is prepended to key expressions on the way out and
	// stripped on the way in.
	TopicPrefix string
	// Retain marks put messages as retained. Deletes are always published as
	// empty retained messages, which clears the broker's retained value.
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	// Subscriptions are MQTT topic filters relayed into the session.
	Subscriptions []string
	// Pool recycles relayed payload buffers; nil allocates per message.
	Pool *core.BufferPool
}

// Bridge is a connection to one MQTT broker.
type Bridge struct {
	cfg    Config
	client client
	logger *slog.Logger
}

// New connects to the broker.
func New(cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withDefaults(cfg)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt_bridge_connection_lost",
				slog.String("broker", cfg.Broker),
				slog.String("error", err.Error()))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}

	logger.Info("mqtt_bridge_connected",
		slog.String("broker", cfg.Broker),
		slog.String("client_id", cfg.ClientID))
	return newBridge(cfg, c, logger), nil
}

func newBridge(cfg Config, c client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    withDefaults(cfg),
		client: c,
		logger: logger,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.ClientID == "" {
		cfg.ClientID = "fluxpub-bridge"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return cfg
}

// Topic maps a concrete key expression to its MQTT topic.
func (b *Bridge) Topic(key string) (string, error) {
	if keyexpr.IsWild(key) {
		return "", fmt.Errorf("%w: %s", ErrWildcardKey, key)
	}
	topic := b.cfg.TopicPrefix + key
	if err := ValidateTopic(topic); err != nil {
		return "", fmt.Errorf("%w: %s", err, topic)
	}
	return topic, nil
}

// WriteFrame publishes f. Reliable frames use QoS 1 and wait for the
// broker's acknowledgement; best-effort frames use QoS 0.
func (b *Bridge) WriteFrame(ctx context.Context, f codec.Frame) error {
	topic, err := b.Topic(f.KeyExpr)
	if err != nil {
		return err
	}

	var qos byte
	if f.Channel.Reliability == core.Reliable {
		qos = 1
	}

	retained := b.cfg.Retain
	payload := f.Payload
	if f.Info.SampleKind() == core.Delete {
		retained = true
		payload = []byte{}
	}

	tok := b.client.Publish(topic, qos, retained, payload)
	if qos == 0 {
		return nil
	}
	return wait(ctx, tok, b.cfg.PublishTimeout)
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Relay subscribes to the configured topic filters and injects every message
// into inj. An empty payload is injected as a delete.
func (b *Bridge) Relay(ctx context.Context, inj Injector) error {
	for _, filter := range b.cfg.Subscriptions {
		topic := b.cfg.TopicPrefix + filter
		if err := ValidateFilter(topic); err != nil {
			return fmt.Errorf("%w: %s", err, topic)
		}
		tok := b.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			b.handleMessage(inj, msg)
		})
		if err := wait(ctx, tok, b.cfg.PublishTimeout); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		b.logger.Info("mqtt_bridge_subscribed",
			slog.String("topic", topic),
			slog.String("key_expr", FilterKeyExpr(filter)))
	}
	return nil
}

func (b *Bridge) handleMessage(inj Injector, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, b.cfg.TopicPrefix) {
		return
	}

	key, err := keyexpr.New(strings.TrimPrefix(topic, b.cfg.TopicPrefix))
	if err != nil || key.IsWild() {
		b.logger.Debug("mqtt_bridge_topic_skipped", slog.String("topic", topic))
		return
	}

	var info *core.DataInfo
	if len(msg.Payload()) == 0 {
		kind := core.Delete
		info = &core.DataInfo{Kind: &kind}
	}

	payload := b.cfg.Pool.Copy(msg.Payload())
	err = inj.HandleRemote(key, info, payload)
	payload.Release()
	if err != nil {
		b.logger.Warn("mqtt_bridge_inject_failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()))
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() error {
	b.client.Disconnect(250)
	b.logger.Info("mqtt_bridge_disconnected", slog.String("broker", b.cfg.Broker))
	return nil
}
