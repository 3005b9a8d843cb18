// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/fluxpub/config"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/node"
	"github.com/absmach/fluxpub/publication"
	"github.com/absmach/fluxpub/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	pubKey := flag.String("put", "", "Key expression to publish each stdin line on")
	subKey := flag.String("sub", "", "Key expression to subscribe to and log")
	encoding := flag.String("encoding", "text/plain", "Encoding of published lines")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("Starting fluxpub node")
	slog.Info("Configuration loaded",
		"websocket_enabled", cfg.Transport.WebSocket.Enabled,
		"websocket_addr", cfg.Transport.WebSocket.Addr,
		"peers", len(cfg.Transport.Peers),
		"mqtt_bridge_enabled", cfg.Bridge.MQTT.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"storage_type", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	var otelShutdown func(context.Context) error
	var metrics *telemetry.Metrics
	var tracer trace.Tracer

	if cfg.Telemetry.MetricsEnabled || cfg.Telemetry.TracesEnabled {
		shutdown, err := telemetry.InitProvider(cfg.Telemetry, cfg.Node.ID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Telemetry.Endpoint)

		if cfg.Telemetry.MetricsEnabled {
			if metrics, err = telemetry.NewMetrics(nil); err != nil {
				slog.Error("Failed to create metrics", "error", err)
				os.Exit(1)
			}
		}
		if cfg.Telemetry.TracesEnabled {
			tracer = otel.Tracer(telemetry.InstrumentationName)
			slog.Info("Distributed tracing enabled", "sample_rate", cfg.Telemetry.TraceSampleRate)
		}
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.Open(ctx, cfg, logger, metrics, tracer)
	if err != nil {
		slog.Error("Failed to start node", "error", err)
		os.Exit(1)
	}

	if *subKey != "" {
		_, err := n.Subscribe(*subKey, func(s core.Sample) {
			slog.Info("sample_received",
				slog.String("key_expr", s.KeyExpr),
				slog.String("kind", s.Kind.String()),
				slog.String("encoding", s.Value.Encoding.String()),
				slog.String("payload", string(s.Value.Bytes())),
				slog.Bool("local", s.Local))
		})
		if err != nil {
			slog.Error("Failed to subscribe", "key_expr", *subKey, "error", err)
			os.Exit(1)
		}
	}

	forwardDone := make(chan struct{})
	if *pubKey != "" {
		pub, err := n.Publish(*pubKey).Res()
		if err != nil {
			slog.Error("Failed to declare publisher", "key_expr", *pubKey, "error", err)
			os.Exit(1)
		}
		go func() {
			defer close(forwardDone)
			forwardLines(ctx, os.Stdin, publication.NewSink(pub), core.ParseEncoding(*encoding))
		}()
	}

	slog.Info("fluxpub node started", "id", n.ID().String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-n.Errors():
		slog.Error("Node error", "error", err)
	case <-forwardDone:
		slog.Info("Input closed")
	}

	cancel()

	if err := n.Close(); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if otelShutdown != nil {
		otelShutdownCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelShutdownCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}

	slog.Info("fluxpub node stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// forwardLines publishes every line of r through sink until r is exhausted
// or ctx is done.
func forwardLines(ctx context.Context, r io.Reader, sink *publication.Sink, enc core.Encoding) {
	lines := make(chan core.Value)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			v := core.StringValue(scanner.Text()).WithEncoding(enc)
			select {
			case lines <- v:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("stdin_read_failed", slog.String("error", err.Error()))
		}
	}()

	sent, err := sink.Forward(ctx, lines)
	if err != nil && ctx.Err() == nil {
		slog.Error("publish_failed", slog.Int("sent", sent), slog.String("error", err.Error()))
		return
	}
	slog.Info("stdin_forwarded", slog.Int("sent", sent))
}
