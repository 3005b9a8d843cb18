// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/absmach/fluxpub/config"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/storage"
	"github.com/absmach/fluxpub/telemetry"
	"github.com/absmach/fluxpub/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "debug"
	return cfg
}

func openNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n, err := Open(context.Background(), cfg, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestNode_PutDeliversLocally(t *testing.T) {
	n := openNode(t, testConfig())

	var got testutil.Collector
	_, err := n.Subscribe("demo/**", got.Handle)
	require.NoError(t, err)

	require.NoError(t, n.Put(context.Background(), "demo/example", core.StringValue("hello")))
	require.NoError(t, n.Delete(context.Background(), "demo/example"))

	samples := got.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, core.Put, samples[0].Kind)
	assert.Equal(t, []byte("hello"), samples[0].Value.Bytes())
	assert.Equal(t, core.Delete, samples[1].Kind)
	assert.NotNil(t, samples[0].Timestamp)
	assert.Equal(t, n.ID(), samples[0].Timestamp.ID)
}

func TestNode_PublishUsesConfiguredDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Publication.CongestionControl = "block"
	cfg.Publication.Priority = "real_time"
	n := openNode(t, cfg)

	pub, err := n.Publish("demo/p").Res()
	require.NoError(t, err)
	assert.Equal(t, core.Block, pub.CongestionControl())
	assert.Equal(t, core.RealTime, pub.Priority())

	pub, err = n.Publish("demo/p").Priority(core.Background).Res()
	require.NoError(t, err)
	assert.Equal(t, core.Background, pub.Priority())
}

func TestNode_LocalRoutingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Publication.LocalRouting = false
	n := openNode(t, cfg)

	var got testutil.Collector
	_, err := n.Subscribe("demo/**", got.Handle)
	require.NoError(t, err)

	require.NoError(t, n.Put(context.Background(), "demo/x", core.StringValue("v")))
	assert.Equal(t, 0, got.Len())

	pub, err := n.Publish("demo/x").LocalRouting(true).Res()
	require.NoError(t, err)
	require.NoError(t, pub.Put(core.StringValue("v")))
	assert.Equal(t, 1, got.Len())
}

func TestNode_Storage(t *testing.T) {
	tests := []struct {
		name   string
		modify func(t *testing.T, c *config.Config)
	}{
		{
			name: "memory",
			modify: func(t *testing.T, c *config.Config) {
				c.Storage.Type = "memory"
			},
		},
		{
			name: "badger",
			modify: func(t *testing.T, c *config.Config) {
				c.Storage.Type = "badger"
				c.Storage.BadgerDir = t.TempDir()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig()
			cfg.Storage.Enabled = true
			cfg.Storage.KeyExpr = "sensors/**"
			tt.modify(t, cfg)
			n := openNode(t, cfg)

			require.NoError(t, n.Put(ctx, "sensors/temp", core.StringValue("21.5")))
			require.NoError(t, n.Put(ctx, "sensors/hum", core.StringValue("40")))
			require.NoError(t, n.Put(ctx, "other/key", core.StringValue("ignored")))

			e, err := n.Get(ctx, "sensors/temp")
			require.NoError(t, err)
			assert.Equal(t, []byte("21.5"), e.Payload)
			assert.NotNil(t, e.Timestamp)

			_, err = n.Get(ctx, "other/key")
			assert.ErrorIs(t, err, storage.ErrNotFound)

			entries, err := n.Match(ctx, "sensors/*")
			require.NoError(t, err)
			assert.Len(t, entries, 2)

			require.NoError(t, n.Delete(ctx, "sensors/temp"))
			_, err = n.Get(ctx, "sensors/temp")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestNode_StorageDisabled(t *testing.T) {
	n := openNode(t, testConfig())

	_, err := n.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrStorageDisabled)
	_, err = n.Match(context.Background(), "**")
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestNode_OpenErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *config.Config)
		errMsg string
	}{
		{
			name:   "invalid config",
			modify: func(c *config.Config) { c.Routing.QueueSize = 0 },
			errMsg: "routing.queue_size",
		},
		{
			name:   "invalid node id",
			modify: func(c *config.Config) { c.Node.ID = "not-a-uuid" },
			errMsg: "node.id",
		},
		{
			name: "unreachable peer",
			modify: func(c *config.Config) {
				c.Transport.Peers = []string{"ws://127.0.0.1:1/fluxpub"}
			},
			errMsg: "connect peer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)
			_, err := Open(context.Background(), cfg, nil, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNode_FixedID(t *testing.T) {
	cfg := testConfig()
	cfg.Node.ID = "5d0c8c1c-3a8e-4c5f-9f5e-0b7f4d1d2a11"
	n := openNode(t, cfg)
	assert.Equal(t, cfg.Node.ID, n.ID().String())
}

func TestNode_Status(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Enabled = true
	n, err := Open(context.Background(), cfg, nil, nil, nil)
	require.NoError(t, err)

	_, err = n.Subscribe("demo/**", func(core.Sample) {})
	require.NoError(t, err)

	require.NoError(t, n.Ready())
	st := n.Status()
	assert.Equal(t, n.ID().String(), st.NodeID)
	assert.Equal(t, 2, st.Subscriptions, "storage attaches its own subscription")
	assert.True(t, st.Storage)
	assert.Empty(t, st.Faces)

	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Ready(), ErrClosed)
}

func TestNode_HealthServer(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig()
	cfg.Health.Enabled = true
	cfg.Health.Addr = addr
	openNode(t, cfg)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNode_Close(t *testing.T) {
	n, err := Open(context.Background(), testConfig(), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Close(), ErrClosed)
	assert.Error(t, n.Put(context.Background(), "demo/x", core.StringValue("v")))
}

func TestNode_Peers(t *testing.T) {
	addr := freeAddr(t)

	serverCfg := testConfig()
	serverCfg.Transport.WebSocket.Enabled = true
	serverCfg.Transport.WebSocket.Addr = addr
	server := openNode(t, serverCfg)

	clientCfg := testConfig()
	clientCfg.Transport.Peers = []string{fmt.Sprintf("ws://%s/fluxpub", addr)}
	clientCfg.Transport.Compression = "zstd"

	var client *Node
	require.Eventually(t, func() bool {
		n, err := Open(context.Background(), clientCfg, nil, nil, nil)
		if err != nil {
			return false
		}
		client = n
		return true
	}, 5*time.Second, 50*time.Millisecond)
	t.Cleanup(func() { _ = client.Close() })

	var atServer, atClient testutil.Collector
	_, err := server.Subscribe("demo/**", atServer.Handle)
	require.NoError(t, err)
	_, err = client.Subscribe("demo/**", atClient.Handle)
	require.NoError(t, err)

	require.NoError(t, client.Put(context.Background(), "demo/up", core.StringValue("from client")))
	require.Eventually(t, func() bool { return atServer.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	s := atServer.Samples()[0]
	assert.Equal(t, "demo/up", s.KeyExpr)
	assert.False(t, s.Local)
	assert.Equal(t, client.ID(), s.Timestamp.ID)
	assert.Equal(t, []byte("from client"), s.Value.Bytes())
	assert.GreaterOrEqual(t, server.Status().BufferPool.Misses, uint64(1), "inbound payloads go through the pool")

	// The server registers the client as a face once the connection is up.
	require.Eventually(t, func() bool { return len(server.Router().Faces()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, server.Put(context.Background(), "demo/down", core.StringValue("from server")))
	require.Eventually(t, func() bool {
		for _, s := range atClient.Samples() {
			if s.KeyExpr == "demo/down" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNode_Telemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := telemetry.NewMetrics(mp)
	require.NoError(t, err)

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	tracer := tp.Tracer(telemetry.InstrumentationName)

	n, err := Open(context.Background(), testConfig(), nil, metrics, tracer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	require.NoError(t, n.Put(context.Background(), "demo/a", core.StringValue("v")))
	require.NoError(t, n.Delete(context.Background(), "demo/a"))
	assert.Error(t, n.Put(context.Background(), "demo//bad", core.StringValue("v")))

	ended := spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "fluxpub.put", ended[0].Name())
	assert.Equal(t, "fluxpub.delete", ended[1].Name())
	assert.Equal(t, "Error", ended[2].Status().Code.String())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var writes int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "fluxpub.publication.writes.total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				writes += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), writes, "invalid keys fail before a write is attempted")
}
