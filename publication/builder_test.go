// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publication

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishBuilder_Defaults(t *testing.T) {
	sess, prims := newStub()

	pub, err := Publish(sess, "a/b").Res()
	require.NoError(t, err)
	assert.Equal(t, "a/b", pub.KeyExpr().String())
	assert.Equal(t, core.Drop, pub.CongestionControl())
	assert.Equal(t, core.Data, pub.Priority())
	_, set := pub.LocalRouting()
	assert.False(t, set)
	// Declaring a publisher performs no network action.
	assert.Empty(t, prims.calls())
}

func TestPublishBuilder_OrderIndependent(t *testing.T) {
	sess, _ := newStub()

	first, err := Publish(sess, "a").
		CongestionControl(core.Block).
		Priority(core.InteractiveHigh).
		LocalRouting(false).
		Res()
	require.NoError(t, err)

	second, err := Publish(sess, "a").
		LocalRouting(false).
		Priority(core.InteractiveHigh).
		CongestionControl(core.Block).
		Res()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPublishBuilder_LastSettingWins(t *testing.T) {
	sess, _ := newStub()
	pub, err := Publish(sess, "a").
		Priority(core.RealTime).
		Priority(core.Background).
		Res()
	require.NoError(t, err)
	assert.Equal(t, core.Background, pub.Priority())
}

func TestPublishBuilder_Errors(t *testing.T) {
	sess, _ := newStub()

	tests := []struct {
		name    string
		builder *PublishBuilder
		wantErr error
	}{
		{"empty key", Publish(sess, ""), keyexpr.ErrInvalid},
		{"empty chunk", Publish(sess, "a//b"), keyexpr.ErrInvalid},
		{"bad wildcard", Publish(sess, "a/b*"), keyexpr.ErrInvalid},
		{"zero priority", Publish(sess, "a").Priority(0), ErrInvalidPriority},
		{"priority out of range", Publish(sess, "a").Priority(core.Background + 1), ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, err := tt.builder.Res()
			assert.Nil(t, pub)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPublishBuilder_ResolvesOnce(t *testing.T) {
	sess, _ := newStub()
	b := Publish(sess, "a")

	_, err := b.Res()
	require.NoError(t, err)
	_, err = b.Res()
	assert.ErrorIs(t, err, ErrResolved)

	_, err = b.ResAsync().Await(context.Background())
	assert.ErrorIs(t, err, ErrResolved)
}

func TestPublishBuilder_ResAsync(t *testing.T) {
	sess, _ := newStub()

	f := Publish(sess, "a").Priority(core.DataLow).ResAsync()
	select {
	case <-f.Done():
	default:
		t.Fatal("future not complete")
	}

	pub, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.DataLow, pub.Priority())

	direct, err := Publish(sess, "a").Priority(core.DataLow).Res()
	require.NoError(t, err)
	assert.Equal(t, direct, pub)
}

func TestFuture_AwaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A completed future wins over a done context.
	v, err := Ready(7, nil).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	pending := &Future[int]{done: make(chan struct{})}
	_, err = pending.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	tctx, tcancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer tcancel()
	_, err = pending.Await(tctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPutBuilder_Put(t *testing.T) {
	sess, prims := newStub()

	_, err := Put(sess, "sensors/temp", core.NewValue([]byte("21.5"))).
		Encoding(core.NewEncoding(core.AppFloat)).
		Priority(core.DataHigh).
		CongestionControl(core.Block).
		Res()
	require.NoError(t, err)

	calls := prims.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sensors/temp", calls[0].key)
	assert.Equal(t, []byte("21.5"), calls[0].payload.Bytes())
	assert.Equal(t, core.DataHigh, calls[0].channel.Priority)
	assert.Equal(t, core.Block, calls[0].cc)
	assert.Equal(t, core.NewEncoding(core.AppFloat), calls[0].info.ValueEncoding())
	assert.Nil(t, calls[0].info.Kind)
	assert.Len(t, sess.deliveries(), 1)
}

func TestPutBuilder_Delete(t *testing.T) {
	sess, prims := newStub()

	f := Delete(sess, "sensors/temp").ResAsync()
	_, err := f.Await(context.Background())
	require.NoError(t, err)

	calls := prims.calls()
	require.Len(t, calls, 1)
	assert.Zero(t, calls[0].payload.Len())
	assert.Equal(t, core.Delete, calls[0].info.SampleKind())
}

func TestPutBuilder_KindOverride(t *testing.T) {
	sess, prims := newStub()

	_, err := Put(sess, "a", core.EmptyValue()).Kind(core.Delete).Res()
	require.NoError(t, err)
	assert.Equal(t, core.Delete, prims.calls()[0].info.SampleKind())
}

func TestPutBuilder_Errors(t *testing.T) {
	_, err := Put(&stubSession{}, "a", core.EmptyValue()).Res()
	assert.ErrorIs(t, err, session.ErrSessionNotReady)

	sess, prims := newStub()
	_, err = Put(sess, "a/**/**", core.EmptyValue()).Res()
	assert.ErrorIs(t, err, keyexpr.ErrInvalid)
	assert.Empty(t, prims.calls())

	b := Put(sess, "a", core.EmptyValue())
	_, err = b.Res()
	require.NoError(t, err)
	_, err = b.Res()
	assert.ErrorIs(t, err, ErrResolved)
	assert.Len(t, prims.calls(), 1)
}

func TestPutBuilder_LocalRouting(t *testing.T) {
	sess := session.New(session.DefaultConfig(), nil)
	sess.SetPrimitives(&recordingPrimitives{})

	var got []core.Sample
	_, err := sess.Subscribe(keyexpr.MustNew("a"), func(s core.Sample) { got = append(got, s) })
	require.NoError(t, err)

	_, err = Put(sess, "a", core.StringValue("one")).LocalRouting(false).Res()
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Put(sess, "a", core.StringValue("two")).Res()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "two", string(got[0].Value.Bytes()))
	assert.Equal(t, core.NewEncoding(core.TextPlain), got[0].Value.Encoding)
	assert.True(t, got[0].Local)
	assert.NotNil(t, got[0].Timestamp)
}
