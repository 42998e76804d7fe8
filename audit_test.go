package rotor

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuditedEngine(t *testing.T, sink AuditSink) *Engine {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithIdentityProvider(&stubIdentity{users: map[string]UserRecord{
			"alice": {ID: "alice", Verified: true},
		}}).
		WithAuditSink(sink).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return engine
}

func collectEvents(t *testing.T, sink *ChannelSink, want int) []AuditEvent {
	t.Helper()

	events := make([]AuditEvent, 0, want)
	timeout := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d of %d", len(events), want)
		}
	}
	return events
}

func TestCascadeEmitsAuditEvent(t *testing.T) {
	sink := NewChannelSink(16)
	engine := newAuditedEngine(t, sink)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice")
	require.NoError(t, err)
	_, err = engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = engine.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrReuseDetected)

	// login + rotation + cascade
	events := collectEvents(t, sink, 3)

	types := make(map[string]int)
	for _, ev := range events {
		types[ev.EventType]++
		assert.Equal(t, "alice", ev.UserID)
	}
	assert.Equal(t, 1, types[AuditLogin])
	assert.Equal(t, 1, types[AuditRefreshRotated])
	assert.Equal(t, 1, types[AuditCascadeRevocation])
}

func TestJSONWriterSinkOutput(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	engine := newAuditedEngine(t, sink)
	ctx := context.Background()

	_, err := engine.Login(ctx, "alice")
	require.NoError(t, err)
	engine.Close()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var ev AuditEvent
	require.NoError(t, json.Unmarshal(lines[0], &ev))
	assert.Equal(t, AuditLogin, ev.EventType)
	assert.Equal(t, "alice", ev.UserID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	cfg := AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}
	blocked := make(chan struct{})
	d := newAuditDispatcher(cfg, sinkFunc(func(context.Context, AuditEvent) {
		<-blocked
	}))
	defer func() {
		close(blocked)
		d.Close()
	}()

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditLogout})
	}

	assert.Greater(t, d.Dropped(), uint64(0))
}

func TestDisabledAuditIsNoOp(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NewChannelSink(1))
	require.Nil(t, d)

	// nil dispatcher must be safe to drive
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	assert.Equal(t, uint64(0), d.Dropped())
}

type sinkFunc func(context.Context, AuditEvent)

func (f sinkFunc) Emit(ctx context.Context, ev AuditEvent) { f(ctx, ev) }
