package realtime

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBackplane(t *testing.T) (*RedisBackplane, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackplane(client, zaptest.NewLogger(t)), mr
}

func TestRedisBackplaneRoundTrip(t *testing.T) {
	bp, _ := newTestBackplane(t)

	got := make(chan Envelope, 4)
	cancel, err := bp.SubscribeRoom("ABC123", func(env Envelope) { got <- env })
	require.NoError(t, err)
	defer cancel()

	sent := Envelope{Origin: "node-a", Event: "poll:update", Data: json.RawMessage(`{"counts":[1,0]}`), At: 42}
	require.NoError(t, bp.PublishRoomEvent("ABC123", sent))

	select {
	case env := <-got:
		assert.Equal(t, sent.Origin, env.Origin)
		assert.Equal(t, sent.Event, env.Event)
		assert.JSONEq(t, string(sent.Data), string(env.Data))
		assert.Equal(t, sent.At, env.At)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestRedisBackplaneScopesByRoom(t *testing.T) {
	bp, _ := newTestBackplane(t)

	got := make(chan Envelope, 4)
	cancel, err := bp.SubscribeRoom("ROOM-A", func(env Envelope) { got <- env })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bp.PublishRoomEvent("ROOM-B", Envelope{Event: "broadcast", Data: json.RawMessage(`{}`)}))
	require.NoError(t, bp.PublishRoomEvent("ROOM-A", Envelope{Event: "session:ended", Data: json.RawMessage(`{}`)}))

	select {
	case env := <-got:
		assert.Equal(t, "session:ended", env.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
	assert.Empty(t, got)
}

func TestRedisBackplaneDropsMalformedPayloads(t *testing.T) {
	bp, mr := newTestBackplane(t)

	got := make(chan Envelope, 4)
	cancel, err := bp.SubscribeRoom("ABC123", func(env Envelope) { got <- env })
	require.NoError(t, err)
	defer cancel()

	mr.Publish(ChannelFor("ABC123"), "not json")
	require.NoError(t, bp.PublishRoomEvent("ABC123", Envelope{Event: "broadcast", Data: json.RawMessage(`{"message":"hi"}`)}))

	select {
	case env := <-got:
		assert.Equal(t, "broadcast", env.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestRedisBackplanePublishFailsWhenRedisIsDown(t *testing.T) {
	bp, mr := newTestBackplane(t)
	mr.Close()
	assert.Error(t, bp.PublishRoomEvent("ABC123", Envelope{Event: "broadcast"}))
}

// stalledRedis accepts connections and never answers.
func stalledRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestRedisBackplaneSubscribeIsBounded(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: stalledRedis(t), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	bp := NewRedisBackplane(client, zaptest.NewLogger(t))
	bp.subscribeTimeout = 100 * time.Millisecond

	start := time.Now()
	cancel, err := bp.SubscribeRoom("ABC123", func(Envelope) {})
	assert.Error(t, err)
	assert.Nil(t, cancel)
	assert.Less(t, time.Since(start), 2*time.Second)
}
