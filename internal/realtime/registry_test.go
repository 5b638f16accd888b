package realtime_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/internal/realtime"
	"github.com/aura-classroom/engagement/internal/realtime/realtimetest"
)

type observer struct {
	mu     sync.Mutex
	opened []string
	closed []string
}

func (o *observer) RoomOpened(code string) { o.mu.Lock(); o.opened = append(o.opened, code); o.mu.Unlock() }
func (o *observer) RoomClosed(code string) { o.mu.Lock(); o.closed = append(o.closed, code); o.mu.Unlock() }

func TestRegistryJoinLeaveCount(t *testing.T) {
	reg := realtime.NewRegistry()
	before := reg.Count("ABC123")

	h := realtimetest.NewRecorder("p1", models.RoleStudent)
	assert.Nil(t, reg.Join("ABC123", "p1", h))
	assert.Equal(t, before+1, reg.Count("ABC123"))

	assert.Same(t, h, reg.Leave("ABC123", "p1"))
	assert.Equal(t, before, reg.Count("ABC123"))
}

func TestRegistryLeaveIsIdempotent(t *testing.T) {
	reg := realtime.NewRegistry()
	reg.Join("ABC123", "p1", realtimetest.NewRecorder("p1", models.RoleStudent))

	assert.NotNil(t, reg.Leave("ABC123", "p1"))
	assert.Nil(t, reg.Leave("ABC123", "p1"))
	assert.Nil(t, reg.Leave("ABC123", "nobody"))
	assert.Nil(t, reg.Leave("NOPE", "p1"))
	assert.Equal(t, 0, reg.Count("ABC123"))
}

func TestRegistryReconnectEvictsOldHandle(t *testing.T) {
	reg := realtime.NewRegistry()
	old := realtimetest.NewRecorder("p1", models.RoleStudent)
	fresh := realtimetest.NewRecorder("p1", models.RoleStudent)

	reg.Join("ABC123", "p1", old)
	evicted := reg.Join("ABC123", "p1", fresh)
	assert.Same(t, old, evicted)
	assert.Equal(t, 1, reg.Count("ABC123"))

	members := reg.Members("ABC123")
	require.Len(t, members, 1)
	assert.Same(t, fresh, members[0])

	// Rejoining with the same handle evicts nothing.
	assert.Nil(t, reg.Join("ABC123", "p1", fresh))
}

func TestRegistryLeaveHandleIgnoresStaleConnection(t *testing.T) {
	reg := realtime.NewRegistry()
	old := realtimetest.NewRecorder("p1", models.RoleStudent)
	fresh := realtimetest.NewRecorder("p1", models.RoleStudent)
	reg.Join("ABC123", "p1", old)
	reg.Join("ABC123", "p1", fresh)

	assert.False(t, reg.LeaveHandle("ABC123", "p1", old))
	assert.Equal(t, 1, reg.Count("ABC123"))
	assert.True(t, reg.LeaveHandle("ABC123", "p1", fresh))
	assert.Equal(t, 0, reg.Count("ABC123"))
}

func TestRegistryEvictAll(t *testing.T) {
	reg := realtime.NewRegistry()
	obs := &observer{}
	reg.SetObserver(obs)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p%d", i)
		reg.Join("ABC123", id, realtimetest.NewRecorder(id, models.RoleStudent))
	}
	reg.Join("XYZ789", "q", realtimetest.NewRecorder("q", models.RoleStudent))

	evicted := reg.EvictAll("ABC123")
	assert.Len(t, evicted, 3)
	assert.Equal(t, 0, reg.Count("ABC123"))
	assert.Equal(t, 1, reg.Count("XYZ789"))
	assert.Nil(t, reg.EvictAll("ABC123"))

	assert.ElementsMatch(t, []string{"ABC123", "XYZ789"}, obs.opened)
	assert.Equal(t, []string{"ABC123"}, obs.closed)
}

func TestRegistryObserverOnLastLeave(t *testing.T) {
	reg := realtime.NewRegistry()
	obs := &observer{}
	reg.SetObserver(obs)

	reg.Join("ABC123", "p1", realtimetest.NewRecorder("p1", models.RoleStudent))
	reg.Join("ABC123", "p2", realtimetest.NewRecorder("p2", models.RoleStudent))
	reg.Leave("ABC123", "p1")
	assert.Empty(t, obs.closed)
	reg.Leave("ABC123", "p2")
	assert.Equal(t, []string{"ABC123"}, obs.closed)

	// The room can be reopened after it emptied.
	reg.Join("ABC123", "p3", realtimetest.NewRecorder("p3", models.RoleStudent))
	assert.Equal(t, []string{"ABC123", "ABC123"}, obs.opened)
	assert.Equal(t, 1, reg.Count("ABC123"))
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	reg := realtime.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			reg.Join("ABC123", id, realtimetest.NewRecorder(id, models.RoleStudent))
			if i%2 == 0 {
				reg.Leave("ABC123", id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, reg.Count("ABC123"))
}
