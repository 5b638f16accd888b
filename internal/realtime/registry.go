package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/aura-classroom/engagement/internal/models"
)

var (
	// ErrHandleClosed is returned by Send on a handle that has been closed.
	ErrHandleClosed = errors.New("handle closed")
	// ErrBufferFull is returned by Send when the handle's outbound queue is full.
	ErrBufferFull = errors.New("send buffer full")
)

// Message is the WebSocket message envelope.
type Message struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handle is one connected client. Send must not block: it enqueues the message
// on the handle's own outbound queue and returns.
type Handle interface {
	ParticipantID() string
	Role() models.Role
	Send(msg Message) error
	Close()
}

// RoomObserver is notified when a room gains its first member or loses its last.
type RoomObserver interface {
	RoomOpened(code string)
	RoomClosed(code string)
}

type room struct {
	mu      sync.RWMutex
	members map[string]Handle // participantID -> handle
	dead    bool
}

// Registry maps session code -> participant -> handle. Each room has its own
// lock; the room table itself is a sync.Map so different sessions never share a mutex.
type Registry struct {
	rooms    sync.Map // code -> *room
	observer RoomObserver
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetObserver installs the room open/close callback.
func (r *Registry) SetObserver(o RoomObserver) {
	r.observer = o
}

// Join registers h under code. If participantID already had a handle, it is
// evicted and returned so the caller can close it.
func (r *Registry) Join(code, participantID string, h Handle) (evicted Handle) {
	for {
		v, _ := r.rooms.LoadOrStore(code, &room{members: make(map[string]Handle)})
		rm := v.(*room)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		opened := len(rm.members) == 0
		evicted = rm.members[participantID]
		rm.members[participantID] = h
		rm.mu.Unlock()
		if opened && r.observer != nil {
			r.observer.RoomOpened(code)
		}
		if evicted == h {
			return nil
		}
		return evicted
	}
}

// Leave removes participantID from code. Leaving twice or leaving a room one is
// not a member of is a no-op; the removed handle (or nil) is returned.
func (r *Registry) Leave(code, participantID string) Handle {
	return r.remove(code, participantID, nil)
}

// LeaveHandle removes participantID only while h is still its registered handle,
// so a stale connection's disconnect cannot evict a newer reconnect.
func (r *Registry) LeaveHandle(code, participantID string, h Handle) bool {
	return r.remove(code, participantID, h) != nil
}

func (r *Registry) remove(code, participantID string, only Handle) Handle {
	v, ok := r.rooms.Load(code)
	if !ok {
		return nil
	}
	rm := v.(*room)
	rm.mu.Lock()
	cur, ok := rm.members[participantID]
	if !ok || (only != nil && cur != only) {
		rm.mu.Unlock()
		return nil
	}
	delete(rm.members, participantID)
	closed := false
	if len(rm.members) == 0 {
		rm.dead = true
		r.rooms.CompareAndDelete(code, rm)
		closed = true
	}
	rm.mu.Unlock()
	if closed && r.observer != nil {
		r.observer.RoomClosed(code)
	}
	return cur
}

// Members returns a snapshot of the handles currently in the room.
func (r *Registry) Members(code string) []Handle {
	v, ok := r.rooms.Load(code)
	if !ok {
		return nil
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Handle, 0, len(rm.members))
	for _, h := range rm.members {
		out = append(out, h)
	}
	return out
}

// Count returns the number of distinct participants in the room.
func (r *Registry) Count(code string) int {
	v, ok := r.rooms.Load(code)
	if !ok {
		return 0
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// Handle returns the handle registered for participantID, if any.
func (r *Registry) Handle(code, participantID string) (Handle, bool) {
	v, ok := r.rooms.Load(code)
	if !ok {
		return nil, false
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	h, ok := rm.members[participantID]
	return h, ok
}

// EvictAll empties the room and returns the evicted handles.
func (r *Registry) EvictAll(code string) []Handle {
	v, ok := r.rooms.LoadAndDelete(code)
	if !ok {
		return nil
	}
	rm := v.(*room)
	rm.mu.Lock()
	out := make([]Handle, 0, len(rm.members))
	for _, h := range rm.members {
		out = append(out, h)
	}
	rm.members = make(map[string]Handle)
	rm.dead = true
	rm.mu.Unlock()
	if r.observer != nil {
		r.observer.RoomClosed(code)
	}
	return out
}
