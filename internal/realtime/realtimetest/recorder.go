// Package realtimetest provides a recording Handle for tests of code that fans
// events out through the realtime package.
package realtimetest

import (
	"encoding/json"
	"sync"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/internal/realtime"
)

// Recorder is a Handle that keeps every message it receives.
type Recorder struct {
	ID       string
	UserRole models.Role

	mu       sync.Mutex
	messages []realtime.Message
	closed   bool
	failWith error
}

// NewRecorder returns a recorder for participant id with the given role.
func NewRecorder(id string, role models.Role) *Recorder {
	return &Recorder{ID: id, UserRole: role}
}

func (r *Recorder) ParticipantID() string { return r.ID }
func (r *Recorder) Role() models.Role     { return r.UserRole }

// Send records msg unless the recorder is closed or set to fail.
func (r *Recorder) Send(msg realtime.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return realtime.ErrHandleClosed
	}
	if r.failWith != nil {
		return r.failWith
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// FailWith makes every subsequent Send return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Messages returns a copy of everything received so far.
func (r *Recorder) Messages() []realtime.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Message(nil), r.messages...)
}

// Events returns the event names received, in order.
func (r *Recorder) Events() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Event
	}
	return out
}

// Last returns the most recent message with the given event name.
func (r *Recorder) Last(event string) (realtime.Message, bool) {
	msgs := r.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Event == event {
			return msgs[i], true
		}
	}
	return realtime.Message{}, false
}

// Decode unmarshals the data of the most recent event into v.
func (r *Recorder) Decode(event string, v interface{}) bool {
	m, ok := r.Last(event)
	if !ok {
		return false
	}
	return json.Unmarshal(m.Data, v) == nil
}

// Reset forgets all recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}
