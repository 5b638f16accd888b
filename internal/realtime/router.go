package realtime

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/metrics"
)

// Envelope is a room event as carried over the cross-process backplane.
type Envelope struct {
	Origin    string          `json:"origin"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	StaffData json.RawMessage `json:"staff_data,omitempty"`
	At        int64           `json:"at"`
}

// Backplane carries room events between server processes (e.g. Redis pub/sub).
type Backplane interface {
	PublishRoomEvent(code string, env Envelope) error
	SubscribeRoom(code string, handler func(env Envelope)) (cancel func(), err error)
}

// Router fans room events out to every handle registered in the Presence Registry.
// Publish only enqueues on each handle's outbound queue; the network writes happen
// in the per-connection write pumps. Callers that publish from inside the session
// critical section therefore get per-room FIFO delivery without holding the lock
// across network I/O.
type Router struct {
	registry  *Registry
	backplane Backplane
	origin    string
	subs      sync.Map // code -> cancel func()
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewRouter creates a broadcast router. backplane may be nil (single process).
func NewRouter(registry *Registry, backplane Backplane, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		registry:  registry,
		backplane: backplane,
		origin:    uuid.NewString(),
		logger:    logger,
		metrics:   m,
	}
	if backplane != nil {
		registry.SetObserver(r)
	}
	return r
}

// Registry returns the presence registry the router delivers to.
func (r *Router) Registry() *Registry { return r.registry }

// Publish delivers payload to every member of the room at call time.
func (r *Router) Publish(code, event string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		r.logger.Error("marshal room event", zap.String("event", event), zap.Error(err))
		return
	}
	r.deliver(code, event, data, nil)
	r.forward(code, event, data, nil)
}

// PublishShaped renders the payload once for students and once for staff
// (teacher/admin) and delivers each handle the variant matching its role.
func (r *Router) PublishShaped(code, event string, shape func(viewer models.Role) interface{}) {
	data, err := marshalPayload(shape(models.RoleStudent))
	if err != nil {
		r.logger.Error("marshal room event", zap.String("event", event), zap.Error(err))
		return
	}
	staff, err := marshalPayload(shape(models.RoleTeacher))
	if err != nil {
		r.logger.Error("marshal room event", zap.String("event", event), zap.Error(err))
		return
	}
	if bytes.Equal(data, staff) {
		staff = nil
	}
	r.deliver(code, event, data, staff)
	r.forward(code, event, data, staff)
}

// SendTo delivers a message to a single handle (acks, errors, state snapshots).
func (r *Router) SendTo(h Handle, event, ref string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		r.logger.Error("marshal direct message", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.Send(Message{Event: event, Ref: ref, Data: data}); err != nil {
		r.metrics.DeliveryDropped(event)
		r.logger.Debug("direct delivery dropped",
			zap.String("participant_id", h.ParticipantID()),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (r *Router) deliver(code, event string, data, staffData json.RawMessage) {
	r.metrics.EventPublished(event)
	for _, h := range r.registry.Members(code) {
		msg := Message{Event: event, Data: data}
		if staffData != nil && h.Role().IsStaff() {
			msg.Data = staffData
		}
		if err := h.Send(msg); err != nil {
			r.metrics.DeliveryDropped(event)
			r.logger.Debug("room delivery dropped",
				zap.String("session_code", code),
				zap.String("participant_id", h.ParticipantID()),
				zap.String("event", event),
				zap.Error(err))
		}
	}
}

func (r *Router) forward(code, event string, data, staffData json.RawMessage) {
	if r.backplane == nil {
		return
	}
	env := Envelope{Origin: r.origin, Event: event, Data: data, StaffData: staffData, At: time.Now().Unix()}
	if err := r.backplane.PublishRoomEvent(code, env); err != nil {
		r.logger.Warn("backplane publish failed", zap.String("session_code", code), zap.String("event", event), zap.Error(err))
	}
}

// RoomOpened subscribes to the room's backplane channel when it gains its first local member.
func (r *Router) RoomOpened(code string) {
	if r.backplane == nil {
		return
	}
	cancel, err := r.backplane.SubscribeRoom(code, func(env Envelope) {
		if env.Origin == r.origin {
			return
		}
		r.deliver(code, env.Event, env.Data, env.StaffData)
	})
	if err != nil {
		r.logger.Warn("backplane subscribe failed", zap.String("session_code", code), zap.Error(err))
		return
	}
	if old, loaded := r.subs.Swap(code, cancel); loaded {
		old.(func())()
	}
}

// RoomClosed cancels the backplane subscription once the last local member leaves.
func (r *Router) RoomClosed(code string) {
	if v, ok := r.subs.LoadAndDelete(code); ok {
		v.(func())()
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
