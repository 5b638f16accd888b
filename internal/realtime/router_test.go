package realtime_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/internal/realtime"
	"github.com/aura-classroom/engagement/internal/realtime/realtimetest"
)

type fakeBackplane struct {
	mu        sync.Mutex
	published []realtime.Envelope
	handlers  map[string]func(realtime.Envelope)
	cancelled []string
}

func newFakeBackplane() *fakeBackplane {
	return &fakeBackplane{handlers: make(map[string]func(realtime.Envelope))}
}

func (b *fakeBackplane) PublishRoomEvent(code string, env realtime.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *fakeBackplane) SubscribeRoom(code string, handler func(realtime.Envelope)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[code] = handler
	return func() {
		b.mu.Lock()
		b.cancelled = append(b.cancelled, code)
		b.mu.Unlock()
	}, nil
}

func (b *fakeBackplane) handler(code string) func(realtime.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[code]
}

func TestRouterPublishReachesEveryMember(t *testing.T) {
	reg := realtime.NewRegistry()
	router := realtime.NewRouter(reg, nil, zaptest.NewLogger(t), nil)

	a := realtimetest.NewRecorder("a", models.RoleStudent)
	b := realtimetest.NewRecorder("b", models.RoleTeacher)
	other := realtimetest.NewRecorder("c", models.RoleStudent)
	reg.Join("ABC123", "a", a)
	reg.Join("ABC123", "b", b)
	reg.Join("XYZ789", "c", other)

	router.Publish("ABC123", "participants:update", map[string]int{"count": 2})

	for _, h := range []*realtimetest.Recorder{a, b} {
		var body struct{ Count int }
		require.True(t, h.Decode("participants:update", &body))
		assert.Equal(t, 2, body.Count)
	}
	assert.Empty(t, other.Messages())
}

func TestRouterFailingHandleDoesNotBlockSiblings(t *testing.T) {
	reg := realtime.NewRegistry()
	router := realtime.NewRouter(reg, nil, zaptest.NewLogger(t), nil)

	dead := realtimetest.NewRecorder("dead", models.RoleStudent)
	dead.FailWith(realtime.ErrBufferFull)
	ok := realtimetest.NewRecorder("ok", models.RoleStudent)
	reg.Join("ABC123", "dead", dead)
	reg.Join("ABC123", "ok", ok)

	router.Publish("ABC123", "broadcast:message", map[string]string{"message": "hi"})
	assert.Equal(t, []string{"broadcast:message"}, ok.Events())
	assert.Empty(t, dead.Messages())
}

func TestRouterPreservesPublishOrderPerMember(t *testing.T) {
	reg := realtime.NewRegistry()
	router := realtime.NewRouter(reg, nil, nil, nil)
	h := realtimetest.NewRecorder("a", models.RoleStudent)
	reg.Join("ABC123", "a", h)

	for i := 0; i < 50; i++ {
		router.Publish("ABC123", "poll:update", map[string]int{"seq": i})
	}
	msgs := h.Messages()
	require.Len(t, msgs, 50)
	for i, m := range msgs {
		var body struct{ Seq int }
		require.NoError(t, json.Unmarshal(m.Data, &body))
		assert.Equal(t, i, body.Seq)
	}
}

func TestRouterPublishShapedByRole(t *testing.T) {
	reg := realtime.NewRegistry()
	router := realtime.NewRouter(reg, nil, nil, nil)
	student := realtimetest.NewRecorder("s", models.RoleStudent)
	teacher := realtimetest.NewRecorder("t", models.RoleTeacher)
	reg.Join("ABC123", "s", student)
	reg.Join("ABC123", "t", teacher)

	router.PublishShaped("ABC123", "qna:question:created", func(viewer models.Role) interface{} {
		if viewer.IsStaff() {
			return map[string]string{"authorId": "s"}
		}
		return map[string]string{}
	})

	var sv, tv map[string]string
	require.True(t, student.Decode("qna:question:created", &sv))
	require.True(t, teacher.Decode("qna:question:created", &tv))
	assert.Empty(t, sv["authorId"])
	assert.Equal(t, "s", tv["authorId"])
}

func TestRouterSendToSingleHandle(t *testing.T) {
	reg := realtime.NewRegistry()
	router := realtime.NewRouter(reg, nil, nil, nil)
	h := realtimetest.NewRecorder("a", models.RoleStudent)

	router.SendTo(h, realtime.EventAck, "r1", map[string]string{"state": "added"})
	m, ok := h.Last(realtime.EventAck)
	require.True(t, ok)
	assert.Equal(t, "r1", m.Ref)
}

func TestRouterBackplaneForwardsAndDeduplicates(t *testing.T) {
	reg := realtime.NewRegistry()
	bp := newFakeBackplane()
	router := realtime.NewRouter(reg, bp, zaptest.NewLogger(t), nil)

	h := realtimetest.NewRecorder("a", models.RoleStudent)
	reg.Join("ABC123", "a", h)
	handler := bp.handler("ABC123")
	require.NotNil(t, handler, "first member should subscribe the room")

	router.Publish("ABC123", "poll:update", map[string]int{"n": 1})
	require.Len(t, bp.published, 1)
	own := bp.published[0]

	// Our own envelope echoed back by Redis must not be delivered twice.
	handler(own)
	assert.Len(t, h.Messages(), 1)

	// An envelope from another process is delivered locally.
	handler(realtime.Envelope{Origin: "other-process", Event: "poll:update", Data: json.RawMessage(`{"n":2}`)})
	assert.Len(t, h.Messages(), 2)

	reg.Leave("ABC123", "a")
	assert.Equal(t, []string{"ABC123"}, bp.cancelled)
}
