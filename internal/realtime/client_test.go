package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/engagement/internal/models"
)

func TestClientSendBuffersUntilFull(t *testing.T) {
	c := NewClient("ABC123", models.Identity{ParticipantID: "p1", Role: models.RoleStudent}, nil, 2, nil, nil)
	require.NoError(t, c.Send(Message{Event: "a"}))
	require.NoError(t, c.Send(Message{Event: "b"}))
	assert.ErrorIs(t, c.Send(Message{Event: "c"}), ErrBufferFull)

	assert.Equal(t, "p1", c.ParticipantID())
	assert.Equal(t, models.RoleStudent, c.Role())
}

func TestClientCloseDrainsQueuedMessages(t *testing.T) {
	c := NewClient("ABC123", models.Identity{ParticipantID: "p1"}, nil, 4, nil, nil)
	require.NoError(t, c.Send(Message{Event: "session:ended"}))
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send(Message{Event: "late"}), ErrHandleClosed)

	var got []string
	for m := range c.Outbound() {
		got = append(got, m.Event)
	}
	assert.Equal(t, []string{"session:ended"}, got)
}
