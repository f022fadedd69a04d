package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bken/signaling/internal/protocol"
)

func TestSendDeliversInOrder(t *testing.T) {
	h := New(4, nil)
	c := h.Register("a")

	h.Send("a", protocol.MustNew(protocol.EventPong, nil))
	h.Send("a", protocol.MustNew(protocol.EventRoomExpired, nil))

	assert.Equal(t, protocol.EventPong, (<-c.Send).Event)
	assert.Equal(t, protocol.EventRoomExpired, (<-c.Send).Event)
	assert.Zero(t, h.Dropped())
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	h := New(1, nil)
	var dropped []string
	h.OnDrop(func(event string) { dropped = append(dropped, event) })
	h.Register("a")

	h.Send("a", protocol.MustNew(protocol.EventPong, nil))
	h.Send("a", protocol.MustNew(protocol.EventSignal, nil))
	h.Send("ghost", protocol.MustNew(protocol.EventPong, nil))

	assert.Equal(t, uint64(2), h.Dropped())
	assert.Equal(t, []string{protocol.EventSignal, protocol.EventPong}, dropped)
}

func TestUnregisterClosesQueue(t *testing.T) {
	h := New(0, nil)
	c := h.Register("a")
	require.Equal(t, 1, h.Count())

	h.Unregister(c)
	_, open := <-c.Send
	assert.False(t, open)
	assert.Zero(t, h.Count())

	// Sending after unregister must not panic.
	h.Send("a", protocol.MustNew(protocol.EventPong, nil))
}

func TestRegisterReplacesStaleConn(t *testing.T) {
	h := New(0, nil)
	old := h.Register("a")
	cur := h.Register("a")

	_, open := <-old.Send
	assert.False(t, open, "replaced queue is closed")

	h.Unregister(old)
	assert.Equal(t, 1, h.Count(), "unregistering a stale conn keeps the current one")

	h.Send("a", protocol.MustNew(protocol.EventPong, nil))
	assert.Equal(t, protocol.EventPong, (<-cur.Send).Event)
}
