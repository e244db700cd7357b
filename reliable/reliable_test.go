package reliable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netherlink/clock"
)

func TestSendAssignsIncreasingSequences(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))
	m1 := c.Send([]byte("a"))
	m2 := c.Send([]byte("b"))

	assert.Equal(t, uint64(1), m1.Sequence)
	assert.Equal(t, uint64(2), m2.Sequence)
	assert.Equal(t, 2, c.PendingOutbound())
}

func TestAckRemovesFromOutbox(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))
	m := c.Send([]byte("a"))
	c.Ack(m.Sequence)

	assert.Equal(t, 0, c.PendingOutbound())
}

func TestRetransmitFiresAfterAckTimeout(t *testing.T) {
	mc := clock.NewManual(0)
	c := New(Config{AckTimeoutMs: 500}, mc)
	c.Send([]byte("a"))

	assert.Empty(t, c.PendingRetransmits())

	mc.Set(500)
	due := c.PendingRetransmits()
	require.Len(t, due, 1)
	assert.Equal(t, uint64(1), due[0].Sequence)
}

func TestRetransmitGivesUpAfterMaxRetries(t *testing.T) {
	mc := clock.NewManual(0)
	c := New(Config{AckTimeoutMs: 100, MaxRetries: 2}, mc)
	c.Send([]byte("a"))

	mc.Set(100)
	c.PendingRetransmits()
	mc.Set(200)
	c.PendingRetransmits()
	mc.Set(300)
	due := c.PendingRetransmits()

	assert.Empty(t, due)
	assert.Equal(t, 0, c.PendingOutbound())
}

func TestReceiveInOrderDeliversImmediately(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))
	delivered := c.Receive(Message{Sequence: 1, Payload: []byte("a")})

	require.Len(t, delivered, 1)
	assert.Equal(t, uint64(1), delivered[0].Sequence)
}

func TestReceiveOutOfOrderBuffersThenFlushes(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))

	delivered := c.Receive(Message{Sequence: 2, Payload: []byte("b")})
	assert.Empty(t, delivered)
	assert.Equal(t, 1, c.PendingInbound())

	delivered = c.Receive(Message{Sequence: 3, Payload: []byte("c")})
	assert.Empty(t, delivered)

	delivered = c.Receive(Message{Sequence: 1, Payload: []byte("a")})
	require.Len(t, delivered, 3)
	assert.Equal(t, uint64(1), delivered[0].Sequence)
	assert.Equal(t, uint64(2), delivered[1].Sequence)
	assert.Equal(t, uint64(3), delivered[2].Sequence)
	assert.Equal(t, 0, c.PendingInbound())
}

func TestReceiveDuplicateIsDropped(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))
	c.Receive(Message{Sequence: 1, Payload: []byte("a")})

	delivered := c.Receive(Message{Sequence: 1, Payload: []byte("a")})
	assert.Empty(t, delivered)
}

func TestReceiveDuplicateOfBufferedOutOfOrderIsDropped(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))
	c.Receive(Message{Sequence: 5, Payload: []byte("e")})

	delivered := c.Receive(Message{Sequence: 5, Payload: []byte("e")})
	assert.Empty(t, delivered)
	assert.Equal(t, 1, c.PendingInbound())
}
