// Package reliable overlays ordered, acknowledged delivery on top of an
// unreliable transport: sequenced sends with retransmit timers on the
// outbound side, and gap-buffering with duplicate rejection on the
// inbound side. Send and receive use independent sequence spaces.
package reliable

import (
	"netherlink/clock"
	"netherlink/logging"
)

// DefaultAckTimeoutMs is how long an unacknowledged outbound message
// waits before being retransmitted.
const DefaultAckTimeoutMs = 500.0

// DefaultMaxRetries caps retransmission attempts before a message is
// given up on.
const DefaultMaxRetries = 5

// ReceiveWindowSize is how many recent inbound sequence numbers are
// retained for duplicate detection.
const ReceiveWindowSize = 1000

// Config tunes a Channel; zero values fall back to defaults.
type Config struct {
	AckTimeoutMs float64
	MaxRetries   int
}

func (c Config) withDefaults() Config {
	if c.AckTimeoutMs <= 0 {
		c.AckTimeoutMs = DefaultAckTimeoutMs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Message is one reliable payload in flight or delivered.
type Message struct {
	Sequence uint64
	Payload  []byte
}

// outbound is the retransmit bookkeeping for one sent message.
type outbound struct {
	msg     Message
	sentMs  float64
	retries int
	acked   bool
}

// Channel implements one direction's worth of sequence-space bookkeeping
// for both sending (retransmit on timeout) and receiving (ordered
// delivery, duplicate/out-of-order handling) reliable messages. It is
// not safe for concurrent use — callers serialize access the same way
// the rest of the replication core does, through a single event loop.
type Channel struct {
	cfg   Config
	clock clock.Clock

	nextSendSeq uint64
	outbox      map[uint64]*outbound

	nextExpectedRecv uint64
	pendingRecv      map[uint64]Message
	recvWindow       []uint64
	recvSeen         map[uint64]bool
}

func New(cfg Config, c clock.Clock) *Channel {
	if c == nil {
		c = clock.System{}
	}
	return &Channel{
		cfg:              cfg.withDefaults(),
		clock:            c,
		nextSendSeq:      1,
		outbox:           make(map[uint64]*outbound),
		nextExpectedRecv: 1,
		pendingRecv:      make(map[uint64]Message),
		recvSeen:         make(map[uint64]bool),
	}
}

// Send assigns the next outbound sequence number to payload, records it
// for retransmit tracking, and returns the sequenced message ready to
// hand to the transport.
func (c *Channel) Send(payload []byte) Message {
	msg := Message{Sequence: c.nextSendSeq, Payload: payload}
	c.nextSendSeq++

	c.outbox[msg.Sequence] = &outbound{msg: msg, sentMs: c.clock.NowMs()}
	return msg
}

// Ack marks an outbound message as acknowledged, removing it from the
// retransmit set.
func (c *Channel) Ack(sequence uint64) {
	if ob, ok := c.outbox[sequence]; ok {
		ob.acked = true
		delete(c.outbox, sequence)
	}
}

// PendingRetransmits returns the messages whose ackTimeout has elapsed
// without being acked, each re-armed with a fresh sentMs and an
// incremented retry count. Messages that exceed MaxRetries are dropped
// silently (the caller is expected to have already declared the peer
// unreachable by then) and logged at Warn.
func (c *Channel) PendingRetransmits() []Message {
	now := c.clock.NowMs()
	var due []Message

	for seq, ob := range c.outbox {
		if ob.acked {
			continue
		}
		if now-ob.sentMs < c.cfg.AckTimeoutMs {
			continue
		}
		if ob.retries >= c.cfg.MaxRetries {
			logging.Warn("reliable message exceeded max retries, dropping", map[string]interface{}{
				"sequence": seq,
				"retries":  ob.retries,
			})
			delete(c.outbox, seq)
			continue
		}
		ob.retries++
		ob.sentMs = now
		due = append(due, ob.msg)
	}

	return due
}

// Receive applies the inbound ordering decision: a message at
// exactly nextExpectedRecv is delivered immediately (and any
// contiguous buffered successors are flushed with it); an
// out-of-order future message is buffered; a message at or behind the
// receive window's trailing edge, or already seen, is a duplicate and
// is dropped.
func (c *Channel) Receive(msg Message) []Message {
	if c.isDuplicate(msg.Sequence) {
		logging.Debug("dropping duplicate reliable message", map[string]interface{}{
			"sequence": msg.Sequence,
		})
		return nil
	}

	c.markSeen(msg.Sequence)

	if msg.Sequence != c.nextExpectedRecv {
		c.pendingRecv[msg.Sequence] = msg
		return nil
	}

	delivered := []Message{msg}
	c.nextExpectedRecv++

	for {
		next, ok := c.pendingRecv[c.nextExpectedRecv]
		if !ok {
			break
		}
		delete(c.pendingRecv, c.nextExpectedRecv)
		delivered = append(delivered, next)
		c.nextExpectedRecv++
	}

	return delivered
}

func (c *Channel) isDuplicate(sequence uint64) bool {
	if sequence < c.nextExpectedRecv {
		return true
	}
	return c.recvSeen[sequence]
}

func (c *Channel) markSeen(sequence uint64) {
	if c.recvSeen[sequence] {
		return
	}
	c.recvSeen[sequence] = true
	c.recvWindow = append(c.recvWindow, sequence)

	if len(c.recvWindow) > ReceiveWindowSize {
		evicted := c.recvWindow[0]
		c.recvWindow = c.recvWindow[1:]
		delete(c.recvSeen, evicted)
	}
}

// PendingOutbound reports how many sent messages await acknowledgment.
func (c *Channel) PendingOutbound() int {
	return len(c.outbox)
}

// PendingInbound reports how many out-of-order messages are buffered
// waiting for their predecessor.
func (c *Channel) PendingInbound() int {
	return len(c.pendingRecv)
}
