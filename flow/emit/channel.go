package emit

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultChannelBuffer is the event buffer size used when
	// NewChannelEmitter is given a non-positive capacity.
	DefaultChannelBuffer = 64

	// DefaultBlockTimeout is how long Emit waits for a slow consumer
	// before dropping the event.
	DefaultBlockTimeout = 5 * time.Second
)

// ChannelEmitter implements Emitter over a bounded channel, giving
// callers a consumable event stream with explicit backpressure.
//
// Delivery policy when the buffer is full: Emit blocks up to the block
// timeout waiting for the consumer, then drops the event and counts the
// drop. A consumer that stops reading therefore slows the run by at most
// one timeout per event, never deadlocks it, and the Dropped counter
// makes the loss observable instead of silent.
//
// Usage:
//
//	stream := emit.NewChannelEmitter(64, 5*time.Second)
//	go func() {
//	    for ev := range stream.Events() {
//	        fmt.Println(ev.Type, ev.NodeKey)
//	    }
//	}()
type ChannelEmitter struct {
	ch           chan Event
	blockTimeout time.Duration
	dropped      atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewChannelEmitter creates a channel emitter with the given buffer
// capacity and full-buffer block timeout. Non-positive arguments get the
// package defaults.
func NewChannelEmitter(buffer int, blockTimeout time.Duration) *ChannelEmitter {
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	if blockTimeout <= 0 {
		blockTimeout = DefaultBlockTimeout
	}
	return &ChannelEmitter{
		ch:           make(chan Event, buffer),
		blockTimeout: blockTimeout,
	}
}

// Emit delivers the event to the channel, blocking up to the configured
// timeout when the buffer is full. Events emitted after Close, or still
// undeliverable at the timeout, are dropped and counted.
func (c *ChannelEmitter) Emit(event Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}

	select {
	case c.ch <- event:
		return
	default:
	}

	timer := time.NewTimer(c.blockTimeout)
	defer timer.Stop()
	select {
	case c.ch <- event:
	case <-timer.C:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the stream. The channel is closed
// by Close once the run has settled.
func (c *ChannelEmitter) Events() <-chan Event {
	return c.ch
}

// Close closes the stream. Safe to call once; the facade calls it after
// the terminal event has been emitted. Waits for in-flight Emit calls.
func (c *ChannelEmitter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Dropped returns how many events were discarded because the consumer
// could not keep up (or the stream was already closed).
func (c *ChannelEmitter) Dropped() int64 {
	return c.dropped.Load()
}
