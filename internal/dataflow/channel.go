// Package dataflow provides the queue primitive connecting task processors.
// Channels carry arbitrary values terminated by an explicit stop sentinel
// rather than relying on implicit close semantics, so a consumer can tell "no
// more values" apart from "producer crashed".
package dataflow

import "context"

// stop is the sentinel type; there is exactly one value of it.
type stop struct{}

// Stop is the poison pill marking the end of a stream.
var Stop any = stop{}

// IsStop reports whether v is the stream-end sentinel.
func IsStop(v any) bool {
	_, ok := v.(stop)
	return ok
}

// Channel is a dataflow queue between processors.
//
// A value channel holds exactly one element that every consumer observes (a
// scalar); a queue channel is a stream consumed element by element and ended
// by Stop. Sends and receives select on a context so an aborted run unparks
// producers and consumers instead of leaving them blocked against a peer that
// has already exited.
type Channel struct {
	ch      chan any
	isValue bool
}

const defaultBuffer = 64

// NewQueue creates a stream channel.
func NewQueue() *Channel {
	return &Channel{ch: make(chan any, defaultBuffer)}
}

// NewValue creates a scalar channel already holding v. Reading it yields v
// followed by Stop, so scalar-fed processors run exactly once.
func NewValue(v any) *Channel {
	c := &Channel{ch: make(chan any, 2), isValue: true}
	c.ch <- v
	c.ch <- Stop
	return c
}

// Of creates a queue channel pre-loaded with the given values and terminated
// with Stop.
func Of(values ...any) *Channel {
	c := &Channel{ch: make(chan any, len(values)+1)}
	for _, v := range values {
		c.ch <- v
	}
	c.ch <- Stop
	return c
}

// IsValue reports whether this channel carries a single scalar.
func (c *Channel) IsValue() bool {
	return c.isValue
}

// Emit sends one value. It reports false without sending when ctx ends before
// the consumer makes room.
func (c *Channel) Emit(ctx context.Context, v any) bool {
	select {
	case c.ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// Take receives the next value. ok is false when the stream has ended or ctx
// ended while waiting.
func (c *Channel) Take(ctx context.Context) (v any, ok bool) {
	select {
	case v = <-c.ch:
		if IsStop(v) {
			return nil, false
		}
		return v, true
	case <-ctx.Done():
		return nil, false
	}
}

// CloseWithStop terminates the stream. The sentinel is dropped when ctx ends
// before it can be delivered.
func (c *Channel) CloseWithStop(ctx context.Context) {
	select {
	case c.ch <- Stop:
	case <-ctx.Done():
	}
}
