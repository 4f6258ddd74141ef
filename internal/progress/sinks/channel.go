package sinks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/webscraper/internal/progress"
)

// ChannelSink forwards events to a buffered channel. A subscriber that
// falls behind loses events instead of stalling the hub.
type ChannelSink struct {
	mu      sync.Mutex
	ch      chan progress.Event
	closed  bool
	dropped atomic.Int64
}

// NewChannelSink returns a sink whose channel holds buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan progress.Event, buffer)}
}

// Events is closed when the sink is closed.
func (s *ChannelSink) Events() <-chan progress.Event {
	return s.ch
}

// Dropped reports events discarded because the channel was full.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Consume implements progress.Sink.
func (s *ChannelSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for _, evt := range batch {
		select {
		case s.ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *ChannelSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
