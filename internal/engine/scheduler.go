package engine

import (
	"sync"
	"time"
)

// Scheduler is the host's "run on next frame" primitive. The coalescer arms
// at most one callback per refresh cycle through it.
type Scheduler interface {
	Schedule(fn func())
}

// FrameScheduler runs scheduled callbacks on a fixed refresh tick, standing in
// for a display refresh cycle on the server side.
type FrameScheduler struct {
	mu      sync.Mutex
	queue   []func()
	ticker  *time.Ticker
	done    chan struct{}
	stopped bool
}

// NewFrameScheduler starts a scheduler ticking at the given interval.
func NewFrameScheduler(interval time.Duration) *FrameScheduler {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	s := &FrameScheduler{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *FrameScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.drain()
		case <-s.done:
			return
		}
	}
}

func (s *FrameScheduler) drain() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, fn := range queue {
		fn()
	}
}

// Schedule queues fn for the next tick. Never blocks.
func (s *FrameScheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.queue = append(s.queue, fn)
}

// Stop halts the tick loop. Pending callbacks are dropped.
func (s *FrameScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.ticker.Stop()
	close(s.done)
}

// ManualScheduler queues callbacks until Tick is called. Used in tests to
// drive the flush cycle deterministically.
type ManualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, fn)
}

// Tick runs everything scheduled so far and returns how many callbacks ran.
func (s *ManualScheduler) Tick() int {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, fn := range queue {
		fn()
	}
	return len(queue)
}

// Pending returns the number of callbacks waiting for the next tick.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
