package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTimeout is returned when the caller's deadline passes before its task finished.
	ErrTimeout = errors.New("operation timed out")
	// ErrStrandClosed is returned for tasks submitted after Close.
	ErrStrandClosed = errors.New("strand is closed")
)

// Observer receives queue statistics. metrics.Registry satisfies it.
type Observer interface {
	SetStrandQueueDepth(domain string, depth int)
	RecordStrandWait(domain string, wait time.Duration)
}

// Strand is a single-consumer execution queue. Tasks submitted to the same
// strand run one at a time in submission order; different strands interleave
// freely.
type Strand struct {
	name     string
	tasks    chan *task
	pending  atomic.Int64
	observer Observer

	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex // guards tasks against close during send
	closed bool
}

type task struct {
	ctx       context.Context
	fn        func(context.Context) error
	done      chan error
	abandoned atomic.Bool
	queuedAt  time.Time
}

type strandKey struct{}

// NewStrand starts a strand with a queue buffer of depth tasks.
func NewStrand(name string, depth int, observer Observer) *Strand {
	if depth <= 0 {
		depth = 64
	}
	s := &Strand{
		name:     name,
		tasks:    make(chan *task, depth),
		observer: observer,
	}
	s.wg.Add(1)
	go s.consume()
	return s
}

// Name returns the domain name of the strand.
func (s *Strand) Name() string {
	return s.name
}

// Pending returns the number of queued tasks not yet started.
func (s *Strand) Pending() int {
	return int(s.pending.Load())
}

// Run submits fn and waits for it. When ctx expires first Run returns
// ErrTimeout: a task that has not started yet is skipped, a running task is
// left to finish on a context that ignores the caller's deadline.
//
// A task already running on this strand that calls Run again executes fn
// inline instead of deadlocking on its own queue.
func (s *Strand) Run(ctx context.Context, fn func(context.Context) error) error {
	if current, _ := ctx.Value(strandKey{}).(*Strand); current == s {
		return fn(ctx)
	}

	t := &task{
		ctx:      context.WithValue(context.WithoutCancel(ctx), strandKey{}, s),
		fn:       fn,
		done:     make(chan error, 1),
		queuedAt: time.Now(),
	}

	if err := s.submit(ctx, t); err != nil {
		return err
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		t.abandoned.Store(true)
		return s.expired(ctx)
	}
}

func (s *Strand) submit(ctx context.Context, t *task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStrandClosed
	}

	s.depthChanged(s.pending.Add(1))
	select {
	case s.tasks <- t:
		return nil
	case <-ctx.Done():
		s.depthChanged(s.pending.Add(-1))
		return s.expired(ctx)
	}
}

func (s *Strand) expired(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", s.name, ErrTimeout)
	}
	return ctx.Err()
}

func (s *Strand) consume() {
	defer s.wg.Done()

	for t := range s.tasks {
		s.depthChanged(s.pending.Add(-1))
		if t.abandoned.Load() {
			t.done <- ErrTimeout
			continue
		}
		if s.observer != nil {
			s.observer.RecordStrandWait(s.name, time.Since(t.queuedAt))
		}
		t.done <- s.execute(t)
	}
}

func (s *Strand) execute(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: task panicked: %v", s.name, r)
		}
	}()
	return t.fn(t.ctx)
}

func (s *Strand) depthChanged(depth int64) {
	if s.observer != nil {
		s.observer.SetStrandQueueDepth(s.name, int(depth))
	}
}

// Close stops accepting tasks and waits for queued ones to drain.
func (s *Strand) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.tasks)
		s.mu.Unlock()
	})
	s.wg.Wait()
}
