// Package lanes serializes work per session key.
//
// Each key owns a FIFO lane. Jobs in the same lane run one at a time in
// submission order while different lanes run concurrently. A lane's worker
// goroutine exits as soon as its queue drains and is started again on the next
// Enqueue; CleanupIdleLanes drops the bookkeeping for lanes that are idle.
package lanes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/warden/internal/observability"
)

var (
	// ErrShutdown is returned for jobs submitted after Shutdown, and for queued
	// jobs that never started before it.
	ErrShutdown = errors.New("lane scheduler shut down")

	// ErrJobPanicked wraps a panic recovered from a job.
	ErrJobPanicked = errors.New("lane job panicked")
)

// DefaultWarnAfter is the queue wait after which a warning is logged.
const DefaultWarnAfter = 2 * time.Second

// Job is a unit of work executed exclusively within its lane.
type Job func(ctx context.Context) (any, error)

// Status describes one known lane.
type Status struct {
	Key        string    `json:"key"`
	Running    bool      `json:"running"`
	Queued     int       `json:"queued"`
	LastActive time.Time `json:"last_active"`
}

// Config configures a Scheduler.
type Config struct {
	// WarnAfter logs a warning when a job waited longer than this. Default: 2s.
	WarnAfter time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

type entry struct {
	ctx        context.Context
	job        Job
	enqueuedAt time.Time
	done       chan result
	started    bool
}

type result struct {
	value any
	err   error
}

type lane struct {
	key        string
	queue      []*entry
	running    bool
	lastActive time.Time
}

// Scheduler owns one lane per key.
type Scheduler struct {
	mu      sync.Mutex
	lanes   map[string]*lane
	closed  bool
	running sync.WaitGroup

	warnAfter time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = DefaultWarnAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		lanes:     make(map[string]*lane),
		warnAfter: cfg.WarnAfter,
		logger:    cfg.Logger.With("component", "lanes"),
		metrics:   cfg.Metrics,
	}
}

// Enqueue submits job to the lane for key and blocks until it finishes.
//
// If ctx is cancelled while the job is still queued, the job is removed and
// ctx.Err() is returned. Once started, a job runs to completion with a context
// that keeps ctx's values but not its cancellation; the caller may stop
// waiting, but the lane stays held until the job returns.
func (s *Scheduler) Enqueue(ctx context.Context, key string, job Job) (any, error) {
	if job == nil {
		return nil, errors.New("lanes: nil job")
	}
	e := &entry{
		ctx:        context.WithoutCancel(ctx),
		job:        job,
		enqueuedAt: time.Now(),
		done:       make(chan result, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.metrics.RecordLaneJob("rejected", -1)
		return nil, ErrShutdown
	}
	l := s.lanes[key]
	if l == nil {
		l = &lane{key: key}
		s.lanes[key] = l
	}
	l.queue = append(l.queue, e)
	l.lastActive = e.enqueuedAt
	startWorker := !l.running
	if startWorker {
		l.running = true
		s.running.Add(1)
	}
	s.metrics.SetLaneQueueDepth(s.queuedLocked())
	s.mu.Unlock()

	if startWorker {
		go s.work(l)
	}

	select {
	case res := <-e.done:
		return res.value, res.err
	case <-ctx.Done():
		// A job that already started keeps the lane until it returns.
		s.abandon(l, e)
		return nil, ctx.Err()
	}
}

// Enqueue is the typed form of Scheduler.Enqueue.
func Enqueue[T any](ctx context.Context, s *Scheduler, key string, job func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := s.Enqueue(ctx, key, func(ctx context.Context) (any, error) {
		return job(ctx)
	})
	if err != nil {
		if typed, ok := value.(T); ok {
			return typed, err
		}
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("lanes: unexpected job result type %T", value)
	}
	return typed, nil
}

// abandon removes e from the queue if it has not started.
func (s *Scheduler) abandon(l *lane, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.started {
		return false
	}
	for i, queued := range l.queue {
		if queued == e {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			s.metrics.SetLaneQueueDepth(s.queuedLocked())
			return true
		}
	}
	return false
}

// work drains a lane, one job at a time, then exits.
func (s *Scheduler) work(l *lane) {
	defer s.running.Done()
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.lastActive = time.Now()
			s.mu.Unlock()
			return
		}
		e := l.queue[0]
		l.queue = l.queue[1:]
		e.started = true
		queuedAhead := len(l.queue)
		s.metrics.SetLaneQueueDepth(s.queuedLocked())
		s.mu.Unlock()

		waited := time.Since(e.enqueuedAt)
		if waited >= s.warnAfter {
			s.logger.Warn("lane wait exceeded threshold",
				"lane", l.key,
				"waited_ms", waited.Milliseconds(),
				"queued_ahead", queuedAhead)
		}

		res := s.run(l.key, e)
		outcome := "success"
		switch {
		case errors.Is(res.err, ErrJobPanicked):
			outcome = "panic"
		case res.err != nil:
			outcome = "error"
		}
		s.metrics.RecordLaneJob(outcome, waited.Seconds())
		e.done <- res
	}
}

func (s *Scheduler) run(key string, e *entry) (res result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lane job panicked",
				"lane", key,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			res = result{err: fmt.Errorf("%w: %v", ErrJobPanicked, r)}
		}
	}()
	ctx := observability.AddLane(e.ctx, key)
	value, err := e.job(ctx)
	return result{value: value, err: err}
}

// GetAllStatus reports every known lane, sorted by key.
func (s *Scheduler) GetAllStatus() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.lanes))
	for _, l := range s.lanes {
		out = append(out, Status{
			Key:        l.key,
			Running:    l.running,
			Queued:     len(l.queue),
			LastActive: l.lastActive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Status reports a single lane. ok is false for unknown keys.
func (s *Scheduler) Status(key string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[key]
	if !ok {
		return Status{Key: key}, false
	}
	return Status{Key: l.key, Running: l.running, Queued: len(l.queue), LastActive: l.lastActive}, true
}

// CleanupIdleLanes forgets lanes that have nothing queued and nothing
// running. It returns the number of lanes removed.
func (s *Scheduler) CleanupIdleLanes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, l := range s.lanes {
		if !l.running && len(l.queue) == 0 {
			delete(s.lanes, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("cleaned up idle lanes", "removed", removed, "remaining", len(s.lanes))
	}
	return removed
}

// Shutdown stops accepting work, fails queued jobs that have not started with
// ErrShutdown, and waits for running jobs until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := 0
	for _, l := range s.lanes {
		for _, e := range l.queue {
			e.started = true
			e.done <- result{err: ErrShutdown}
			dropped++
		}
		l.queue = nil
	}
	s.metrics.SetLaneQueueDepth(0)
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("dropped queued lane jobs on shutdown", "count", dropped)
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) queuedLocked() int {
	total := 0
	for _, l := range s.lanes {
		total += len(l.queue)
	}
	return total
}
