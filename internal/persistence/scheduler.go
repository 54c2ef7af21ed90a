package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce and DefaultMaxDebounce are the configuration
// defaults.
const (
	DefaultDebounce    = 2 * time.Second
	DefaultMaxDebounce = 10 * time.Second
)

// SaveFunc persists the named document's current state. It is invoked by
// the scheduler outside any per-document transaction — the caller
// (internal/document) is responsible for re-acquiring its own
// serialization if it needs to read the replica again.
type SaveFunc func(ctx context.Context, name string) error

// Scheduler is the per-document debounced saver. One Scheduler serves every
// resident document; per-document state is tracked independently in a single
// shared structure guarded by one mutex rather than one goroutine per
// document.
type Scheduler struct {
	debounce    time.Duration
	maxDebounce time.Duration
	save        SaveFunc
	log         *zap.Logger
	onError     func(name string, err error)

	mu    sync.Mutex
	state map[string]*docSchedule
}

type docSchedule struct {
	firstDirty time.Time
	timer      *time.Timer
}

// New creates a Scheduler. debounce/maxDebounce <= 0 use the package
// defaults.
func New(debounce, maxDebounce time.Duration, save SaveFunc, onError func(name string, err error), log *zap.Logger) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxDebounce <= 0 {
		maxDebounce = DefaultMaxDebounce
	}
	return &Scheduler{
		debounce:    debounce,
		maxDebounce: maxDebounce,
		save:        save,
		log:         log,
		onError:     onError,
		state:       make(map[string]*docSchedule),
	}
}

// NotifyDirty records an update for name and (re)schedules its save per
// the debounce rule:
//   - first dirty event for name: record now, schedule debounce from now.
//   - now - firstDirty >= maxDebounce: cancel and schedule immediately.
//   - otherwise: cancel and reschedule debounce from now.
func (s *Scheduler) NotifyDirty(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ds, exists := s.state[name]
	if !exists {
		ds = &docSchedule{firstDirty: now}
		s.state[name] = ds
		ds.timer = time.AfterFunc(s.debounce, func() { s.fire(name) })
		return
	}

	if now.Sub(ds.firstDirty) >= s.maxDebounce {
		ds.timer.Stop()
		ds.timer = time.AfterFunc(0, func() { s.fire(name) })
		return
	}

	ds.timer.Stop()
	ds.timer = time.AfterFunc(s.debounce, func() { s.fire(name) })
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	delete(s.state, name)
	s.mu.Unlock()

	if err := s.save(context.Background(), name); err != nil {
		if s.log != nil {
			s.log.Warn("document save failed", zap.String("document", name), zap.Error(err))
		}
		if s.onError != nil {
			s.onError(name, err)
		}
	}
}

// Flush forces an immediate save of name regardless of debounce state,
// cancelling any pending scheduled save. Used at unload and shutdown.
func (s *Scheduler) Flush(ctx context.Context, name string) error {
	s.mu.Lock()
	if ds, ok := s.state[name]; ok {
		ds.timer.Stop()
		delete(s.state, name)
	}
	s.mu.Unlock()
	return s.save(ctx, name)
}

// Cancel drops any pending scheduled save for name without running it.
// Exposed only for test hooks.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.state[name]; ok {
		ds.timer.Stop()
		delete(s.state, name)
	}
}

// Pending reports whether name currently has a scheduled (not yet fired)
// save, for tests.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state[name]
	return ok
}
