package schedule

import (
	"sort"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Scheduler runs delayed tasks keyed by an identity such as "idle/<guild>/<gen>".
// Scheduling a key that already has a pending task replaces it, so at most one
// task per key is ever pending.
type Scheduler struct {
	mu    sync.Mutex
	clock Clock
	tasks map[string]*task
	seq   uint64
}

type task struct {
	id    uint64
	timer Timer
	due   time.Time
}

// NewScheduler creates a scheduler on the given clock. A nil clock uses RealClock.
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{
		clock: clock,
		tasks: make(map[string]*task),
	}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Schedule arranges for fn to run after delay under key, replacing any pending task.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}

	s.seq++
	id := s.seq
	t := &task{id: id, due: s.clock.Now().Add(delay)}
	t.timer = s.clock.AfterFunc(delay, func() {
		if !s.claim(key, id) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				zlog.Error().Msgf("scheduled task panicked: key=%s panic=%v", key, r)
			}
		}()
		fn()
	})
	s.tasks[key] = t
}

// claim removes the task if it is still the current one for key.
func (s *Scheduler) claim(key string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok || t.id != id {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel stops the pending task under key. It reports whether a task was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether key has a pending task and when it is due.
func (s *Scheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return time.Time{}, false
	}
	return t.due, true
}

// Keys returns the pending keys starting with prefix, sorted.
func (s *Scheduler) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.tasks {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// CancelAll stops every pending task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}
