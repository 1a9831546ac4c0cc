package voice

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
)

// generations distinguishes supervisors of the same guild on a shared scheduler.
var generations atomic.Uint64

// ErrStopped is returned once the supervisor has exited.
var ErrStopped = errors.New("supervisor stopped")

// QueueControl is the part of the playback queue the supervisor drives.
type QueueControl interface {
	Stop() error
	Teardown(reason string)
}

// Config holds supervisor configuration.
type Config struct {
	ReadyTimeout      time.Duration // Max wait for Ready after Signalling/Connecting
	MaxRejoinAttempts int           // Rejoins before giving up
	RejoinStep        time.Duration // Backoff is (attempts+1) * RejoinStep
	KeepaliveInterval time.Duration // Watchdog period while networking
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:      20 * time.Second,
		MaxRejoinAttempts: 5,
		RejoinStep:        5 * time.Second,
		KeepaliveInterval: 15 * time.Second,
	}
}

// Snapshot is a read-only view of the supervisor.
type Snapshot struct {
	State          State
	RejoinAttempts int
	AwaitingReady  bool
}

// Supervisor owns one connection. Transport events, timers and queries are
// serialized through its mailbox.
type Supervisor struct {
	cfg       Config
	conn      Connection
	queue     QueueControl
	scheduler *schedule.Scheduler
	inbox     *schedule.Mailbox[any]
	done      chan struct{}
	gen       uint64

	// owned by the loop goroutine
	state          State
	attempts       int
	awaitingReady  bool
	readyToken     uint64
	keepaliveToken uint64
	stopped        bool
}

type (
	rejoinDue    struct{}
	readyTimeout struct{ token uint64 }
	keepaliveDue struct{ token uint64 }
	query        struct {
		fn   func()
		done chan struct{}
	}
)

// NewSupervisor creates a supervisor. Call Start to begin handling events.
func NewSupervisor(cfg Config, conn Connection, queue QueueControl, scheduler *schedule.Scheduler) *Supervisor {
	def := DefaultConfig()
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.MaxRejoinAttempts <= 0 {
		cfg.MaxRejoinAttempts = def.MaxRejoinAttempts
	}
	if cfg.RejoinStep <= 0 {
		cfg.RejoinStep = def.RejoinStep
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if scheduler == nil {
		scheduler = schedule.NewScheduler(nil)
	}
	return &Supervisor{
		cfg:       cfg,
		conn:      conn,
		queue:     queue,
		scheduler: scheduler,
		inbox:     schedule.NewMailbox[any](),
		done:      make(chan struct{}),
		gen:       generations.Add(1),
	}
}

// Start subscribes to the connection and processes its current state.
func (s *Supervisor) Start() {
	initial := s.conn.State()
	s.conn.Subscribe(func(c StateChange) {
		s.inbox.Put(c)
	})
	s.inbox.Put(StateChange{Old: initial, New: initial})
	go s.run()
}

// Done is closed when the connection has been destroyed and the supervisor exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the supervisor state.
func (s *Supervisor) Snapshot() (Snapshot, error) {
	var snap Snapshot
	done := make(chan struct{})
	ok := s.inbox.Put(query{
		fn: func() {
			snap = Snapshot{State: s.state, RejoinAttempts: s.attempts, AwaitingReady: s.awaitingReady}
		},
		done: done,
	})
	if !ok {
		return Snapshot{}, ErrStopped
	}
	<-done
	return snap, nil
}

func (s *Supervisor) key(kind string) string {
	return kind + "/" + s.conn.GuildID() + "/" + strconv.FormatUint(s.gen, 10)
}

func (s *Supervisor) run() {
	for {
		select {
		case <-s.inbox.Ready():
			for _, item := range s.inbox.Drain() {
				s.dispatch(item)
			}
		case <-s.inbox.Done():
			for _, item := range s.inbox.Drain() {
				s.dispatch(item)
			}
			close(s.done)
			return
		}
	}
}

func (s *Supervisor) dispatch(item any) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("voice supervisor panicked: guild=%s item=%T panic=%v", s.conn.GuildID(), item, r)
		}
	}()

	switch ev := item.(type) {
	case query:
		defer close(ev.done)
		ev.fn()
	case StateChange:
		s.onStateChange(ev)
	case rejoinDue:
		s.onRejoinDue()
	case readyTimeout:
		s.onReadyTimeout(ev)
	case keepaliveDue:
		s.onKeepalive(ev)
	}
}

func (s *Supervisor) onStateChange(c StateChange) {
	if s.stopped {
		return
	}
	guild := s.conn.GuildID()
	s.state = c.New
	zlog.Debug().Msgf("voice state: guild=%s from=%s to=%s rejoin_attempts=%d", guild, c.Old, c.New, s.attempts)

	s.rearmKeepalive()

	switch c.New.Status {
	case StatusDisconnected:
		if c.New.ForcedRemoval() {
			zlog.Info().Msgf("voice: removed from channel, stopping queue: guild=%s", guild)
			go func() {
				if err := s.queue.Stop(); err != nil {
					zlog.Debug().Msgf("voice: stop after removal: guild=%s err=%v", guild, err)
				}
			}()
			return
		}
		if s.attempts < s.cfg.MaxRejoinAttempts {
			delay := time.Duration(s.attempts+1) * s.cfg.RejoinStep
			s.attempts++
			zlog.Info().Msgf("voice: rejoin scheduled: guild=%s attempt=%d delay=%v", guild, s.attempts, delay)
			s.scheduler.Schedule(s.key("rejoin"), delay, func() {
				s.inbox.Put(rejoinDue{})
			})
			return
		}
		zlog.Warn().Msgf("voice: rejoin attempts exhausted, destroying: guild=%s", guild)
		go s.conn.Destroy()

	case StatusSignalling, StatusConnecting:
		if s.awaitingReady {
			return
		}
		s.awaitingReady = true
		s.readyToken++
		token := s.readyToken
		s.scheduler.Schedule(s.key("ready"), s.cfg.ReadyTimeout, func() {
			s.inbox.Put(readyTimeout{token: token})
		})

	case StatusReady:
		s.attempts = 0
		if s.awaitingReady {
			s.awaitingReady = false
			s.scheduler.Cancel(s.key("ready"))
			zlog.Debug().Msgf("voice: ready: guild=%s", guild)
		}

	case StatusDestroyed:
		s.shutdown()
		zlog.Info().Msgf("voice: connection destroyed: guild=%s", guild)
		go s.queue.Teardown("connection destroyed")
	}
}

func (s *Supervisor) onRejoinDue() {
	if s.stopped || s.state.Status == StatusDestroyed {
		return
	}
	zlog.Info().Msgf("voice: rejoining: guild=%s attempt=%d", s.conn.GuildID(), s.attempts)
	go s.conn.Rejoin()
}

func (s *Supervisor) onReadyTimeout(ev readyTimeout) {
	if s.stopped || !s.awaitingReady || ev.token != s.readyToken {
		return
	}
	s.awaitingReady = false
	zlog.Warn().Msgf("voice: not ready within %v: guild=%s state=%s", s.cfg.ReadyTimeout, s.conn.GuildID(), s.state)
	if s.state.Status != StatusDestroyed {
		go s.conn.Destroy()
	}
}

// rearmKeepalive detaches the watchdog of the previous state and attaches a
// new one if the current state is networking.
func (s *Supervisor) rearmKeepalive() {
	s.keepaliveToken++
	s.scheduler.Cancel(s.key("keepalive"))
	if s.state.Status.Networking() {
		s.scheduleKeepalive()
	}
}

func (s *Supervisor) scheduleKeepalive() {
	token := s.keepaliveToken
	s.scheduler.Schedule(s.key("keepalive"), s.cfg.KeepaliveInterval, func() {
		s.inbox.Put(keepaliveDue{token: token})
	})
}

func (s *Supervisor) onKeepalive(ev keepaliveDue) {
	if s.stopped || ev.token != s.keepaliveToken {
		return
	}
	guild := s.conn.GuildID()
	go func() {
		if err := s.conn.Keepalive(); err != nil {
			zlog.Warn().Msgf("voice: keepalive failed: guild=%s err=%v", guild, err)
		}
	}()
	s.scheduleKeepalive()
}

func (s *Supervisor) shutdown() {
	s.stopped = true
	s.awaitingReady = false
	s.keepaliveToken++
	for _, kind := range []string{"rejoin", "ready", "keepalive"} {
		s.scheduler.Cancel(s.key(kind))
	}
	s.inbox.Close()
}
