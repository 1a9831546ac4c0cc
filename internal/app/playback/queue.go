package playback

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// Errors
var (
	ErrClosed     = errors.New("queue is closed")
	ErrNoTrack    = errors.New("no track playing")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")
)

// StreamOpener opens the audio stream of a track. It may be slow and may fail.
type StreamOpener interface {
	OpenStream(ctx context.Context, t track.Track) (io.ReadCloser, error)
}

// Connection is the voice connection a queue plays into.
type Connection interface {
	Destroy()
}

// Notifier receives user-facing queue notifications. Calls are made on their
// own goroutine and may block.
type Notifier interface {
	NowPlaying(q *Queue, t track.Track)
	QueueEnded(q *Queue)
	LeftChannel(q *Queue)
	Failure(q *Queue, message string)
}

// Config holds queue configuration.
type Config struct {
	GuildID                string
	TextChannelID          string
	VoiceChannelID         string
	DefaultVolume          int           // 0..100
	StayDuration           time.Duration // Delay between stop and teardown
	Pruning                bool          // Suppress queue ended / left channel announcements
	MaxConsecutiveFailures int           // Zero disables the ceiling
	OpenTimeout            time.Duration // Per acquisition
}

// Deps are the collaborators of a queue.
type Deps struct {
	Player     Player
	Opener     StreamOpener
	Conn       Connection
	Notifier   Notifier
	Scheduler  *schedule.Scheduler
	OnTeardown func(q *Queue) // Called once from the queue loop during teardown
}

// Snapshot is a read-only copy of a queue's observable state.
type Snapshot struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Tracks         []track.Track // Head first; the head is now playing when State is active
	NowPlaying     *track.Track
	Loop           bool
	Muted          bool
	Stopped        bool
	Volume         int
	State          PlayerState
}

// Queue is the per-guild playback queue. All mutable state is owned by a single
// goroutine fed through an unbounded mailbox; public methods post to it.
type Queue struct {
	cfg        Config
	player     Player
	opener     StreamOpener
	conn       Connection
	notifier   Notifier
	scheduler  *schedule.Scheduler
	onTeardown func(q *Queue)
	gen        uint64

	inbox  *schedule.Mailbox[any]
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	// owned by the loop goroutine
	tracks      []track.Track
	loop        bool
	volume      int
	muted       bool
	stopped     bool
	closed      bool
	acquiring   bool
	epoch       uint64
	failures    int
	playerState PlayerState
	resource    *Resource
	idlePending bool
	idleToken   uint64
}

// New creates a queue and starts its loop.
func New(cfg Config, deps Deps) *Queue {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = schedule.NewScheduler(nil)
	}
	if deps.OnTeardown == nil {
		deps.OnTeardown = func(*Queue) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:         cfg,
		player:      deps.Player,
		opener:      deps.Opener,
		conn:        deps.Conn,
		notifier:    deps.Notifier,
		scheduler:   deps.Scheduler,
		onTeardown:  deps.OnTeardown,
		gen:         generations.Add(1),
		inbox:       schedule.NewMailbox[any](),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		volume:      ClampVolume(cfg.DefaultVolume),
		playerState: StateIdle,
	}

	q.player.Subscribe(func(ev PlayerEvent) {
		q.inbox.Put(ev)
	})

	go q.run()
	return q
}

// GuildID returns the guild the queue belongs to.
func (q *Queue) GuildID() string { return q.cfg.GuildID }

// VoiceChannelID returns the voice channel the queue plays into.
func (q *Queue) VoiceChannelID() string { return q.cfg.VoiceChannelID }

// TextChannelID returns the channel used for announcements.
func (q *Queue) TextChannelID() string { return q.cfg.TextChannelID }

// Pruning reports whether announcements are suppressed.
func (q *Queue) Pruning() bool { return q.cfg.Pruning }

// Done is closed once the queue has been torn down.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Enqueue appends tracks in order and starts playback if the player is idle.
// A pending idle teardown is cancelled.
func (q *Queue) Enqueue(tracks ...track.Track) error {
	return q.do(func() error {
		q.cancelIdle()
		q.stopped = false
		q.failures = 0
		q.tracks = append(q.tracks, tracks...)
		zlog.Info().Msgf("enqueued: guild=%s count=%d length=%d", q.cfg.GuildID, len(tracks), len(q.tracks))
		q.acquire()
		return nil
	})
}

// Stop clears the queue, halts the player and schedules the idle teardown.
// Repeated calls have no further effect.
func (q *Queue) Stop() error {
	return q.do(func() error {
		q.stop()
		return nil
	})
}

// Skip halts the current track. The head is retired as if it had finished.
func (q *Queue) Skip() (track.Track, error) {
	var skipped track.Track
	err := q.do(func() error {
		if q.resource == nil {
			return ErrNoTrack
		}
		skipped = q.resource.Track()
		zlog.Info().Msgf("skip: guild=%s track=%q", q.cfg.GuildID, skipped.Title)
		q.player.Stop()
		q.completeResource()
		q.retireHead()
		q.advance()
		return nil
	})
	return skipped, err
}

// Pause pauses the current track.
func (q *Queue) Pause() error {
	return q.do(q.pause)
}

// Resume resumes a paused track.
func (q *Queue) Resume() error {
	return q.do(q.resume)
}

// TogglePause pauses while playing and resumes otherwise. It returns the new state.
func (q *Queue) TogglePause() (PlayerState, error) {
	var state PlayerState
	err := q.do(func() error {
		var err error
		if q.playerState == StatePlaying {
			err = q.pause()
		} else {
			err = q.resume()
		}
		state = q.playerState
		return err
	})
	return state, err
}

func (q *Queue) pause() error {
	if q.resource == nil {
		return ErrNoTrack
	}
	if q.playerState != StatePlaying {
		return ErrNotPlaying
	}
	if q.player.Pause() {
		q.playerState = StatePaused
	}
	return nil
}

func (q *Queue) resume() error {
	if q.resource == nil {
		return ErrNoTrack
	}
	if q.playerState != StatePaused {
		return ErrNotPaused
	}
	if q.player.Unpause() {
		q.playerState = StatePlaying
	}
	return nil
}

// ToggleLoop flips loop mode and returns the new value.
func (q *Queue) ToggleLoop() (bool, error) {
	var enabled bool
	err := q.do(func() error {
		q.loop = !q.loop
		enabled = q.loop
		return nil
	})
	return enabled, err
}

// ToggleMute flips mute and returns the new value. The stored level is kept.
func (q *Queue) ToggleMute() (bool, error) {
	var muted bool
	err := q.do(func() error {
		q.muted = !q.muted
		muted = q.muted
		q.applyVolume()
		return nil
	})
	return muted, err
}

// SetVolume sets the level, clamped to [0,100], and returns the stored value.
func (q *Queue) SetVolume(level int) (int, error) {
	var v int
	err := q.do(func() error {
		q.volume = ClampVolume(level)
		v = q.volume
		q.applyVolume()
		return nil
	})
	return v, err
}

// VolumeUp raises the level by one step.
func (q *Queue) VolumeUp() (int, error) {
	return q.stepVolume(VolumeStep)
}

// VolumeDown lowers the level by one step.
func (q *Queue) VolumeDown() (int, error) {
	return q.stepVolume(-VolumeStep)
}

func (q *Queue) stepVolume(delta int) (int, error) {
	var v int
	err := q.do(func() error {
		q.volume = ClampVolume(q.volume + delta)
		v = q.volume
		q.applyVolume()
		return nil
	})
	return v, err
}

// Shuffle permutes the pending tracks. The head stays in place.
func (q *Queue) Shuffle() error {
	return q.do(func() error {
		if len(q.tracks) < 3 {
			return nil
		}
		pending := q.tracks[1:]
		rand.Shuffle(len(pending), func(i, j int) {
			pending[i], pending[j] = pending[j], pending[i]
		})
		return nil
	})
}

// Snapshot returns a copy of the queue state.
func (q *Queue) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := q.do(func() error {
		s = q.snapshot()
		return nil
	})
	return s, err
}

func (q *Queue) snapshot() Snapshot {
	s := Snapshot{
		GuildID:        q.cfg.GuildID,
		VoiceChannelID: q.cfg.VoiceChannelID,
		TextChannelID:  q.cfg.TextChannelID,
		Tracks:         append([]track.Track(nil), q.tracks...),
		Loop:           q.loop,
		Muted:          q.muted,
		Stopped:        q.stopped,
		Volume:         q.volume,
		State:          q.playerState,
	}
	if q.resource != nil {
		t := q.resource.Track()
		s.NowPlaying = &t
	}
	return s
}

// Teardown destroys the connection and releases the queue. It is a no-op once closed.
func (q *Queue) Teardown(reason string) {
	_ = q.do(func() error {
		q.teardown(reason)
		return nil
	})
}

func (q *Queue) applyVolume() {
	if q.resource != nil {
		q.resource.SetVolume(Gain(q.volume, q.muted))
	}
}

// do runs fn on the loop goroutine and waits for it.
func (q *Queue) do(fn func() error) error {
	var err error
	done := make(chan struct{})
	ok := q.inbox.Put(command{
		fn: func() {
			if q.closed {
				err = ErrClosed
				return
			}
			err = fn()
		},
		done: done,
	})
	if !ok {
		return ErrClosed
	}
	<-done
	return err
}

func (q *Queue) run() {
	for {
		select {
		case <-q.inbox.Ready():
			for _, item := range q.inbox.Drain() {
				q.dispatch(item)
			}
		case <-q.inbox.Done():
			for _, item := range q.inbox.Drain() {
				q.dispatch(item)
			}
			close(q.done)
			return
		}
	}
}

func (q *Queue) dispatch(item any) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("queue handler panicked: guild=%s item=%T panic=%v", q.cfg.GuildID, item, r)
		}
	}()

	switch ev := item.(type) {
	case command:
		defer close(ev.done)
		ev.fn()
	case PlayerEvent:
		q.onPlayerEvent(ev)
	case acquisitionResult:
		q.onAcquired(ev)
	case idleExpired:
		q.onIdleExpired(ev)
	default:
		zlog.Warn().Msgf("queue: unknown mailbox item: guild=%s item=%T", q.cfg.GuildID, item)
	}
}

type nopNotifier struct{}

func (nopNotifier) NowPlaying(*Queue, track.Track) {}
func (nopNotifier) QueueEnded(*Queue)              {}
func (nopNotifier) LeftChannel(*Queue)             {}
func (nopNotifier) Failure(*Queue, string)         {}
