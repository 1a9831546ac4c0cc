package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/playback"
	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// Actor is the member who clicked a button.
type Actor struct {
	GuildID string
	UserID  string
	Name    string
}

// Click is one button press on a control message.
type Click struct {
	Action  Action
	Actor   Actor
	Respond func(content string, ephemeral bool) error
}

// Presenter sends and edits control messages and delivers their clicks.
type Presenter interface {
	SendControls(ctx context.Context, channelID, content string, rows [][]Action) (messageID string, err error)
	DisableControls(ctx context.Context, channelID, messageID string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// Collect delivers clicks on messageID until release is called.
	Collect(messageID string) (clicks <-chan Click, release func())
}

// Authorizer decides whether an actor may change the queue.
type Authorizer interface {
	CanModifyQueue(actor Actor) bool
}

// Controls is the queue the buttons operate on.
type Controls interface {
	Skip() (track.Track, error)
	TogglePause() (playback.PlayerState, error)
	ToggleMute() (bool, error)
	VolumeDown() (int, error)
	VolumeUp() (int, error)
	ToggleLoop() (bool, error)
	Shuffle() error
	Stop() error
	Snapshot() (playback.Snapshot, error)
}

// Config holds control surface configuration.
type Config struct {
	DefaultTTL time.Duration // Lifetime when the track duration is unknown
	Prune      bool          // Delete the message after it expires
	PruneDelay time.Duration
	Timeout    time.Duration // Per presenter call
}

// Surface opens one control session per now-playing message.
type Surface struct {
	cfg       Config
	presenter Presenter
	auth      Authorizer
	clock     schedule.Clock

	mu       sync.Mutex
	sessions map[string]*Session // guild ID -> current session
}

// NewSurface creates a control surface. A nil clock uses the real clock.
func NewSurface(cfg Config, presenter Presenter, auth Authorizer, clock schedule.Clock) *Surface {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 60 * time.Second
	}
	if cfg.PruneDelay <= 0 {
		cfg.PruneDelay = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clock == nil {
		clock = schedule.RealClock()
	}
	return &Surface{
		cfg:       cfg,
		presenter: presenter,
		auth:      auth,
		clock:     clock,
		sessions:  make(map[string]*Session),
	}
}

// NowPlayingMessage renders the announcement text for a track.
func NowPlayingMessage(t track.Track) string {
	return fmt.Sprintf("🎶 Started playing: **%s** %s", t.Title, t.Locator)
}

// Open sends the control message for t and starts collecting clicks on it.
// Any previous session of the guild is ended.
func (s *Surface) Open(ctx context.Context, guildID, channelID string, t track.Track, controls Controls) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	msgID, err := s.presenter.SendControls(ctx, channelID, NowPlayingMessage(t), Layout)
	if err != nil {
		return nil, err
	}

	ttl := t.Duration
	if t.DurationSeconds() <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	clicks, release := s.presenter.Collect(msgID)
	sess := &Session{
		ID:        uuid.New().String(),
		GuildID:   guildID,
		ChannelID: channelID,
		MessageID: msgID,
		track:     t,
		controls:  controls,
		surface:   s,
		clicks:    clicks,
		release:   release,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.sessions[guildID]
	s.sessions[guildID] = sess
	s.mu.Unlock()
	if prev != nil {
		prev.End()
	}

	zlog.Debug().Msgf("control session opened: guild=%s message=%s ttl=%v session=%s", guildID, msgID, ttl, sess.ID)
	go sess.run(ttl)
	return sess, nil
}

// Current returns the open session of a guild.
func (s *Surface) Current(guildID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[guildID]
	return sess, ok
}

// CloseGuild ends the open session of a guild, if any.
func (s *Surface) CloseGuild(guildID string) {
	if sess, ok := s.Current(guildID); ok {
		sess.End()
	}
}

func (s *Surface) forget(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.GuildID] == sess {
		delete(s.sessions, sess.GuildID)
	}
}

// Session is bound to exactly one control message.
type Session struct {
	ID        string
	GuildID   string
	ChannelID string
	MessageID string

	track    track.Track
	controls Controls
	surface  *Surface
	clicks   <-chan Click
	release  func()

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// End stops collecting clicks. Expiry handling runs once.
func (s *Session) End() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Done is closed after the session has expired and its message was updated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run(ttl time.Duration) {
	timer := s.surface.clock.AfterFunc(ttl, s.End)
	defer timer.Stop()
	defer s.expire()

	for {
		select {
		case <-s.stop:
			return
		case c, ok := <-s.clicks:
			if !ok {
				return
			}
			if s.handle(c) && c.Action.EndsSession() {
				return
			}
		}
	}
}

func (s *Session) expire() {
	defer close(s.done)

	s.End()
	s.release()
	s.drain()
	s.surface.forget(s)

	cfg := s.surface.cfg
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := s.surface.presenter.DisableControls(ctx, s.ChannelID, s.MessageID); err != nil {
		zlog.Debug().Msgf("control message gone before disable: guild=%s message=%s err=%v", s.GuildID, s.MessageID, err)
	}

	if cfg.Prune {
		presenter, channelID, messageID := s.surface.presenter, s.ChannelID, s.MessageID
		s.surface.clock.AfterFunc(cfg.PruneDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			if err := presenter.DeleteMessage(ctx, channelID, messageID); err != nil {
				zlog.Debug().Msgf("control message already deleted: message=%s err=%v", messageID, err)
			}
		})
	}
	zlog.Debug().Msgf("control session ended: guild=%s message=%s session=%s", s.GuildID, s.MessageID, s.ID)
}

// drain answers clicks that were buffered when the session ended.
func (s *Session) drain() {
	for {
		select {
		case c, ok := <-s.clicks:
			if !ok {
				return
			}
			zlog.Debug().Msgf("control click after end: guild=%s user=%s action=%s", s.GuildID, c.Actor.UserID, c.Action)
			respond(c, ExpiredMessage, true)
		default:
			return
		}
	}
}
