// Package session provides the session manager: one playback queue and one
// voice supervisor per guild.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/control"
	"github.com/WieserchGT/BetaGamers/internal/app/filter"
	"github.com/WieserchGT/BetaGamers/internal/app/playback"
	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
	"github.com/WieserchGT/BetaGamers/internal/app/session/registry"
	"github.com/WieserchGT/BetaGamers/internal/app/voice"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

var (
	ErrNotInVoiceChannel = errors.New("not in a voice channel")
	ErrNotSameChannel    = errors.New("not in the same voice channel")
	ErrNoQueue           = errors.New("no active queue")
	ErrRequestRejected   = errors.New("request rejected")
	ErrClosed            = errors.New("session manager is closed")
)

// Announcement texts.
const (
	QueueEndedMessage  = "❌ Music queue ended."
	LeftChannelMessage = "Leaving voice channel..."
)

// Announcer posts plain text messages.
type Announcer interface {
	Announce(ctx context.Context, channelID, content string) error
}

// PlayerFactory creates the audio player bound to a voice connection.
type PlayerFactory func(conn voice.Connection) (playback.Player, error)

// Config holds session manager configuration.
type Config struct {
	DefaultVolume          int
	StayDuration           time.Duration
	Pruning                bool
	MaxConsecutiveFailures int
	OpenTimeout            time.Duration
	ConnectTimeout         time.Duration
	AnnounceTimeout        time.Duration
	Voice                  voice.Config
}

// Deps are the collaborators of the manager.
type Deps struct {
	Resolver  resolver.Resolver
	Opener    resolver.StreamOpener
	Transport voice.Transport
	NewPlayer PlayerFactory
	Surface   *control.Surface // Optional
	Announcer Announcer        // Optional
	Filters   *filter.Chain    // Optional
	Scheduler *schedule.Scheduler
}

// PlayRequest is one play command.
type PlayRequest struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string // Channel the requester is in; empty when not in voice
	Query          string
	Requester      track.Requester
}

// PlayResult describes what a play command did.
type PlayResult struct {
	Tracks   []track.Track // Accepted tracks, in queue order
	Rejected []filter.Rejection
	Started  bool // The queue was empty, so the first track starts right away
}

// GuildStatus is a summary of one guild's playback.
type GuildStatus struct {
	Queue playback.Snapshot
	Voice voice.Snapshot
}

type guildPlayback struct {
	guildID    string
	queue      *playback.Queue
	supervisor *voice.Supervisor
	conn       voice.Connection
}

// Manager owns the guild to playback association.
type Manager struct {
	cfg    Config
	deps   Deps
	guilds *registry.Registry[*guildPlayback]
	closed atomic.Bool
}

// NewManager creates a new session manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Resolver == nil || deps.Opener == nil {
		return nil, errors.New("resolver and stream opener are required")
	}
	if deps.Transport == nil || deps.NewPlayer == nil {
		return nil, errors.New("voice transport and player factory are required")
	}
	if deps.Filters == nil {
		deps.Filters = filter.NewChain()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = schedule.NewScheduler(nil)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20 * time.Second
	}
	if cfg.AnnounceTimeout <= 0 {
		cfg.AnnounceTimeout = 10 * time.Second
	}

	return &Manager{
		cfg:    cfg,
		deps:   deps,
		guilds: registry.New[*guildPlayback](),
	}, nil
}

// Play resolves the query, filters the result and enqueues what was accepted.
// A queue and voice connection are created on the requester's channel when the
// guild has none.
func (m *Manager) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if m.closed.Load() {
		return PlayResult{}, ErrClosed
	}
	if req.VoiceChannelID == "" {
		return PlayResult{}, ErrNotInVoiceChannel
	}
	req.Requester.GuildID = req.GuildID

	var queued []track.Track
	if gp, err := m.guilds.Get(req.GuildID); err == nil && !m.retire(gp) {
		if gp.queue.VoiceChannelID() != req.VoiceChannelID {
			return PlayResult{}, ErrNotSameChannel
		}
		if snap, err := gp.queue.Snapshot(); err == nil {
			queued = snap.Tracks
		}
	}

	tracks, err := m.deps.Resolver.Resolve(ctx, req.Query)
	if err != nil {
		return PlayResult{}, err
	}
	for i := range tracks {
		tracks[i].Requester = req.Requester
	}

	filterReq := filter.Request{GuildID: req.GuildID, Requester: req.Requester, Queued: queued}
	accepted, rejected := m.deps.Filters.Partition(ctx, filterReq, tracks)
	for _, r := range rejected {
		zlog.Info().Msgf("track rejected: guild=%s user=%s track=%q code=%s", req.GuildID, req.Requester.ID, r.Track.Title, r.Code)
	}
	if len(accepted) == 0 {
		code := "rejected"
		if len(rejected) > 0 {
			code = rejected[0].Code
		}
		return PlayResult{Rejected: rejected}, errors.WithDetail(
			errors.Wrapf(ErrRequestRejected, "%d track(s) rejected", len(rejected)), code)
	}

	// A queue torn down between lookup and enqueue reports ErrClosed; the
	// next attempt creates a fresh one.
	for attempt := 0; attempt < 3; attempt++ {
		gp, created, err := m.guilds.GetOrCreate(req.GuildID, func() (*guildPlayback, error) {
			return m.create(ctx, req)
		})
		if err != nil {
			return PlayResult{}, err
		}
		if !created && m.retire(gp) {
			continue
		}
		if !created && gp.queue.VoiceChannelID() != req.VoiceChannelID {
			return PlayResult{}, ErrNotSameChannel
		}

		started := created
		if !created {
			snap, err := gp.queue.Snapshot()
			if errors.Is(err, playback.ErrClosed) {
				m.guilds.Remove(req.GuildID, gp)
				continue
			}
			started = len(snap.Tracks) == 0
		}

		if err := gp.queue.Enqueue(accepted...); err != nil {
			if errors.Is(err, playback.ErrClosed) {
				m.guilds.Remove(req.GuildID, gp)
				continue
			}
			return PlayResult{}, err
		}

		zlog.Info().Msgf("tracks enqueued: guild=%s user=%s count=%d rejected=%d created=%v",
			req.GuildID, req.Requester.ID, len(accepted), len(rejected), created)
		return PlayResult{Tracks: accepted, Rejected: rejected, Started: started}, nil
	}
	return PlayResult{}, errors.Wrap(playback.ErrClosed, "queue closed while enqueueing")
}

// retire tears down a guild playback whose connection was removed by the
// server or already destroyed. Such a connection never carries audio again, so
// it must not be reused. It reports whether gp was retired.
func (m *Manager) retire(gp *guildPlayback) bool {
	st := gp.conn.State()
	if !st.ForcedRemoval() && st.Status != voice.StatusDestroyed {
		return false
	}
	zlog.Info().Msgf("retiring guild playback: guild=%s voice=%s state=%s", gp.guildID, gp.queue.VoiceChannelID(), st)
	gp.queue.Teardown("connection removed")
	m.guilds.Remove(gp.guildID, gp)
	return true
}

func (m *Manager) create(ctx context.Context, req PlayRequest) (*guildPlayback, error) {
	connCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.deps.Transport.Connect(connCtx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join voice channel %s", req.VoiceChannelID)
	}
	player, err := m.deps.NewPlayer(conn)
	if err != nil {
		conn.Destroy()
		return nil, errors.Wrap(err, "failed to create player")
	}

	gp := &guildPlayback{guildID: req.GuildID, conn: conn}
	gp.queue = playback.New(playback.Config{
		GuildID:                req.GuildID,
		TextChannelID:          req.TextChannelID,
		VoiceChannelID:         req.VoiceChannelID,
		DefaultVolume:          m.cfg.DefaultVolume,
		StayDuration:           m.cfg.StayDuration,
		Pruning:                m.cfg.Pruning,
		MaxConsecutiveFailures: m.cfg.MaxConsecutiveFailures,
		OpenTimeout:            m.cfg.OpenTimeout,
	}, playback.Deps{
		Player:     player,
		Opener:     m.deps.Opener,
		Conn:       conn,
		Notifier:   m,
		Scheduler:  m.deps.Scheduler,
		OnTeardown: func(*playback.Queue) { m.onTeardown(gp) },
	})
	gp.supervisor = voice.NewSupervisor(m.cfg.Voice, conn, gp.queue, m.deps.Scheduler)
	gp.supervisor.Start()

	zlog.Info().Msgf("guild playback created: guild=%s voice=%s text=%s", req.GuildID, req.VoiceChannelID, req.TextChannelID)
	return gp, nil
}

func (m *Manager) onTeardown(gp *guildPlayback) {
	if m.guilds.Remove(gp.guildID, gp) {
		zlog.Info().Msgf("guild playback removed: guild=%s", gp.guildID)
	}
	if m.deps.Surface != nil {
		m.deps.Surface.CloseGuild(gp.guildID)
	}
}

func (m *Manager) queue(guildID string) (*playback.Queue, error) {
	gp, err := m.guilds.Get(guildID)
	if err != nil {
		return nil, ErrNoQueue
	}
	return gp.queue, nil
}

// VoiceChannel returns the voice channel the guild's queue plays into.
func (m *Manager) VoiceChannel(guildID string) (string, bool) {
	gp, err := m.guilds.Get(guildID)
	if err != nil {
		return "", false
	}
	return gp.queue.VoiceChannelID(), true
}

// Skip skips the now playing track.
func (m *Manager) Skip(guildID string) (track.Track, error) {
	q, err := m.queue(guildID)
	if err != nil {
		return track.Track{}, err
	}
	return q.Skip()
}

// Stop clears the queue and starts the idle teardown.
func (m *Manager) Stop(guildID string) error {
	q, err := m.queue(guildID)
	if err != nil {
		return err
	}
	return q.Stop()
}

// Pause pauses playback.
func (m *Manager) Pause(guildID string) error {
	q, err := m.queue(guildID)
	if err != nil {
		return err
	}
	return q.Pause()
}

// Resume resumes paused playback.
func (m *Manager) Resume(guildID string) error {
	q, err := m.queue(guildID)
	if err != nil {
		return err
	}
	return q.Resume()
}

// ToggleLoop flips the loop flag and returns the new value.
func (m *Manager) ToggleLoop(guildID string) (bool, error) {
	q, err := m.queue(guildID)
	if err != nil {
		return false, err
	}
	return q.ToggleLoop()
}

// Shuffle shuffles the queued tracks behind the head.
func (m *Manager) Shuffle(guildID string) error {
	q, err := m.queue(guildID)
	if err != nil {
		return err
	}
	return q.Shuffle()
}

// SetVolume sets the volume and returns the clamped value.
func (m *Manager) SetVolume(guildID string, level int) (int, error) {
	q, err := m.queue(guildID)
	if err != nil {
		return 0, err
	}
	return q.SetVolume(level)
}

// Snapshot returns the guild's queue state.
func (m *Manager) Snapshot(guildID string) (playback.Snapshot, error) {
	q, err := m.queue(guildID)
	if err != nil {
		return playback.Snapshot{}, err
	}
	return q.Snapshot()
}

// Status returns the state of every active guild, ordered by guild ID.
func (m *Manager) Status() []GuildStatus {
	var out []GuildStatus
	for _, id := range m.guilds.GuildIDs() {
		gp, err := m.guilds.Get(id)
		if err != nil {
			continue
		}
		qs, err := gp.queue.Snapshot()
		if err != nil {
			continue
		}
		vs, _ := gp.supervisor.Snapshot()
		out = append(out, GuildStatus{Queue: qs, Voice: vs})
	}
	return out
}

// Close tears down every guild and waits for the queues to finish.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	all := m.guilds.All()
	for _, gp := range all {
		gp.queue.Teardown("shutdown")
	}
	for _, gp := range all {
		select {
		case <-gp.queue.Done():
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "shutdown interrupted")
		}
	}
	zlog.Info().Msgf("session manager closed: guilds=%d", len(all))
	return nil
}

// NowPlaying opens the control message for the new track.
func (m *Manager) NowPlaying(q *playback.Queue, t track.Track) {
	zlog.Info().Msgf("now playing: guild=%s track=%q requester=%s", q.GuildID(), t.Title, t.Requester.ID)
	if m.deps.Surface == nil {
		m.announce(q.TextChannelID(), control.NowPlayingMessage(t))
		return
	}
	if _, err := m.deps.Surface.Open(context.Background(), q.GuildID(), q.TextChannelID(), t, q); err != nil {
		zlog.Warn().Msgf("failed to send now playing controls: guild=%s err=%v", q.GuildID(), err)
		m.announce(q.TextChannelID(), err.Error())
	}
}

// QueueEnded announces that the queue ran out.
func (m *Manager) QueueEnded(q *playback.Queue) {
	m.announce(q.TextChannelID(), QueueEndedMessage)
}

// LeftChannel announces that the bot left the voice channel.
func (m *Manager) LeftChannel(q *playback.Queue) {
	m.announce(q.TextChannelID(), LeftChannelMessage)
}

// Failure announces a playback failure.
func (m *Manager) Failure(q *playback.Queue, message string) {
	m.announce(q.TextChannelID(), message)
}

func (m *Manager) announce(channelID, content string) {
	if m.deps.Announcer == nil || channelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AnnounceTimeout)
	defer cancel()
	if err := m.deps.Announcer.Announce(ctx, channelID, content); err != nil {
		zlog.Warn().Msgf("announcement failed: channel=%s err=%v", channelID, err)
	}
}

// RejectionCode returns the filter code attached to an ErrRequestRejected error.
func RejectionCode(err error) string {
	if !errors.Is(err, ErrRequestRejected) {
		return ""
	}
	details := errors.GetAllDetails(err)
	if len(details) == 0 {
		return ""
	}
	return details[0]
}

// String implements fmt.Stringer for logging.
func (g GuildStatus) String() string {
	return fmt.Sprintf("guild=%s voice=%s state=%s tracks=%d", g.Queue.GuildID, g.Voice.State, g.Queue.State, len(g.Queue.Tracks))
}
