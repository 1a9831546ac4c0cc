package session

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WieserchGT/BetaGamers/internal/app/filter"
	"github.com/WieserchGT/BetaGamers/internal/app/playback"
	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
	"github.com/WieserchGT/BetaGamers/internal/app/schedule/schedtest"
	"github.com/WieserchGT/BetaGamers/internal/app/voice"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeResolver struct {
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, query string) ([]track.Track, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []track.Track{{Locator: "https://youtu.be/" + query, Title: query, Duration: time.Minute}}, nil
}

type fakeOpener struct{}

func (fakeOpener) OpenStream(context.Context, track.Track) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(make([]byte, 3840))), nil
}

type fakeConn struct {
	guildID, channelID string

	mu       sync.Mutex
	state    voice.State
	listener func(voice.StateChange)
	destroys atomic.Int32
}

func (c *fakeConn) GuildID() string   { return c.guildID }
func (c *fakeConn) ChannelID() string { return c.channelID }

func (c *fakeConn) State() voice.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) Subscribe(fn func(voice.StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

func (c *fakeConn) set(st voice.State) {
	c.mu.Lock()
	old := c.state
	c.state = st
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(voice.StateChange{Old: old, New: st})
	}
}

func (c *fakeConn) Rejoin()          {}
func (c *fakeConn) Keepalive() error { return nil }

func (c *fakeConn) Destroy() {
	if c.destroys.Add(1) == 1 {
		c.set(voice.State{Status: voice.StatusDestroyed})
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (t *fakeTransport) Connect(_ context.Context, guildID, channelID string) (voice.Connection, error) {
	c := &fakeConn{guildID: guildID, channelID: channelID, state: voice.State{Status: voice.StatusReady}}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) all() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConn(nil), t.conns...)
}

// fakePlayer starts every resource immediately and only goes idle on Stop.
type fakePlayer struct {
	mu       sync.Mutex
	listener func(playback.PlayerEvent)
	state    playback.PlayerState
	current  *playback.Resource
}

func (p *fakePlayer) Subscribe(fn func(playback.PlayerEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

func (p *fakePlayer) emitLocked(old, next playback.PlayerState, res *playback.Resource) {
	p.state = next
	if p.listener != nil {
		p.listener(playback.PlayerEvent{Type: playback.PlayerStateChanged, Old: old, New: next, Resource: res})
	}
}

func (p *fakePlayer) Play(res *playback.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = res
	p.emitLocked(p.state, playback.StateBuffering, res)
	p.emitLocked(playback.StateBuffering, playback.StatePlaying, res)
}

func (p *fakePlayer) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	res := p.current
	p.current = nil
	p.emitLocked(p.state, playback.StateIdle, res)
	return true
}

func (p *fakePlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != playback.StatePlaying {
		return false
	}
	p.emitLocked(p.state, playback.StatePaused, p.current)
	return true
}

func (p *fakePlayer) Unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != playback.StatePaused {
		return false
	}
	p.emitLocked(p.state, playback.StatePlaying, p.current)
	return true
}

func (p *fakePlayer) State() playback.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) Close() {}

type fakeAnnouncer struct {
	mu       sync.Mutex
	messages []string
}

func (a *fakeAnnouncer) Announce(_ context.Context, _ string, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, content)
	return nil
}

func (a *fakeAnnouncer) has(content string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.messages {
		if m == content {
			return true
		}
	}
	return false
}

type harness struct {
	m         *Manager
	resolver  *fakeResolver
	transport *fakeTransport
	announcer *fakeAnnouncer
	clock     *schedtest.FakeClock
	sched     *schedule.Scheduler
}

func newHarness(t *testing.T, filters *filter.Chain) *harness {
	t.Helper()
	h := &harness{
		resolver:  &fakeResolver{},
		transport: &fakeTransport{},
		announcer: &fakeAnnouncer{},
		clock:     schedtest.NewFakeClock(),
	}
	h.sched = schedule.NewScheduler(h.clock)

	m, err := NewManager(Config{
		DefaultVolume: 100,
		StayDuration:  30 * time.Second,
		Voice:         voice.DefaultConfig(),
	}, Deps{
		Resolver:  h.resolver,
		Opener:    fakeOpener{},
		Transport: h.transport,
		NewPlayer: func(voice.Connection) (playback.Player, error) { return &fakePlayer{}, nil },
		Announcer: h.announcer,
		Filters:   filters,
		Scheduler: h.sched,
	})
	require.NoError(t, err)
	h.m = m
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = m.Close(ctx)
	})
	return h
}

func request(query string) PlayRequest {
	return PlayRequest{
		GuildID:        "g1",
		TextChannelID:  "text1",
		VoiceChannelID: "vc1",
		Query:          query,
		Requester:      track.Requester{ID: "u1", Name: "alice"},
	}
}

func (h *harness) waitNowPlaying(t *testing.T, title string) playback.Snapshot {
	t.Helper()
	var snap playback.Snapshot
	require.Eventually(t, func() bool {
		s, err := h.m.Snapshot("g1")
		if err != nil || s.NowPlaying == nil {
			return false
		}
		snap = s
		return s.NowPlaying.Title == title && s.State == playback.StatePlaying
	}, waitFor, tick)
	return snap
}

func TestManager_PlayCreatesQueue(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	assert.True(t, res.Started)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "u1", res.Tracks[0].Requester.ID)
	assert.Equal(t, "g1", res.Tracks[0].Requester.GuildID)

	require.Len(t, h.transport.all(), 1)
	h.waitNowPlaying(t, "T1")
	require.Eventually(t, func() bool { return h.announcer.has("🎶 Started playing: **T1** https://youtu.be/T1") }, waitFor, tick)

	ch, ok := h.m.VoiceChannel("g1")
	assert.True(t, ok)
	assert.Equal(t, "vc1", ch)
}

func TestManager_PlayAppends(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	h.waitNowPlaying(t, "T1")

	res, err := h.m.Play(context.Background(), request("T2"))
	require.NoError(t, err)
	assert.False(t, res.Started)

	snap := h.waitNowPlaying(t, "T1")
	require.Len(t, snap.Tracks, 2)
	assert.Equal(t, "T2", snap.Tracks[1].Title)
	assert.Len(t, h.transport.all(), 1, "the existing connection is reused")
}

func TestManager_PlayRefusals(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		modify  func(*PlayRequest)
		wantErr error
	}{
		{name: "not in voice", modify: func(r *PlayRequest) { r.VoiceChannelID = "" }, wantErr: ErrNotInVoiceChannel},
		{name: "other channel", modify: func(r *PlayRequest) { r.VoiceChannelID = "vc2" }, wantErr: ErrNotSameChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("T2")
			tt.modify(&req)
			_, err := h.m.Play(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestManager_ResolveErrorPassesThrough(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.err = resolver.ErrNotFound

	_, err := h.m.Play(context.Background(), request("nothing"))
	assert.ErrorIs(t, err, resolver.ErrNotFound)
	assert.Empty(t, h.transport.all(), "no connection is made for an unresolved query")
}

func TestManager_FilterRejection(t *testing.T) {
	chain := filter.NewChain()
	chain.Add(filter.NewDuplicateTrackFilter())
	h := newHarness(t, chain)

	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	h.waitNowPlaying(t, "T1")

	res, err := h.m.Play(context.Background(), request("T1"))
	require.ErrorIs(t, err, ErrRequestRejected)
	assert.Equal(t, "duplicate_track", RejectionCode(err))
	require.Len(t, res.Rejected, 1)
}

func TestManager_IdleTeardownRemovesGuild(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	h.waitNowPlaying(t, "T1")

	require.NoError(t, h.m.Stop("g1"))
	require.Eventually(t, func() bool { return len(h.sched.Keys("idle/g1/")) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.announcer.has(QueueEndedMessage) }, waitFor, tick)

	h.clock.Advance(29 * time.Second)
	_, err = h.m.Snapshot("g1")
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	conn := h.transport.all()[0]
	require.Eventually(t, func() bool { return conn.destroys.Load() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		_, err := h.m.Snapshot("g1")
		return err == ErrNoQueue
	}, waitFor, tick)
	require.Eventually(t, func() bool { return h.announcer.has(LeftChannelMessage) }, waitFor, tick)
	assert.Empty(t, h.m.Status())
}

func TestManager_EnqueueCancelsIdleTeardown(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	h.waitNowPlaying(t, "T1")
	require.NoError(t, h.m.Stop("g1"))
	require.Eventually(t, func() bool { return len(h.sched.Keys("idle/g1/")) == 1 }, waitFor, tick)

	res, err := h.m.Play(context.Background(), request("T2"))
	require.NoError(t, err)
	assert.True(t, res.Started)
	h.waitNowPlaying(t, "T2")

	h.clock.Advance(time.Minute)
	assert.Zero(t, h.transport.all()[0].destroys.Load())
}

func TestManager_DestroyedConnectionRemovesGuild(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	h.waitNowPlaying(t, "T1")

	h.transport.all()[0].Destroy()
	require.Eventually(t, func() bool {
		_, err := h.m.Snapshot("g1")
		return err == ErrNoQueue
	}, waitFor, tick)

	// the next play starts a new queue on a new connection
	res, err := h.m.Play(context.Background(), request("T2"))
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.Len(t, h.transport.all(), 2)
	h.waitNowPlaying(t, "T2")
}

func TestManager_ForcedRemovalThenPlayReconnects(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	h.waitNowPlaying(t, "T1")

	old := h.transport.all()[0]
	old.set(voice.State{Status: voice.StatusDisconnected, Reason: voice.ReasonWebSocketClose, CloseCode: 4014})
	require.Eventually(t, func() bool {
		s, err := h.m.Snapshot("g1")
		return err == nil && s.Stopped
	}, waitFor, tick)

	res, err := h.m.Play(context.Background(), request("T2"))
	require.NoError(t, err)
	assert.True(t, res.Started)
	require.Len(t, h.transport.all(), 2)
	assert.Equal(t, int32(1), old.destroys.Load())
	h.waitNowPlaying(t, "T2")

	// the old queue's stay timer is gone with it
	h.clock.Advance(10 * time.Minute)
	fresh := h.transport.all()[1]
	assert.Zero(t, fresh.destroys.Load())
	h.waitNowPlaying(t, "T2")
	assert.Len(t, h.transport.all(), 2)
}

func TestManager_NoQueue(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.Skip("g1")
	assert.ErrorIs(t, err, ErrNoQueue)
	assert.ErrorIs(t, h.m.Stop("g1"), ErrNoQueue)
	assert.ErrorIs(t, h.m.Pause("g1"), ErrNoQueue)
	_, err = h.m.SetVolume("g1", 50)
	assert.ErrorIs(t, err, ErrNoQueue)
}

func TestManager_Status(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)
	h.waitNowPlaying(t, "T1")

	vol, err := h.m.SetVolume("g1", 150)
	require.NoError(t, err)
	assert.Equal(t, 100, vol)

	status := h.m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "g1", status[0].Queue.GuildID)
	assert.Equal(t, voice.StatusReady, status[0].Voice.State.Status)
}

func TestManager_CloseRefusesPlay(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.Play(context.Background(), request("T1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.m.Close(ctx))
	assert.Equal(t, int32(1), h.transport.all()[0].destroys.Load())

	_, err = h.m.Play(context.Background(), request("T2"))
	assert.ErrorIs(t, err, ErrClosed)
}
