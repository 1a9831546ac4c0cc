package playback

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// fakePlayer emits the same transitions a real player does, synchronously.
type fakePlayer struct {
	mu        sync.Mutex
	listener  func(PlayerEvent)
	state     PlayerState
	current   *Resource
	played    []string
	closed    bool
	noAutoRun bool // stay in Buffering after Play
}

func (p *fakePlayer) Subscribe(fn func(PlayerEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

func (p *fakePlayer) emitLocked(ev PlayerEvent) {
	if p.listener != nil {
		p.listener(ev)
	}
}

func (p *fakePlayer) Play(res *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.state
	p.current = res
	p.state = StateBuffering
	p.played = append(p.played, res.Track().Title)
	p.emitLocked(PlayerEvent{Type: PlayerStateChanged, Old: old, New: StateBuffering, Resource: res})
	if !p.noAutoRun {
		p.state = StatePlaying
		p.emitLocked(PlayerEvent{Type: PlayerStateChanged, Old: StateBuffering, New: StatePlaying, Resource: res})
	}
}

func (p *fakePlayer) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.toIdleLocked()
}

func (p *fakePlayer) toIdleLocked() bool {
	if p.current == nil {
		return false
	}
	old, res := p.state, p.current
	p.current = nil
	p.state = StateIdle
	p.emitLocked(PlayerEvent{Type: PlayerStateChanged, Old: old, New: StateIdle, Resource: res})
	return true
}

// finish simulates the natural end of the current resource.
func (p *fakePlayer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toIdleLocked()
}

// fail simulates a playback error on the current resource.
func (p *fakePlayer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.emitLocked(PlayerEvent{Type: PlayerError, Resource: p.current, Err: err})
	p.toIdleLocked()
}

func (p *fakePlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return false
	}
	p.state = StatePaused
	p.emitLocked(PlayerEvent{Type: PlayerStateChanged, Old: StatePlaying, New: StatePaused, Resource: p.current})
	return true
}

func (p *fakePlayer) Unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePaused {
		return false
	}
	p.state = StatePlaying
	p.emitLocked(PlayerEvent{Type: PlayerStateChanged, Old: StatePaused, New: StatePlaying, Resource: p.current})
	return true
}

func (p *fakePlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePlayer) playedTitles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func (p *fakePlayer) currentResource() *Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// fakeOpener fails for listed locators and can hold opens until released.
type fakeOpener struct {
	mu      sync.Mutex
	fail    map[string]bool
	opened  []string
	gate    chan struct{}
	streams []*trackedStream
}

func newFakeOpener(failing ...string) *fakeOpener {
	o := &fakeOpener{fail: make(map[string]bool)}
	for _, f := range failing {
		o.fail[f] = true
	}
	return o
}

func (o *fakeOpener) OpenStream(ctx context.Context, t track.Track) (io.ReadCloser, error) {
	o.mu.Lock()
	gate := o.gate
	o.opened = append(o.opened, t.Title)
	fail := o.fail[t.Locator]
	o.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.Newf("stream unavailable: %s", t.Locator)
	}

	s := &trackedStream{Reader: bytes.NewReader(make([]byte, 3840))}
	o.mu.Lock()
	o.streams = append(o.streams, s)
	o.mu.Unlock()
	return s, nil
}

func (o *fakeOpener) openedTitles() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

func (o *fakeOpener) allStreams() []*trackedStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*trackedStream(nil), o.streams...)
}

type trackedStream struct {
	io.Reader
	closed atomic.Bool
}

func (s *trackedStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	nowPlaying []string
	ended      int
	left       int
	failures   []string
}

func (n *fakeNotifier) NowPlaying(_ *Queue, t track.Track) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowPlaying = append(n.nowPlaying, t.Title)
}

func (n *fakeNotifier) QueueEnded(*Queue) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended++
}

func (n *fakeNotifier) LeftChannel(*Queue) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.left++
}

func (n *fakeNotifier) Failure(_ *Queue, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, msg)
}

func (n *fakeNotifier) counts() (nowPlaying []string, ended, left, failures int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.nowPlaying...), n.ended, n.left, len(n.failures)
}

type fakeConn struct {
	destroyed atomic.Int32
}

func (c *fakeConn) Destroy() {
	c.destroyed.Add(1)
}
