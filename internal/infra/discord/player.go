package discord

import (
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"layeh.com/gopus"

	"github.com/WieserchGT/BetaGamers/internal/app/playback"
	"github.com/WieserchGT/BetaGamers/internal/app/voice"
)

const (
	frameSize     = 960 // 20ms at 48kHz
	channels      = 2
	frameRate     = 48000
	maxOpusBytes  = 1000
	sendTimeout   = time.Second
	readyPollStep = 250 * time.Millisecond
)

// voiceSink is where encoded frames go. *Connection implements it.
type voiceSink interface {
	ready() bool
	opusSend() (chan<- []byte, error)
	speaking(on bool)
}

type opusEncoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

func newOpusEncoder() (opusEncoder, error) {
	enc, err := gopus.NewEncoder(frameRate, channels, gopus.Audio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}
	return enc, nil
}

// NewPlayerFactory returns a factory that binds players to connections made
// by this package's transport.
func NewPlayerFactory() func(conn voice.Connection) (playback.Player, error) {
	return func(conn voice.Connection) (playback.Player, error) {
		c, ok := conn.(*Connection)
		if !ok {
			return nil, errors.Newf("unsupported voice connection %T", conn)
		}
		return NewPlayer(c), nil
	}
}

// Player encodes PCM frames from one resource at a time and sends them to a
// voice connection.
type Player struct {
	sink       voiceSink
	newEncoder func() (opusEncoder, error)
	guildID    string

	mu       sync.Mutex
	listener func(playback.PlayerEvent)
	state    playback.PlayerState
	current  *playback.Resource
	stop     chan struct{} // closed when current is replaced or stopped
	wake     chan struct{} // closed on unpause
	closed   bool
}

// NewPlayer creates a player for a connection.
func NewPlayer(conn *Connection) *Player {
	return newPlayer(conn, conn.GuildID(), newOpusEncoder)
}

func newPlayer(sink voiceSink, guildID string, newEncoder func() (opusEncoder, error)) *Player {
	return &Player{
		sink:       sink,
		newEncoder: newEncoder,
		guildID:    guildID,
		state:      playback.StateIdle,
	}
}

// Subscribe registers the event listener. It is called with the player lock
// held and must not block.
func (p *Player) Subscribe(fn func(playback.PlayerEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

func (p *Player) emitLocked(ev playback.PlayerEvent) {
	if p.listener != nil {
		p.listener(ev)
	}
}

func (p *Player) setStateLocked(res *playback.Resource, next playback.PlayerState) {
	old := p.state
	if old == next {
		return
	}
	p.state = next
	zlog.Debug().Msgf("player state: guild=%s %s -> %s", p.guildID, old, next)
	p.emitLocked(playback.PlayerEvent{Type: playback.PlayerStateChanged, Old: old, New: next, Resource: res})
}

// Play replaces the current resource and starts sending it.
func (p *Player) Play(res *playback.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.current != nil {
		p.releaseLocked()
	}

	stop := make(chan struct{})
	p.current = res
	p.stop = stop
	p.setStateLocked(res, playback.StateBuffering)
	go p.run(res, stop)
}

// releaseLocked stops the current resource and moves to Idle.
func (p *Player) releaseLocked() {
	res := p.current
	close(p.stop)
	p.stop = nil
	p.current = nil
	p.wakeLocked()
	p.setStateLocked(res, playback.StateIdle)
}

func (p *Player) wakeLocked() {
	if p.wake != nil {
		close(p.wake)
		p.wake = nil
	}
}

// Stop ends the current resource. It reports whether one was playing.
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	p.releaseLocked()
	return true
}

// Pause pauses a playing resource.
func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != playback.StatePlaying {
		return false
	}
	p.wake = make(chan struct{})
	p.setStateLocked(p.current, playback.StatePaused)
	return true
}

// Unpause resumes a paused resource.
func (p *Player) Unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != playback.StatePaused {
		return false
	}
	p.wakeLocked()
	p.setStateLocked(p.current, playback.StatePlaying)
	return true
}

// State returns the current state.
func (p *Player) State() playback.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close stops playback. The player cannot be reused.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.releaseLocked()
	}
	p.closed = true
}

func (p *Player) run(res *playback.Resource, stop <-chan struct{}) {
	enc, err := p.newEncoder()
	if err != nil {
		p.finish(res, err)
		return
	}

	pcm := make([]int16, frameSize*channels)
	started := false
	defer func() {
		if started {
			p.sink.speaking(false)
		}
	}()

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	for {
		if !p.gate(res, stop) {
			return
		}

		if err := res.ReadFrame(pcm); err != nil {
			if errors.Is(err, io.EOF) {
				p.finish(res, nil)
			} else {
				p.finish(res, errors.Wrap(err, "failed to read audio frame"))
			}
			return
		}

		data, err := enc.Encode(pcm, frameSize, maxOpusBytes)
		if err != nil {
			p.finish(res, errors.Wrap(err, "failed to encode opus frame"))
			return
		}

		send, err := p.sink.opusSend()
		if err != nil {
			continue
		}
		if !started {
			p.sink.speaking(true)
			started = true
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sendTimeout)

		select {
		case send <- data:
			p.markPlaying(res)
		case <-timer.C:
			zlog.Debug().Msgf("opus frame dropped: guild=%s", p.guildID)
		case <-stop:
			return
		}
	}
}

// gate blocks while the resource is paused or the connection is not ready.
// It returns false once the resource has been replaced or stopped.
func (p *Player) gate(res *playback.Resource, stop <-chan struct{}) bool {
	for {
		p.mu.Lock()
		if p.current != res {
			p.mu.Unlock()
			return false
		}

		if p.state == playback.StatePaused {
			wake := p.wake
			p.mu.Unlock()
			select {
			case <-wake:
			case <-stop:
				return false
			}
			continue
		}

		if !p.sink.ready() {
			if p.state == playback.StatePlaying {
				p.setStateLocked(res, playback.StateAutoPaused)
			}
			p.mu.Unlock()
			select {
			case <-time.After(readyPollStep):
			case <-stop:
				return false
			}
			continue
		}

		if p.state == playback.StateAutoPaused {
			p.setStateLocked(res, playback.StatePlaying)
		}
		p.mu.Unlock()
		return true
	}
}

func (p *Player) markPlaying(res *playback.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == res && p.state == playback.StateBuffering {
		p.setStateLocked(res, playback.StatePlaying)
	}
}

// finish ends the resource on its own. Errors are reported before the Idle
// transition.
func (p *Player) finish(res *playback.Resource, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != res {
		return
	}
	if err != nil {
		zlog.Warn().Msgf("playback error: guild=%s track=%q err=%v", p.guildID, res.Track().Title, err)
		p.emitLocked(playback.PlayerEvent{Type: playback.PlayerError, Resource: res, Err: err})
	}
	p.releaseLocked()
}
