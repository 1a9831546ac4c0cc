package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/voice"
)

// ErrNotJoined is returned when a voice operation needs a joined channel.
var ErrNotJoined = errors.New("voice connection not joined")

// voiceJoiner joins voice channels. *discordgo.Session implements it.
type voiceJoiner interface {
	ChannelVoiceJoin(gID, cID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// Transport joins guild voice channels and tracks the bot's own voice state.
type Transport struct {
	joiner voiceJoiner
	botID  func() string

	mu    sync.Mutex
	conns map[string]*Connection // guild ID -> live connection
}

// NewTransport creates a voice transport on a session and registers its
// voice state handler.
func NewTransport(s *discordgo.Session) *Transport {
	t := newTransport(s, func() string {
		if s.State == nil || s.State.User == nil {
			return ""
		}
		return s.State.User.ID
	})
	s.AddHandler(t.onVoiceStateUpdate)
	return t
}

func newTransport(joiner voiceJoiner, botID func() string) *Transport {
	return &Transport{
		joiner: joiner,
		botID:  botID,
		conns:  make(map[string]*Connection),
	}
}

// Connect returns a connection in Signalling state and joins in the
// background. Readiness is reported through state changes.
func (t *Transport) Connect(ctx context.Context, guildID, channelID string) (voice.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Connection{
		transport: t,
		guildID:   guildID,
		channelID: channelID,
		state:     voice.State{Status: voice.StatusSignalling},
	}

	t.mu.Lock()
	prev := t.conns[guildID]
	t.conns[guildID] = c
	t.mu.Unlock()
	if prev != nil {
		zlog.Warn().Msgf("replacing voice connection: guild=%s", guildID)
		prev.Destroy()
	}

	c.mu.Lock()
	seq := c.beginJoinLocked()
	c.mu.Unlock()
	go c.join(seq)
	return c, nil
}

func (t *Transport) lookup(guildID string) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[guildID]
	return c, ok
}

func (t *Transport) forget(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.guildID] == c {
		delete(t.conns, c.guildID)
	}
}

func (t *Transport) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || v.UserID != t.botID() {
		return
	}
	c, ok := t.lookup(v.GuildID)
	if !ok {
		return
	}
	switch {
	case v.ChannelID == "":
		zlog.Info().Msgf("bot removed from voice channel: guild=%s channel=%s", v.GuildID, c.channelID)
		c.forcedRemoval()
	case v.ChannelID != c.channelID:
		zlog.Warn().Msgf("bot moved to another voice channel: guild=%s from=%s to=%s", v.GuildID, c.channelID, v.ChannelID)
	}
}

// Connection is one guild's voice connection.
type Connection struct {
	transport *Transport
	guildID   string
	channelID string

	mu        sync.Mutex
	state     voice.State
	listener  func(voice.StateChange)
	vc        *discordgo.VoiceConnection
	joinSeq   uint64
	destroyed bool
}

// GuildID returns the guild of the connection.
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID returns the voice channel of the connection.
func (c *Connection) ChannelID() string { return c.channelID }

// State returns the current state.
func (c *Connection) State() voice.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers the state listener.
func (c *Connection) Subscribe(fn func(voice.StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

// setStateLocked emits under the lock so listeners observe transitions in order.
func (c *Connection) setStateLocked(st voice.State) {
	if c.destroyed && st.Status != voice.StatusDestroyed {
		return
	}
	old := c.state
	if old == st {
		return
	}
	c.state = st
	zlog.Debug().Msgf("voice state: guild=%s %s -> %s", c.guildID, old, st)
	if c.listener != nil {
		c.listener(voice.StateChange{Old: old, New: st})
	}
}

func (c *Connection) beginJoinLocked() uint64 {
	c.joinSeq++
	c.setStateLocked(voice.State{Status: voice.StatusSignalling})
	return c.joinSeq
}

func (c *Connection) join(seq uint64) {
	c.mu.Lock()
	if c.destroyed || seq != c.joinSeq {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(voice.State{Status: voice.StatusConnecting})
	c.mu.Unlock()

	vc, err := c.transport.joiner.ChannelVoiceJoin(c.guildID, c.channelID, false, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		if vc != nil {
			go disconnect(c.guildID, vc)
		}
		return
	}
	if seq != c.joinSeq {
		return
	}
	if err != nil {
		zlog.Warn().Msgf("voice join failed: guild=%s channel=%s err=%v", c.guildID, c.channelID, err)
		c.setStateLocked(voice.State{Status: voice.StatusDisconnected, Reason: voice.ReasonWebSocketClose})
		return
	}
	c.vc = vc
	c.setStateLocked(voice.State{Status: voice.StatusReady})
	zlog.Info().Msgf("voice joined: guild=%s channel=%s", c.guildID, c.channelID)
}

// Rejoin restarts the join on the same channel.
func (c *Connection) Rejoin() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	seq := c.beginJoinLocked()
	c.mu.Unlock()
	go c.join(seq)
}

func (c *Connection) forcedRemoval() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vc = nil
	c.setStateLocked(voice.State{
		Status:    voice.StatusDisconnected,
		Reason:    voice.ReasonWebSocketClose,
		CloseCode: voice.CloseCodeForcedRemoval,
	})
}

// Destroy leaves the channel. Later calls do nothing.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	vc := c.vc
	c.vc = nil
	c.setStateLocked(voice.State{Status: voice.StatusDestroyed})
	c.destroyed = true
	c.mu.Unlock()

	c.transport.forget(c)
	if vc != nil {
		disconnect(c.guildID, vc)
	}
}

func disconnect(guildID string, vc *discordgo.VoiceConnection) {
	if err := vc.Disconnect(); err != nil {
		zlog.Debug().Msgf("voice disconnect: guild=%s err=%v", guildID, err)
	}
}

// Keepalive checks that the voice websocket is still up. A dead link is
// reported as a disconnect so the supervisor rejoins.
func (c *Connection) Keepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return ErrNotJoined
	}
	if vcReady(c.vc) {
		return nil
	}
	if c.state.Status == voice.StatusReady {
		c.setStateLocked(voice.State{Status: voice.StatusDisconnected, Reason: voice.ReasonWebSocketClose})
	}
	return errors.Newf("voice connection lost: guild=%s", c.guildID)
}

func vcReady(vc *discordgo.VoiceConnection) bool {
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// ready reports whether audio can be sent right now.
func (c *Connection) ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vc != nil && c.state.Status == voice.StatusReady && vcReady(c.vc)
}

func (c *Connection) opusSend() (chan<- []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil, ErrNotJoined
	}
	return c.vc.OpusSend, nil
}

func (c *Connection) speaking(on bool) {
	c.mu.Lock()
	vc := c.vc
	c.mu.Unlock()
	if vc == nil {
		return
	}
	if err := vc.Speaking(on); err != nil {
		zlog.Debug().Msgf("voice speaking=%v failed: guild=%s err=%v", on, c.guildID, err)
	}
}
