package control

import (
	"fmt"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/playback"
)

const (
	// NotInChannelMessage is sent to members who may not control the queue.
	NotInChannelMessage = "You need to join the voice channel the bot is in first!"
	// ExpiredMessage answers clicks on a message whose session has ended.
	ExpiredMessage = "These controls have expired."
)

type handler func(c Controls, actor Actor) (string, error)

var handlers = map[Action]handler{
	ActionSkip:       handleSkip,
	ActionPlayPause:  handlePlayPause,
	ActionMute:       handleMute,
	ActionVolumeDown: handleVolumeDown,
	ActionVolumeUp:   handleVolumeUp,
	ActionLoop:       handleLoop,
	ActionShuffle:    handleShuffle,
	ActionStop:       handleStop,
}

// handle authorizes and executes one click. It reports whether the action ran.
func (s *Session) handle(c Click) bool {
	h, ok := handlers[c.Action]
	if !ok {
		return false
	}

	if !s.surface.auth.CanModifyQueue(c.Actor) {
		zlog.Debug().Msgf("control click refused: guild=%s user=%s action=%s", s.GuildID, c.Actor.UserID, c.Action)
		respond(c, NotInChannelMessage, true)
		return false
	}

	zlog.Info().Msgf("control click: guild=%s user=%s action=%s", s.GuildID, c.Actor.UserID, c.Action)
	reply, err := h(s.controls, c.Actor)
	if err != nil {
		respond(c, ErrorMessage(err), true)
		return false
	}
	respond(c, reply, false)
	return true
}

func respond(c Click, content string, ephemeral bool) {
	if c.Respond == nil {
		return
	}
	if err := c.Respond(content, ephemeral); err != nil {
		zlog.Warn().Msgf("control reply failed: action=%s err=%v", c.Action, err)
	}
}

// ErrorMessage renders a queue error for members.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, playback.ErrNoTrack):
		return "There is nothing playing."
	case errors.Is(err, playback.ErrNotPlaying):
		return "The music is not playing."
	case errors.Is(err, playback.ErrNotPaused):
		return "The music is not paused."
	case errors.Is(err, playback.ErrClosed):
		return "There is no active queue."
	default:
		zlog.Error().Msgf("control action failed: %v", err)
		return "Something went wrong, please try again."
	}
}

func handleSkip(c Controls, actor Actor) (string, error) {
	if _, err := c.Skip(); err != nil {
		return "", err
	}
	return fmt.Sprintf("⏭ %s skipped the song", actor.Name), nil
}

func handlePlayPause(c Controls, actor Actor) (string, error) {
	state, err := c.TogglePause()
	if err != nil {
		return "", err
	}
	if state == playback.StatePaused {
		return fmt.Sprintf("⏸ %s paused the music.", actor.Name), nil
	}
	return fmt.Sprintf("▶ %s resumed the music!", actor.Name), nil
}

func handleMute(c Controls, actor Actor) (string, error) {
	muted, err := c.ToggleMute()
	if err != nil {
		return "", err
	}
	if muted {
		return fmt.Sprintf("🔇 %s muted the music!", actor.Name), nil
	}
	return fmt.Sprintf("🔊 %s unmuted the music!", actor.Name), nil
}

func handleVolumeDown(c Controls, actor Actor) (string, error) {
	v, err := c.VolumeDown()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🔉 %s decreased the volume, the volume is now %d%%", actor.Name, v), nil
}

func handleVolumeUp(c Controls, actor Actor) (string, error) {
	v, err := c.VolumeUp()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🔊 %s increased the volume, the volume is now %d%%", actor.Name, v), nil
}

func handleLoop(c Controls, _ Actor) (string, error) {
	enabled, err := c.ToggleLoop()
	if err != nil {
		return "", err
	}
	if enabled {
		return "🔁 Loop is now **on**", nil
	}
	return "🔁 Loop is now **off**", nil
}

func handleShuffle(c Controls, actor Actor) (string, error) {
	if err := c.Shuffle(); err != nil {
		return "", err
	}
	return fmt.Sprintf("🔀 %s shuffled the queue", actor.Name), nil
}

func handleStop(c Controls, actor Actor) (string, error) {
	if err := c.Stop(); err != nil {
		return "", err
	}
	return fmt.Sprintf("⏹ %s stopped the music!", actor.Name), nil
}
