package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/WieserchGT/BetaGamers/internal/app/control"
)

// voiceStates looks up cached voice states. *discordgo.State implements it.
type voiceStates interface {
	VoiceState(guildID, userID string) (*discordgo.VoiceState, error)
}

// Authorizer allows queue changes from members who share the bot's voice channel.
type Authorizer struct {
	states voiceStates
	botID  func() string
}

// NewAuthorizer creates an authorizer backed by the session state cache.
func NewAuthorizer(s *discordgo.Session) *Authorizer {
	return &Authorizer{
		states: s.State,
		botID: func() string {
			if s.State == nil || s.State.User == nil {
				return ""
			}
			return s.State.User.ID
		},
	}
}

// VoiceChannel returns the voice channel a user is in, or "".
func (a *Authorizer) VoiceChannel(guildID, userID string) string {
	vs, err := a.states.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// CanModifyQueue reports whether the actor is in the bot's voice channel.
func (a *Authorizer) CanModifyQueue(actor control.Actor) bool {
	bot := a.VoiceChannel(actor.GuildID, a.botID())
	if bot == "" {
		return false
	}
	return a.VoiceChannel(actor.GuildID, actor.UserID) == bot
}
