package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/control"
	"github.com/WieserchGT/BetaGamers/internal/app/playback"
	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/app/session"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

const (
	playTimeout    = 60 * time.Second
	queuePageSize  = 10
	notInVoice     = "You need to join a voice channel first!"
	nothingPlaying = "There is nothing playing."
)

// Music is the playback service behind the slash commands.
type Music interface {
	Play(ctx context.Context, req session.PlayRequest) (session.PlayResult, error)
	Skip(guildID string) (track.Track, error)
	Stop(guildID string) error
	Pause(guildID string) error
	Resume(guildID string) error
	ToggleLoop(guildID string) (bool, error)
	Shuffle(guildID string) error
	SetVolume(guildID string, level int) (int, error)
	Snapshot(guildID string) (playback.Snapshot, error)
}

// interactionAPI is the part of *discordgo.Session the command handlers use.
type interactionAPI interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type commandFunc func(ctx context.Context, c *Commands, inv invocation) string

type invocation struct {
	actor   control.Actor
	channel string
	voice   string
	options map[string]*discordgo.ApplicationCommandInteractionDataOption
}

// Commands handles the music slash commands.
type Commands struct {
	api     interactionAPI
	music   Music
	auth    *Authorizer
	botName func() string
}

func newCommands(api interactionAPI, music Music, auth *Authorizer, botName func() string) *Commands {
	return &Commands{api: api, music: music, auth: auth, botName: botName}
}

var commandHandlers = map[string]commandFunc{
	"play":       cmdPlay,
	"skip":       cmdSkip,
	"stop":       cmdStop,
	"pause":      cmdPause,
	"resume":     cmdResume,
	"loop":       cmdLoop,
	"shuffle":    cmdShuffle,
	"volume":     cmdVolume,
	"nowplaying": cmdNowPlaying,
	"queue":      cmdQueue,
}

// modifying commands require the member to share the bot's voice channel.
var modifying = map[string]bool{
	"skip": true, "stop": true, "pause": true, "resume": true,
	"loop": true, "shuffle": true, "volume": true,
}

// Definitions returns the slash command definitions.
func Definitions() []*discordgo.ApplicationCommand {
	minVolume := 0.0
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song or playlist from a link or search terms",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "A YouTube or Spotify link, or search terms",
				Required:    true,
			}},
		},
		{Name: "skip", Description: "Skip the current song"},
		{Name: "stop", Description: "Stop the music and clear the queue"},
		{Name: "pause", Description: "Pause the music"},
		{Name: "resume", Description: "Resume the music"},
		{Name: "loop", Description: "Toggle queue loop"},
		{Name: "shuffle", Description: "Shuffle the queue"},
		{
			Name:        "volume",
			Description: "Show or change the volume",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "level",
				Description: "Volume from 0 to 100",
				MinValue:    &minVolume,
				MaxValue:    100,
			}},
		},
		{Name: "nowplaying", Description: "Show the current song"},
		{Name: "queue", Description: "Show the queue"},
	}
}

// Handle runs a slash command. play answers with a deferred reply since
// resolving can take several seconds.
func (c *Commands) Handle(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	handler, ok := commandHandlers[data.Name]
	if !ok {
		zlog.Warn().Msgf("unknown command: %s", data.Name)
		return
	}

	inv := invocation{
		actor:   actorOf(i),
		channel: i.ChannelID,
		options: make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options)),
	}
	for _, opt := range data.Options {
		inv.options[opt.Name] = opt
	}
	inv.voice = c.auth.VoiceChannel(inv.actor.GuildID, inv.actor.UserID)
	zlog.Info().Msgf("slash command: guild=%s user=%s command=%s", inv.actor.GuildID, inv.actor.UserID, data.Name)

	if inv.actor.GuildID == "" {
		c.reply(i.Interaction, "This command only works in a server.", true)
		return
	}
	if modifying[data.Name] && !c.auth.CanModifyQueue(inv.actor) {
		c.reply(i.Interaction, control.NotInChannelMessage, true)
		return
	}

	if data.Name != "play" {
		c.reply(i.Interaction, handler(context.Background(), c, inv), false)
		return
	}

	err := c.api.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		zlog.Warn().Msgf("failed to defer reply: err=%v", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		content := handler(ctx, c, inv)
		if _, err := c.api.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
			zlog.Warn().Msgf("failed to edit reply: err=%v", err)
		}
	}()
}

func (c *Commands) reply(interaction *discordgo.Interaction, content string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := c.api.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		zlog.Warn().Msgf("failed to reply: err=%v", err)
	}
}

func cmdPlay(ctx context.Context, c *Commands, inv invocation) string {
	opt, ok := inv.options["query"]
	if !ok || strings.TrimSpace(opt.StringValue()) == "" {
		return "Usage: /play <YouTube URL | Spotify URL | search terms>"
	}
	query := opt.StringValue()

	res, err := c.music.Play(ctx, session.PlayRequest{
		GuildID:        inv.actor.GuildID,
		TextChannelID:  inv.channel,
		VoiceChannelID: inv.voice,
		Query:          query,
		Requester:      track.Requester{ID: inv.actor.UserID, Name: inv.actor.Name},
	})
	if err != nil {
		return c.errorMessage(err, query)
	}
	return playReply(res, inv.actor.UserID)
}

func playReply(res session.PlayResult, userID string) string {
	var b strings.Builder
	first := res.Tracks[0]
	switch {
	case len(res.Tracks) > 1:
		fmt.Fprintf(&b, "✅ Added **%d** songs to the queue, starting with **%s**", len(res.Tracks), first.Title)
	case res.Started:
		fmt.Fprintf(&b, "🎶 Started playing: **%s**", first.Title)
	default:
		fmt.Fprintf(&b, "✅ **%s** has been added to the queue by <@%s>", first.Title, userID)
	}
	if n := len(res.Rejected); n > 0 {
		fmt.Fprintf(&b, "\n⚠️ %d song(s) were skipped: %s", n, rejectionMessage(res.Rejected[0].Code))
	}
	return b.String()
}

func (c *Commands) errorMessage(err error, query string) string {
	switch {
	case errors.Is(err, session.ErrNotInVoiceChannel):
		return notInVoice
	case errors.Is(err, session.ErrNotSameChannel):
		return fmt.Sprintf("You must be in the same channel as %s", c.botName())
	case errors.Is(err, session.ErrRequestRejected):
		return rejectionMessage(session.RejectionCode(err))
	case errors.Is(err, session.ErrNoQueue):
		return nothingPlaying
	case errors.Is(err, resolver.ErrNotFound):
		return fmt.Sprintf("No results found for <%s>", query)
	case errors.Is(err, resolver.ErrInvalidLocator):
		return "That link is not supported."
	case errors.Is(err, resolver.ErrRateLimited):
		return "❌ The music source is limiting requests right now, please try again in a moment."
	default:
		return control.ErrorMessage(err)
	}
}

func rejectionMessage(code string) string {
	switch code {
	case "duration_limit_exceeded":
		return "the song is too long or too short."
	case "duplicate_track":
		return "the song is already in the queue."
	case "user_pending":
		return "you already have too many songs in the queue."
	default:
		return "the request was rejected."
	}
}

func cmdSkip(_ context.Context, c *Commands, inv invocation) string {
	if _, err := c.music.Skip(inv.actor.GuildID); err != nil {
		return c.errorMessage(err, "")
	}
	return fmt.Sprintf("⏭ %s skipped the song", inv.actor.Name)
}

func cmdStop(_ context.Context, c *Commands, inv invocation) string {
	if err := c.music.Stop(inv.actor.GuildID); err != nil {
		return c.errorMessage(err, "")
	}
	return fmt.Sprintf("⏹ %s stopped the music!", inv.actor.Name)
}

func cmdPause(_ context.Context, c *Commands, inv invocation) string {
	if err := c.music.Pause(inv.actor.GuildID); err != nil {
		return c.errorMessage(err, "")
	}
	return fmt.Sprintf("⏸ %s paused the music.", inv.actor.Name)
}

func cmdResume(_ context.Context, c *Commands, inv invocation) string {
	if err := c.music.Resume(inv.actor.GuildID); err != nil {
		return c.errorMessage(err, "")
	}
	return fmt.Sprintf("▶ %s resumed the music!", inv.actor.Name)
}

func cmdLoop(_ context.Context, c *Commands, inv invocation) string {
	enabled, err := c.music.ToggleLoop(inv.actor.GuildID)
	if err != nil {
		return c.errorMessage(err, "")
	}
	if enabled {
		return "🔁 Loop is now **on**"
	}
	return "🔁 Loop is now **off**"
}

func cmdShuffle(_ context.Context, c *Commands, inv invocation) string {
	if err := c.music.Shuffle(inv.actor.GuildID); err != nil {
		return c.errorMessage(err, "")
	}
	return fmt.Sprintf("🔀 %s shuffled the queue", inv.actor.Name)
}

func cmdVolume(_ context.Context, c *Commands, inv invocation) string {
	opt, ok := inv.options["level"]
	if !ok {
		snap, err := c.music.Snapshot(inv.actor.GuildID)
		if err != nil {
			return c.errorMessage(err, "")
		}
		return fmt.Sprintf("🔊 The current volume is %d%%", snap.Volume)
	}
	level, err := c.music.SetVolume(inv.actor.GuildID, int(opt.IntValue()))
	if err != nil {
		return c.errorMessage(err, "")
	}
	return fmt.Sprintf("🔊 %s set the volume to %d%%", inv.actor.Name, level)
}

func cmdNowPlaying(_ context.Context, c *Commands, inv invocation) string {
	snap, err := c.music.Snapshot(inv.actor.GuildID)
	if err != nil {
		return c.errorMessage(err, "")
	}
	if snap.NowPlaying == nil {
		return nothingPlaying
	}
	t := snap.NowPlaying
	return fmt.Sprintf("🎶 Now playing: **%s** %s\nRequested by %s · %s", t.Display(), t.Locator, t.Requester.Name, snap.State)
}

func cmdQueue(_ context.Context, c *Commands, inv invocation) string {
	snap, err := c.music.Snapshot(inv.actor.GuildID)
	if err != nil {
		return c.errorMessage(err, "")
	}
	return formatQueue(snap)
}

func formatQueue(snap playback.Snapshot) string {
	if len(snap.Tracks) == 0 {
		return "The queue is empty."
	}

	var b strings.Builder
	b.WriteString("📃 **Song queue**")
	if snap.Loop {
		b.WriteString(" 🔁")
	}
	for i, t := range snap.Tracks {
		if i == queuePageSize {
			fmt.Fprintf(&b, "\n…and %d more", len(snap.Tracks)-queuePageSize)
			break
		}
		marker := fmt.Sprintf("%d.", i+1)
		if i == 0 && snap.NowPlaying != nil {
			marker = "▶"
		}
		fmt.Fprintf(&b, "\n%s %s", marker, t.Display())
	}
	return b.String()
}
