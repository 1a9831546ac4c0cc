// Package discord adapts the Discord gateway to the playback core: voice
// transport, opus player, control message presenter and slash commands.
package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Config holds Discord configuration.
type Config struct {
	Token            string
	RegisterCommands bool
	CommandGuildID   string // Empty registers commands globally
}

// Bot owns the gateway session and the adapters built on it.
type Bot struct {
	cfg       Config
	session   *discordgo.Session
	transport *Transport
	presenter *Presenter
	auth      *Authorizer
	commands  *Commands
}

// New creates a bot. The gateway is not opened until Start.
func New(cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	b := &Bot{
		cfg:       cfg,
		session:   s,
		transport: NewTransport(s),
		presenter: NewPresenter(s),
		auth:      NewAuthorizer(s),
	}
	s.AddHandler(b.onReady)
	s.AddHandler(b.onInteraction)
	return b, nil
}

// Transport returns the voice transport.
func (b *Bot) Transport() *Transport { return b.transport }

// Presenter returns the control message presenter.
func (b *Bot) Presenter() *Presenter { return b.presenter }

// Authorizer returns the queue permission check.
func (b *Bot) Authorizer() *Authorizer { return b.auth }

// Start binds the slash commands to music and opens the gateway.
func (b *Bot) Start(music Music) error {
	b.commands = newCommands(b.session, music, b.auth, b.botName)

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord session")
	}

	if b.cfg.RegisterCommands {
		if err := b.registerCommands(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	cmds, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.CommandGuildID, Definitions())
	if err != nil {
		return errors.Wrap(err, "failed to register slash commands")
	}
	scope := b.cfg.CommandGuildID
	if scope == "" {
		scope = "global"
	}
	zlog.Info().Msgf("registered %d slash commands: scope=%s", len(cmds), scope)
	return nil
}

// Close closes the gateway session.
func (b *Bot) Close() error {
	if err := b.session.Close(); err != nil {
		return errors.Wrap(err, "failed to close discord session")
	}
	return nil
}

func (b *Bot) botName() string {
	if b.session.State == nil || b.session.State.User == nil {
		return "the bot"
	}
	return b.session.State.User.Username
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("discord ready: user=%s guilds=%d", r.User.Username, len(r.Guilds))
}

func (b *Bot) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.presenter.HandleComponent(i)
	case discordgo.InteractionApplicationCommand:
		if b.commands != nil {
			b.commands.Handle(i)
		}
	}
}
