package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/control"
)

const (
	busyMessage = "Please wait a moment and try again."
	clickBuffer = 16
)

// messenger is the part of *discordgo.Session the presenter uses.
type messenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Presenter renders control messages as button rows and routes button clicks
// to the collector of the message they were clicked on.
type Presenter struct {
	api messenger

	mu         sync.Mutex
	collectors map[string]chan control.Click // message ID -> clicks
	layouts    map[string][][]control.Action // message ID -> rows, for disabling
}

// NewPresenter creates a presenter.
func NewPresenter(api messenger) *Presenter {
	return &Presenter{
		api:        api,
		collectors: make(map[string]chan control.Click),
		layouts:    make(map[string][][]control.Action),
	}
}

// Announce sends a plain text message.
func (p *Presenter) Announce(ctx context.Context, channelID, content string) error {
	if _, err := p.api.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to send message to channel %s", channelID)
	}
	return nil
}

// SendControls sends content with one button row per rows entry.
func (p *Presenter) SendControls(ctx context.Context, channelID, content string, rows [][]control.Action) (string, error) {
	msg, err := p.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    content,
		Components: buildComponents(rows, false),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(err, "failed to send controls to channel %s", channelID)
	}

	p.mu.Lock()
	p.layouts[msg.ID] = rows
	p.mu.Unlock()
	return msg.ID, nil
}

// DisableControls greys out every button of the message.
func (p *Presenter) DisableControls(ctx context.Context, channelID, messageID string) error {
	p.mu.Lock()
	rows := p.layouts[messageID]
	delete(p.layouts, messageID)
	p.mu.Unlock()
	if rows == nil {
		rows = control.Layout
	}

	components := buildComponents(rows, true)
	_, err := p.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "failed to disable controls on message %s", messageID)
	}
	return nil
}

// DeleteMessage deletes a message.
func (p *Presenter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	p.mu.Lock()
	delete(p.layouts, messageID)
	p.mu.Unlock()

	if err := p.api.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to delete message %s", messageID)
	}
	return nil
}

// Collect starts routing clicks on messageID to the returned channel.
func (p *Presenter) Collect(messageID string) (<-chan control.Click, func()) {
	ch := make(chan control.Click, clickBuffer)

	p.mu.Lock()
	if prev, ok := p.collectors[messageID]; ok {
		close(prev)
	}
	p.collectors[messageID] = ch
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.collectors[messageID] == ch {
				delete(p.collectors, messageID)
				close(ch)
			}
		})
	}
	return ch, release
}

// HandleComponent routes a button click. Clicks on messages without a
// collector are answered as expired.
func (p *Presenter) HandleComponent(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || i.Message == nil {
		return
	}
	customID := i.MessageComponentData().CustomID
	respond := p.responder(i.Interaction)

	action, ok := control.ParseAction(customID)
	if !ok {
		zlog.Debug().Msgf("unknown component: id=%s message=%s", customID, i.Message.ID)
		_ = respond(control.ExpiredMessage, true)
		return
	}

	click := control.Click{
		Action:  action,
		Actor:   actorOf(i),
		Respond: respond,
	}

	p.mu.Lock()
	ch, ok := p.collectors[i.Message.ID]
	delivered := false
	if ok {
		select {
		case ch <- click:
			delivered = true
		default:
		}
	}
	p.mu.Unlock()

	switch {
	case !ok:
		_ = respond(control.ExpiredMessage, true)
	case !delivered:
		zlog.Warn().Msgf("control click dropped: message=%s action=%s", i.Message.ID, action)
		_ = respond(busyMessage, true)
	}
}

func (p *Presenter) responder(interaction *discordgo.Interaction) func(content string, ephemeral bool) error {
	return func(content string, ephemeral bool) error {
		data := &discordgo.InteractionResponseData{Content: content}
		if ephemeral {
			data.Flags = discordgo.MessageFlagsEphemeral
		}
		err := p.api.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		})
		if err != nil {
			return errors.Wrap(err, "failed to respond to interaction")
		}
		return nil
	}
}

// buildComponents renders button rows.
func buildComponents(rows [][]control.Action, disabled bool) []discordgo.MessageComponent {
	components := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, a := range row {
			buttons = append(buttons, discordgo.Button{
				Label:    a.Label(),
				Style:    discordgo.SecondaryButton,
				CustomID: a.ID(),
				Disabled: disabled,
			})
		}
		components = append(components, discordgo.ActionsRow{Components: buttons})
	}
	return components
}

func actorOf(i *discordgo.InteractionCreate) control.Actor {
	actor := control.Actor{GuildID: i.GuildID}
	switch {
	case i.Member != nil && i.Member.User != nil:
		actor.UserID = i.Member.User.ID
		actor.Name = displayName(i.Member, i.Member.User)
	case i.User != nil:
		actor.UserID = i.User.ID
		actor.Name = displayName(nil, i.User)
	}
	return actor
}

func displayName(m *discordgo.Member, u *discordgo.User) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
