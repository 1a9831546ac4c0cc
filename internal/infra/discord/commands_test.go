package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WieserchGT/BetaGamers/internal/app/control"
	"github.com/WieserchGT/BetaGamers/internal/app/filter"
	"github.com/WieserchGT/BetaGamers/internal/app/playback"
	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/app/session"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

type fakeMusic struct {
	lastPlay session.PlayRequest
	playRes  session.PlayResult
	playErr  error
	skipErr  error
	snapshot playback.Snapshot
}

func (m *fakeMusic) Play(_ context.Context, req session.PlayRequest) (session.PlayResult, error) {
	m.lastPlay = req
	return m.playRes, m.playErr
}

func (m *fakeMusic) Skip(string) (track.Track, error)       { return track.Track{}, m.skipErr }
func (m *fakeMusic) Stop(string) error                      { return nil }
func (m *fakeMusic) Pause(string) error                     { return nil }
func (m *fakeMusic) Resume(string) error                    { return nil }
func (m *fakeMusic) ToggleLoop(string) (bool, error)        { return true, nil }
func (m *fakeMusic) Shuffle(string) error                   { return nil }
func (m *fakeMusic) SetVolume(_ string, l int) (int, error) { return l, nil }
func (m *fakeMusic) Snapshot(string) (playback.Snapshot, error) {
	return m.snapshot, nil
}

func slash(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "text1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "alice"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: options},
	}}
}

func newTestCommands(music Music, states fakeVoiceStates) (*Commands, *fakeAPI) {
	api := &fakeAPI{}
	auth := &Authorizer{states: states, botID: func() string { return "bot" }}
	return newCommands(api, music, auth, func() string { return "MusicBot" }), api
}

func TestCommands_PlayDefersAndEdits(t *testing.T) {
	music := &fakeMusic{playRes: session.PlayResult{
		Tracks:  []track.Track{{Title: "Song A"}},
		Started: true,
	}}
	c, api := newTestCommands(music, fakeVoiceStates{"u1": "vc1"})

	c.Handle(slash("play", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "query", Type: discordgo.ApplicationCommandOptionString, Value: "song a",
	}))

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.edited) == 1
	}, waitFor, tick)
	assert.True(t, api.lastReply().deferred)
	assert.Equal(t, "🎶 Started playing: **Song A**", api.edited[0])

	assert.Equal(t, session.PlayRequest{
		GuildID:        "g1",
		TextChannelID:  "text1",
		VoiceChannelID: "vc1",
		Query:          "song a",
		Requester:      track.Requester{ID: "u1", Name: "alice"},
	}, music.lastPlay)
}

func TestCommands_ModifyingRequiresSameChannel(t *testing.T) {
	c, api := newTestCommands(&fakeMusic{}, fakeVoiceStates{"bot": "vc1", "u1": "vc2"})

	c.Handle(slash("skip"))
	assert.Equal(t, reply{content: control.NotInChannelMessage, ephemeral: true}, api.lastReply())

	c.Handle(slash("queue"))
	assert.Equal(t, reply{content: "The queue is empty."}, api.lastReply())
}

func TestCommands_Skip(t *testing.T) {
	music := &fakeMusic{}
	c, api := newTestCommands(music, fakeVoiceStates{"bot": "vc1", "u1": "vc1"})

	c.Handle(slash("skip"))
	assert.Equal(t, reply{content: "⏭ alice skipped the song"}, api.lastReply())

	music.skipErr = session.ErrNoQueue
	c.Handle(slash("skip"))
	assert.Equal(t, reply{content: nothingPlaying}, api.lastReply())
}

func TestPlayReply(t *testing.T) {
	tests := []struct {
		name string
		res  session.PlayResult
		want string
	}{
		{
			name: "started",
			res:  session.PlayResult{Tracks: []track.Track{{Title: "A"}}, Started: true},
			want: "🎶 Started playing: **A**",
		},
		{
			name: "queued",
			res:  session.PlayResult{Tracks: []track.Track{{Title: "A"}}},
			want: "✅ **A** has been added to the queue by <@u1>",
		},
		{
			name: "playlist with rejections",
			res: session.PlayResult{
				Tracks:   []track.Track{{Title: "A"}, {Title: "B"}},
				Rejected: []filter.Rejection{{Code: "duplicate_track"}},
			},
			want: "✅ Added **2** songs to the queue, starting with **A**\n⚠️ 1 song(s) were skipped: the song is already in the queue.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, playReply(tt.res, "u1"))
		})
	}
}

func TestCommands_ErrorMessage(t *testing.T) {
	c, _ := newTestCommands(&fakeMusic{}, nil)
	rejected := errors.WithDetail(errors.Wrap(session.ErrRequestRejected, "1 track(s) rejected"), "user_pending")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "not in voice", err: session.ErrNotInVoiceChannel, want: notInVoice},
		{name: "other channel", err: session.ErrNotSameChannel, want: "You must be in the same channel as MusicBot"},
		{name: "rejected", err: rejected, want: "you already have too many songs in the queue."},
		{name: "not found", err: errors.Wrap(resolver.ErrNotFound, "search"), want: "No results found for <q>"},
		{name: "invalid", err: resolver.ErrInvalidLocator, want: "That link is not supported."},
		{name: "paused", err: playback.ErrNotPaused, want: "The music is not paused."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.errorMessage(tt.err, "q"))
		})
	}
}

func TestFormatQueue(t *testing.T) {
	tracks := make([]track.Track, 12)
	for i := range tracks {
		tracks[i] = track.Track{Title: string(rune('A' + i)), Duration: 90 * time.Second}
	}
	now := tracks[0]

	out := formatQueue(playback.Snapshot{Tracks: tracks, NowPlaying: &now, Loop: true})
	assert.Contains(t, out, "📃 **Song queue** 🔁")
	assert.Contains(t, out, "\n▶ A (1:30)")
	assert.Contains(t, out, "\n10. J (1:30)")
	assert.NotContains(t, out, "K (1:30)")
	assert.Contains(t, out, "…and 2 more")
}
