package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatterns(t *testing.T) {
	tests := []struct {
		input      string
		url        bool
		youtube    bool
		playlist   bool
		soundcloud bool
		spotify    bool
	}{
		{input: "never gonna give you up"},
		{input: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", url: true, youtube: true},
		{input: "https://youtu.be/dQw4w9WgXcQ", url: true, youtube: true},
		{input: "https://music.youtube.com/watch?v=dQw4w9WgXcQ", url: true, youtube: true},
		{input: "https://www.youtube.com/playlist?list=PL1234567890", url: true, youtube: true, playlist: true},
		{input: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1234567890", url: true, youtube: true},
		{input: "https://soundcloud.com/artist/song", url: true, soundcloud: true},
		{input: "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", url: true, spotify: true},
		{input: "https://open.spotify.com/intl-ja/playlist/37i9dQZF1DXcBWIGoYBM5M", url: true, spotify: true},
		{input: "https://example.com/audio.mp3", url: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.url, IsURL(tt.input), "IsURL")
			assert.Equal(t, tt.youtube, IsYouTube(tt.input), "IsYouTube")
			assert.Equal(t, tt.playlist, IsYouTubePlaylist(tt.input), "IsYouTubePlaylist")
			assert.Equal(t, tt.soundcloud, IsSoundCloud(tt.input), "IsSoundCloud")
			assert.Equal(t, tt.spotify, IsSpotify(tt.input), "IsSpotify")
		})
	}
}

func TestPlaylistID(t *testing.T) {
	assert.Equal(t, "PL1234567890", PlaylistID("https://www.youtube.com/playlist?list=PL1234567890"))
	assert.Equal(t, "PLabc", PlaylistID("https://www.youtube.com/playlist?list=PLabc&si=xyz"))
	assert.Empty(t, PlaylistID("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "https://youtu.be/abc", Normalize("  <https://youtu.be/abc> "))
	assert.Equal(t, "lofi beats", Normalize("lofi beats\n"))
}
