package resolver

import (
	"regexp"
	"strings"
)

var (
	videoPattern       = regexp.MustCompile(`^(https?://)?(www\.)?(m\.|music\.)?(youtube\.com|youtu\.?be)/.+$`)
	playlistPattern    = regexp.MustCompile(`[?&]list=([^#&?]+)`)
	watchInListPattern = regexp.MustCompile(`watch\?v=.+&list=`)
	soundCloudPattern  = regexp.MustCompile(`^https?://(soundcloud\.com|soundcloud\.app\.goo\.gl)/(.*)$`)
	spotifyPattern     = regexp.MustCompile(`^https?://open\.spotify\.com/(intl-[a-z]+/)?(track|playlist|album)/[a-zA-Z0-9]+`)
	urlPattern         = regexp.MustCompile(`^https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_+.~#?&/=]*)`)
)

// IsURL reports whether s looks like an http(s) URL.
func IsURL(s string) bool {
	return urlPattern.MatchString(s)
}

// IsYouTube reports whether s is a YouTube link.
func IsYouTube(s string) bool {
	return videoPattern.MatchString(s)
}

// IsYouTubePlaylist reports whether s is a playlist link. A video watched
// inside a playlist is a single video.
func IsYouTubePlaylist(s string) bool {
	return IsYouTube(s) && playlistPattern.MatchString(s) && !watchInListPattern.MatchString(s)
}

// PlaylistID returns the list parameter of a playlist link.
func PlaylistID(s string) string {
	m := playlistPattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// IsSoundCloud reports whether s is a SoundCloud link.
func IsSoundCloud(s string) bool {
	return soundCloudPattern.MatchString(s)
}

// IsSpotify reports whether s is a Spotify track, album or playlist link.
func IsSpotify(s string) bool {
	return spotifyPattern.MatchString(s)
}

// Normalize trims whitespace and angle brackets used to suppress embeds.
func Normalize(query string) string {
	q := strings.TrimSpace(query)
	q = strings.TrimPrefix(q, "<")
	q = strings.TrimSuffix(q, ">")
	return strings.TrimSpace(q)
}
