package youtube

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// LinkSource resolves YouTube video and playlist links.
type LinkSource struct {
	client *Client
}

// NewLinkSource creates the link source.
func NewLinkSource(c *Client) *LinkSource {
	return &LinkSource{client: c}
}

func (s *LinkSource) Name() string { return "youtube" }

func (s *LinkSource) Match(url string) bool { return resolver.IsYouTube(url) }

func (s *LinkSource) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	if resolver.IsYouTubePlaylist(query) {
		pl, err := s.client.Playlist(ctx, query)
		if err != nil {
			return nil, err
		}
		zlog.Debug().Msgf("playlist resolved: name=%q tracks=%d length=%v", pl.Name, len(pl.Tracks), pl.TotalDuration())
		return pl.Tracks, nil
	}
	t, err := s.client.Video(ctx, query)
	if err != nil {
		return nil, err
	}
	return []track.Track{t}, nil
}

// SearchSource resolves free text to the first matching video.
type SearchSource struct {
	client *Client
}

// NewSearchSource creates the search source.
func NewSearchSource(c *Client) *SearchSource {
	return &SearchSource{client: c}
}

func (s *SearchSource) Name() string { return "youtube-search" }

func (s *SearchSource) Match(string) bool { return false }

func (s *SearchSource) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	link, err := s.client.SearchFirst(ctx, query)
	if err != nil {
		return nil, err
	}
	t, err := s.client.Video(ctx, link)
	if err != nil {
		return nil, err
	}
	return []track.Track{t}, nil
}
