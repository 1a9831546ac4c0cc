package resolver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/WieserchGT/BetaGamers/internal/domain/playlist"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// ChainConfig holds resolver chain configuration.
type ChainConfig struct {
	RatePerSec      float64       // Resolutions per second, zero disables limiting
	Burst           int           // Burst size of the limiter
	MaxWait         time.Duration // Longest wait for a token before failing with ErrRateLimited
	MaxPlaylistSize int           // Bulk resolution bound, zero keeps everything
}

// Chain dispatches a query to the first source matching its URL. Plain text
// goes to the search source.
type Chain struct {
	cfg     ChainConfig
	sources []Source
	search  Source
	limiter *rate.Limiter
}

// NewChain creates a resolver chain.
func NewChain(cfg ChainConfig, search Source, sources ...Source) *Chain {
	c := &Chain{
		cfg:     cfg,
		sources: sources,
		search:  search,
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c
}

// Resolve implements Resolver.
func (c *Chain) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	query = Normalize(query)
	if query == "" {
		return nil, errors.Wrap(ErrInvalidLocator, "empty query")
	}

	src, err := c.route(query)
	if err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	tracks, err := src.Resolve(ctx, query)
	if err != nil {
		zlog.Debug().Msgf("resolve failed: source=%s query=%q err=%v", src.Name(), query, err)
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s: %q", src.Name(), query)
	}

	if limit := c.cfg.MaxPlaylistSize; limit > 0 && len(tracks) > limit {
		zlog.Debug().Msgf("resolve truncated: source=%s total=%d max=%d", src.Name(), len(tracks), limit)
		pl := playlist.Playlist{URL: query, Tracks: tracks}
		pl.Truncate(limit)
		tracks = pl.Tracks
	}
	zlog.Debug().Msgf("resolved: source=%s query=%q tracks=%d took=%v", src.Name(), query, len(tracks), time.Since(start))
	return tracks, nil
}

func (c *Chain) route(query string) (Source, error) {
	if !IsURL(query) {
		if c.search == nil {
			return nil, errors.Wrap(ErrInvalidLocator, "search is not available")
		}
		return c.search, nil
	}
	if IsSoundCloud(query) {
		return nil, errors.Wrap(ErrInvalidLocator, "soundcloud links are not supported")
	}
	for _, src := range c.sources {
		if src.Match(query) {
			return src, nil
		}
	}
	return nil, errors.Wrapf(ErrInvalidLocator, "unsupported link %q", query)
}

// wait takes a limiter token, giving up when the wait would exceed MaxWait.
func (c *Chain) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	r := c.limiter.Reserve()
	if !r.OK() {
		return ErrRateLimited
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if delay > c.cfg.MaxWait {
		r.Cancel()
		return errors.Wrapf(ErrRateLimited, "next slot in %v", delay)
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
