package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// Rejection is a track refused by the chain.
type Rejection struct {
	Track track.Track
	Code  string
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromSettings builds a chain from the registered filters named in
// settings, ordered by name. Each filter's settings are validated.
func NewChainFromSettings(settings map[string]map[string]any) (*Chain, error) {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	c := NewChain()
	for _, name := range names {
		factory, ok := registry[name]
		if !ok {
			return nil, errors.Newf("unknown filter %q", name)
		}
		f := factory()
		if err := f.ValidateConfig(settings[name]); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		c.Add(f)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, req Request, t track.Track) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, req, t)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Partition checks every track of a request. Accepted tracks are visible to
// the checks of the tracks after them.
func (c *Chain) Partition(ctx context.Context, req Request, tracks []track.Track) ([]track.Track, []Rejection) {
	queued := make([]track.Track, len(req.Queued), len(req.Queued)+len(tracks))
	copy(queued, req.Queued)

	var accepted []track.Track
	var rejected []Rejection
	for _, t := range tracks {
		req.Queued = queued
		result := c.Execute(ctx, req, t)
		if !result.Accepted {
			rejected = append(rejected, Rejection{Track: t, Code: result.Code})
			continue
		}
		accepted = append(accepted, t)
		queued = append(queued, t)
	}
	return accepted, rejected
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
