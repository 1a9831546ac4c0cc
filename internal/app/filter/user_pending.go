package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// UserPendingConfig represents the configuration for UserPendingFilter.
type UserPendingConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"25" validate:"gte=1"`
}

// UserPendingFilter limits how many tracks one member may have waiting.
type UserPendingFilter struct {
	config UserPendingConfig
}

func (f *UserPendingFilter) Name() string {
	return "user_pending_filter"
}

func (f *UserPendingFilter) Description() string {
	return "Limits the number of tracks a member may have waiting to be played"
}

func (f *UserPendingFilter) ReturnCodes() []string {
	return []string{"user_pending"}
}

func (f *UserPendingFilter) ValidateConfig(settings map[string]any) error {
	var config UserPendingConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	f.config = config
	return nil
}

func (f *UserPendingFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.config.MaxPending <= 0 || req.Requester.ID == "" {
		return Accept()
	}

	pending := 0
	for _, queued := range req.Queued {
		if queued.Requester.ID == req.Requester.ID {
			pending++
		}
	}
	if pending >= f.config.MaxPending {
		return Reject("user_pending")
	}
	return Accept()
}

func init() {
	Register("user_pending_filter", func() Filter {
		return &UserPendingFilter{}
	})
}
