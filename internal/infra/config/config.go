// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Playback PlaybackConfig          `yaml:"playback"`
	Voice    VoiceConfig             `yaml:"voice"`
	Resolver ResolverConfig          `yaml:"resolver"`
	Admin    AdminConfig             `yaml:"admin"`
	Filters  map[string]FilterConfig `yaml:"filters"`
}

// DiscordConfig represents gateway configuration.
type DiscordConfig struct {
	Token            string `yaml:"token" validate:"required"`
	RegisterCommands *bool  `yaml:"register_commands" default:"true"`
	CommandGuildID   string `yaml:"command_guild_id"`
}

// ShouldRegisterCommands reports whether slash commands are registered on start.
func (d DiscordConfig) ShouldRegisterCommands() bool {
	return d.RegisterCommands == nil || *d.RegisterCommands
}

// PlaybackConfig represents per-guild queue configuration.
type PlaybackConfig struct {
	DefaultVolume          int  `yaml:"default_volume" default:"100" validate:"gte=0,lte=100"`
	StayTimeSec            int  `yaml:"stay_time_sec" default:"30" validate:"gte=0"`
	Pruning                bool `yaml:"pruning"`
	MaxPlaylistSize        int  `yaml:"max_playlist_size" default:"10" validate:"gte=1"`
	ControlTimeoutSec      int  `yaml:"control_timeout_sec" default:"60" validate:"gte=1"`
	PruneDelayMs           int  `yaml:"prune_delay_ms" default:"3000" validate:"gte=0"`
	MaxConsecutiveFailures int  `yaml:"max_consecutive_failures" default:"10" validate:"gte=0"`
	OpenTimeoutSec         int  `yaml:"open_timeout_sec" default:"30" validate:"gte=1"`
}

// VoiceConfig represents voice connection supervision.
type VoiceConfig struct {
	ReadyTimeoutSec      int `yaml:"ready_timeout_sec" default:"20" validate:"gte=1"`
	MaxRejoinAttempts    int `yaml:"max_rejoin_attempts" default:"5" validate:"gte=1"`
	RejoinStepSec        int `yaml:"rejoin_step_sec" default:"5" validate:"gte=1"`
	KeepaliveIntervalSec int `yaml:"keepalive_interval_sec" default:"15" validate:"gte=1"`
}

// ResolverConfig represents track resolution configuration.
type ResolverConfig struct {
	RatePerSec float64       `yaml:"rate_per_sec" default:"2" validate:"gte=0"`
	Burst      int           `yaml:"burst" default:"4" validate:"gte=1"`
	MaxWaitMs  int           `yaml:"max_wait_ms" default:"3000" validate:"gte=0"`
	FFmpegPath string        `yaml:"ffmpeg_path" default:"ffmpeg"`
	Spotify    SpotifyConfig `yaml:"spotify"`
}

// SpotifyConfig represents Spotify API configuration. Spotify links are
// refused when the credentials are empty.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required_with=ClientSecret"`
	ClientSecret string `yaml:"client_secret" validate:"required_with=ClientID"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// AdminConfig represents the admin RPC server. An empty Addr disables it.
type AdminConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token" validate:"required_with=Addr"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies environment overrides and
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Resolver.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Resolver.Spotify.ClientSecret = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// EnabledFilters returns the settings of every enabled filter keyed by
// filter name.
func (c *Config) EnabledFilters() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, name := range c.FilterNames() {
		f := c.Filters[name]
		if !f.Enabled {
			continue
		}
		out[name] = f.Settings
	}
	return out
}

// FilterNames returns the configured filter keys in sorted order.
func (c *Config) FilterNames() []string {
	names := make([]string, 0, len(c.Filters))
	for name := range c.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Resolver.Spotify.ClientID != "" && c.Resolver.Spotify.ClientSecret != ""
}

// StayDuration returns the idle-teardown delay.
func (p PlaybackConfig) StayDuration() time.Duration {
	return time.Duration(p.StayTimeSec) * time.Second
}

// ControlTimeout returns the default control session lifetime.
func (p PlaybackConfig) ControlTimeout() time.Duration {
	return time.Duration(p.ControlTimeoutSec) * time.Second
}

// PruneDelay returns the delay before a finished control message is deleted.
func (p PlaybackConfig) PruneDelay() time.Duration {
	return time.Duration(p.PruneDelayMs) * time.Millisecond
}

// OpenTimeout returns the stream acquisition timeout.
func (p PlaybackConfig) OpenTimeout() time.Duration {
	return time.Duration(p.OpenTimeoutSec) * time.Second
}

// MaxWait returns the longest a resolve may wait for the rate limiter.
func (r ResolverConfig) MaxWait() time.Duration {
	return time.Duration(r.MaxWaitMs) * time.Millisecond
}
