// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/WieserchGT/BetaGamers/internal/api/connect"
	"github.com/WieserchGT/BetaGamers/internal/app/control"
	"github.com/WieserchGT/BetaGamers/internal/app/filter"
	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
	"github.com/WieserchGT/BetaGamers/internal/app/session"
	"github.com/WieserchGT/BetaGamers/internal/app/voice"
	"github.com/WieserchGT/BetaGamers/internal/infra/config"
	"github.com/WieserchGT/BetaGamers/internal/infra/discord"
	"github.com/WieserchGT/BetaGamers/internal/infra/logger"
	"github.com/WieserchGT/BetaGamers/internal/infra/spotify"
	"github.com/WieserchGT/BetaGamers/internal/infra/youtube"
)

var (
	app        = kingpin.New("musicbox-bot", "Discord music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run wires the components and blocks until a shutdown signal arrives.
func run(cfg *config.Config) error {
	ctx := context.Background()

	filters, err := filter.NewChainFromSettings(cfg.EnabledFilters())
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	yt := youtube.NewClient(youtube.Config{FFmpegPath: cfg.Resolver.FFmpegPath})
	sources := []resolver.Source{youtube.NewLinkSource(yt)}
	if cfg.SpotifyEnabled() {
		sp, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Resolver.Spotify.ClientID,
			ClientSecret: cfg.Resolver.Spotify.ClientSecret,
			Market:       cfg.Resolver.Spotify.Market,
			MaxTracks:    cfg.Playback.MaxPlaylistSize,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		sources = append(sources, sp)
	} else {
		zlog.Info().Msg("Spotify credentials not configured, Spotify links are refused")
	}
	chain := resolver.NewChain(resolver.ChainConfig{
		RatePerSec:      cfg.Resolver.RatePerSec,
		Burst:           cfg.Resolver.Burst,
		MaxWait:         cfg.Resolver.MaxWait(),
		MaxPlaylistSize: cfg.Playback.MaxPlaylistSize,
	}, youtube.NewSearchSource(yt), sources...)

	bot, err := discord.New(discord.Config{
		Token:            cfg.Discord.Token,
		RegisterCommands: cfg.Discord.ShouldRegisterCommands(),
		CommandGuildID:   cfg.Discord.CommandGuildID,
	})
	if err != nil {
		return err
	}

	clock := schedule.RealClock()
	surface := control.NewSurface(control.Config{
		DefaultTTL: cfg.Playback.ControlTimeout(),
		Prune:      cfg.Playback.Pruning,
		PruneDelay: cfg.Playback.PruneDelay(),
	}, bot.Presenter(), bot.Authorizer(), clock)

	manager, err := session.NewManager(session.Config{
		DefaultVolume:          cfg.Playback.DefaultVolume,
		StayDuration:           cfg.Playback.StayDuration(),
		Pruning:                cfg.Playback.Pruning,
		MaxConsecutiveFailures: cfg.Playback.MaxConsecutiveFailures,
		OpenTimeout:            cfg.Playback.OpenTimeout(),
		Voice: voice.Config{
			ReadyTimeout:      time.Duration(cfg.Voice.ReadyTimeoutSec) * time.Second,
			MaxRejoinAttempts: cfg.Voice.MaxRejoinAttempts,
			RejoinStep:        time.Duration(cfg.Voice.RejoinStepSec) * time.Second,
			KeepaliveInterval: time.Duration(cfg.Voice.KeepaliveIntervalSec) * time.Second,
		},
	}, session.Deps{
		Resolver:  chain,
		Opener:    yt,
		Transport: bot.Transport(),
		NewPlayer: discord.NewPlayerFactory(),
		Surface:   surface,
		Announcer: bot.Presenter(),
		Filters:   filters,
		Scheduler: schedule.NewScheduler(clock),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	if err := bot.Start(manager); err != nil {
		return err
	}

	var server *http.Server
	serverErrCh := make(chan error, 1)
	if cfg.Admin.Addr != "" {
		server = newAdminServer(cfg.Admin, manager)
		go func() {
			zlog.Info().Msgf("Starting admin server: addr=%s", cfg.Admin.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "admin server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Tear the queues down while the gateway is still open so that the
	// voice connections can leave cleanly.
	if err := manager.Close(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to close sessions: %v", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown admin server: %v", err)
		}
	}
	if err := bot.Close(); err != nil {
		zlog.Error().Msgf("Failed to close gateway: %v", err)
	}

	zlog.Info().Msg("Bot stopped")
	return runErr
}

func newAdminServer(cfg config.AdminConfig, manager *session.Manager) *http.Server {
	path, handler := apiconnect.NewAdminServiceHandler(
		apiconnect.NewAdminService(manager),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Token)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
