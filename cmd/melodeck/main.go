// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	ytdlp "github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/autocomplete"
	"github.com/sonroyaalmerol/melodeck/internal/config"
	"github.com/sonroyaalmerol/melodeck/internal/cookies"
	"github.com/sonroyaalmerol/melodeck/internal/handlers"
	"github.com/sonroyaalmerol/melodeck/internal/logger"
	"github.com/sonroyaalmerol/melodeck/internal/music"
	"github.com/sonroyaalmerol/melodeck/internal/probe"
	"github.com/sonroyaalmerol/melodeck/internal/repository"
	"github.com/sonroyaalmerol/melodeck/internal/resolver"
	"github.com/sonroyaalmerol/melodeck/internal/spotify"
	"github.com/sonroyaalmerol/melodeck/internal/stream"
	"github.com/sonroyaalmerol/melodeck/internal/voice"
)

var (
	app     = kingpin.New("melodeck", "Discord music bot")
	envFile = app.Flag("env-file", "Path to a .env file").Default(".env").String()
	verbose = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile = app.Flag("logfile", "Path to log file (default: stderr)").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	closer, err := logger.Init(logger.Config{Level: level, File: *logfile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		zlog.Error().Err(err).Msg("bot stopped with error")
		cancel()
		closer.Close()
		os.Exit(1)
	}
}

// run wires the components and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config) error {
	if _, err := ytdlp.Install(ctx, nil); err != nil {
		return errors.Wrap(err, "install yt-dlp")
	}

	db, err := repository.OpenDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	var (
		translators []resolver.LinkTranslator
		searcher    autocomplete.TrackSearcher
	)
	if cfg.SpotifyEnabled() {
		sp := spotify.NewClientCredentials(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		translators = append(translators, sp)
		searcher = sp
		zlog.Info().Msg("spotify links enabled")
	}
	res := resolver.New(resolver.Options{
		Format:      cfg.YtdlpFormat,
		CookiesPath: cfg.YtdlpCookies,
	}, translators...)

	var prober stream.CodecProber
	if cfg.ProbeCodecs {
		prober = probe.NewCodecProber()
	}
	strategy := stream.StrategyDirect
	if cfg.PipeFromYtdlp {
		strategy = stream.StrategyPipe
	}
	builder := stream.NewBuilder(stream.Options{
		Strategy:    strategy,
		Bitrate:     cfg.AudioBitrate,
		Format:      cfg.YtdlpFormat,
		CookiesPath: cfg.YtdlpCookies,
		FFmpegPath:  cfg.FFmpegPath,
	}, prober)

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return errors.Wrap(err, "create discord session")
	}

	mm := music.NewManager(voice.NewTransport(dg), res, builder, music.Config{
		QueueLimit:     cfg.QueueLimit,
		ConnectTimeout: cfg.VoiceConnectTimeout,
	}, music.WithQueueLimiter(repo))

	if cfg.CookieRefreshActive() {
		r := cookies.New(cfg.YtdlpCookies, cfg.CookieRefresh.URL, cfg.CookieRefresh.Interval)
		r.Start(ctx)
		defer r.Stop()
	} else {
		zlog.Info().Msg("cookie refresher disabled")
	}

	zlog.Info().
		Str("strategy", string(strategy)).
		Int("queue_limit", cfg.QueueLimit).
		Bool("probe", cfg.ProbeCodecs).
		Msg("starting bot")
	return handlers.NewBot(ctx, cfg, dg, mm, repo, autocomplete.New(searcher)).Run(ctx)
}
