package handlers

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/config"
	"github.com/sonroyaalmerol/melodeck/internal/music"
)

const shutdownTimeout = 10 * time.Second

// Manager is the controller plus the lifecycle hooks the bot owns.
type Manager interface {
	Controller
	Events() <-chan music.Event
	Close(ctx context.Context) error
}

type Bot struct {
	cfg *config.Config
	dg  *discordgo.Session
	mm  Manager
	cmd *CommandHandler
	ann *Announcer
}

func NewBot(ctx context.Context, cfg *config.Config, dg *discordgo.Session, mm Manager, settings SettingsStore, suggest Suggester) *Bot {
	channels := newChannelTracker()
	return &Bot{
		cfg: cfg,
		dg:  dg,
		mm:  mm,
		cmd: NewCommandHandler(ctx, cfg, mm, settings, channels, suggest),
		ann: NewAnnouncer(dg, settings, channels),
	}
}

// Run connects to the gateway and serves interactions until ctx ends. On
// the way out every voice session is left before the gateway closes.
func (b *Bot) Run(ctx context.Context) error {
	dg := b.dg
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		zlog.Info().Str("user", s.State.User.Username).Msg("connected")
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				zlog.Error().Err(err).Msg("register global commands")
			}
			return
		}
		for _, g := range r.Guilds {
			if err := b.cmd.RegisterCommands(s, appID, g.ID); err != nil {
				zlog.Error().Err(err).Str("guild", g.ID).Msg("register guild commands")
			}
		}
		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			zlog.Error().Err(err).Msg("clear global commands")
		}
	})

	// If registering per-guild, register on new guilds too
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot || s.State.User == nil {
			return
		}
		if err := b.cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			zlog.Error().Err(err).Str("guild", g.ID).Msg("register guild commands on join")
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)

	if err := dg.Open(); err != nil {
		return errors.Wrap(err, "open gateway")
	}
	defer dg.Close()

	go b.ann.Run(ctx, b.mm.Events())

	<-ctx.Done()
	zlog.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.mm.Close(sctx); err != nil {
		zlog.Warn().Err(err).Msg("music manager close")
	}
	return nil
}
