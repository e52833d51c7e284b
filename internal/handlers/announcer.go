package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/music"
	"github.com/sonroyaalmerol/melodeck/internal/ui"
	"github.com/sonroyaalmerol/melodeck/internal/utils"
)

func escapeTitle(t music.TrackInfo) string {
	return utils.EscapeMd(utils.Truncate(t.String(), 200))
}

// channelTracker remembers the text channel of the last command per guild.
type channelTracker struct {
	mu   sync.Mutex
	last map[string]string
}

func newChannelTracker() *channelTracker {
	return &channelTracker{last: make(map[string]string)}
}

func (c *channelTracker) remember(guild, channel string) {
	if channel == "" {
		return
	}
	c.mu.Lock()
	c.last[guild] = channel
	c.mu.Unlock()
}

func (c *channelTracker) get(guild string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.last[guild]
	return ch, ok
}

type messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Announcer turns manager events into channel messages: a now-playing
// embed with controls when a track starts, and a short notice when one
// fails.
type Announcer struct {
	msg      messenger
	settings SettingsStore
	channels *channelTracker

	noticeTTL time.Duration

	mu         sync.Mutex
	nowPlaying map[string]*discordgo.Message
}

func NewAnnouncer(msg messenger, settings SettingsStore, channels *channelTracker) *Announcer {
	return &Announcer{
		msg:        msg,
		settings:   settings,
		channels:   channels,
		noticeTTL:  errorTTL,
		nowPlaying: make(map[string]*discordgo.Message),
	}
}

// Run consumes events until the channel closes or ctx ends.
func (a *Announcer) Run(ctx context.Context, events <-chan music.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *Announcer) handle(ctx context.Context, ev music.Event) {
	log := zlog.With().Str("guild", ev.SessionID).Str("event", ev.Type.String()).Logger()
	switch ev.Type {
	case music.EventTrackStart:
		log.Info().Str("track", ev.Track.String()).Msg("track started")
		a.announce(ctx, ev)
	case music.EventError:
		log.Warn().Err(ev.Err).Str("track", ev.Track.String()).Msg("playback error")
		a.notify(ev.SessionID, fmt.Sprintf("Couldn't play **%s**, skipping.", escapeTitle(ev.Track)))
	case music.EventDisconnect:
		log.Info().Msg("disconnected")
		a.clearNowPlaying(ev.SessionID)
	}
}

func (a *Announcer) announce(ctx context.Context, ev music.Event) {
	set, err := a.settings.GetSettings(ctx, ev.SessionID)
	if err != nil {
		zlog.Warn().Err(err).Str("guild", ev.SessionID).Msg("get settings failed")
		return
	}
	a.clearNowPlaying(ev.SessionID)
	if !set.AnnounceTracks {
		return
	}
	ch, ok := a.channels.get(ev.SessionID)
	if !ok {
		return
	}

	m, err := a.msg.ChannelMessageSendComplex(ch, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{ui.BuildPlayingEmbed(ev.Track, false)},
		Components: ui.ControlButtons(false),
	})
	if err != nil {
		zlog.Warn().Err(err).Str("guild", ev.SessionID).Msg("announce failed")
		return
	}
	a.mu.Lock()
	a.nowPlaying[ev.SessionID] = m
	a.mu.Unlock()
}

// clearNowPlaying removes the previous now-playing message of guild.
func (a *Announcer) clearNowPlaying(guild string) {
	a.mu.Lock()
	m, ok := a.nowPlaying[guild]
	delete(a.nowPlaying, guild)
	a.mu.Unlock()
	if !ok {
		return
	}
	if err := a.msg.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
		zlog.Debug().Err(err).Str("guild", guild).Msg("delete now-playing failed")
	}
}

func (a *Announcer) notify(guild, content string) {
	ch, ok := a.channels.get(guild)
	if !ok {
		return
	}
	m, err := a.msg.ChannelMessageSendComplex(ch, &discordgo.MessageSend{Content: content})
	if err != nil {
		zlog.Warn().Err(err).Str("guild", guild).Msg("notice failed")
		return
	}
	time.AfterFunc(a.noticeTTL, func() {
		_ = a.msg.ChannelMessageDelete(m.ChannelID, m.ID)
	})
}
