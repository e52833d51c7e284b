package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/music"
	"github.com/sonroyaalmerol/melodeck/internal/repository"
	"github.com/sonroyaalmerol/melodeck/internal/resolver"
	"github.com/sonroyaalmerol/melodeck/internal/spotify"
	"github.com/sonroyaalmerol/melodeck/internal/ui"
)

const (
	shortTTL = 3 * time.Second
	errorTTL = 5 * time.Second
)

// Controller is the playback surface the commands drive.
type Controller interface {
	Enqueue(ctx context.Context, sessionID string, ch music.ChannelRef, queryOrURL, requestedBy string) (music.TrackInfo, error)
	Skip(ctx context.Context, sessionID string) error
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	Leave(ctx context.Context, sessionID string) error
	IsConnected(sessionID string) bool
	HasTracks(sessionID string) bool
	IsPlaying(sessionID string) bool
	IsPaused(sessionID string) bool
	NowPlaying(sessionID string) (music.TrackInfo, bool)
	Queue(sessionID string) []music.TrackInfo
}

type SettingsStore interface {
	GetSettings(ctx context.Context, guild string) (*repository.Settings, error)
	SetQueueLimit(ctx context.Context, guild string, limit *int) error
	SetAnnounceTracks(ctx context.Context, guild string, on bool) error
}

// request is what a command needs to know about the invoking interaction.
type request struct {
	GuildID   string
	ChannelID string
	UserID    string
	// RequestedBy is shown next to queued tracks.
	RequestedBy string
	// VoiceChannelID is the voice channel the user sits in, if any.
	VoiceChannelID string
}

// reply is the outcome of a command. A non-zero TTL deletes the message
// after that long.
type reply struct {
	Content    string
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	TTL        time.Duration
	// Done is set when the requested action was carried out.
	Done bool
}

func notice(content string) reply { return reply{Content: content, TTL: shortTTL} }

func failure(err error) reply {
	return reply{Content: fmt.Sprintf("Something went wrong: %v", err), TTL: errorTTL}
}

type actions struct {
	mm           Controller
	settings     SettingsStore
	defaultLimit int
	spotify      bool
}

// checkQuery returns a rejection notice for inputs /play does not take.
func (a *actions) checkQuery(q string) (string, bool) {
	q = strings.TrimSpace(q)
	switch {
	case q == "":
		return "Tell me what to play.", false
	case spotify.IsLink(q):
		if !a.spotify {
			return "Spotify links are not enabled on this bot.", false
		}
		return "", true
	case resolver.IsURL(q) && !resolver.IsYouTubeURL(q):
		return "You can only use YouTube as a source.", false
	}
	return "", true
}

// precheckPlay validates a /play request before anything is sent back.
func (a *actions) precheckPlay(req request, query string) (reply, bool) {
	if req.VoiceChannelID == "" {
		return notice("You need to be in a Voice Channel to play a song."), false
	}
	if msg, ok := a.checkQuery(query); !ok {
		return notice(msg), false
	}
	return reply{}, true
}

func (a *actions) play(ctx context.Context, req request, query string) reply {
	ch := music.ChannelRef{GuildID: req.GuildID, ChannelID: req.VoiceChannelID}
	track, err := a.mm.Enqueue(ctx, req.GuildID, ch, strings.TrimSpace(query), req.RequestedBy)
	if err != nil {
		zlog.Info().Err(err).Str("guild", req.GuildID).Str("query", query).Msg("enqueue failed")
		return reply{Content: enqueueFailure(err), TTL: errorTTL}
	}
	zlog.Info().Str("guild", req.GuildID).Str("track", track.String()).Str("user", req.UserID).Msg("queued")
	return reply{Content: fmt.Sprintf("Queued: **%s**", escapeTitle(track)), Done: true}
}

func enqueueFailure(err error) string {
	var limitErr *music.QueueLimitError
	var resErr *music.ResolutionError
	switch {
	case errors.As(err, &limitErr):
		return limitErr.Error()
	case errors.Is(err, music.ErrConnectionTimeout):
		return "Couldn't connect to your voice channel."
	case errors.As(err, &resErr):
		return "Couldn't find anything for that query."
	default:
		return "Something went wrong while loading that track."
	}
}

// connected runs the shared voice and connection checks of the transport
// commands.
func (a *actions) connected(req request, verb string) (reply, bool) {
	if req.VoiceChannelID == "" {
		return notice(fmt.Sprintf("You need to be in a Voice Channel to %s a song.", verb)), false
	}
	if !a.mm.IsConnected(req.GuildID) {
		return notice("Bot is not connected to this channel."), false
	}
	return reply{}, true
}

func (a *actions) skip(ctx context.Context, req request) reply {
	if r, ok := a.connected(req, "skip"); !ok {
		return r
	}
	if !a.mm.HasTracks(req.GuildID) {
		return notice("There are no songs to be skipped. Queue is empty.")
	}
	if err := a.mm.Skip(ctx, req.GuildID); err != nil {
		return failure(err)
	}
	return reply{Content: "Song removed from queue", TTL: shortTTL, Done: true}
}

func (a *actions) pause(ctx context.Context, req request) reply {
	if r, ok := a.connected(req, "pause"); !ok {
		return r
	}
	if !a.mm.IsPlaying(req.GuildID) {
		return notice("No song is playing")
	}
	if err := a.mm.Pause(ctx, req.GuildID); err != nil {
		return failure(err)
	}
	return reply{Content: "Song paused", TTL: shortTTL, Done: true}
}

func (a *actions) resume(ctx context.Context, req request) reply {
	if r, ok := a.connected(req, "resume"); !ok {
		return r
	}
	if !a.mm.IsPaused(req.GuildID) {
		return notice("No song is paused")
	}
	if err := a.mm.Resume(ctx, req.GuildID); err != nil {
		return failure(err)
	}
	return reply{Content: "Song resumed", TTL: shortTTL, Done: true}
}

func (a *actions) leave(ctx context.Context, req request) reply {
	if !a.mm.IsConnected(req.GuildID) {
		return notice("Bot is not connected to this channel.")
	}
	if err := a.mm.Leave(ctx, req.GuildID); err != nil {
		return failure(err)
	}
	return reply{Content: "Exiting...", TTL: shortTTL, Done: true}
}

func (a *actions) nowPlaying(req request) reply {
	cur, ok := a.mm.NowPlaying(req.GuildID)
	if !ok {
		return reply{Embed: ui.BuildNothingPlayingEmbed(), TTL: shortTTL}
	}
	paused := a.mm.IsPaused(req.GuildID)
	return reply{
		Embed:      ui.BuildPlayingEmbed(cur, paused),
		Components: ui.ControlButtons(paused),
		Done:       true,
	}
}

func (a *actions) queue(ctx context.Context, req request) reply {
	cur, playing := a.mm.NowPlaying(req.GuildID)
	waiting := a.mm.Queue(req.GuildID)
	return reply{Embed: ui.BuildQueueEmbed(cur, playing, waiting, a.limitFor(ctx, req.GuildID)), Done: true}
}

func (a *actions) limitFor(ctx context.Context, guild string) int {
	set, err := a.settings.GetSettings(ctx, guild)
	if err != nil || set.QueueLimit == nil {
		return a.defaultLimit
	}
	return *set.QueueLimit
}

func (a *actions) showConfig(ctx context.Context, req request) reply {
	set, err := a.settings.GetSettings(ctx, req.GuildID)
	if err != nil {
		zlog.Error().Err(err).Str("guild", req.GuildID).Msg("get settings failed")
		return reply{Content: "Failed to fetch config", TTL: errorTTL}
	}
	return reply{Embed: ui.BuildSettingsEmbed(*set, a.defaultLimit), Done: true}
}

// setQueueLimit stores limit for the guild. A nil limit restores the default.
func (a *actions) setQueueLimit(ctx context.Context, req request, limit *int) reply {
	if limit != nil && *limit < 0 {
		return notice("The limit can't be negative.")
	}
	if err := a.settings.SetQueueLimit(ctx, req.GuildID, limit); err != nil {
		zlog.Error().Err(err).Str("guild", req.GuildID).Msg("set queue limit failed")
		return failure(err)
	}
	zlog.Info().Str("guild", req.GuildID).Interface("limit", limit).Msg("config updated")

	switch {
	case limit == nil:
		return reply{Content: fmt.Sprintf("Queue limit reset to the default (%s).", limitText(a.defaultLimit)), Done: true}
	default:
		return reply{Content: fmt.Sprintf("Queue limit set to %s.", limitText(*limit)), Done: true}
	}
}

func (a *actions) setAnnounce(ctx context.Context, req request, on bool) reply {
	if err := a.settings.SetAnnounceTracks(ctx, req.GuildID, on); err != nil {
		zlog.Error().Err(err).Str("guild", req.GuildID).Msg("set announce failed")
		return failure(err)
	}
	zlog.Info().Str("guild", req.GuildID).Bool("announce", on).Msg("config updated")
	if on {
		return reply{Content: "Now-playing announcements enabled.", Done: true}
	}
	return reply{Content: "Now-playing announcements disabled.", Done: true}
}

func limitText(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d songs", n)
}
