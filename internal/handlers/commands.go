package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/config"
	"github.com/sonroyaalmerol/melodeck/internal/resolver"
	"github.com/sonroyaalmerol/melodeck/internal/ui"
)

const manageGuild = int64(discordgo.PermissionManageGuild)

const suggestTimeout = 2500 * time.Millisecond

// Suggester offers completions for the /play query.
type Suggester interface {
	Choices(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice
}

// responder is the part of *discordgo.Session used to answer interactions.
type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseDelete(interaction *discordgo.Interaction, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageDelete(interaction *discordgo.Interaction, messageID string, options ...discordgo.RequestOption) error
}

type CommandHandler struct {
	ctx      context.Context
	act      *actions
	channels *channelTracker
	suggest  Suggester
}

func NewCommandHandler(ctx context.Context, cfg *config.Config, mm Controller, settings SettingsStore, channels *channelTracker, suggest Suggester) *CommandHandler {
	return &CommandHandler{
		ctx:     ctx,
		suggest: suggest,
		act: &actions{
			mm:           mm,
			settings:     settings,
			defaultLimit: cfg.QueueLimit,
			spotify:      cfg.SpotifyEnabled(),
		},
		channels: channels,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	zero := 0.0
	perm := manageGuild
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song from YouTube by name or URL",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "song name, YouTube URL or Spotify track link", Type: discordgo.ApplicationCommandOptionString, Required: true, Autocomplete: true},
			},
		},
		{Name: "skip", Description: "Skip the current song"},
		{Name: "pause", Description: "Pause the current song"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "leave", Description: "Stop playback and leave the voice channel"},
		{Name: "queue", Description: "Show the current queue"},
		{Name: "nowplaying", Description: "Show the song that is playing"},
		{
			Name:                     "config",
			Description:              "Configure bot settings",
			DefaultMemberPermissions: &perm,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "show", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "queue-limit", Description: "set how many songs may wait in the queue", Options: []*discordgo.ApplicationCommandOption{
					{Name: "limit", Description: "max waiting songs, 0 for unlimited; omit to reset", Type: discordgo.ApplicationCommandOptionInteger, MinValue: &zero},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "announce", Description: "announce each song as it starts", Options: []*discordgo.ApplicationCommandOption{
					{Name: "enabled", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
			},
		},
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	cmds := commandDefinitions()
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds); err != nil {
		zlog.Error().Err(err).Str("guild", guildID).Msg("failed to register application commands")
		return err
	}
	zlog.Info().Str("guild", guildID).Int("count", len(cmds)).Dur("took", time.Since(start)).Msg("registered commands")
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.channels.remember(i.GuildID, i.ChannelID)
		h.handleChatCommand(s, i)
	case discordgo.InteractionMessageComponent:
		h.channels.remember(i.GuildID, i.ChannelID)
		h.handleButton(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
	default:
		zlog.Debug().Str("guild", i.GuildID).Int("type", int(i.Type)).Msg("interaction: ignored type")
	}
}

func (h *CommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" {
		return
	}
	var query string
	for _, opt := range data.Options {
		if opt.Name == "query" {
			query = strings.TrimSpace(opt.StringValue())
		}
	}

	choices := []*discordgo.ApplicationCommandOptionChoice{}
	if query != "" && h.suggest != nil && !resolver.IsURL(query) {
		ctx, cancel := context.WithTimeout(h.ctx, suggestTimeout)
		choices = h.suggest.Choices(ctx, query, 10)
		cancel()
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		zlog.Debug().Err(err).Str("guild", i.GuildID).Msg("autocomplete respond failed")
	}
}

func (h *CommandHandler) handleChatCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	req := requestOf(s, i)
	log := zlog.With().Str("guild", i.GuildID).Str("user", req.UserID).Str("command", data.Name).Logger()
	log.Debug().Msg("interaction: application command")

	switch data.Name {
	case "play":
		h.cmdPlay(s, i, req, log)
	case "skip":
		h.deferred(s, i, func() reply { return h.act.skip(h.ctx, req) })
	case "pause":
		h.deferred(s, i, func() reply { return h.act.pause(h.ctx, req) })
	case "resume":
		h.deferred(s, i, func() reply { return h.act.resume(h.ctx, req) })
	case "leave":
		h.deferred(s, i, func() reply { return h.act.leave(h.ctx, req) })
	case "queue":
		h.respond(s, i, h.act.queue(h.ctx, req))
	case "nowplaying":
		h.respond(s, i, h.act.nowPlaying(req))
	case "config":
		h.cmdConfig(s, i, req)
	default:
		log.Debug().Msg("unknown command")
	}
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate, req request, log zerolog.Logger) {
	var query string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "query" {
			query = o.StringValue()
		}
	}
	log.Info().Str("query", query).Str("voice", req.VoiceChannelID).Msg("cmd play")

	if r, ok := h.act.precheckPlay(req, query); !ok {
		h.respond(s, i, r)
		return
	}
	// Resolution can take longer than the interaction deadline.
	h.respond(s, i, reply{Content: "Loading…"})
	h.editReply(s, i, h.act.play(h.ctx, req, query))
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate, req request) {
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return
	}
	sub := opts[0]
	switch sub.Name {
	case "show":
		h.respond(s, i, h.act.showConfig(h.ctx, req))
	case "queue-limit":
		var limit *int
		for _, o := range sub.Options {
			if o.Name == "limit" {
				v := int(o.IntValue())
				limit = &v
			}
		}
		h.respond(s, i, h.act.setQueueLimit(h.ctx, req, limit))
	case "announce":
		var on bool
		for _, o := range sub.Options {
			if o.Name == "enabled" {
				on = o.BoolValue()
			}
		}
		h.respond(s, i, h.act.setAnnounce(h.ctx, req, on))
	}
}

func (h *CommandHandler) handleButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	req := requestOf(s, i)
	zlog.Debug().Str("guild", i.GuildID).Str("user", req.UserID).Str("button", i.MessageComponentData().CustomID).Msg("interaction: button")
	h.button(s, i, req)
}

// button acknowledges the click before touching the session, which may be
// busy resolving a /play.
func (h *CommandHandler) button(rs responder, i *discordgo.InteractionCreate, req request) {
	id := i.MessageComponentData().CustomID
	var action func(context.Context, request) reply
	switch id {
	case ui.ButtonPause:
		action = h.act.pause
	case ui.ButtonResume:
		action = h.act.resume
	case ui.ButtonSkip:
		action = h.act.skip
	case ui.ButtonLeave:
		action = h.act.leave
	default:
		return
	}

	if err := rs.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		zlog.Warn().Err(err).Str("guild", i.GuildID).Msg("acknowledge button failed")
		return
	}

	r := action(h.ctx, req)
	if r.Done && (id == ui.ButtonPause || id == ui.ButtonResume) {
		if np := h.act.nowPlaying(req); np.Done {
			h.editMessage(rs, i, np)
			return
		}
	}
	h.followup(rs, i, r)
}

// deferred acknowledges i, then runs fn and shows its reply. fn may wait on
// the session lock longer than the acknowledgement deadline.
func (h *CommandHandler) deferred(rs responder, i *discordgo.InteractionCreate, fn func() reply) {
	if err := rs.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		zlog.Warn().Err(err).Str("guild", i.GuildID).Msg("acknowledge failed")
		return
	}
	h.editReply(rs, i, fn())
}

func (h *CommandHandler) respond(rs responder, i *discordgo.InteractionCreate, r reply) {
	data := &discordgo.InteractionResponseData{Content: r.Content, Components: r.Components}
	if r.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{r.Embed}
	}
	if err := rs.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		zlog.Warn().Err(err).Str("guild", i.GuildID).Msg("reply failed")
		return
	}
	h.expire(rs, i, r.TTL)
}

func (h *CommandHandler) editReply(rs responder, i *discordgo.InteractionCreate, r reply) {
	edit := &discordgo.WebhookEdit{Content: &r.Content}
	if r.Embed != nil {
		edit.Embeds = &[]*discordgo.MessageEmbed{r.Embed}
	}
	if _, err := rs.InteractionResponseEdit(i.Interaction, edit); err != nil {
		zlog.Warn().Err(err).Str("guild", i.GuildID).Msg("edit reply failed")
		return
	}
	h.expire(rs, i, r.TTL)
}

// editMessage replaces the embed and buttons of the message a button sits on.
func (h *CommandHandler) editMessage(rs responder, i *discordgo.InteractionCreate, r reply) {
	edit := &discordgo.WebhookEdit{
		Embeds:     &[]*discordgo.MessageEmbed{r.Embed},
		Components: &r.Components,
	}
	if _, err := rs.InteractionResponseEdit(i.Interaction, edit); err != nil {
		zlog.Warn().Err(err).Str("guild", i.GuildID).Msg("update message failed")
	}
}

func (h *CommandHandler) followup(rs responder, i *discordgo.InteractionCreate, r reply) {
	params := &discordgo.WebhookParams{Content: r.Content, Components: r.Components}
	if r.Embed != nil {
		params.Embeds = []*discordgo.MessageEmbed{r.Embed}
	}
	msg, err := rs.FollowupMessageCreate(i.Interaction, true, params)
	if err != nil {
		zlog.Warn().Err(err).Str("guild", i.GuildID).Msg("followup failed")
		return
	}
	if r.TTL <= 0 || msg == nil {
		return
	}
	time.AfterFunc(r.TTL, func() {
		if err := rs.FollowupMessageDelete(i.Interaction, msg.ID); err != nil {
			zlog.Debug().Err(err).Str("guild", i.GuildID).Msg("delete followup failed")
		}
	})
}

// expire deletes the interaction response after ttl. Zero keeps it.
func (h *CommandHandler) expire(rs responder, i *discordgo.InteractionCreate, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	time.AfterFunc(ttl, func() {
		if err := rs.InteractionResponseDelete(i.Interaction); err != nil {
			zlog.Debug().Err(err).Str("guild", i.GuildID).Msg("delete reply failed")
		}
	})
}

func requestOf(s *discordgo.Session, i *discordgo.InteractionCreate) request {
	req := request{GuildID: i.GuildID, ChannelID: i.ChannelID}
	if i.Member != nil && i.Member.User != nil {
		req.UserID = i.Member.User.ID
		req.RequestedBy = i.Member.User.Mention()
	}
	if ch, ok := userInVoice(s, i.GuildID, req.UserID); ok {
		req.VoiceChannelID = ch
	}
	return req
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	if userID == "" {
		return "", false
	}
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}
