package ui

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/melodeck/internal/music"
	"github.com/sonroyaalmerol/melodeck/internal/repository"
	"github.com/sonroyaalmerol/melodeck/internal/utils"
)

// Custom IDs of the player control buttons.
const (
	ButtonPause  = "melodeck:pause"
	ButtonResume = "melodeck:resume"
	ButtonSkip   = "melodeck:skip"
	ButtonLeave  = "melodeck:leave"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorEmpty   = 0x992222

	maxTitle      = 200
	maxQueueLines = 15
)

func songLink(t music.TrackInfo) string {
	title := utils.EscapeMd(utils.Truncate(t.String(), maxTitle))
	if t.CanonicalURL == "" {
		return title
	}
	return fmt.Sprintf("[%s](%s)", title, t.CanonicalURL)
}

func requester(t music.TrackInfo) string {
	if t.RequestedBy == "" {
		return "unknown"
	}
	return utils.EscapeMd(t.RequestedBy)
}

func BuildNothingPlayingEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Nothing Playing",
		Description: "No playing song found",
		Color:       colorEmpty,
	}
}

func BuildPlayingEmbed(t music.TrackInfo, paused bool) *discordgo.MessageEmbed {
	title := "Now Playing"
	color := colorPlaying
	if paused {
		title = "Paused"
		color = colorPaused
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("**%s**\nRequested by: %s", songLink(t), requester(t)),
		Color:       color,
	}
	if t.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.ThumbnailURL}
	}
	return embed
}

// BuildQueueEmbed lists the current track and what is waiting behind it.
// limit is the guild's queue cap; 0 means unlimited.
func BuildQueueEmbed(cur music.TrackInfo, playing bool, queue []music.TrackInfo, limit int) *discordgo.MessageEmbed {
	var b strings.Builder
	if playing {
		fmt.Fprintf(&b, "**%s**\nRequested by: %s\n\n", songLink(cur), requester(cur))
	}

	if len(queue) > 0 {
		b.WriteString("**Up next:**\n")
		for i, t := range queue {
			if i == maxQueueLines {
				fmt.Fprintf(&b, "…and %d more\n", len(queue)-maxQueueLines)
				break
			}
			fmt.Fprintf(&b, "`%d.` %s\n", i+1, songLink(t))
		}
	} else if !playing {
		b.WriteString("The queue is empty.")
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: queueInfo(len(queue)), Inline: true},
			{Name: "Limit", Value: limitInfo(limit), Inline: true},
		},
	}
	if playing && cur.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: cur.ThumbnailURL}
	}
	return embed
}

func BuildSettingsEmbed(s repository.Settings, defaultLimit int) *discordgo.MessageEmbed {
	limit := limitInfo(defaultLimit) + " (default)"
	if s.QueueLimit != nil {
		limit = limitInfo(*s.QueueLimit)
	}
	announce := "off"
	if s.AnnounceTracks {
		announce = "on"
	}
	return &discordgo.MessageEmbed{
		Title: "Settings",
		Color: colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Queue limit", Value: limit, Inline: true},
			{Name: "Announce tracks", Value: announce, Inline: true},
		},
	}
}

// ControlButtons is the action row attached to now-playing messages.
func ControlButtons(paused bool) []discordgo.MessageComponent {
	toggle := discordgo.Button{Label: "Pause", Style: discordgo.SecondaryButton, CustomID: ButtonPause, Emoji: &discordgo.ComponentEmoji{Name: "⏸️"}}
	if paused {
		toggle = discordgo.Button{Label: "Resume", Style: discordgo.SecondaryButton, CustomID: ButtonResume, Emoji: &discordgo.ComponentEmoji{Name: "▶️"}}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			toggle,
			discordgo.Button{Label: "Skip", Style: discordgo.SecondaryButton, CustomID: ButtonSkip, Emoji: &discordgo.ComponentEmoji{Name: "⏭️"}},
			discordgo.Button{Label: "Leave", Style: discordgo.DangerButton, CustomID: ButtonLeave, Emoji: &discordgo.ComponentEmoji{Name: "🛑"}},
		}},
	}
}

func queueInfo(n int) string {
	switch n {
	case 0:
		return "-"
	case 1:
		return "1 song"
	default:
		return fmt.Sprintf("%d songs", n)
	}
}

func limitInfo(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d songs", n)
}
