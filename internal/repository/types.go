package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

// Settings are the per-guild overrides. A nil QueueLimit means the
// configured default applies.
type Settings struct {
	GuildID        string
	QueueLimit     *int
	AnnounceTracks bool
}

func defaultSettings(guild string) *Settings {
	return &Settings{GuildID: guild, AnnounceTracks: true}
}
