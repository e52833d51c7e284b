package repository

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// GetSettings returns the stored settings of guild, or the defaults when
// nothing was stored yet.
func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, queue_limit, announce_tracks
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var limit sql.NullInt64
	var announce int
	if err := row.Scan(&s.GuildID, &limit, &announce); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return defaultSettings(guild), nil
		}
		return nil, errors.Wrapf(err, "settings for %s", guild)
	}
	if limit.Valid {
		v := int(limit.Int64)
		s.QueueLimit = &v
	}
	s.AnnounceTracks = announce != 0
	return &s, nil
}

// SetQueueLimit stores a per-guild queue limit. A nil limit restores the
// configured default.
func (r *Repo) SetQueueLimit(ctx context.Context, guild string, limit *int) error {
	var v sql.NullInt64
	if limit != nil {
		v = sql.NullInt64{Int64: int64(*limit), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(guild_id, queue_limit) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
		  queue_limit = excluded.queue_limit,
		  updated_at = unixepoch()`,
		guild, v,
	)
	return errors.Wrapf(err, "set queue limit for %s", guild)
}

func (r *Repo) SetAnnounceTracks(ctx context.Context, guild string, on bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(guild_id, announce_tracks) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
		  announce_tracks = excluded.announce_tracks,
		  updated_at = unixepoch()`,
		guild, boolToInt(on),
	)
	return errors.Wrapf(err, "set announce for %s", guild)
}

// QueueLimit reports the stored queue limit of guild. Lookup failures fall
// back to the configured default.
func (r *Repo) QueueLimit(ctx context.Context, guild string) (int, bool) {
	s, err := r.GetSettings(ctx, guild)
	if err != nil {
		zlog.Warn().Err(err).Str("guild", guild).Msg("queue limit lookup failed")
		return 0, false
	}
	if s.QueueLimit == nil {
		return 0, false
	}
	return *s.QueueLimit, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
