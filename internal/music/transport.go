package music

import (
	"context"
	"io"
)

type PlayerState int

const (
	PlayerIdle PlayerState = iota
	PlayerPlaying
	PlayerPaused
)

func (s PlayerState) String() string {
	switch s {
	case PlayerIdle:
		return "idle"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlayerListener receives player notifications. Implementations must not
// block; the manager only schedules lock turns from them.
type PlayerListener interface {
	OnStateChange(oldState, newState PlayerState)
	OnError(err error)
}

// Player consumes one encoded stream at a time.
type Player interface {
	// Play starts consuming stream, replacing anything already playing.
	// The player owns stream and closes it when playback ends.
	Play(stream io.ReadCloser) error
	Stop(force bool) bool
	Pause(force bool) bool
	Unpause() bool
	State() PlayerState
	SetListener(l PlayerListener)
}

// Connection is a live link to one voice channel.
type Connection interface {
	Subscribe(p Player)
	Destroy() error
	// OnDisconnect registers fn to run when the transport reports that the
	// link was lost without Destroy being called.
	OnDisconnect(fn func())
}

type ChannelRef struct {
	GuildID   string
	ChannelID string
}

type Transport interface {
	Connect(ctx context.Context, ch ChannelRef, sessionID string) (Connection, error)
	NewPlayer(sessionID string) Player
}

type Resolver interface {
	Resolve(ctx context.Context, queryOrURL, requestedBy string) (TrackInfo, error)
}

// PipelineBuilder turns a track into an Ogg Opus byte stream.
type PipelineBuilder interface {
	Build(ctx context.Context, track TrackInfo) (io.ReadCloser, error)
}

// QueueLimiter supplies a per-session queue limit. ok is false when the
// session has no override and the configured default applies.
type QueueLimiter interface {
	QueueLimit(ctx context.Context, sessionID string) (limit int, ok bool)
}
