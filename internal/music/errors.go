package music

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrQueueLimitReached is matched by every *QueueLimitError.
	ErrQueueLimitReached = errors.New("queue limit reached")
	// ErrConnectionTimeout is returned when the voice transport does not
	// become ready within the configured timeout.
	ErrConnectionTimeout = errors.New("voice connection timed out")
	// ErrSessionClosed is returned for work submitted to a session that is
	// shutting down or already gone.
	ErrSessionClosed = errors.New("session closed")
)

type QueueLimitError struct {
	Limit int
}

func (e *QueueLimitError) Error() string {
	return fmt.Sprintf("Queue limit reached (%d)", e.Limit)
}

func (e *QueueLimitError) Unwrap() error { return ErrQueueLimitReached }

type ResolutionError struct {
	Query string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve %q: %v", e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PipelineError reports a stream that failed to build or broke during
// playback. It is only delivered through EventError.
type PipelineError struct {
	Track TrackInfo
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Track.Title == "" && e.Track.CanonicalURL == "" {
		return fmt.Sprintf("playback failed: %v", e.Err)
	}
	return fmt.Sprintf("playback of %q failed: %v", e.Track.String(), e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
