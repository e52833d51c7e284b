// Package autocomplete produces /play suggestions from YouTube search
// completions and, when configured, Spotify track search.
package autocomplete

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/melodeck/internal/spotify"
	"github.com/sonroyaalmerol/melodeck/internal/utils"
)

const (
	youtubeEndpoint = "https://suggestqueries.google.com/complete/search"
	// Discord caps choice names and values at 100 characters.
	maxChoiceLen = 100
	// DefaultLimit is the most choices Discord accepts.
	DefaultLimit = 25

	// Discord sends an autocomplete interaction per keystroke.
	fetchRate  = 5
	fetchBurst = 10
)

// ErrThrottled is returned when completions are requested faster than the
// upstream endpoint is queried.
var ErrThrottled = errors.New("suggestions throttled")

type TrackSearcher interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]spotify.Track, error)
}

type Suggester struct {
	client   *http.Client
	endpoint string
	spotify  TrackSearcher
	limiter  *rate.Limiter
}

// New returns a suggester. sp may be nil to leave Spotify out.
func New(sp TrackSearcher) *Suggester {
	return &Suggester{
		client:   &http.Client{Timeout: 2 * time.Second},
		endpoint: youtubeEndpoint,
		spotify:  sp,
		limiter:  rate.NewLimiter(rate.Limit(fetchRate), fetchBurst),
	}
}

func (s *Suggester) YouTube(ctx context.Context, query string) ([]string, error) {
	if !s.limiter.Allow() {
		return nil, ErrThrottled
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "suggest endpoint")
	}
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build suggest request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch suggestions")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("suggestions: unexpected status %d", resp.StatusCode)
	}

	// The response is ["query", ["suggestion", ...], ...].
	var parsed []any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decode suggestions")
	}
	if len(parsed) < 2 {
		return nil, nil
	}
	arr, ok := parsed[1].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if str, ok := v.(string); ok && str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// Choices merges YouTube completions with Spotify tracks, giving Spotify at
// most half of the slots. Lookup failures only shrink the result.
func (s *Suggester) Choices(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice {
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}

	yt, err := s.YouTube(ctx, query)
	if err != nil {
		zlog.Debug().Err(err).Str("query", query).Msg("youtube suggestions failed")
	}

	var tracks []spotify.Track
	if s.spotify != nil {
		tracks, err = s.spotify.SearchTracks(ctx, query, limit/2)
		if err != nil {
			zlog.Debug().Err(err).Str("query", query).Msg("spotify suggestions failed")
		}
	}

	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, limit)
	for _, v := range yt {
		if len(out) == limit-len(tracks) {
			break
		}
		if len(v) > maxChoiceLen {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{
			Name:  utils.Truncate("YouTube: "+v, maxChoiceLen),
			Value: v,
		})
	}
	for _, t := range tracks {
		if len(out) == limit {
			break
		}
		if t.Link == "" || len(t.Link) > maxChoiceLen {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{
			Name:  utils.Truncate("Spotify: 🎵 "+t.Query(), maxChoiceLen),
			Value: t.Link,
		})
	}
	return out
}
