// Package spotify maps Spotify track links to a search query so they can be
// played from YouTube.
package spotify

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

type Track struct {
	Name   string
	Artist string
	// Link is the open.spotify.com URL of the track, when known.
	Link string
}

// Query is the search text used to find the track elsewhere.
func (t Track) Query() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Artist + " - " + t.Name
}

type trackAPI interface {
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
	Search(ctx context.Context, query string, t spotify.SearchType, opts ...spotify.RequestOption) (*spotify.SearchResult, error)
}

const trackURL = "https://open.spotify.com/track/"

type Client struct {
	raw trackAPI
}

func NewClientCredentials(clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(context.Background())
	return &Client{raw: spotify.New(httpClient, spotify.WithRetry(true))}
}

// ParseID accepts spotify: URIs and open.spotify.com links, including
// localized /intl-xx/ paths.
func ParseID(raw string) (typ string, id spotify.ID, err error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 && parts[2] != "" {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", errors.New("invalid spotify URI")
	}
	if !IsLink(raw) {
		return "", "", errors.New("not a spotify URL")
	}
	u, _ := url.Parse(raw)
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", errors.New("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track", "artist":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", errors.Newf("unsupported spotify type %q", parts[0])
}

func IsLink(raw string) bool {
	if strings.HasPrefix(raw, "spotify:") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == "open.spotify.com" || u.Host == "www.open.spotify.com"
}

func (c *Client) GetTrack(ctx context.Context, id spotify.ID) (Track, error) {
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return Track{}, errors.Wrapf(err, "spotify track %s", id)
	}
	return trackOf(t), nil
}

// SearchTracks returns up to limit tracks matching query.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	res, err := c.raw.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "spotify search")
	}
	if res.Tracks == nil {
		return nil, nil
	}
	out := make([]Track, 0, len(res.Tracks.Tracks))
	for i := range res.Tracks.Tracks {
		out = append(out, trackOf(&res.Tracks.Tracks[i]))
	}
	return out, nil
}

func trackOf(t *spotify.FullTrack) Track {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return Track{Name: t.Name, Artist: artist, Link: trackURL + t.ID.String()}
}

// Translate turns a Spotify track link into a search query. Links from
// other sites are not handled; other Spotify link types are rejected.
func (c *Client) Translate(ctx context.Context, link string) (string, bool, error) {
	if !IsLink(link) {
		return "", false, nil
	}
	typ, id, err := ParseID(link)
	if err != nil {
		return "", false, err
	}
	if typ != "track" {
		return "", false, errors.Newf("only spotify track links can be played, got %s", typ)
	}
	t, err := c.GetTrack(ctx, id)
	if err != nil {
		return "", false, err
	}
	return t.Query(), true, nil
}
