// Package resolver turns user queries and links into playable tracks using
// yt-dlp metadata.
package resolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	ytdlp "github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/music"
)

const (
	searchPrefix  = "ytsearch1:"
	defaultFormat = "bestaudio[acodec=opus]/bestaudio/best"
)

// LinkTranslator rewrites links from catalogs yt-dlp cannot play into a
// search query. ok is false for links the translator does not handle.
type LinkTranslator interface {
	Translate(ctx context.Context, link string) (query string, ok bool, err error)
}

type Options struct {
	Format      string
	CookiesPath string
}

type YTDLP struct {
	opts        Options
	translators []LinkTranslator
	dump        func(ctx context.Context, input string) (string, error)
}

func New(opts Options, translators ...LinkTranslator) *YTDLP {
	if opts.Format == "" {
		opts.Format = defaultFormat
	}
	r := &YTDLP{opts: opts, translators: translators}
	r.dump = r.dumpJSON
	return r
}

func (r *YTDLP) Resolve(ctx context.Context, queryOrURL, requestedBy string) (music.TrackInfo, error) {
	q := strings.TrimSpace(queryOrURL)
	if q == "" {
		return music.TrackInfo{}, errors.New("empty query")
	}

	input, err := r.input(ctx, q)
	if err != nil {
		return music.TrackInfo{}, err
	}

	out, err := r.dump(ctx, input)
	if err != nil {
		return music.TrackInfo{}, err
	}
	info, err := parseInfo(out)
	if err != nil {
		return music.TrackInfo{}, err
	}
	entry, ok := info.first()
	if !ok {
		return music.TrackInfo{}, errors.Newf("no results for %q", q)
	}

	fallback := ""
	if IsURL(q) {
		fallback = q
	}
	track := music.TrackInfo{
		Title:        entry.title(),
		CanonicalURL: entry.canonicalURL(fallback),
		ThumbnailURL: entry.thumbnailURL(),
		RequestedBy:  requestedBy,
	}
	track.DirectAudioURL, track.AudioCodec = entry.audio()
	if track.Title == "" {
		track.Title = q
	}
	if track.CanonicalURL == "" {
		return music.TrackInfo{}, errors.Newf("no playable url for %q", q)
	}

	zlog.Debug().
		Str("query", q).
		Str("track", track.Title).
		Str("codec", track.AudioCodec).
		Msg("resolved track")
	return track, nil
}

// input maps a query to the argument handed to yt-dlp.
func (r *YTDLP) input(ctx context.Context, q string) (string, error) {
	if !IsURL(q) {
		return searchPrefix + q, nil
	}
	for _, t := range r.translators {
		search, ok, err := t.Translate(ctx, q)
		if err != nil {
			return "", errors.Wrapf(err, "translate %s", q)
		}
		if ok {
			return searchPrefix + search, nil
		}
	}
	return q, nil
}

func (r *YTDLP) dumpJSON(ctx context.Context, input string) (string, error) {
	cmd := ytdlp.New().
		Format(r.opts.Format).
		NoPlaylist().
		NoWarnings().
		DumpJSON()
	if r.opts.CookiesPath != "" {
		cmd = cmd.Cookies(r.opts.CookiesPath)
	}
	res, err := cmd.Run(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, "yt-dlp")
	}
	return res.Stdout, nil
}

// IsURL reports whether s is an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// IsYouTubeURL reports whether s links to a YouTube page.
func IsYouTubeURL(s string) bool {
	if !IsURL(s) {
		return false
	}
	u, _ := url.Parse(strings.TrimSpace(s))
	return youtubeHosts[strings.ToLower(u.Hostname())]
}
