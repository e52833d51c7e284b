package resolver

import (
	"bufio"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

type ytdlpFormat struct {
	URL    string  `json:"url"`
	ACodec string  `json:"acodec"`
	ABR    float64 `json:"abr"`
}

type ytdlpThumbnail struct {
	URL string `json:"url"`
}

// ytdlpInfo is the subset of yt-dlp's info JSON the resolver reads.
type ytdlpInfo struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	FullTitle        string           `json:"fulltitle"`
	WebpageURL       string           `json:"webpage_url"`
	OriginalURL      string           `json:"original_url"`
	Thumbnail        string           `json:"thumbnail"`
	Thumbnails       []ytdlpThumbnail `json:"thumbnails"`
	URL              string           `json:"url"`
	ACodec           string           `json:"acodec"`
	RequestedFormats []ytdlpFormat    `json:"requested_formats"`
	Formats          []ytdlpFormat    `json:"formats"`
	Entries          []*ytdlpInfo     `json:"entries"`
}

// parseInfo decodes the first JSON document printed by yt-dlp. Searches
// print one document per line; single videos print one document.
func parseInfo(out string) (*ytdlpInfo, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64<<10), 32<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var info ytdlpInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, errors.Wrap(err, "parse yt-dlp json")
		}
		return &info, nil
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read yt-dlp output")
	}
	return nil, errors.New("yt-dlp returned no results")
}

// first unwraps playlist and search containers to their first entry.
func (i *ytdlpInfo) first() (*ytdlpInfo, bool) {
	if len(i.Entries) == 0 {
		return i, true
	}
	for _, e := range i.Entries {
		if e != nil {
			return e, true
		}
	}
	return nil, false
}

func (i *ytdlpInfo) title() string {
	if i.Title != "" {
		return i.Title
	}
	return i.FullTitle
}

func (i *ytdlpInfo) canonicalURL(fallback string) string {
	switch {
	case i.WebpageURL != "":
		return i.WebpageURL
	case i.OriginalURL != "":
		return i.OriginalURL
	default:
		return fallback
	}
}

func (i *ytdlpInfo) thumbnailURL() string {
	if i.Thumbnail != "" {
		return i.Thumbnail
	}
	// yt-dlp lists thumbnails from lowest to highest preference.
	for j := len(i.Thumbnails) - 1; j >= 0; j-- {
		if i.Thumbnails[j].URL != "" {
			return i.Thumbnails[j].URL
		}
	}
	return ""
}

// audio picks a direct audio URL and its codec: the selected top-level
// format, then the first requested format, then the highest-bitrate format
// that carries audio.
func (i *ytdlpInfo) audio() (url, codec string) {
	if i.URL != "" {
		return i.URL, normalizeCodec(i.ACodec)
	}
	if len(i.RequestedFormats) > 0 && i.RequestedFormats[0].URL != "" {
		rf := i.RequestedFormats[0]
		return rf.URL, normalizeCodec(rf.ACodec)
	}
	var audio []ytdlpFormat
	for _, f := range i.Formats {
		if f.URL != "" && normalizeCodec(f.ACodec) != "" {
			audio = append(audio, f)
		}
	}
	if len(audio) == 0 {
		return "", ""
	}
	sort.SliceStable(audio, func(a, b int) bool { return audio[a].ABR > audio[b].ABR })
	return audio[0].URL, normalizeCodec(audio[0].ACodec)
}

func normalizeCodec(c string) string {
	if c == "none" {
		return ""
	}
	return c
}
