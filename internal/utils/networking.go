package utils

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
)

func RandomUserAgent() string {
	// Chrome majors from roughly the last six months.
	const minMajor = 132
	const maxMajor = 138

	major := rand.IntN(maxMajor-minMajor+1) + minMajor
	return fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
		major,
	)
}

var defaultMediaHeaders = map[string]string{
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.9",
	"Origin":          "https://www.youtube.com",
	"Connection":      "keep-alive",
}

// FFmpegHeaders builds the CRLF-joined value of ffmpeg's -headers option
// from the browser-like defaults overlaid with extra. Keys are canonicalized
// and sorted. User-Agent is left out; ffmpeg takes it via -user_agent.
func FFmpegHeaders(extra map[string]string) string {
	h := maps.Clone(defaultMediaHeaders)
	for k, v := range extra {
		h[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
	}
	delete(h, "User-Agent")

	keys := slices.Sorted(maps.Keys(h))
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, strings.TrimSpace(h[k]))
	}
	return b.String()
}
