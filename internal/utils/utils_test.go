package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFFmpegHeaders(t *testing.T) {
	got := FFmpegHeaders(map[string]string{
		"referer":    " https://www.youtube.com/ ",
		"User-Agent": "ignored",
	})

	lines := strings.Split(strings.TrimSuffix(got, "\r\n"), "\r\n")
	assert.Equal(t, []string{
		"Accept: */*",
		"Accept-Language: en-US,en;q=0.9",
		"Connection: keep-alive",
		"Origin: https://www.youtube.com",
		"Referer: https://www.youtube.com/",
	}, lines)
}

func TestRandomUserAgent(t *testing.T) {
	ua := RandomUserAgent()
	assert.True(t, strings.HasPrefix(ua, "Mozilla/5.0"))
	assert.Contains(t, ua, "Chrome/13")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"longer title", 6, "longe…"},
		{"héllo wörld", 5, "héll…"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.n), tt.in)
	}
}

func TestEscapeMd(t *testing.T) {
	assert.Equal(t, `\*bold\* \_it\_`, EscapeMd("*bold* _it_"))
}
