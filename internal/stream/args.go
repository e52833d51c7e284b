package stream

import (
	"strings"

	"github.com/sonroyaalmerol/melodeck/internal/utils"
)

const youtubeReferer = "https://www.youtube.com/"

// encodeArgs produces Ogg Opus, 48 kHz stereo, 20 ms frames on stdout.
func encodeArgs(bitrate string) []string {
	return []string{
		"-af", "aresample=async=1:first_pts=0",
		"-ar", "48000",
		"-ac", "2",
		"-c:a", "libopus",
		"-b:a", bitrate,
		"-vbr", "on",
		"-compression_level", "0",
		"-frame_duration", "20",
		"-f", "ogg",
		"pipe:1",
	}
}

func copyArgs() []string {
	return []string{"-c:a", "copy", "-f", "ogg", "pipe:1"}
}

func pipeTranscodeArgs(bitrate string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
	}
	return append(args, encodeArgs(bitrate)...)
}

func directArgs(url, codec, bitrate, userAgent string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-user_agent", userAgent,
		"-referer", youtubeReferer,
		"-headers", utils.FFmpegHeaders(map[string]string{"Referer": youtubeReferer}),
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", url,
		"-vn",
	}
	if isOpus(codec) {
		return append(args, copyArgs()...)
	}
	return append(args, encodeArgs(bitrate)...)
}

func isOpus(codec string) bool {
	return strings.Contains(strings.ToLower(codec), "opus")
}
