package stream

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/melodeck/internal/music"
)

func shell(script string, args ...string) CommandFunc {
	return func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", append([]string{"-c", script}, args...)...)
	}
}

func shellDownload(script string) DownloadFunc {
	return func(ctx context.Context, url string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script, url)
	}
}

type recorder struct {
	mu   sync.Mutex
	name string
	args []string
}

func (r *recorder) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	r.mu.Lock()
	r.name = name
	r.args = append([]string(nil), args...)
	r.mu.Unlock()
	return exec.CommandContext(ctx, "true")
}

type fakeProber struct {
	codec string
	calls int
}

func (p *fakeProber) ProbeCodec(context.Context, string) (string, error) {
	p.calls++
	return p.codec, nil
}

func hasSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j := range seq {
			if args[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

var track = music.TrackInfo{
	Title:        "song",
	CanonicalURL: "https://www.youtube.com/watch?v=abc",
}

func TestPipeStrategyStreamsDownloadThroughTranscoder(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	b.download = shellDownload(`printf 'media:%s' "$0"`)
	b.command = shell(`cat`)

	rc, err := b.Build(context.Background(), track)
	require.NoError(t, err)
	defer rc.Close()

	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "media:"+track.CanonicalURL, string(out))
}

func TestFailingStageSurfacesProcessError(t *testing.T) {
	tests := []struct {
		name      string
		download  string
		transcode string
		stage     string
		stderr    string
	}{
		{
			name:      "transcoder exits non-zero",
			download:  `printf data`,
			transcode: `cat >/dev/null; echo 'Invalid data found' >&2; exit 3`,
			stage:     "ffmpeg",
			stderr:    "Invalid data found",
		},
		{
			name:      "downloader exits non-zero",
			download:  `echo 'ERROR: Video unavailable' >&2; exit 1`,
			transcode: `cat`,
			stage:     "yt-dlp",
			stderr:    "ERROR: Video unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(Options{}, nil)
			b.download = shellDownload(tt.download)
			b.command = shell(tt.transcode)

			rc, err := b.Build(context.Background(), track)
			require.NoError(t, err)
			defer rc.Close()

			_, err = io.ReadAll(rc)
			require.Error(t, err)
			var perr *ProcessError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.stage, perr.Stage)
			assert.Equal(t, tt.stderr, perr.Stderr)
		})
	}
}

func TestStartFailureReportsStage(t *testing.T) {
	b := NewBuilder(Options{FFmpegPath: "/nonexistent/ffmpeg"}, nil)
	b.download = shellDownload(`printf data`)

	_, err := b.Build(context.Background(), track)
	require.Error(t, err)
	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "ffmpeg", perr.Stage)
}

func TestCloseKillsRunningStages(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	b.download = shellDownload(`exec sleep 30`)
	b.command = shell(`cat`)

	rc, err := b.Build(context.Background(), track)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = rc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not reap the pipeline")
	}
	assert.NoError(t, rc.Close())
}

func TestDirectStrategy(t *testing.T) {
	tests := []struct {
		name      string
		codec     string
		probed    string
		wantCopy  bool
		wantProbe bool
	}{
		{name: "opus is copied", codec: "opus", wantCopy: true},
		{name: "other codecs are re-encoded", codec: "mp4a.40.2"},
		{name: "unknown codec is probed", probed: "opus", wantCopy: true, wantProbe: true},
		{name: "probe without result re-encodes", wantProbe: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{codec: tt.probed}
			rec := &recorder{}
			b := NewBuilder(Options{Strategy: StrategyDirect, FFmpegPath: "ffmpeg-bin"}, prober)
			b.command = rec.command
			b.download = func(context.Context, string) *exec.Cmd {
				t.Fatal("direct strategy must not download")
				return nil
			}

			tr := track
			tr.DirectAudioURL = "https://rr1.googlevideo.com/videoplayback?id=1"
			tr.AudioCodec = tt.codec
			rc, err := b.Build(context.Background(), tr)
			require.NoError(t, err)
			_, _ = io.ReadAll(rc)
			require.NoError(t, rc.Close())

			assert.Equal(t, "ffmpeg-bin", rec.name)
			assert.True(t, hasSeq(rec.args, "-i", tr.DirectAudioURL, "-vn"))
			assert.True(t, hasSeq(rec.args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5"))
			assert.True(t, hasSeq(rec.args, "-referer", youtubeReferer))
			assert.Equal(t, tt.wantCopy, hasSeq(rec.args, "-c:a", "copy"))
			assert.Equal(t, !tt.wantCopy, hasSeq(rec.args, "-c:a", "libopus"))
			assert.Equal(t, tt.wantProbe, prober.calls == 1)
		})
	}
}

// stalledProber never answers on its own, like a CDN that accepts the
// connection and then goes quiet.
type stalledProber struct {
	err chan error
}

func (p *stalledProber) ProbeCodec(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	p.err <- ctx.Err()
	return "", ctx.Err()
}

func TestDirectStrategyProbeIsBounded(t *testing.T) {
	prober := &stalledProber{err: make(chan error, 1)}
	rec := &recorder{}
	b := NewBuilder(Options{Strategy: StrategyDirect, ProbeTimeout: 20 * time.Millisecond}, prober)
	b.command = rec.command

	tr := track
	tr.DirectAudioURL = "https://rr1.googlevideo.com/videoplayback?id=1"

	done := make(chan struct{})
	go func() {
		defer close(done)
		rc, err := b.Build(context.Background(), tr)
		if assert.NoError(t, err) {
			_, _ = io.ReadAll(rc)
			assert.NoError(t, rc.Close())
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("build waited on a stalled probe")
	}

	assert.ErrorIs(t, <-prober.err, context.DeadlineExceeded)
	assert.True(t, hasSeq(rec.args, "-c:a", "libopus"))
}

func TestNewBuilderDefaultsProbeTimeout(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	assert.Equal(t, DefaultProbeTimeout, b.opts.ProbeTimeout)
}

func TestDirectStrategyWithoutURLUsesPipe(t *testing.T) {
	b := NewBuilder(Options{Strategy: StrategyDirect}, nil)
	b.download = shellDownload(`printf piped`)
	b.command = shell(`cat`)

	rc, err := b.Build(context.Background(), track)
	require.NoError(t, err)
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "piped", string(out))
}

func TestBuildWithoutURL(t *testing.T) {
	b := NewBuilder(Options{}, nil)
	_, err := b.Build(context.Background(), music.TrackInfo{Title: "nothing"})
	assert.Error(t, err)
}

func TestTranscodeArgs(t *testing.T) {
	args := pipeTranscodeArgs("128k")
	assert.Equal(t, []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0", "-vn"}, args[:6])
	for _, seq := range [][]string{
		{"-c:a", "libopus"},
		{"-b:a", "128k"},
		{"-vbr", "on"},
		{"-compression_level", "0"},
		{"-frame_duration", "20"},
		{"-f", "ogg", "pipe:1"},
		{"-af", "aresample=async=1:first_pts=0"},
	} {
		assert.True(t, hasSeq(args, seq...), strings.Join(seq, " "))
	}
}

func TestIsOpus(t *testing.T) {
	assert.True(t, isOpus("opus"))
	assert.True(t, isOpus("OPUS"))
	assert.False(t, isOpus("mp4a.40.2"))
	assert.False(t, isOpus(""))
}
