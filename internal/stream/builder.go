// Package stream builds the external-process pipelines that turn a resolved
// track into an Ogg Opus byte stream.
package stream

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	ytdlp "github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/music"
	"github.com/sonroyaalmerol/melodeck/internal/utils"
)

type Strategy string

const (
	// StrategyPipe downloads with yt-dlp and pipes the bytes into ffmpeg.
	StrategyPipe Strategy = "pipe"
	// StrategyDirect lets ffmpeg read the track's direct audio URL.
	StrategyDirect Strategy = "direct"

	DefaultBitrate = "96k"
	DefaultFormat  = "bestaudio[acodec=opus]/bestaudio/best"

	// DefaultProbeTimeout bounds a codec probe. It runs while the session
	// lock is held.
	DefaultProbeTimeout = 5 * time.Second
)

type Options struct {
	Strategy    Strategy
	Bitrate     string
	Format      string
	CookiesPath string
	FFmpegPath  string
	// ProbeTimeout defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration
}

// CommandFunc creates a process bound to ctx.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// DownloadFunc creates the process that writes the media of url to stdout.
type DownloadFunc func(ctx context.Context, url string) *exec.Cmd

// CodecProber reports the audio codec behind a direct URL.
type CodecProber interface {
	ProbeCodec(ctx context.Context, url string) (string, error)
}

type Builder struct {
	opts     Options
	prober   CodecProber
	command  CommandFunc
	download DownloadFunc
}

func NewBuilder(opts Options, prober CodecProber) *Builder {
	if opts.Strategy == "" {
		opts.Strategy = StrategyPipe
	}
	if opts.Bitrate == "" {
		opts.Bitrate = DefaultBitrate
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	b := &Builder{
		opts:    opts,
		prober:  prober,
		command: utils.ExecWith,
	}
	b.download = b.ytdlpDownload
	return b
}

// Build starts the pipeline for track. The returned stream stays bound to
// ctx; cancelling ctx kills the processes.
func (b *Builder) Build(ctx context.Context, track music.TrackInfo) (io.ReadCloser, error) {
	s, err := b.start(ctx, track)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Builder) start(ctx context.Context, track music.TrackInfo) (*Stream, error) {
	if b.opts.Strategy == StrategyDirect && track.HasDirectAudio() {
		codec := track.AudioCodec
		if codec == "" && b.prober != nil {
			codec = b.probe(ctx, track)
		}
		return b.direct(ctx, track.DirectAudioURL, codec)
	}
	if track.CanonicalURL == "" {
		return nil, errors.Newf("track %q has no url", track.Title)
	}
	return b.pipe(ctx, track.CanonicalURL)
}

// probe returns "" when the codec cannot be determined in time.
func (b *Builder) probe(ctx context.Context, track music.TrackInfo) string {
	ctx, cancel := context.WithTimeout(ctx, b.opts.ProbeTimeout)
	defer cancel()
	codec, err := b.prober.ProbeCodec(ctx, track.DirectAudioURL)
	if err != nil {
		zlog.Debug().Err(err).Str("track", track.Title).Msg("codec probe failed")
		return ""
	}
	return codec
}

func (b *Builder) pipe(ctx context.Context, url string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "create pipe")
	}
	// The children hold their own copies once started.
	defer pr.Close()
	defer pw.Close()

	dl := b.download(ctx, url)
	dl.Stdout = pw
	ff := b.command(ctx, b.opts.FFmpegPath, pipeTranscodeArgs(b.opts.Bitrate)...)
	ff.Stdin = pr

	return startStages(cancel, newStage("yt-dlp", dl), newStage("ffmpeg", ff))
}

func (b *Builder) direct(ctx context.Context, url, codec string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	args := directArgs(url, codec, b.opts.Bitrate, utils.RandomUserAgent())
	ff := b.command(ctx, b.opts.FFmpegPath, args...)
	return startStages(cancel, newStage("ffmpeg", ff))
}

func (b *Builder) ytdlpDownload(ctx context.Context, url string) *exec.Cmd {
	cmd := ytdlp.New().
		Format(b.opts.Format).
		NoPlaylist().
		NoPart().
		NoWarnings().
		Quiet().
		NoSimulate().
		Output("-")
	if b.opts.CookiesPath != "" {
		cmd = cmd.Cookies(b.opts.CookiesPath)
	}
	return cmd.BuildCommand(ctx, url)
}
