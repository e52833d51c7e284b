// Package cookies keeps a yt-dlp cookie jar fresh by periodically running
// yt-dlp against a known video with the jar attached.
package cookies

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"
)

const (
	DefaultInterval = 6 * time.Hour
	MinInterval     = 5 * time.Minute
	DefaultURL      = "https://www.youtube.com/watch?v=BaW_jenozKc"
)

// RunFunc performs one refresh.
type RunFunc func(ctx context.Context, cookiesPath, url string) error

type Refresher struct {
	path     string
	url      string
	interval time.Duration
	run      RunFunc

	running atomic.Bool
	stopped atomic.Bool

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// New returns a refresher for the cookie file at path. Intervals below
// MinInterval are raised to it.
func New(path, url string, interval time.Duration) *Refresher {
	if url == "" {
		url = DefaultURL
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Refresher{
		path:     path,
		url:      url,
		interval: interval,
		run:      ytdlpRefresh,
		done:     make(chan struct{}),
	}
}

func (r *Refresher) Interval() time.Duration { return r.interval }

// Start refreshes once immediately and then on every tick until Stop is
// called or ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	zlog.Info().
		Str("cookies", r.path).
		Str("url", r.url).
		Dur("interval", r.interval).
		Msg("cookie refresher started")

	go func() {
		defer close(r.done)
		t := time.NewTicker(r.interval)
		defer t.Stop()

		go r.RefreshOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				go r.RefreshOnce(ctx)
			}
		}
	}()
}

// Stop halts the ticker. A refresh already in flight is cancelled.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		if r.cancel == nil {
			close(r.done)
			return
		}
		r.cancel()
		<-r.done
		zlog.Info().Msg("cookie refresher stopped")
	})
}

// RefreshOnce runs a single refresh. It reports false without running when
// the refresher is stopped or another refresh is still in flight.
func (r *Refresher) RefreshOnce(ctx context.Context) bool {
	if r.stopped.Load() || !r.running.CompareAndSwap(false, true) {
		return false
	}
	defer r.running.Store(false)

	if err := r.run(ctx, r.path, r.url); err != nil {
		if ctx.Err() == nil {
			zlog.Warn().Err(err).Str("cookies", r.path).Str("url", r.url).Msg("yt-dlp cookie refresh failed")
		}
		return true
	}
	zlog.Info().Str("cookies", r.path).Msg("yt-dlp cookies refreshed")
	return true
}

func ytdlpRefresh(ctx context.Context, cookiesPath, url string) error {
	_, err := ytdlp.New().
		Quiet().
		NoWarnings().
		NoPlaylist().
		Cookies(cookiesPath).
		Run(ctx, "--skip-download", url)
	if err != nil {
		return errors.Wrap(err, "yt-dlp refresh")
	}
	return nil
}
