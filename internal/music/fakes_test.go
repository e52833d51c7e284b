package music

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

type fakePlayer struct {
	mu       sync.Mutex
	state    PlayerState
	listener PlayerListener
	plays    int
}

func (p *fakePlayer) transition(allowed func(PlayerState) bool, to PlayerState) bool {
	p.mu.Lock()
	old := p.state
	if !allowed(old) {
		p.mu.Unlock()
		return false
	}
	p.state = to
	l := p.listener
	p.mu.Unlock()
	if l != nil && old != to {
		l.OnStateChange(old, to)
	}
	return true
}

func (p *fakePlayer) Play(stream io.ReadCloser) error {
	_ = stream.Close()
	p.mu.Lock()
	p.plays++
	p.mu.Unlock()
	p.transition(func(PlayerState) bool { return true }, PlayerPlaying)
	return nil
}

func (p *fakePlayer) Stop(bool) bool {
	return p.transition(func(s PlayerState) bool { return s != PlayerIdle }, PlayerIdle)
}

func (p *fakePlayer) Pause(bool) bool {
	return p.transition(func(s PlayerState) bool { return s == PlayerPlaying }, PlayerPaused)
}

func (p *fakePlayer) Unpause() bool {
	return p.transition(func(s PlayerState) bool { return s == PlayerPaused }, PlayerPlaying)
}

func (p *fakePlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) SetListener(l PlayerListener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// finish simulates the stream reaching its end.
func (p *fakePlayer) finish() { p.Stop(false) }

func (p *fakePlayer) fail(err error) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l.OnError(err)
	}
	p.finish()
}

type fakeConn struct {
	destroyed  atomic.Int32
	subscribed atomic.Int32

	mu           sync.Mutex
	onDisconnect []func()
}

func (c *fakeConn) Subscribe(Player) { c.subscribed.Add(1) }

func (c *fakeConn) Destroy() error {
	c.destroyed.Add(1)
	return nil
}

func (c *fakeConn) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *fakeConn) dropped() {
	c.mu.Lock()
	fns := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeTransport struct {
	block atomic.Bool

	mu      sync.Mutex
	conns   []*fakeConn
	players map[string]*fakePlayer
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{players: make(map[string]*fakePlayer)}
}

func (t *fakeTransport) Connect(ctx context.Context, _ ChannelRef, _ string) (Connection, error) {
	if t.block.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := &fakeConn{}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) NewPlayer(sessionID string) Player {
	p := &fakePlayer{}
	t.mu.Lock()
	t.players[sessionID] = p
	t.mu.Unlock()
	return p
}

func (t *fakeTransport) player(sessionID string) *fakePlayer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.players[sessionID]
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

type fakeResolver struct {
	delay time.Duration
	fail  map[string]error
	// gate, when set, holds every Resolve until it is closed.
	gate chan struct{}

	mu        sync.Mutex
	calls     []string
	active    int
	maxActive int
}

func (r *fakeResolver) Resolve(_ context.Context, q, requestedBy string) (TrackInfo, error) {
	r.mu.Lock()
	r.calls = append(r.calls, q)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	if err, ok := r.fail[q]; ok {
		return TrackInfo{}, err
	}
	return TrackInfo{
		Title:        q,
		CanonicalURL: "https://www.youtube.com/watch?v=" + q,
		RequestedBy:  requestedBy,
	}, nil
}

func (r *fakeResolver) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeBuilder struct {
	fail map[string]bool

	builds atomic.Int32
}

func (b *fakeBuilder) Build(_ context.Context, track TrackInfo) (io.ReadCloser, error) {
	b.builds.Add(1)
	if b.fail[track.Title] {
		return nil, errors.Newf("build %s: ffmpeg not found", track.Title)
	}
	return io.NopCloser(strings.NewReader("OggS")), nil
}

type fakeLimiter struct {
	limit int
	ok    bool
}

func (l fakeLimiter) QueueLimit(context.Context, string) (int, bool) {
	return l.limit, l.ok
}
