// Package music implements per-guild playback sessions: a serialized FIFO
// queue per guild, one track streaming at a time, and automatic advance when
// a track ends or fails.
package music

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const (
	DefaultQueueLimit     = 20
	DefaultConnectTimeout = 20 * time.Second

	eventBuffer = 64
)

type Config struct {
	// QueueLimit caps the number of waiting tracks per session. Zero or
	// less disables the cap.
	QueueLimit     int
	ConnectTimeout time.Duration
}

type Option func(*Manager)

// WithQueueLimiter lets a per-session setting override Config.QueueLimit.
func WithQueueLimiter(q QueueLimiter) Option {
	return func(m *Manager) { m.limiter = q }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

type Manager struct {
	transport Transport
	resolver  Resolver
	builder   PipelineBuilder
	limiter   QueueLimiter
	cfg       Config
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events *dispatcher

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(transport Transport, resolver Resolver, builder PipelineBuilder, cfg Config, opts ...Option) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport: transport,
		resolver:  resolver,
		builder:   builder,
		cfg:       cfg,
		log:       zlog.With().Str("component", "music").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		events:    newDispatcher(eventBuffer),
		sessions:  make(map[string]*session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Events delivers notifications in the order they were raised. The channel
// is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events.out
}

// Enqueue resolves queryOrURL and appends it to the session queue,
// connecting to ch first if the session has no connection. Playback starts
// in the background when nothing is playing; the resolved track is returned
// without waiting for it.
func (m *Manager) Enqueue(ctx context.Context, sessionID string, ch ChannelRef, queryOrURL, requestedBy string) (TrackInfo, error) {
	s := m.getOrCreate(sessionID)
	return WithLock(ctx, s.lock, func() (TrackInfo, error) {
		if s.getState() == StateShuttingDown {
			return TrackInfo{}, ErrSessionClosed
		}
		if limit := m.queueLimit(ctx, sessionID); limit > 0 && s.queueLen() >= limit {
			return TrackInfo{}, &QueueLimitError{Limit: limit}
		}
		if err := m.ensureConnected(ctx, s, ch); err != nil {
			return TrackInfo{}, err
		}

		track, err := m.resolver.Resolve(ctx, queryOrURL, requestedBy)
		if err != nil {
			return TrackInfo{}, &ResolutionError{Query: queryOrURL, Err: err}
		}
		s.push(track)
		m.log.Debug().
			Str("guild", sessionID).
			Str("track", track.Title).
			Int("queued", s.queueLen()).
			Msg("track queued")

		if s.getState() == StateIdle && s.player.State() == PlayerIdle {
			s.setState(StateLoading)
			m.scheduleAdvance(s)
		}
		return track, nil
	})
}

// Skip stops the current track; the player's idle notification advances
// the queue.
func (m *Manager) Skip(ctx context.Context, sessionID string) error {
	return m.withSession(ctx, sessionID, func(s *session) {
		s.player.Stop(true)
	})
}

func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	return m.withSession(ctx, sessionID, func(s *session) {
		s.player.Pause(true)
	})
}

func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	return m.withSession(ctx, sessionID, func(s *session) {
		s.player.Unpause()
	})
}

// Leave tears the session down: the queue is cleared, playback stops, the
// connection is destroyed and EventDisconnect is raised. Leaving an unknown
// or already closed session is a no-op.
func (m *Manager) Leave(ctx context.Context, sessionID string) error {
	return m.withSession(ctx, sessionID, m.teardown)
}

func (m *Manager) IsConnected(sessionID string) bool {
	s := m.get(sessionID)
	return s != nil && s.connection() != nil
}

// HasTracks reports whether something is playing or waiting.
func (m *Manager) HasTracks(sessionID string) bool {
	s := m.get(sessionID)
	return s != nil && s.hasTracks()
}

func (m *Manager) IsPlaying(sessionID string) bool {
	s := m.get(sessionID)
	return s != nil && s.player.State() == PlayerPlaying
}

func (m *Manager) IsPaused(sessionID string) bool {
	s := m.get(sessionID)
	return s != nil && s.player.State() == PlayerPaused
}

// NowPlaying returns the current track while the player is playing or
// paused.
func (m *Manager) NowPlaying(sessionID string) (TrackInfo, bool) {
	s := m.get(sessionID)
	if s == nil {
		return TrackInfo{}, false
	}
	switch s.player.State() {
	case PlayerPlaying, PlayerPaused:
		return s.current()
	default:
		return TrackInfo{}, false
	}
}

// Queue returns a copy of the tracks waiting after the current one.
func (m *Manager) Queue(sessionID string) []TrackInfo {
	s := m.get(sessionID)
	if s == nil {
		return nil
	}
	return s.snapshotQueue()
}

func (m *Manager) State(sessionID string) State {
	s := m.get(sessionID)
	if s == nil {
		return StateIdle
	}
	return s.getState()
}

// Channel returns the voice channel the session is connected to.
func (m *Manager) Channel(sessionID string) (ChannelRef, bool) {
	s := m.get(sessionID)
	if s == nil {
		return ChannelRef{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, s.conn != nil
}

func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close leaves every session, stops in-flight pipeline builds and closes
// the events channel.
func (m *Manager) Close(ctx context.Context) error {
	var errs error
	for _, id := range m.Sessions() {
		if err := m.Leave(ctx, id); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "leave %s", id))
		}
	}
	m.cancel()
	m.events.close()
	return errs
}

func (m *Manager) get(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) getOrCreate(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := newSession(id, m.transport.NewPlayer(id))
	s.player.SetListener(&playerHooks{m: m, s: s})
	m.sessions[id] = s
	return s
}

func (m *Manager) remove(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
}

func (m *Manager) withSession(ctx context.Context, id string, fn func(*session)) error {
	s := m.get(id)
	if s == nil {
		return nil
	}
	err := s.lock.Do(ctx, func() error {
		fn(s)
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

func (m *Manager) queueLimit(ctx context.Context, id string) int {
	if m.limiter != nil {
		if limit, ok := m.limiter.QueueLimit(ctx, id); ok {
			return limit
		}
	}
	return m.cfg.QueueLimit
}

type connectResult struct {
	conn Connection
	err  error
}

func (m *Manager) ensureConnected(ctx context.Context, s *session, ch ChannelRef) error {
	if conn := s.connection(); conn != nil {
		conn.Subscribe(s.player)
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	res := make(chan connectResult, 1)
	go func() {
		conn, err := m.transport.Connect(cctx, ch, s.id)
		res <- connectResult{conn: conn, err: err}
	}()

	var r connectResult
	select {
	case r = <-res:
	case <-cctx.Done():
		// A late connection is released as soon as it shows up.
		go func() {
			if late := <-res; late.conn != nil {
				_ = late.conn.Destroy()
			}
		}()
		r.err = cctx.Err()
	}

	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return errors.Wrapf(ErrConnectionTimeout, "join %s after %s", ch.ChannelID, m.cfg.ConnectTimeout)
		}
		return errors.Wrapf(r.err, "join %s", ch.ChannelID)
	}

	conn := r.conn
	conn.OnDisconnect(func() { m.handleDisconnect(s, conn) })
	conn.Subscribe(s.player)
	s.setConnection(conn, ch)
	m.log.Info().Str("guild", s.id).Str("channel", ch.ChannelID).Msg("voice connected")
	return nil
}

func (m *Manager) scheduleAdvance(s *session) {
	if err := s.lock.Go(func() { m.advance(s) }); err != nil {
		m.log.Debug().Str("guild", s.id).Err(err).Msg("advance dropped")
	}
}

func (m *Manager) schedulePauseSync(s *session) {
	_ = s.lock.Go(func() {
		switch s.player.State() {
		case PlayerPaused:
			if s.getState() == StatePlaying {
				s.setState(StatePaused)
			}
		case PlayerPlaying:
			if s.getState() == StatePaused {
				s.setState(StatePlaying)
			}
		}
	})
}

func (m *Manager) schedulePlaybackError(s *session, err error) {
	if lerr := s.lock.Go(func() {
		track, _ := s.current()
		m.log.Warn().Str("guild", s.id).Str("track", track.Title).Err(err).Msg("playback error")
		m.events.emit(Event{
			Type:      EventError,
			SessionID: s.id,
			Track:     track,
			Err:       &PipelineError{Track: track, Err: err},
		})
	}); lerr != nil {
		m.log.Debug().Str("guild", s.id).Err(err).Msg("playback error after session closed")
	}
}

func (m *Manager) handleDisconnect(s *session, conn Connection) {
	if err := s.lock.Go(func() {
		if s.connection() != conn {
			return
		}
		m.log.Info().Str("guild", s.id).Msg("voice connection lost")
		m.teardown(s)
	}); err != nil {
		m.log.Debug().Str("guild", s.id).Msg("disconnect after session closed")
	}
}

// advance starts the next playable track. It runs inside a lock turn and
// iterates past tracks whose pipeline cannot be built.
func (m *Manager) advance(s *session) {
	if s.getState() == StateShuttingDown {
		return
	}
	if s.player.State() != PlayerIdle {
		return
	}

	for {
		track, ok := s.pop()
		if !ok {
			s.stopPlaying()
			m.log.Debug().Str("guild", s.id).Msg("queue drained")
			return
		}

		log := m.log.With().
			Str("guild", s.id).
			Str("track", track.Title).
			Str("playback", uuid.NewString()).
			Logger()

		stream, err := m.builder.Build(m.ctx, track)
		if err == nil {
			if err = s.player.Play(stream); err != nil {
				_ = stream.Close()
			}
		}
		if err != nil {
			log.Warn().Err(err).Msg("skipping track that failed to start")
			m.events.emit(Event{
				Type:      EventError,
				SessionID: s.id,
				Track:     track,
				Err:       &PipelineError{Track: track, Err: err},
			})
			continue
		}

		s.startPlaying(track)
		log.Info().Msg("track started")
		m.events.emit(Event{Type: EventTrackStart, SessionID: s.id, Track: track})
		return
	}
}

func (m *Manager) teardown(s *session) {
	conn, ok := s.shutDown()
	if !ok {
		return
	}
	s.player.Stop(true)
	if conn != nil {
		if err := conn.Destroy(); err != nil {
			m.log.Debug().Str("guild", s.id).Err(err).Msg("destroy voice connection")
		}
	}
	s.lock.Close()
	m.remove(s)
	m.log.Info().Str("guild", s.id).Msg("session closed")
	m.events.emit(Event{Type: EventDisconnect, SessionID: s.id})
}
