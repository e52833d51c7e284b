package music

import "sync"

// State is the session lifecycle as seen by the manager.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// session holds the playback state of one guild. Every mutation happens
// inside a lock turn; mu only guards the fields against concurrent queries.
type session struct {
	id     string
	lock   *SessionLock
	player Player

	mu         sync.Mutex
	conn       Connection
	channel    ChannelRef
	queue      []TrackInfo
	nowPlaying *TrackInfo
	state      State
}

func newSession(id string, player Player) *session {
	return &session{
		id:     id,
		lock:   NewSessionLock(),
		player: player,
		state:  StateIdle,
	}
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) connection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *session) setConnection(conn Connection, ch ChannelRef) {
	s.mu.Lock()
	s.conn = conn
	s.channel = ch
	s.mu.Unlock()
}

func (s *session) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *session) push(t TrackInfo) {
	s.mu.Lock()
	s.queue = append(s.queue, t)
	s.mu.Unlock()
}

func (s *session) pop() (TrackInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return TrackInfo{}, false
	}
	t := s.queue[0]
	s.queue[0] = TrackInfo{}
	s.queue = s.queue[1:]
	return t, true
}

func (s *session) snapshotQueue() []TrackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackInfo, len(s.queue))
	copy(out, s.queue)
	return out
}

func (s *session) current() (TrackInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowPlaying == nil {
		return TrackInfo{}, false
	}
	return *s.nowPlaying, true
}

func (s *session) hasTracks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowPlaying != nil || len(s.queue) > 0
}

func (s *session) startPlaying(t TrackInfo) {
	s.mu.Lock()
	s.nowPlaying = &t
	s.state = StatePlaying
	s.mu.Unlock()
}

func (s *session) stopPlaying() {
	s.mu.Lock()
	s.nowPlaying = nil
	s.state = StateIdle
	s.mu.Unlock()
}

// shutDown clears the session and detaches its connection. It reports false
// when the session was already shutting down.
func (s *session) shutDown() (Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateShuttingDown {
		return nil, false
	}
	conn := s.conn
	s.conn = nil
	s.queue = nil
	s.nowPlaying = nil
	s.state = StateShuttingDown
	return conn, true
}

// playerHooks forwards player notifications into lock turns.
type playerHooks struct {
	m *Manager
	s *session
}

func (h *playerHooks) OnStateChange(oldState, newState PlayerState) {
	switch {
	case newState == PlayerIdle && oldState != PlayerIdle:
		h.m.scheduleAdvance(h.s)
	case newState == PlayerPaused, oldState == PlayerPaused && newState == PlayerPlaying:
		h.m.schedulePauseSync(h.s)
	}
}

func (h *playerHooks) OnError(err error) {
	h.m.schedulePlaybackError(h.s, err)
}
