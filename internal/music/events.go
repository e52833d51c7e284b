package music

import "sync"

type EventType int

const (
	EventTrackStart EventType = iota
	EventDisconnect
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventTrackStart:
		return "track_start"
	case EventDisconnect:
		return "disconnect"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a manager notification. Track is set for EventTrackStart and,
// when known, for EventError. Err is set for EventError.
type Event struct {
	Type      EventType
	SessionID string
	Track     TrackInfo
	Err       error
}

// dispatcher delivers events in the order they were emitted without ever
// blocking the emitter.
type dispatcher struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	wake chan struct{}
	out  chan Event
	quit chan struct{}
	done chan struct{}
}

func newDispatcher(buffer int) *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		out:  make(chan Event, buffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	defer close(d.out)
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()

		for _, ev := range batch {
			select {
			case d.out <- ev:
			case <-d.quit:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.quit)
	<-d.done
}
