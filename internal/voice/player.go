package voice

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/jonas747/ogg"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/music"
)

const (
	sendTimeout   = 2 * time.Second
	silenceFrames = 5
)

var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// OpusSink receives encoded 20 ms Opus frames. A discordgo voice
// connection's OpusSend channel is one.
type OpusSink interface {
	Send(ctx context.Context, frame []byte) error
	Speaking(on bool)
}

type vcSink struct {
	vc *discordgo.VoiceConnection
}

func (s vcSink) Send(ctx context.Context, frame []byte) error {
	select {
	case s.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sendTimeout):
		return errors.New("opus send timeout")
	}
}

func (s vcSink) Speaking(on bool) { _ = s.vc.Speaking(on) }

type playback struct {
	stream io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
	forced bool
}

// Player demuxes an Ogg Opus stream and forwards its packets to the
// attached sink. Without a sink it waits, like an unsubscribed player.
type Player struct {
	guildID string

	mu       sync.Mutex
	state    music.PlayerState
	listener music.PlayerListener
	sink     OpusSink
	sinkSet  chan struct{}
	resume   chan struct{}
	cur      *playback
}

func NewPlayer(guildID string) *Player {
	return &Player{
		guildID: guildID,
		state:   music.PlayerIdle,
		sinkSet: make(chan struct{}),
	}
}

func (p *Player) attach(vc *discordgo.VoiceConnection) {
	p.AttachSink(vcSink{vc: vc})
}

// AttachSink routes audio to sink, replacing any previous one.
func (p *Player) AttachSink(sink OpusSink) {
	p.mu.Lock()
	p.sink = sink
	select {
	case <-p.sinkSet:
	default:
		close(p.sinkSet)
	}
	p.mu.Unlock()
}

func (p *Player) SetListener(l music.PlayerListener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

func (p *Player) State() music.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) Play(stream io.ReadCloser) error {
	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{stream: stream, ctx: ctx, cancel: cancel}

	p.mu.Lock()
	prev := p.cur
	if prev != nil {
		prev.forced = true
	}
	old := p.state
	p.cur = pb
	p.state = music.PlayerPlaying
	p.resume = nil
	p.mu.Unlock()

	if prev != nil {
		prev.cancel()
		_ = prev.stream.Close()
	}
	go p.run(pb)
	p.notify(old, music.PlayerPlaying)
	return nil
}

func (p *Player) Stop(force bool) bool {
	p.mu.Lock()
	pb := p.cur
	if pb != nil {
		pb.forced = force
	}
	p.mu.Unlock()
	if pb == nil {
		return false
	}
	pb.cancel()
	_ = pb.stream.Close()
	return true
}

// Pause holds playback. Without force, a short run of silence frames is
// sent first so the client does not interpolate the gap.
func (p *Player) Pause(force bool) bool {
	p.mu.Lock()
	if p.state != music.PlayerPlaying {
		p.mu.Unlock()
		return false
	}
	p.state = music.PlayerPaused
	p.resume = make(chan struct{})
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		if !force {
			sendSilence(sink)
		}
		sink.Speaking(false)
	}
	p.notify(music.PlayerPlaying, music.PlayerPaused)
	return true
}

func (p *Player) Unpause() bool {
	p.mu.Lock()
	if p.state != music.PlayerPaused {
		p.mu.Unlock()
		return false
	}
	p.state = music.PlayerPlaying
	close(p.resume)
	p.resume = nil
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		sink.Speaking(true)
	}
	p.notify(music.PlayerPaused, music.PlayerPlaying)
	return true
}

func (p *Player) run(pb *playback) {
	err := p.pump(pb)
	_ = pb.stream.Close()

	p.mu.Lock()
	sink := p.sink
	quiet := pb.forced
	p.mu.Unlock()
	if sink != nil && !quiet {
		sendSilence(sink)
	}

	p.mu.Lock()
	if p.cur != pb {
		// Replaced by a newer Play.
		p.mu.Unlock()
		return
	}
	p.cur = nil
	old := p.state
	p.state = music.PlayerIdle
	p.resume = nil
	p.mu.Unlock()

	if sink != nil {
		sink.Speaking(false)
	}
	if err != nil && pb.ctx.Err() == nil {
		zlog.Warn().Err(err).Str("guild", p.guildID).Msg("stream failed")
		p.notifyError(err)
	}
	p.notify(old, music.PlayerIdle)
}

// pump forwards Opus packets until the stream ends, fails or is stopped.
func (p *Player) pump(pb *playback) error {
	dec := ogg.NewPacketDecoder(ogg.NewDecoder(pb.stream))
	speaking := false
	for {
		packet, _, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read ogg stream")
		}
		if isOpusHeader(packet) {
			continue
		}

		sink, err := p.waitSendable(pb.ctx)
		if err != nil {
			return nil
		}
		if !speaking {
			sink.Speaking(true)
			speaking = true
		}
		if err := sink.Send(pb.ctx, packet); err != nil {
			if pb.ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// waitSendable blocks while paused or while no sink is attached.
func (p *Player) waitSendable(ctx context.Context) (OpusSink, error) {
	for {
		p.mu.Lock()
		resume := p.resume
		sink := p.sink
		sinkSet := p.sinkSet
		p.mu.Unlock()

		switch {
		case resume != nil:
			select {
			case <-resume:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case sink == nil:
			select {
			case <-sinkSet:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			return sink, nil
		}
	}
}

func (p *Player) notify(oldState, newState music.PlayerState) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil && oldState != newState {
		l.OnStateChange(oldState, newState)
	}
}

func (p *Player) notifyError(err error) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l.OnError(err)
	}
}

func isOpusHeader(packet []byte) bool {
	return bytes.HasPrefix(packet, []byte("OpusHead")) || bytes.HasPrefix(packet, []byte("OpusTags"))
}

func sendSilence(sink OpusSink) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for i := 0; i < silenceFrames; i++ {
		if err := sink.Send(ctx, silenceFrame); err != nil {
			return
		}
	}
}
