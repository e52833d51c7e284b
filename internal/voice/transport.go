// Package voice plays Ogg Opus streams into Discord voice channels.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/sonroyaalmerol/melodeck/internal/music"
)

const readyPoll = 100 * time.Millisecond

// Transport joins voice channels through a discordgo session and reports
// connections the gateway drops.
type Transport struct {
	s *discordgo.Session

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewTransport(s *discordgo.Session) *Transport {
	t := &Transport{s: s, conns: make(map[string]*Connection)}
	s.AddHandler(t.onVoiceStateUpdate)
	return t
}

func (t *Transport) NewPlayer(sessionID string) music.Player {
	return NewPlayer(sessionID)
}

// Connect joins ch and waits until the voice link can carry audio or ctx
// ends.
func (t *Transport) Connect(ctx context.Context, ch music.ChannelRef, sessionID string) (music.Connection, error) {
	vc, err := t.join(ctx, ch)
	if err != nil {
		return nil, err
	}
	if err := waitReady(ctx, vc); err != nil {
		safeDisconnect(vc)
		return nil, err
	}
	// This prevents the panic in Kill() when channels are closed
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}

	c := &Connection{t: t, guildID: sessionID, vc: vc}
	t.mu.Lock()
	t.conns[sessionID] = c
	t.mu.Unlock()
	zlog.Debug().Str("guild", sessionID).Str("channel", ch.ChannelID).Msg("voice ready")
	return c, nil
}

// join runs the blocking gateway handshake. When ctx ends first, the
// connection is torn down once the handshake returns.
func (t *Transport) join(ctx context.Context, ch music.ChannelRef) (*discordgo.VoiceConnection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	res := make(chan result, 1)
	go func() {
		vc, err := t.s.ChannelVoiceJoin(ch.GuildID, ch.ChannelID, false, true)
		res <- result{vc: vc, err: err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			if r.vc != nil {
				_ = safeDisconnect(r.vc)
			}
			return nil, errors.Wrapf(r.err, "join voice channel %s", ch.ChannelID)
		}
		return r.vc, nil
	case <-ctx.Done():
		go func() {
			if r := <-res; r.vc != nil {
				_ = safeDisconnect(r.vc)
			}
		}()
		return nil, ctx.Err()
	}
}

func waitReady(ctx context.Context, vc *discordgo.VoiceConnection) error {
	t := time.NewTicker(readyPoll)
	defer t.Stop()
	for {
		if isReady(vc) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// isReady reads Ready under the lock discordgo writes it with.
func isReady(vc *discordgo.VoiceConnection) bool {
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

func (t *Transport) forget(c *Connection) {
	t.mu.Lock()
	if t.conns[c.guildID] == c {
		delete(t.conns, c.guildID)
	}
	t.mu.Unlock()
}

// onVoiceStateUpdate treats the bot leaving a channel it did not leave on
// its own as a dropped connection.
func (t *Transport) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.VoiceState == nil || vs.ChannelID != "" {
		return
	}
	if s.State == nil || s.State.User == nil || vs.UserID != s.State.User.ID {
		return
	}
	t.mu.Lock()
	c := t.conns[vs.GuildID]
	t.mu.Unlock()
	if c != nil {
		c.dropped()
	}
}

type Connection struct {
	t       *Transport
	guildID string
	vc      *discordgo.VoiceConnection

	mu           sync.Mutex
	destroyed    bool
	onDisconnect []func()
}

func (c *Connection) Subscribe(p music.Player) {
	if vp, ok := p.(*Player); ok {
		vp.attach(c.vc)
	}
}

func (c *Connection) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *Connection) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.mu.Unlock()

	c.t.forget(c)
	_ = c.vc.Speaking(false)
	return safeDisconnect(c.vc)
}

func (c *Connection) dropped() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	fns := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()

	zlog.Info().Str("guild", c.guildID).Msg("voice connection dropped by gateway")
	for _, fn := range fns {
		fn()
	}
}

// safeDisconnect leaves the channel, recovering from panics discordgo can
// raise while tearing down half-open connections.
func safeDisconnect(vc *discordgo.VoiceConnection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("voice disconnect panicked: %v", r)
		}
	}()
	return vc.Disconnect()
}
