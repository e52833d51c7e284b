package voice

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestWaitReadySeesLockedWrite(t *testing.T) {
	vc := &discordgo.VoiceConnection{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		vc.Lock()
		vc.Ready = true
		vc.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, waitReady(ctx, vc))
}

func TestWaitReadyHonoursContext(t *testing.T) {
	vc := &discordgo.VoiceConnection{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := waitReady(ctx, vc)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSafeDisconnectRecoversFromHalfOpenConnection(t *testing.T) {
	// No session is attached, so discordgo dereferences nil while tearing down.
	err := safeDisconnect(&discordgo.VoiceConnection{})
	assert.Error(t, err)
}
