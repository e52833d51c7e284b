// Package probe inspects remote media with libavformat.
package probe

import (
	"context"
	"strconv"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/cockroachdb/errors"

	"github.com/sonroyaalmerol/melodeck/internal/utils"
)

// CodecProber opens a direct media URL and reports the codec of its best
// audio stream. It fills in the codec for direct-strategy tracks whose
// metadata did not carry one.
type CodecProber struct {
	userAgent string
}

func NewCodecProber() *CodecProber {
	return &CodecProber{userAgent: utils.RandomUserAgent()}
}

// ioTimeout is passed to libavformat in microseconds.
const ioTimeout = 5 * time.Second

// ProbeCodec blocks until the probe finishes. Cancelling ctx interrupts
// pending network I/O, so it returns shortly after.
func (p *CodecProber) ProbeCodec(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ii := astiav.NewIOInterrupter()
	done := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			ii.Interrupt()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-watched
		ii.Free()
	}()

	codec, err := p.probe(url, ii)
	if err != nil && ctx.Err() != nil {
		return "", errors.Wrap(ctx.Err(), "probe interrupted")
	}
	return codec, err
}

func (p *CodecProber) probe(url string, ii *astiav.IOInterrupter) (string, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return "", errors.New("alloc format context")
	}
	defer fc.Free()
	fc.SetIOInterrupter(ii)

	timeout := strconv.FormatInt(ioTimeout.Microseconds(), 10)
	dict := astiav.NewDictionary()
	defer dict.Free()
	_ = dict.Set("user_agent", p.userAgent, 0)
	_ = dict.Set("headers", utils.FFmpegHeaders(map[string]string{"Referer": "https://www.youtube.com/"}), 0)
	_ = dict.Set("reconnect", "1", 0)
	_ = dict.Set("reconnect_streamed", "1", 0)
	_ = dict.Set("reconnect_delay_max", "5", 0)
	_ = dict.Set("rw_timeout", timeout, 0)
	_ = dict.Set("timeout", timeout, 0)

	if err := fc.OpenInput(url, nil, dict); err != nil {
		return "", errors.Wrap(err, "open input")
	}
	defer fc.CloseInput()

	if err := fc.FindStreamInfo(nil); err != nil {
		return "", errors.Wrap(err, "find stream info")
	}
	_, codec, err := fc.FindBestStream(astiav.MediaTypeAudio, -1, -1)
	if err != nil {
		return "", errors.Wrap(err, "find best audio stream")
	}
	if codec == nil {
		return "", errors.New("no audio stream found")
	}
	return codec.Name(), nil
}
