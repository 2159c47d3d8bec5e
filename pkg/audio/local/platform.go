// Package local provides an [audio.Platform] implementation backed by the
// host's default microphone and speaker via the gen2brain/malgo bindings for
// miniaudio.
//
// Capture devices deliver 16-bit signed PCM from the driver, converted to
// normalised float32 before reaching the callback. Output devices are pull
// driven: every driver period asks the render callback for exactly one period
// of samples and converts them back to 16-bit PCM.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/superslash/slashvoice/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

var errPlatformClosed = errors.New("platform closed")

// DefaultPeriod is the driver period in milliseconds.
const DefaultPeriod = 20

// Option configures a [Platform].
type Option func(*Platform)

// WithPeriod sets the driver period in milliseconds.
func WithPeriod(ms int) Option {
	return func(p *Platform) {
		if ms > 0 {
			p.periodMS = ms
		}
	}
}

// Platform implements [audio.Platform] on top of a single miniaudio context.
//
// Platform is safe for concurrent use.
type Platform struct {
	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	periodMS int
	closed   bool
}

// New initialises the miniaudio context. The caller must call [Platform.Close]
// when no more devices will be opened.
func New(opts ...Option) (*Platform, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		slog.Debug("local audio: miniaudio", "message", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("local audio: init context: %w", err)
	}

	p := &Platform{mctx: mctx, periodMS: DefaultPeriod}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// OpenCapture implements [audio.Platform]. On platforms that gate microphone
// access, device initialisation is where the operating system denies it.
func (p *Platform) OpenCapture(ctx context.Context, format audio.Format) (audio.CaptureDevice, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)

	d := &captureDevice{format: format}
	dev, err := p.initDevice(cfg, malgo.DeviceCallbacks{Data: d.onData})
	if err != nil {
		return nil, fmt.Errorf("local audio: open capture: %w", err)
	}
	d.dev = dev
	return d, nil
}

// OpenOutput implements [audio.Platform].
func (p *Platform) OpenOutput(ctx context.Context, format audio.Format) (audio.OutputDevice, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)

	d := &outputDevice{format: format}
	dev, err := p.initDevice(cfg, malgo.DeviceCallbacks{Data: d.onData})
	if err != nil {
		return nil, fmt.Errorf("local audio: open output: %w", err)
	}
	d.dev = dev
	return d, nil
}

// Close releases the miniaudio context. Devices opened from p must be closed
// first. Close is idempotent.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.mctx.Uninit()
	p.mctx.Free()
	if err != nil {
		return fmt.Errorf("local audio: uninit context: %w", err)
	}
	return nil
}

func (p *Platform) initDevice(cfg malgo.DeviceConfig, cb malgo.DeviceCallbacks) (*malgo.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errPlatformClosed
	}
	cfg.PeriodSizeInMilliseconds = uint32(p.periodMS)
	return malgo.InitDevice(p.mctx.Context, cfg, cb)
}
