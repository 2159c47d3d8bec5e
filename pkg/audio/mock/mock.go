// Package mock provides in-memory mock implementations of the [audio.Platform],
// [audio.CaptureDevice], and [audio.OutputDevice] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values. No real-time driver thread exists:
// tests push capture samples with [CaptureDevice.Emit] and advance playback
// with [OutputDevice.Pull].
//
// Typical usage:
//
//	capture := &mock.CaptureDevice{DeviceFormat: audio.Format{SampleRate: 16000, Channels: 1}}
//	output := &mock.OutputDevice{DeviceFormat: audio.Format{SampleRate: 24000, Channels: 1}}
//	platform := &mock.Platform{Capture: capture, Output: output}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/superslash/slashvoice/pkg/audio"
)

// ErrNotStarted is returned by [CaptureDevice.Emit] before Start.
var ErrNotStarted = errors.New("mock: device not started")

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// DeviceFormat is returned by Format.
	DeviceFormat audio.Format

	// StartError is returned by Start.
	StartError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	cb     func([]float32)
	closed bool
}

// Format implements [audio.CaptureDevice].
func (d *CaptureDevice) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DeviceFormat
}

// Start implements [audio.CaptureDevice]. It stores the callback unless
// StartError is set.
func (d *CaptureDevice) Start(onSamples func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.cb = onSamples
	return nil
}

// Close implements [audio.CaptureDevice]. Returns CloseError.
func (d *CaptureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.closed = true
	d.cb = nil
	return d.CloseError
}

// Started reports whether Start succeeded and Close has not been called.
func (d *CaptureDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb != nil
}

// Closed reports whether Close has been called.
func (d *CaptureDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Emit delivers samples to the registered callback on the caller's goroutine,
// simulating one driver period.
func (d *CaptureDevice) Emit(samples []float32) error {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return ErrNotStarted
	}
	cb(samples)
	return nil
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// DeviceFormat is returned by Format.
	DeviceFormat audio.Format

	// StartErrors are returned by successive Start calls; once exhausted,
	// Start succeeds.
	StartErrors []error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	render func([]float32)
}

// Format implements [audio.OutputDevice].
func (d *OutputDevice) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DeviceFormat
}

// Start implements [audio.OutputDevice].
func (d *OutputDevice) Start(render func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if len(d.StartErrors) > 0 {
		err := d.StartErrors[0]
		d.StartErrors = d.StartErrors[1:]
		if err != nil {
			return err
		}
	}
	d.render = render
	return nil
}

// Close implements [audio.OutputDevice]. Returns CloseError.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.render = nil
	return d.CloseError
}

// Started reports whether a render callback is installed.
func (d *OutputDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.render != nil
}

// Pull asks the render callback for n samples per channel and returns them.
// It returns nil if the device is not started.
func (d *OutputDevice) Pull(n int) []float32 {
	d.mu.Lock()
	render := d.render
	ch := max(d.DeviceFormat.Channels, 1)
	d.mu.Unlock()
	if render == nil {
		return nil
	}
	out := make([]float32, n*ch)
	render(out)
	return out
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// Capture is returned by OpenCapture.
	Capture audio.CaptureDevice

	// Output is returned by OpenOutput.
	Output audio.OutputDevice

	// CaptureError is returned by OpenCapture.
	CaptureError error

	// OutputError is returned by OpenOutput.
	OutputError error

	// BlockCapture, if non-nil, makes OpenCapture wait until it is closed or
	// ctx is done, simulating a pending permission prompt.
	BlockCapture chan struct{}

	// CaptureFormats records the formats passed to OpenCapture.
	CaptureFormats []audio.Format

	// OutputFormats records the formats passed to OpenOutput.
	OutputFormats []audio.Format
}

// OpenCapture implements [audio.Platform].
func (p *Platform) OpenCapture(ctx context.Context, format audio.Format) (audio.CaptureDevice, error) {
	p.mu.Lock()
	p.CaptureFormats = append(p.CaptureFormats, format)
	block := p.BlockCapture
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CaptureError != nil {
		return nil, p.CaptureError
	}
	return p.Capture, nil
}

// OpenOutput implements [audio.Platform].
func (p *Platform) OpenOutput(_ context.Context, format audio.Format) (audio.OutputDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OutputFormats = append(p.OutputFormats, format)
	if p.OutputError != nil {
		return nil, p.OutputError
	}
	return p.Output, nil
}

var (
	_ audio.CaptureDevice = (*CaptureDevice)(nil)
	_ audio.OutputDevice  = (*OutputDevice)(nil)
	_ audio.Platform      = (*Platform)(nil)
)
