// Package audio defines the PCM frame model, the wire codec for raw 16-bit
// PCM, and the device abstractions used by a realtime voice session.
//
// The two device abstractions are:
//
//   - [CaptureDevice]: a microphone that pushes normalised samples to a
//     callback at the cadence of the underlying driver.
//   - [OutputDevice]: a speaker that pulls samples from a render callback.
//
// A [Platform] opens both. Implementations live in sub-packages
// (audio/local for hardware through miniaudio, audio/mock for tests).
package audio

import (
	"context"
	"fmt"
)

// PlaybackDeviceError reports a failure of the output device. It is
// recoverable: the chunk being scheduled is lost but later chunks may play.
type PlaybackDeviceError struct {
	Op  string
	Err error
}

func (e *PlaybackDeviceError) Error() string {
	return fmt.Sprintf("audio: playback device: %s: %v", e.Op, e.Err)
}

func (e *PlaybackDeviceError) Unwrap() error { return e.Err }

// CaptureDevice is an opened microphone.
//
// Implementations must be safe for concurrent use. Close may be called from
// any goroutine, including concurrently with a running callback.
type CaptureDevice interface {
	// Format returns the format of the samples passed to the callback.
	Format() Format

	// Start begins capture. onSamples is invoked on a driver goroutine with
	// interleaved samples in capture order; the slice is only valid for the
	// duration of the call. onSamples must not block.
	Start(onSamples func(samples []float32)) error

	// Close stops capture and releases the device. It is safe to call Close
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// OutputDevice is an opened speaker driven by a pull callback.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Format returns the format the render callback must fill.
	Format() Format

	// Start begins playback. render is invoked on a driver goroutine and must
	// fill out completely (silence where nothing is scheduled). It must not
	// block. Calling Start on a running device returns nil.
	Start(render func(out []float32)) error

	// Close stops playback and releases the device. It is safe to call Close
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Platform opens audio devices. The supplied ctx governs the open attempt
// only; acquiring a microphone may block until the user grants permission.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// OpenCapture acquires the default microphone at format.
	OpenCapture(ctx context.Context, format Format) (CaptureDevice, error)

	// OpenOutput acquires the default speaker at format.
	OpenOutput(ctx context.Context, format Format) (OutputDevice, error)
}
