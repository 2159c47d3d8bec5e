package local

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/superslash/slashvoice/pkg/audio"
)

var (
	_ audio.CaptureDevice = (*captureDevice)(nil)
	_ audio.OutputDevice  = (*outputDevice)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

type captureDevice struct {
	format audio.Format
	dev    *malgo.Device

	cb        atomic.Pointer[func([]float32)]
	scratch   []float32 // only touched on the driver thread
	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
}

func (d *captureDevice) Format() audio.Format { return d.format }

func (d *captureDevice) Start(onSamples func([]float32)) error {
	d.cb.Store(&onSamples)
	d.startOnce.Do(func() {
		if err := d.dev.Start(); err != nil {
			d.startErr = fmt.Errorf("local audio: start capture: %w", err)
		}
	})
	return d.startErr
}

func (d *captureDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cb.Store(nil)
		if sErr := d.dev.Stop(); sErr != nil {
			err = fmt.Errorf("local audio: stop capture: %w", sErr)
		}
		d.dev.Uninit()
	})
	return err
}

func (d *captureDevice) onData(_, in []byte, _ uint32) {
	cb := d.cb.Load()
	if cb == nil || len(in) < 2 {
		return
	}
	d.scratch = s16ToFloat(d.scratch, in)
	(*cb)(d.scratch)
}

// ─── Output ───────────────────────────────────────────────────────────────────

type outputDevice struct {
	format audio.Format
	dev    *malgo.Device

	render    atomic.Pointer[func([]float32)]
	scratch   []float32 // only touched on the driver thread
	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
}

func (d *outputDevice) Format() audio.Format { return d.format }

func (d *outputDevice) Start(render func([]float32)) error {
	d.render.Store(&render)
	d.startOnce.Do(func() {
		if err := d.dev.Start(); err != nil {
			d.startErr = fmt.Errorf("local audio: start output: %w", err)
		}
	})
	return d.startErr
}

func (d *outputDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.render.Store(nil)
		if sErr := d.dev.Stop(); sErr != nil {
			err = fmt.Errorf("local audio: stop output: %w", sErr)
		}
		d.dev.Uninit()
	})
	return err
}

func (d *outputDevice) onData(out, _ []byte, frames uint32) {
	render := d.render.Load()
	if render == nil {
		clear(out)
		return
	}
	n := int(frames) * d.format.Channels
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	d.scratch = d.scratch[:n]
	(*render)(d.scratch)
	floatToS16(out, d.scratch)
}

// ─── Conversion ───────────────────────────────────────────────────────────────

// s16ToFloat decodes little-endian int16 PCM into dst, reusing its capacity.
// A trailing odd byte is ignored.
func s16ToFloat(dst []float32, pcm []byte) []float32 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return dst
}

// floatToS16 writes samples into out as little-endian int16 PCM. Any part of
// out not covered by samples is zeroed.
func floatToS16(out []byte, samples []float32) {
	n := audio.PutPCM16(out, samples)
	clear(out[n:])
}
