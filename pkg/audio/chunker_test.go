package audio_test

import (
	"testing"

	"github.com/superslash/slashvoice/pkg/audio"
)

func ramp(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from+i) / 100000
	}
	return out
}

func TestChunker_EmitsFullWindowsInOrder(t *testing.T) {
	t.Parallel()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	c := audio.NewChunker(format, 4)

	var got []audio.Frame
	// Driver periods that do not line up with the window size.
	got = append(got, c.Write(ramp(0, 3))...)
	got = append(got, c.Write(ramp(3, 6))...)
	got = append(got, c.Write(ramp(9, 1))...)

	if len(got) != 2 {
		t.Fatalf("got %d windows, want 2", len(got))
	}
	for w, f := range got {
		if f.Format() != format {
			t.Errorf("window %d format = %s, want %s", w, f.Format(), format)
		}
		if f.Len() != 4 {
			t.Fatalf("window %d has %d samples, want 4", w, f.Len())
		}
		for i, s := range f.Samples {
			if want := float32(w*4+i) / 100000; s != want {
				t.Errorf("window %d sample %d = %v, want %v", w, i, s, want)
			}
		}
	}
	if c.Buffered() != 2 {
		t.Errorf("Buffered = %d, want 2", c.Buffered())
	}
}

func TestChunker_WindowsDoNotAlias(t *testing.T) {
	t.Parallel()

	c := audio.NewChunker(audio.Format{SampleRate: 16000, Channels: 1}, 2)
	first := c.Write([]float32{0.1, 0.2})
	second := c.Write([]float32{0.3, 0.4})
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("got %d and %d windows, want 1 and 1", len(first), len(second))
	}
	if first[0].Samples[0] != 0.1 {
		t.Errorf("first window overwritten: %v", first[0].Samples)
	}
}

func TestChunker_DefaultWindow(t *testing.T) {
	t.Parallel()

	c := audio.NewChunker(audio.Format{SampleRate: 16000, Channels: 1}, 0)
	if got := c.Write(make([]float32, audio.DefaultCaptureWindow-1)); len(got) != 0 {
		t.Fatalf("got %d windows before a full window, want 0", len(got))
	}
	got := c.Write(make([]float32, 1))
	if len(got) != 1 || got[0].Len() != audio.DefaultCaptureWindow {
		t.Fatalf("want one window of %d samples, got %d windows", audio.DefaultCaptureWindow, len(got))
	}
}

func TestChunker_Flush(t *testing.T) {
	t.Parallel()

	c := audio.NewChunker(audio.Format{SampleRate: 16000, Channels: 1}, 8)
	if _, ok := c.Flush(); ok {
		t.Error("Flush on empty chunker returned ok")
	}
	c.Write([]float32{0.5, 0.5, 0.5})
	f, ok := c.Flush()
	if !ok || f.Len() != 3 {
		t.Fatalf("Flush = (%d samples, %v), want (3, true)", f.Len(), ok)
	}
	if c.Buffered() != 0 {
		t.Errorf("Buffered after Flush = %d, want 0", c.Buffered())
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	close(ch)
	audio.Drain(ch)
	if _, ok := <-ch; ok {
		t.Error("channel not drained")
	}
}
