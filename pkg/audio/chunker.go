package audio

// DefaultCaptureWindow is the number of samples per outbound capture window.
const DefaultCaptureWindow = 4096

// Chunker groups a continuous stream of capture samples into fixed-size
// analysis windows. Windows are emitted in capture order and never overlap.
//
// A Chunker is owned by a single goroutine; it is not safe for concurrent use.
type Chunker struct {
	format Format
	size   int // samples per window, all channels included
	buf    []float32
}

// NewChunker returns a Chunker that emits windows of window samples per
// channel in the given format. A window <= 0 selects [DefaultCaptureWindow].
func NewChunker(format Format, window int) *Chunker {
	if window <= 0 {
		window = DefaultCaptureWindow
	}
	ch := format.Channels
	if ch <= 0 {
		ch = 1
	}
	size := window * ch
	return &Chunker{
		format: format,
		size:   size,
		buf:    make([]float32, 0, size),
	}
}

// Write appends samples and returns every window completed by them.
// The returned frames own their sample slices.
func (c *Chunker) Write(samples []float32) []Frame {
	var out []Frame
	for len(samples) > 0 {
		n := min(c.size-len(c.buf), len(samples))
		c.buf = append(c.buf, samples[:n]...)
		samples = samples[n:]
		if len(c.buf) == c.size {
			out = append(out, c.frame(c.buf))
			c.buf = make([]float32, 0, c.size)
		}
	}
	return out
}

// Buffered returns the number of samples waiting for a full window.
func (c *Chunker) Buffered() int { return len(c.buf) }

// Flush returns the partial window, if any, and resets the buffer.
func (c *Chunker) Flush() (Frame, bool) {
	if len(c.buf) == 0 {
		return Frame{}, false
	}
	f := c.frame(c.buf)
	c.buf = make([]float32, 0, c.size)
	return f, true
}

func (c *Chunker) frame(samples []float32) Frame {
	return Frame{
		Samples:    samples,
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
	}
}
