package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrDecode is matched (via errors.Is) by every [DecodeError].
var ErrDecode = errors.New("audio: decode failed")

// DecodeError reports an inbound payload that could not be turned into PCM
// samples. The chunk that caused it should be skipped.
type DecodeError struct {
	// Bytes is the decoded payload length, or -1 if base64 decoding failed.
	Bytes int
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Bytes >= 0 {
		return fmt.Sprintf("audio: decode: %d bytes: %v", e.Bytes, e.Err)
	}
	return fmt.Sprintf("audio: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes every DecodeError match [ErrDecode].
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

var errOddLength = errors.New("byte length is not a multiple of 2")

// Blob is the transport form of a [Frame]: base64 little-endian int16 PCM
// plus its MIME tag.
type Blob struct {
	MIMEType string
	Data     string
}

// PCMMIMEType returns the MIME tag for raw 16-bit PCM at rate,
// e.g. "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// Encode converts a frame into a [Blob]. Samples outside [-1, 1] are clamped
// before scaling to int16.
func Encode(frame Frame) Blob {
	return Blob{
		MIMEType: PCMMIMEType(frame.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(frame.Samples)),
	}
}

// Decode converts a [Blob] back into a frame tagged with format. The payload
// carries no rate metadata, so format must match what the session
// negotiated. Returns a *[DecodeError] for malformed payloads.
func Decode(blob Blob, format Format) (Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return Frame{}, &DecodeError{Bytes: -1, Err: err}
	}
	samples, err := DecodePCM16(raw)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}, nil
}

// EncodePCM16 converts normalised samples to little-endian int16 bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	PutPCM16(out, samples)
	return out
}

// PutPCM16 writes samples into dst as little-endian int16 and returns the
// number of bytes written. Samples that do not fit in dst are skipped. It
// does not allocate, so device callbacks can use it.
func PutPCM16(dst []byte, samples []float32) int {
	n := min(len(samples), len(dst)/2)
	for i, s := range samples[:n] {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(floatToInt16(s)))
	}
	return n * 2
}

// DecodePCM16 converts little-endian int16 bytes to samples in [-1, 1].
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, &DecodeError{Bytes: len(pcm), Err: errOddLength}
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// floatToInt16 scales s by 32768 and clamps to the int16 range.
func floatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	v := int32(s * 32768)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}
