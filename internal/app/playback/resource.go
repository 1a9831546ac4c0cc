package playback

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// Resource is an opened PCM stream (s16le, 48kHz, stereo) bound to a track,
// with an inline gain that can be changed while it plays.
type Resource struct {
	track  track.Track
	stream io.ReadCloser

	gain      atomic.Uint64 // math.Float64bits
	buf       []byte
	closeOnce sync.Once
	closeErr  error
}

// NewResource wraps an opened stream. The initial gain is 1.
func NewResource(t track.Track, stream io.ReadCloser) *Resource {
	r := &Resource{track: t, stream: stream}
	r.gain.Store(math.Float64bits(1))
	return r
}

// Track returns the track the resource plays.
func (r *Resource) Track() track.Track {
	return r.track
}

// SetVolume sets the linear gain applied to every following frame.
func (r *Resource) SetVolume(gain float64) {
	if gain < 0 {
		gain = 0
	}
	r.gain.Store(math.Float64bits(gain))
}

// Volume returns the current linear gain.
func (r *Resource) Volume() float64 {
	return math.Float64frombits(r.gain.Load())
}

// ReadFrame fills pcm with the next interleaved samples and applies the gain.
// It returns io.EOF once the stream has no complete frame left.
// ReadFrame is not safe for concurrent use.
func (r *Resource) ReadFrame(pcm []int16) error {
	size := len(pcm) * 2
	if cap(r.buf) < size {
		r.buf = make([]byte, size)
	}
	buf := r.buf[:size]

	if _, err := io.ReadFull(r.stream, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return errors.Wrap(err, "read pcm frame")
	}

	gain := r.Volume()
	for i := range pcm {
		s := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		pcm[i] = scale(s, gain)
	}
	return nil
}

func scale(s int16, gain float64) int16 {
	if gain == 1 {
		return s
	}
	v := float64(s) * gain
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// Close closes the underlying stream once.
func (r *Resource) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.stream.Close()
	})
	return r.closeErr
}
