// Package ringbuf implements component A: a fixed-duration PCM analysis
// window buffer (spec.md §4.A).
//
// Grounded on the teacher project's internal/audiocore/buffer.go (pooled,
// mutex-guarded byte buffer) and its use of github.com/smallnest/ringbuffer
// for byte accumulation. Single-producer/single-consumer per spec.md §5:
// the audio ingestion task appends, the analyzer drains.
package ringbuf

import (
	"sync"

	"github.com/smallnest/ringbuffer"
)

// Window accumulates little-endian int16 PCM bytes into fixed-size
// analysis windows of bufferSizeSamples samples.
type Window struct {
	mu               sync.Mutex
	rb               *ringbuffer.RingBuffer
	bufferSizeBytes  int
	bufferSizeSamples int
}

// New creates a Window sized for sampleRate*windowSeconds samples
// (spec.md default: 48000 Hz * 3s = 144000 samples).
func New(sampleRate int, windowSeconds float64) *Window {
	samples := int(float64(sampleRate) * windowSeconds)
	sizeBytes := samples * 2 // 16-bit PCM, 1 channel worth of samples per window
	return &Window{
		rb:                ringbuffer.New(sizeBytes * 2), // headroom for partial appends between drains
		bufferSizeBytes:   sizeBytes,
		bufferSizeSamples: samples,
	}
}

// Append adds raw PCM bytes to the buffer. Safe to call only from the
// single producer goroutine.
func (w *Window) Append(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rb.Write(b)
}

// Ready reports whether a full window's worth of bytes is available.
func (w *Window) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rb.Length() >= w.bufferSizeBytes
}

// TakeWindow atomically drains exactly one window's worth of bytes and
// converts them to normalized float32 samples in [-1.0, 1.0]. Windows are
// non-overlapping: each call consumes bytes, never re-reads them.
//
// Returns false if a full window isn't yet available.
func (w *Window) TakeWindow() ([]float32, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rb.Length() < w.bufferSizeBytes {
		return nil, false
	}

	raw := make([]byte, w.bufferSizeBytes)
	n, err := w.rb.Read(raw)
	if err != nil || n < w.bufferSizeBytes {
		return nil, false
	}

	return PCM16ToFloat32(raw), true
}

// PCM16ToFloat32 converts little-endian int16 PCM bytes to normalized
// float32 samples in [-1.0, 1.0] (spec.md §4.A conversion rule).
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		lo := pcm[i*2]
		hi := pcm[i*2+1]
		sample := int16(uint16(lo) | uint16(hi)<<8)
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// BufferSizeSamples returns the configured window size in samples.
func (w *Window) BufferSizeSamples() int {
	return w.bufferSizeSamples
}

// Float32ToPCM16 converts normalized float32 samples in [-1.0, 1.0] back to
// little-endian int16 PCM bytes, the inverse of PCM16ToFloat32. Used to
// recover the raw clip bytes for a classified window when persisting its
// audio alongside a detection (spec.md §4.F step 1).
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768.0
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		sample := int16(v)
		out[i*2] = byte(uint16(sample))
		out[i*2+1] = byte(uint16(sample) >> 8)
	}
	return out
}
