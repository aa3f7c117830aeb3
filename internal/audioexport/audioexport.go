// Package audioexport is component O: encodes a raw PCM window to a WAV
// clip on disk before it's attached to a Detection (spec.md §4.F step 1).
//
// Grounded on the teacher's use of github.com/go-audio/wav and
// github.com/go-audio/audio for decoding BirdNET sample data (birdnet.go);
// this package exercises the same libraries' encoder side, which the
// teacher's read-only analysis path never needed.
package audioexport

import (
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/fieldpipe/internal/fielderr"
)

const bitDepth = 16

// WriteClip encodes little-endian int16 PCM bytes as a mono WAV file at
// path, creating parent directories as needed. Returns the duration in
// seconds and the size of the written file in bytes.
func WriteClip(path string, pcm []byte, sampleRate int) (durationSeconds float64, sizeBytes int64, err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, 0, fielderr.New(err).Component("audioexport").Category(fielderr.CategoryPermanent).
				Context("operation", "create_clip_directory").Context("directory", dir).Build()
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, 0, fielderr.New(err).Component("audioexport").Category(fielderr.CategoryPermanent).
			Context("operation", "create_clip_file").Context("path", path).Build()
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)

	samples := len(pcm) / 2
	ints := make([]int, samples)
	for i := 0; i < samples; i++ {
		lo := pcm[i*2]
		hi := pcm[i*2+1]
		ints[i] = int(int16(uint16(lo) | uint16(hi)<<8))
	}

	buf := &audio.IntBuffer{
		Data:   ints,
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: 1},
	}
	if err := enc.Write(buf); err != nil {
		return 0, 0, fielderr.New(err).Component("audioexport").Category(fielderr.CategoryPermanent).
			Context("operation", "encode_wav").Build()
	}
	if err := enc.Close(); err != nil {
		return 0, 0, fielderr.New(err).Component("audioexport").Category(fielderr.CategoryPermanent).
			Context("operation", "finalize_wav").Build()
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fielderr.New(err).Component("audioexport").Category(fielderr.CategoryPermanent).
			Context("operation", "stat_clip_file").Build()
	}

	return float64(samples) / float64(sampleRate), info.Size(), nil
}
