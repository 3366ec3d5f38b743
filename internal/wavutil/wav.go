// Package wavutil encodes 16-bit PCM into in-memory WAV payloads.
package wavutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodePCM16 wraps little-endian signed 16-bit PCM into a WAV container.
func EncodePCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return EncodeSamples(samples, sampleRate, channels)
}

// EncodeSamples writes integer samples as a 16-bit WAV.
func EncodeSamples(samples []int, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format rate=%d channels=%d", sampleRate, channels)
	}
	out := &writeSeeker{}
	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// Silence returns a silent WAV of roughly the given duration.
func Silence(d time.Duration, sampleRate, channels int) ([]byte, error) {
	frames := int(d.Seconds() * float64(sampleRate))
	if frames < 1 {
		frames = 1
	}
	return EncodeSamples(make([]int, frames*channels), sampleRate, channels)
}

// IsWAV reports whether data parses as a RIFF/WAVE file.
func IsWAV(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return wav.NewDecoder(bytes.NewReader(data)).IsValidFile()
}

// Duration returns the playback length of a WAV payload.
func Duration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, errors.New("not a wav payload")
	}
	return dec.Duration()
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.buf))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(next)
	return next, nil
}

func (w *writeSeeker) Bytes() []byte {
	return w.buf
}
