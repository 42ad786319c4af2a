package ui

import (
	"encoding/binary"
	"time"

	"github.com/dotmatrixgb/dotmatrix/internal/emu"
)

// apuStream implements io.Reader by pulling mono float samples from the
// emulator APU ring and converting them to 16-bit little-endian stereo
// frames for the ebiten audio player. Runs on the audio thread; the ring
// is the only shared surface.
type apuStream struct {
	m     *emu.Machine
	muted *bool
	pull  []float32
}

func (s *apuStream) Read(p []byte) (int, error) {
	if len(p) < 4 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	if s.muted != nil && *s.muted {
		for i := range p {
			p[i] = 0
		}
		time.Sleep(5 * time.Millisecond)
		return len(p), nil
	}
	frames := len(p) / 4
	if frames > 2048 { // cap per-read to avoid over-buffering
		frames = 2048
	}
	if cap(s.pull) < frames {
		s.pull = make([]float32, frames)
	}
	n := s.m.PullAudio(s.pull[:frames])
	if n == 0 {
		// underrun: hand back a small silence chunk instead of stalling
		n = 256
		if n > frames {
			n = frames
		}
		for i := 0; i < n*4; i++ {
			p[i] = 0
		}
		return n * 4, nil
	}
	for i := 0; i < n; i++ {
		v := s.pull[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		sample := uint16(int16(v * 32767))
		binary.LittleEndian.PutUint16(p[i*4:], sample)
		binary.LittleEndian.PutUint16(p[i*4+2:], sample)
	}
	return n * 4, nil
}
