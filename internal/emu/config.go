package emu

import "github.com/dotmatrixgb/dotmatrix/internal/ppu"

// Config contains settings that affect emulation behavior.
type Config struct {
	SampleRate int        // host audio rate; 0 means 44100
	Scheme     ppu.Scheme // output color scheme
	// Later: fast-forward, debugger flags, etc.
}
