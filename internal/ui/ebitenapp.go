package ui

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/dotmatrixgb/dotmatrix/internal/emu"
	"github.com/dotmatrixgb/dotmatrix/internal/ppu"
)

// App is the windowed front-end: keyboard to joypad, framebuffer to
// texture, APU ring to the audio player.
type App struct {
	cfg    Config
	m      *emu.Machine
	tex    *ebiten.Image
	paused bool
	fast   bool
	muted  bool

	audioCtx    *audio.Context
	audioPlayer *audio.Player
}

func NewApp(cfg Config, m *emu.Machine) *App {
	cfg.Defaults()
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(ppu.FrameWidth*cfg.Scale, ppu.FrameHeight*cfg.Scale)
	a := &App{cfg: cfg, m: m, muted: cfg.Muted}
	return a
}

func (a *App) Run() error {
	a.startAudio()
	return ebiten.RunGame(a)
}

func (a *App) startAudio() {
	rate := a.m.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	a.audioCtx = audio.NewContext(rate)
	p, err := a.audioCtx.NewPlayer(&apuStream{m: a.m, muted: &a.muted})
	if err != nil {
		return
	}
	a.audioPlayer = p
	a.audioPlayer.SetBufferSize(40 * time.Millisecond)
	a.audioPlayer.Play()
}

func (a *App) Update() error {
	var btn emu.Buttons
	btn.Right = ebiten.IsKeyPressed(ebiten.KeyRight)
	btn.Left = ebiten.IsKeyPressed(ebiten.KeyLeft)
	btn.Up = ebiten.IsKeyPressed(ebiten.KeyUp)
	btn.Down = ebiten.IsKeyPressed(ebiten.KeyDown)
	btn.A = ebiten.IsKeyPressed(ebiten.KeyZ)
	btn.B = ebiten.IsKeyPressed(ebiten.KeyX)
	btn.Start = ebiten.IsKeyPressed(ebiten.KeyEnter)
	btn.Select = ebiten.IsKeyPressed(ebiten.KeyShiftRight)
	a.m.SetButtons(btn)

	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyM) {
		a.muted = !a.muted
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyC) {
		// toggle classic green / grayscale
		if a.m.Scheme() == ppu.SchemeGreen {
			a.m.SetScheme(ppu.SchemeGray)
		} else {
			a.m.SetScheme(ppu.SchemeGreen)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		a.m.ResetPostBoot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		_ = a.m.SaveStateToFile(a.statePath())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		_ = a.m.LoadStateFromFile(a.statePath())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		_ = a.saveScreenshot()
	}

	// Fast-forward while Tab is held
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)

	// Frame-step when paused (N)
	if a.paused && inpututil.IsKeyJustPressed(ebiten.KeyN) {
		a.m.StepFrame()
	}

	if !a.paused {
		if a.fast {
			for i := 0; i < 4; i++ {
				a.m.StepFrame()
			}
			// catching up faster than real time floods the ring
			a.m.DropAudio()
		} else {
			a.m.StepFrame()
		}
	}
	return nil
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(ppu.FrameWidth, ppu.FrameHeight)
	}
	a.tex.WritePixels(a.m.Framebuffer())
	screen.DrawImage(a.tex, nil)
}

func (a *App) Layout(outW, outH int) (int, int) {
	return ppu.FrameWidth, ppu.FrameHeight
}

func (a *App) statePath() string {
	if p := a.m.ROMPath(); p != "" {
		return p + ".state"
	}
	return "dotmatrix.state"
}

func (a *App) saveScreenshot() error {
	fb := a.m.Framebuffer()
	img := &image.RGBA{
		Pix:    append([]byte(nil), fb...),
		Stride: 4 * ppu.FrameWidth,
		Rect:   image.Rect(0, 0, ppu.FrameWidth, ppu.FrameHeight),
	}
	name := fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405"))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
