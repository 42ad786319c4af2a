package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dotmatrixgb/dotmatrix/internal/cart"
	"github.com/dotmatrixgb/dotmatrix/internal/emu"
	"github.com/dotmatrixgb/dotmatrix/internal/ppu"
	"github.com/dotmatrixgb/dotmatrix/internal/ui"
)

const mooneyeTimeoutFrames = 7200

func usage() {
	fmt.Fprintf(os.Stderr, `usage:
  dotmatrix [flags] <rom>              interactive windowed run
  dotmatrix screenshot <rom> [frames]  headless; dump framebuffer as P3 PPM
  dotmatrix wav <rom> [frames]         headless; write mono 16-bit PCM WAV
  dotmatrix mooneye <rom>              headless; run a mooneye test ROM
`)
	flag.PrintDefaults()
}

func main() {
	log.SetFlags(0)
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "screenshot":
		runScreenshot(args[1:])
	case "wav":
		runWAV(args[1:])
	case "mooneye":
		runMooneye(args[1:])
	default:
		runWindowed(args)
	}
}

func mustRead(path string) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return b
}

func newMachine(romPath, bootPath string, sampleRate int, gray bool) *emu.Machine {
	rom := mustRead(romPath)
	if h, err := cart.ParseHeader(rom); err == nil {
		log.Printf("ROM: %q type=%s banks=%d ram=%dB", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes)
	}
	scheme := ppu.SchemeGreen
	if gray {
		scheme = ppu.SchemeGray
	}
	m := emu.New(emu.Config{SampleRate: sampleRate, Scheme: scheme})
	if bootPath != "" {
		m.SetBootROM(mustRead(bootPath))
	}
	if err := m.LoadROMFromFile(romPath); err != nil {
		log.Fatalf("load cart: %v", err)
	}
	return m
}

// loadBattery reads <rom>.sav into the cart when it is battery-backed.
// It returns the sidecar path to write on exit, or "".
func loadBattery(m *emu.Machine, romPath string) string {
	rom := mustRead(romPath)
	if !cart.HasBattery(rom) {
		return ""
	}
	savPath := romPath + ".sav"
	if data, err := os.ReadFile(savPath); err == nil {
		if m.LoadBattery(data) {
			log.Printf("loaded save RAM: %s (%d bytes)", savPath, len(data))
		}
	}
	return savPath
}

func saveBattery(m *emu.Machine, savPath string) {
	if savPath == "" {
		return
	}
	if data, ok := m.SaveBattery(); ok {
		if err := os.WriteFile(savPath, data, 0o644); err != nil {
			log.Printf("write %s: %v", savPath, err)
		} else {
			log.Printf("wrote %s", savPath)
		}
	}
}

func runWindowed(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	bootPath := fs.String("bootrom", "", "optional DMG boot ROM")
	scale := fs.Int("scale", 3, "window scale")
	title := fs.String("title", "dotmatrix", "window title")
	rate := fs.Int("rate", 44100, "audio sample rate")
	gray := fs.Bool("gray", false, "DMG grayscale instead of classic green")
	mute := fs.Bool("mute", false, "start muted")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	romPath := fs.Arg(0)

	m := newMachine(romPath, *bootPath, *rate, *gray)
	savPath := loadBattery(m, romPath)

	app := ui.NewApp(ui.Config{Title: *title, Scale: *scale, Muted: *mute}, m)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
	saveBattery(m, savPath)
}

func parseFrames(fs *flag.FlagSet, def int) int {
	if fs.NArg() >= 2 {
		if n, err := strconv.Atoi(fs.Arg(1)); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func runScreenshot(args []string) {
	fs := flag.NewFlagSet("screenshot", flag.ExitOnError)
	bootPath := fs.String("bootrom", "", "optional DMG boot ROM")
	out := fs.String("out", "", "output PPM path (default <rom>.ppm)")
	expect := fs.String("expect", "", "assert framebuffer xxhash64 (hex)")
	gray := fs.Bool("gray", false, "DMG grayscale instead of classic green")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	romPath := fs.Arg(0)
	frames := parseFrames(fs, 300)

	m := newMachine(romPath, *bootPath, 0, *gray)
	savPath := loadBattery(m, romPath)
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	fb := m.Framebuffer()
	sum := xxhash.Sum64(fb)
	log.Printf("headless: frames=%d fb_xxhash64=%016x", frames, sum)

	path := *out
	if path == "" {
		path = romPath + ".ppm"
	}
	if err := writePPM(path, fb); err != nil {
		log.Fatalf("write PPM: %v", err)
	}
	log.Printf("wrote %s", path)
	saveBattery(m, savPath)

	if *expect != "" {
		want := strings.TrimPrefix(strings.ToLower(*expect), "0x")
		got := fmt.Sprintf("%016x", sum)
		if got != want {
			log.Fatalf("framebuffer mismatch: got %s, want %s", got, want)
		}
	}
}

// writePPM dumps the RGBA framebuffer as a plain-text P3 PPM.
func writePPM(path string, fb []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "P3\n%d %d\n255\n", ppu.FrameWidth, ppu.FrameHeight)
	for y := 0; y < ppu.FrameHeight; y++ {
		for x := 0; x < ppu.FrameWidth; x++ {
			i := (y*ppu.FrameWidth + x) * 4
			fmt.Fprintf(w, "%d %d %d\n", fb[i], fb[i+1], fb[i+2])
		}
	}
	return w.Flush()
}

func runWAV(args []string) {
	fs := flag.NewFlagSet("wav", flag.ExitOnError)
	bootPath := fs.String("bootrom", "", "optional DMG boot ROM")
	out := fs.String("out", "", "output WAV path (default <rom>.wav)")
	rate := fs.Int("rate", 44100, "sample rate")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	romPath := fs.Arg(0)
	frames := parseFrames(fs, 600)

	m := newMachine(romPath, *bootPath, *rate, false)

	// The ring holds well under a second, so drain it every frame.
	samples := make([]int, 0, frames*(*rate)/60)
	pull := make([]float32, 4096)
	drain := func() {
		for {
			n := m.PullAudio(pull)
			if n == 0 {
				return
			}
			for _, v := range pull[:n] {
				samples = append(samples, int(v*32767))
			}
		}
	}
	for i := 0; i < frames; i++ {
		m.StepFrame()
		drain()
	}

	path := *out
	if path == "" {
		path = romPath + ".wav"
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, *rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: *rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		log.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		log.Fatalf("finish wav: %v", err)
	}
	log.Printf("wrote %s (%d samples at %d Hz)", path, len(samples), *rate)
}

func runMooneye(args []string) {
	fs := flag.NewFlagSet("mooneye", flag.ExitOnError)
	bootPath := fs.String("bootrom", "", "optional DMG boot ROM")
	frames := fs.Int("frames", mooneyeTimeoutFrames, "frame timeout")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	romPath := fs.Arg(0)

	m := newMachine(romPath, *bootPath, 0, false)
	res := m.RunMooneye(*frames)
	switch {
	case res.Passed:
		log.Printf("PASS %s (%d frames)", romPath, res.Frames)
	case res.Hit:
		c := m.CPU()
		log.Printf("FAIL %s: B=%d C=%d D=%d E=%d H=%d L=%d", romPath, c.B, c.C, c.D, c.E, c.H, c.L)
		os.Exit(1)
	default:
		log.Printf("TIMEOUT %s after %d frames", romPath, res.Frames)
		os.Exit(1)
	}
}
