package ppu

import (
	"bytes"
	"encoding/gob"
)

// Interrupt bit positions in IF/IE.
const (
	IntVBlank = 0
	IntStat   = 1
	IntTimer  = 2
	IntSerial = 3
	IntJoypad = 4
)

// PPU modes.
const (
	ModeHBlank  = 0
	ModeVBlank  = 1
	ModeOAMScan = 2
	ModeVRAM    = 3
)

const (
	oamScanCycles  = 80
	scanlineCycles = 456
	lastVisibleLY  = 143
	lastVBlankLY   = 153
)

// PPU models VRAM/OAM, the LCD register file, the mode state machine, the
// DIV/TIMA timer block, and the interrupt-flag register. It exposes
// CPU-facing Read/Write for VRAM/OAM and the FF04–FF0F / FF40–FF4B IO range.
type PPU struct {
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit 2, enables bits 3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	// mode timing
	mode         byte
	cycles       int // T-cycles spent in the current mode
	mode3Cycles  int // latched at mode-3 entry: 172 + (SCX mod 8)
	frameDone    bool
	statLine     bool // for rising-edge detection of the STAT interrupt
	winYTrigger  bool // WY==LY seen with the window enabled this frame
	winLine      byte // window internal line counter
	winLineDrawn bool // window contributed pixels on the current scanline

	ifReg byte // FF0F, low 5 bits

	timer Timer

	scheme Scheme
	fb     [FrameWidth * FrameHeight * 4]byte
}

func New() *PPU {
	p := &PPU{scheme: SchemeGreen}
	return p
}

// SetScheme selects the output color scheme (classic green or DMG grayscale).
func (p *PPU) SetScheme(s Scheme) { p.scheme = s }

// Framebuffer returns the RGBA pixels, 160x144x4 bytes. The slice aliases
// internal state and is fully written for a frame once Tick has reported
// frame completion.
func (p *PPU) Framebuffer() []byte { return p.fb[:] }

// Request sets an interrupt-flag bit (IntVBlank..IntJoypad).
func (p *PPU) Request(bit int) { p.ifReg |= 1 << bit }

// IF returns the raw pending-interrupt bits (low 5).
func (p *PPU) IF() byte { return p.ifReg & 0x1F }

// LY returns the current scanline as the CPU would read it.
func (p *PPU) LY() byte {
	if !p.lcdOn() {
		return 0
	}
	return p.ly
}

// Mode returns the current PPU mode as the CPU would read it (0 while off).
func (p *PPU) Mode() byte {
	if !p.lcdOn() {
		return 0
	}
	return p.mode
}

func (p *PPU) lcdOn() bool { return p.lcdc&0x80 != 0 }

// LCDOn reports whether LCDC bit 7 is set.
func (p *PPU) LCDOn() bool { return p.lcdOn() }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers; 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return p.oam[addr-0xFE00]
	case addr >= 0xFF04 && addr <= 0xFF07:
		return p.timer.Read(addr)
	case addr == 0xFF0F:
		// upper 3 bits read as 1
		return 0xE0 | (p.ifReg & 0x1F)
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// bit 7 reads as 1; mode and coincidence read 0 while the LCD is off
		if !p.lcdOn() {
			return 0x80 | (p.stat & 0x78)
		}
		return 0x80 | (p.stat & 0x78) | p.coincidenceBit() | (p.mode & 0x03)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.LY()
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		p.oam[addr-0xFE00] = value
	case addr >= 0xFF04 && addr <= 0xFF07:
		p.timer.Write(addr, value)
	case addr == 0xFF0F:
		p.ifReg = value & 0x1F
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if prev&0x80 != 0 && value&0x80 == 0 {
			// LCD off: LY and mode report 0, timing restarts from scratch
			p.ly = 0
			p.cycles = 0
			p.mode = ModeHBlank
			p.statLine = false
		} else if prev&0x80 == 0 && value&0x80 != 0 {
			p.ly = 0
			p.cycles = 0
			p.winLine = 0
			p.winYTrigger = false
			p.mode = ModeOAMScan
		}
		p.updateStatLine()
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
		p.updateStatLine()
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		// LY is not writable; games that poke it are observed and ignored
	case addr == 0xFF45:
		p.lyc = value
		p.updateStatLine()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances the PPU and its timer block by the given number of T-cycles.
// It returns true if a frame was completed during this advance.
func (p *PPU) Tick(cycles int) bool {
	p.frameDone = false
	for i := 0; i < cycles; i++ {
		p.timer.Tick(&p.ifReg)
		if !p.lcdOn() {
			continue
		}
		p.cycles++
		switch p.mode {
		case ModeOAMScan:
			if p.cycles >= oamScanCycles {
				p.cycles = 0
				p.mode3Cycles = 172 + int(p.scx%8)
				p.setMode(ModeVRAM)
			}
		case ModeVRAM:
			if p.cycles >= p.mode3Cycles {
				p.cycles = 0
				p.renderScanline()
				p.setMode(ModeHBlank)
			}
		case ModeHBlank:
			if p.cycles >= scanlineCycles-oamScanCycles-p.mode3Cycles {
				p.cycles = 0
				if p.winLineDrawn {
					p.winLine++
					p.winLineDrawn = false
				}
				p.ly++
				if p.ly > lastVisibleLY {
					p.setMode(ModeVBlank)
					p.Request(IntVBlank)
					p.frameDone = true
				} else {
					p.startVisibleLine()
				}
				p.updateStatLine()
			}
		case ModeVBlank:
			if p.cycles >= scanlineCycles {
				p.cycles = 0
				p.ly++
				if p.ly > lastVBlankLY {
					p.ly = 0
					p.winLine = 0
					p.winYTrigger = false
					p.startVisibleLine()
				}
				p.updateStatLine()
			}
		}
	}
	return p.frameDone
}

func (p *PPU) startVisibleLine() {
	p.setMode(ModeOAMScan)
}

func (p *PPU) setMode(mode byte) {
	p.mode = mode
	p.updateStatLine()
}

func (p *PPU) coincidenceBit() byte {
	if p.ly == p.lyc {
		return 1 << 2
	}
	return 0
}

// updateStatLine recomputes the STAT interrupt line from the current mode,
// LY/LYC and the enable bits, and requests the LCD_STAT interrupt on a
// rising edge. Any write that changes an input must call this.
func (p *PPU) updateStatLine() {
	line := false
	if p.lcdOn() {
		switch {
		case p.mode == ModeHBlank && p.stat&(1<<3) != 0:
			line = true
		case p.mode == ModeVBlank && p.stat&(1<<4) != 0:
			line = true
		case p.mode == ModeOAMScan && p.stat&(1<<5) != 0:
			line = true
		}
		if p.ly == p.lyc && p.stat&(1<<6) != 0 {
			line = true
		}
	}
	if line && !p.statLine {
		p.Request(IntStat)
	}
	p.statLine = line
}

// RawVRAM returns the VRAM byte at a CPU address, or 0xFF outside VRAM.
func (p *PPU) RawVRAM(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr-0x8000]
	}
	return 0xFF
}

// RawOAM returns the OAM byte at a CPU address, or 0xFF outside OAM.
func (p *PPU) RawOAM(addr uint16) byte {
	if addr >= 0xFE00 && addr <= 0xFE9F {
		return p.oam[addr-0xFE00]
	}
	return 0xFF
}

// WriteOAM stores a byte at OAM offset off (0..0x9F); used by OAM DMA.
func (p *PPU) WriteOAM(off int, value byte) {
	if off >= 0 && off < len(p.oam) {
		p.oam[off] = value
	}
}

// --- Save/Load state ---
type ppuState struct {
	VRAM [0x2000]byte
	OAM  [0xA0]byte

	LCDC, STAT, SCY, SCX, LY, LYC byte
	BGP, OBP0, OBP1, WY, WX       byte

	Mode        byte
	Cycles      int
	Mode3Cycles int
	StatLine    bool
	WinYTrigger bool
	WinLine     byte
	IF          byte

	Timer timerState

	Scheme Scheme
	FB     []byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Mode: p.mode, Cycles: p.cycles, Mode3Cycles: p.mode3Cycles,
		StatLine: p.statLine, WinYTrigger: p.winYTrigger, WinLine: p.winLine,
		IF:    p.ifReg,
		Timer: p.timer.state(),
		Scheme: p.scheme, FB: append([]byte(nil), p.fb[:]...),
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

// LoadState restores fields directly; it never goes through CPUWrite, so
// restoring LCDC/STAT cannot re-trigger the LCD toggle or a STAT interrupt.
func (p *PPU) LoadState(data []byte) {
	var s ppuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.mode, p.cycles, p.mode3Cycles = s.Mode, s.Cycles, s.Mode3Cycles
	p.statLine, p.winYTrigger, p.winLine = s.StatLine, s.WinYTrigger, s.WinLine
	p.ifReg = s.IF
	p.timer.loadState(s.Timer)
	p.scheme = s.Scheme
	copy(p.fb[:], s.FB)
}
