package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/dotmatrixgb/dotmatrix/internal/apu"
	"github.com/dotmatrixgb/dotmatrix/internal/cart"
	"github.com/dotmatrixgb/dotmatrix/internal/ppu"
)

// Joypad button bits as used by SetJoypadState. All are "pressed" flags;
// the register itself is active-low.
const (
	JoypRight     byte = 1 << 0
	JoypLeft      byte = 1 << 1
	JoypUp        byte = 1 << 2
	JoypDown      byte = 1 << 3
	JoypA         byte = 1 << 4
	JoypB         byte = 1 << 5
	JoypSelectBtn byte = 1 << 6
	JoypStart     byte = 1 << 7
)

// Bus routes every CPU access to the owning component and holds the pieces
// that belong to no other chip: WRAM, HRAM, the boot ROM overlay, the
// joypad matrix, the serial stub, and the interrupt-enable register.
//
// OAM DMA (a write to 0xFF46) is performed atomically here rather than
// spread over 160 M-cycles; bus locking during DMA is not enforced.
type Bus struct {
	wram [0x2000]byte // 0xC000–0xDFFF (echoed at 0xE000–0xFDFF)
	hram [0x7F]byte   // 0xFF80–0xFFFE

	bootROM      []byte // 256 bytes mapped over 0x0000–0x00FF until disabled
	bootDisabled bool

	// joypad: select bits from the last FF00 write, pressed buttons from the host
	joySelect  byte
	joyPressed byte

	sb, sc       byte // FF01/FF02
	serialWriter io.Writer

	dma byte // FF46, last written source page

	ie byte // FFFF

	frameDone bool

	cart cart.Cartridge
	ppu  *ppu.PPU
	apu  *apu.APU
}

// New wires a bus for the given ROM image. sampleRate configures the APU
// downsampler; pass 0 for the 44.1 kHz default.
func New(rom []byte, sampleRate int) *Bus {
	b := &Bus{
		cart:      cart.NewCartridge(rom),
		ppu:       ppu.New(),
		apu:       apu.New(sampleRate),
		joySelect: 0x30,
	}
	return b
}

func (b *Bus) Cart() cart.Cartridge { return b.cart }
func (b *Bus) PPU() *ppu.PPU        { return b.ppu }
func (b *Bus) APU() *apu.APU        { return b.apu }

// SetBootROM maps a 256-byte DMG boot ROM over 0x0000–0x00FF.
func (b *Bus) SetBootROM(data []byte) {
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootDisabled = false
	} else {
		b.bootROM = nil
		b.bootDisabled = true
	}
}

// BootDisabled reports whether the FF50 latch has fired (or no boot ROM is mapped).
func (b *Bus) BootDisabled() bool { return b.bootDisabled || b.bootROM == nil }

// SetSerialWriter connects an io.Writer that receives bytes sent on the
// serial port. Test ROMs report results this way.
func (b *Bus) SetSerialWriter(w io.Writer) { b.serialWriter = w }

// SetJoypadState updates the pressed-button bits (Joyp* constants) and
// raises the joypad interrupt on a new press in the selected group.
func (b *Bus) SetJoypadState(pressed byte) {
	newly := pressed &^ b.joyPressed
	b.joyPressed = pressed
	if newly == 0 {
		return
	}
	if b.joySelect&0x10 == 0 && newly&0x0F != 0 {
		b.ppu.Request(ppu.IntJoypad)
	}
	if b.joySelect&0x20 == 0 && newly&0xF0 != 0 {
		b.ppu.Request(ppu.IntJoypad)
	}
}

// Tick advances PPU (video + timer) and APU by the given T-cycles.
func (b *Bus) Tick(cycles int) {
	if b.ppu.Tick(cycles) {
		b.frameDone = true
	}
	b.apu.Tick(cycles)
}

// TakeFrame reports and clears the end-of-frame latch.
func (b *Bus) TakeFrame() bool {
	f := b.frameDone
	b.frameDone = false
	return f
}

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x0100 && !b.BootDisabled():
		return b.bootROM[addr]
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.ppu.CPURead(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xE000:
		return b.wram[addr-0xC000]
	case addr < 0xFE00: // echo RAM
		return b.wram[addr-0xE000]
	case addr < 0xFEA0:
		return b.ppu.CPURead(addr)
	case addr < 0xFF00: // unusable
		return 0xFF
	case addr == 0xFF00:
		return b.readJoypad()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | b.sc
	case addr >= 0xFF04 && addr <= 0xFF07:
		return b.ppu.CPURead(addr)
	case addr == 0xFF0F:
		return b.ppu.CPURead(addr)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr >= 0xFF40 && addr <= 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF50:
		if b.BootDisabled() {
			return 0xFF
		}
		return 0xFE
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.ie
	default:
		return 0xFF
	}
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr < 0xA000:
		b.ppu.CPUWrite(addr, value)
	case addr < 0xC000:
		b.cart.Write(addr, value)
	case addr < 0xE000:
		b.wram[addr-0xC000] = value
	case addr < 0xFE00: // echo RAM
		b.wram[addr-0xE000] = value
	case addr < 0xFEA0:
		b.ppu.CPUWrite(addr, value)
	case addr < 0xFF00: // unusable
	case addr == 0xFF00:
		b.joySelect = value & 0x30
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value
		if value&0x81 == 0x81 {
			// internal-clock transfer: complete immediately
			if b.serialWriter != nil {
				_, _ = b.serialWriter.Write([]byte{b.sb})
			}
			b.sb = 0xFF // no link partner
			b.sc &^= 0x80
			b.ppu.Request(ppu.IntSerial)
		}
	case addr >= 0xFF04 && addr <= 0xFF07:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF0F:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.oamDMA(value)
	case addr >= 0xFF40 && addr <= 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF50:
		// sticky: once disabled the boot ROM never comes back
		if value&0x01 != 0 {
			b.bootDisabled = true
		}
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.ie = value
	}
}

// readJoypad assembles FF00 from the select bits and pressed buttons.
// All observable bits are active-low.
func (b *Bus) readJoypad() byte {
	res := 0xC0 | b.joySelect | 0x0F
	if b.joySelect&0x10 == 0 { // dpad
		res &^= b.joyPressed & 0x0F
	}
	if b.joySelect&0x20 == 0 { // buttons
		res &^= (b.joyPressed >> 4) & 0x0F
	}
	return res
}

// oamDMA copies 160 bytes from value<<8 into OAM in one shot.
func (b *Bus) oamDMA(value byte) {
	b.dma = value
	src := uint16(value) << 8
	for i := 0; i < 0xA0; i++ {
		b.ppu.WriteOAM(i, b.Read(src+uint16(i)))
	}
}

// --- Save/Load state ---
type busState struct {
	WRAM         [0x2000]byte
	HRAM         [0x7F]byte
	BootDisabled bool
	JoySelect    byte
	JoyPressed   byte
	SB, SC       byte
	DMA          byte
	IE           byte
	PPU          []byte
	APU          []byte
	Cart         []byte
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(busState{
		WRAM: b.wram, HRAM: b.hram, BootDisabled: b.bootDisabled,
		JoySelect: b.joySelect, JoyPressed: b.joyPressed,
		SB: b.sb, SC: b.sc, DMA: b.dma, IE: b.ie,
		PPU: b.ppu.SaveState(), APU: b.apu.SaveState(), Cart: b.cart.SaveState(),
	})
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram, b.hram, b.bootDisabled = s.WRAM, s.HRAM, s.BootDisabled
	b.joySelect, b.joyPressed = s.JoySelect, s.JoyPressed
	b.sb, b.sc, b.dma, b.ie = s.SB, s.SC, s.DMA, s.IE
	b.ppu.LoadState(s.PPU)
	b.apu.LoadState(s.APU)
	b.cart.LoadState(s.Cart)
}
