package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC3 implements ROM/RAM banking plus the RTC register file.
// Banking behavior:
//   - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
//   - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
//   - 4000-5FFF: RAM bank (0-3) or RTC reg select (08-0C)
//   - 6000-7FFF: latch clock on a 0->1 write sequence
//   - A000-BFFF: external RAM or the selected RTC register
//
// The clock itself is frozen: latching copies the live registers to the
// latched set, but nothing ever advances them. This keeps runs
// deterministic; games read back whatever was last written.
type MBC3 struct {
	rom      []byte
	ram      []byte
	romBanks int

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramSelect  byte // 0..3 RAM bank, or 0x08..0x0C RTC register

	rtc        [5]byte // S, M, H, DL, DH
	rtcLatched [5]byte
	latchPrev  byte
}

func NewMBC3(rom []byte, ramSize, romBanks int) *MBC3 {
	m := &MBC3{rom: rom, romBanks: romBanks}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	m.latchPrev = 0xFF
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		return readBanked(m.rom, 0, m.romBanks, addr)
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		return readBanked(m.rom, bank, m.romBanks, addr-0x4000)
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.ramSelect >= 0x08 && m.ramSelect <= 0x0C {
			return m.rtcLatched[m.ramSelect-0x08]
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		off := int(m.ramSelect&0x03)*0x2000 + int(addr-0xA000)
		if off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		// 0..3 selects a RAM bank; 0x08..0x0C selects an RTC register.
		// Other values deselect to bank 0.
		if value <= 0x03 || (value >= 0x08 && value <= 0x0C) {
			m.ramSelect = value
		} else {
			m.ramSelect = 0
		}
	case addr < 0x8000:
		// Latch on 0 -> 1
		if m.latchPrev == 0 && value == 1 {
			m.rtcLatched = m.rtc
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.ramSelect >= 0x08 && m.ramSelect <= 0x0C {
			m.rtc[m.ramSelect-0x08] = value
			return
		}
		if len(m.ram) == 0 {
			return
		}
		off := int(m.ramSelect&0x03)*0x2000 + int(addr-0xA000)
		if off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// BatteryBacked
func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

// --- Save/Load state ---
type mbc3State struct {
	RAM        []byte
	RAMEnabled bool
	ROMBank    byte
	RAMSelect  byte
	RTC        [5]byte
	RTCLatched [5]byte
	LatchPrev  byte
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(mbc3State{
		RAM: m.SaveRAM(), RAMEnabled: m.ramEnabled, ROMBank: m.romBank,
		RAMSelect: m.ramSelect, RTC: m.rtc, RTCLatched: m.rtcLatched, LatchPrev: m.latchPrev,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	m.LoadRAM(s.RAM)
	m.ramEnabled = s.RAMEnabled
	m.romBank = s.ROMBank
	if m.romBank == 0 {
		m.romBank = 1
	}
	m.ramSelect = s.RAMSelect
	m.rtc = s.RTC
	m.rtcLatched = s.RTCLatched
	m.latchPrev = s.LatchPrev
}
