package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements MBC1 ROM/RAM banking: up to 2 MB ROM and 32 KB RAM.
type MBC1 struct {
	rom      []byte
	ram      []byte
	romBanks int

	romBankLow5       byte // lower 5 bits of ROM bank number (0->1 remapped)
	ramBankOrRomHigh2 byte // ROM bank bits 5-6 in both modes; in mode 1 also the RAM bank and the 0000-3FFF bank
	ramEnabled        bool
	modeSelect        byte // 0: ROM banking (default), 1: RAM banking
}

func NewMBC1(rom []byte, ramSize, romBanks int) *MBC1 {
	m := &MBC1{rom: rom, romBanks: romBanks}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBankLow5 = 1
	return m
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if m.modeSelect == 0 {
			return readBanked(m.rom, 0, m.romBanks, addr)
		}
		// mode 1: the high bits window the fixed region too
		bank := int(m.ramBankOrRomHigh2&0x03) << 5
		return readBanked(m.rom, bank, m.romBanks, addr)
	case addr < 0x8000:
		return readBanked(m.rom, m.effectiveROMBank(), m.romBanks, addr-0x4000)
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := m.ramOffset(addr)
		if off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		// RAM enable: low 4 bits must be 0x0A
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		// ROM bank low 5 bits (0 maps to 1)
		m.romBankLow5 = value & 0x1F
		if m.romBankLow5 == 0 {
			m.romBankLow5 = 1
		}
	case addr < 0x6000:
		// RAM bank or ROM high bits (2 bits)
		m.ramBankOrRomHigh2 = value & 0x03
	case addr < 0x8000:
		// Mode select: 0 ROM banking, 1 RAM banking
		m.modeSelect = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		off := m.ramOffset(addr)
		if off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC1) effectiveROMBank() int {
	high := m.ramBankOrRomHigh2 & 0x03
	return int(m.romBankLow5) | int(high)<<5
}

func (m *MBC1) ramOffset(addr uint16) int {
	ramBank := 0
	if m.modeSelect == 1 {
		ramBank = int(m.ramBankOrRomHigh2 & 0x03)
	}
	return ramBank*0x2000 + int(addr-0xA000)
}

// BatteryBacked
func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

// --- Save/Load state ---
type mbc1State struct {
	RAM        []byte
	BankLow5   byte
	BankHigh2  byte
	RAMEnabled bool
	Mode       byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(mbc1State{
		RAM: m.SaveRAM(), BankLow5: m.romBankLow5, BankHigh2: m.ramBankOrRomHigh2,
		RAMEnabled: m.ramEnabled, Mode: m.modeSelect,
	})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	m.LoadRAM(s.RAM)
	m.romBankLow5 = s.BankLow5
	if m.romBankLow5 == 0 {
		m.romBankLow5 = 1
	}
	m.ramBankOrRomHigh2 = s.BankHigh2
	m.ramEnabled = s.RAMEnabled
	m.modeSelect = s.Mode
}
