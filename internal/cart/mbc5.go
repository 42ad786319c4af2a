package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC5 implements 9-bit ROM banking (bank 0 selectable) and up to 16 RAM banks.
// Banking behavior:
//   - 0000-1FFF: RAM enable (0x0A in low nibble)
//   - 2000-2FFF: ROM bank low 8 bits
//   - 3000-3FFF: ROM bank bit 8
//   - 4000-5FFF: RAM bank (0-15)
//   - A000-BFFF: external RAM access when enabled
type MBC5 struct {
	rom      []byte
	ram      []byte
	romBanks int

	ramEnabled bool
	romBankLo  byte
	romBankHi  byte // bit 8 only
	ramBank    byte // 0..15
}

func NewMBC5(rom []byte, ramSize, romBanks int) *MBC5 {
	m := &MBC5{rom: rom, romBanks: romBanks}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBankLo = 1
	return m
}

func (m *MBC5) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		return readBanked(m.rom, 0, m.romBanks, addr)
	case addr < 0x8000:
		bank := int(m.romBankLo) | int(m.romBankHi&1)<<8
		return readBanked(m.rom, bank, m.romBanks, addr-0x4000)
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := int(m.ramBank&0x0F)*0x2000 + int(addr-0xA000)
		if off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC5) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x3000:
		m.romBankLo = value
	case addr < 0x4000:
		m.romBankHi = value & 0x01
	case addr < 0x6000:
		m.ramBank = value & 0x0F
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		off := int(m.ramBank&0x0F)*0x2000 + int(addr-0xA000)
		if off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// BatteryBacked
func (m *MBC5) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC5) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

// --- Save/Load state ---
type mbc5State struct {
	RAM        []byte
	RAMEnabled bool
	ROMBankLo  byte
	ROMBankHi  byte
	RAMBank    byte
}

func (m *MBC5) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(mbc5State{
		RAM: m.SaveRAM(), RAMEnabled: m.ramEnabled,
		ROMBankLo: m.romBankLo, ROMBankHi: m.romBankHi, RAMBank: m.ramBank,
	})
	return buf.Bytes()
}

func (m *MBC5) LoadState(data []byte) {
	var s mbc5State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	m.LoadRAM(s.RAM)
	m.ramEnabled = s.RAMEnabled
	m.romBankLo = s.ROMBankLo
	m.romBankHi = s.ROMBankHi
	m.ramBank = s.RAMBank
}
