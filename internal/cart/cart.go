package cart

// Cartridge defines the minimal interface the Bus needs for ROM/RAM banking.
// Implementations can be ROM-only or MBC variants. Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000–0x7FFF) and external RAM (0xA000–0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000–0x7FFF) and external RAM writes (0xA000–0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize internal banking registers and external RAM for save states.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is an optional interface for cartridges with external RAM to be persisted.
// Implementations return a copy of RAM bytes (may be empty if no RAM), and accept data to load.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// NewCartridge picks an implementation based on the ROM header.
// Unknown types fall back to ROM-only so homebrew and test ROMs still run.
func NewCartridge(rom []byte) Cartridge {
	h, err := ParseHeader(rom)
	if err != nil {
		return NewROMOnly(rom)
	}
	switch h.CartType {
	case 0x00, 0x08, 0x09:
		return NewROMOnly(rom)
	case 0x01, 0x02, 0x03:
		return NewMBC1(rom, h.RAMSizeBytes, h.ROMBanks)
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		return NewMBC3(rom, h.RAMSizeBytes, h.ROMBanks)
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		return NewMBC5(rom, h.RAMSizeBytes, h.ROMBanks)
	default:
		return NewROMOnly(rom)
	}
}

// HasBattery reports whether the cart type byte indicates battery-backed RAM
// that should be persisted to a sidecar file.
func HasBattery(rom []byte) bool {
	if len(rom) <= 0x147 {
		return false
	}
	switch rom[0x147] {
	case 0x03, 0x06, 0x09, 0x0D, 0x0F, 0x10, 0x13, 0x1B, 0x1E:
		return true
	}
	return false
}

// readBanked reads from rom with the bank index wrapped modulo the bank count.
// Reads past the end of the image return 0xFF.
func readBanked(rom []byte, bank, banks int, off uint16) byte {
	if banks > 0 {
		bank %= banks
	}
	idx := bank*0x4000 + int(off)
	if idx >= 0 && idx < len(rom) {
		return rom[idx]
	}
	return 0xFF
}
