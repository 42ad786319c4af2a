package ppu

const (
	FrameWidth  = 160
	FrameHeight = 144
)

// Scheme selects how the four DMG shades map to RGBA.
type Scheme int

const (
	// SchemeGreen is the classic pea-green LCD look.
	SchemeGreen Scheme = iota
	// SchemeGray is plain DMG grayscale.
	SchemeGray
)

type rgb struct{ r, g, b byte }

var schemeShades = [2][4]rgb{
	SchemeGreen: {
		{0xE0, 0xF8, 0xD0},
		{0x88, 0xC0, 0x70},
		{0x34, 0x68, 0x56},
		{0x08, 0x18, 0x20},
	},
	SchemeGray: {
		{0xFF, 0xFF, 0xFF},
		{0xC0, 0xC0, 0xC0},
		{0x60, 0x60, 0x60},
		{0x00, 0x00, 0x00},
	},
}

// paletteShade decodes color index ci (0..3) through palette byte pal:
// the shade is (pal >> 2*ci) & 3.
func paletteShade(pal, ci byte) byte {
	return (pal >> (2 * (ci & 3))) & 0x03
}

// putPixel writes one framebuffer pixel in RGBA order.
func (p *PPU) putPixel(x, y int, shade byte) {
	c := schemeShades[p.scheme][shade&3]
	i := (y*FrameWidth + x) * 4
	p.fb[i+0] = c.r
	p.fb[i+1] = c.g
	p.fb[i+2] = c.b
	p.fb[i+3] = 0xFF
}
