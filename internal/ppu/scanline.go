package ppu

// maxSpritesPerLine is the hardware cap on OBJs considered per scanline.
const maxSpritesPerLine = 10

type oamEntry struct {
	sy, sx     int
	tile, attr byte
	index      int
}

// renderScanline composes BG, window, and sprites for the current LY into
// the framebuffer. Called once, at the end of mode 3.
func (p *PPU) renderScanline() {
	y := int(p.ly)
	if y >= FrameHeight {
		return
	}

	// The window Y trigger latches on the first scanline where WY is hit
	// with the window enabled, and holds for the rest of the frame.
	if p.lcdc&0x20 != 0 && p.ly == p.wy {
		p.winYTrigger = true
	}

	// Background and window color indices for the line; kept for the
	// OBJ-behind-BG priority test below.
	var bgci [FrameWidth]byte
	windowActive := p.lcdc&0x20 != 0 && p.winYTrigger
	for x := 0; x < FrameWidth; x++ {
		ci := byte(0)
		if p.lcdc&0x01 != 0 {
			if windowActive && x+7 >= int(p.wx) {
				ci = p.windowPixel(x)
				p.winLineDrawn = true
			} else {
				ci = p.backgroundPixel(x, y)
			}
		}
		bgci[x] = ci
		p.putPixel(x, y, paletteShade(p.bgp, ci))
	}

	if p.lcdc&0x02 == 0 {
		return
	}

	spriteH := 8
	if p.lcdc&0x04 != 0 {
		spriteH = 16
	}

	// Candidate selection: OAM index order, capped at 10.
	candidates := make([]oamEntry, 0, maxSpritesPerLine)
	for i := 0; i < 40 && len(candidates) < maxSpritesPerLine; i++ {
		base := i * 4
		sy := int(p.oam[base]) - 16
		sx := int(p.oam[base+1]) - 8
		if y >= sy && y < sy+spriteH {
			candidates = append(candidates, oamEntry{sy: sy, sx: sx, tile: p.oam[base+2], attr: p.oam[base+3], index: i})
		}
	}
	if len(candidates) == 0 {
		return
	}
	// Draw order is ascending X; OAM index breaks ties (stable).
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].sx < candidates[i].sx ||
				(candidates[j].sx == candidates[i].sx && candidates[j].index < candidates[i].index) {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	for x := 0; x < FrameWidth; x++ {
		for _, s := range candidates {
			if x < s.sx || x >= s.sx+8 {
				continue
			}
			// OBJ-to-BG priority: bit 7 keeps non-zero BG pixels in front
			if s.attr&(1<<7) != 0 && bgci[x] != 0 {
				continue
			}
			ci := p.spritePixel(s, x, y, spriteH)
			if ci == 0 { // color 0 is transparent
				continue
			}
			pal := p.obp0
			if s.attr&(1<<4) != 0 {
				pal = p.obp1
			}
			p.putPixel(x, y, paletteShade(pal, ci))
			break
		}
	}
}

// backgroundPixel returns the BG map color index at screen position (x, y).
func (p *PPU) backgroundPixel(x, y int) byte {
	mapBase := uint16(0x9800)
	if p.lcdc&0x08 != 0 {
		mapBase = 0x9C00
	}
	bgy := byte(int(p.scy) + y)
	bgx := byte(int(p.scx) + x)
	return p.tilePixel(mapBase, bgx, bgy)
}

// windowPixel returns the window color index at screen x. The window's
// vertical position is the internal line counter, not LY.
func (p *PPU) windowPixel(x int) byte {
	mapBase := uint16(0x9800)
	if p.lcdc&0x40 != 0 {
		mapBase = 0x9C00
	}
	wx := x + 7 - int(p.wx)
	return p.tilePixel(mapBase, byte(wx), p.winLine)
}

// tilePixel decodes a 2bpp pixel from the given tile map at map-space (x, y),
// honoring the LCDC tile-data select (0x8000 unsigned / 0x8800 signed).
func (p *PPU) tilePixel(mapBase uint16, x, y byte) byte {
	tileIndexAddr := mapBase + uint16(y/8)*32 + uint16(x/8)
	tileNum := p.vram[tileIndexAddr-0x8000]
	var tileAddr uint16
	if p.lcdc&0x10 != 0 {
		tileAddr = 0x8000 + uint16(tileNum)*16 + uint16(y%8)*2
	} else {
		tileAddr = uint16(0x9000 + int(int8(tileNum))*16 + int(y%8)*2)
	}
	lo := p.vram[tileAddr-0x8000]
	hi := p.vram[tileAddr+1-0x8000]
	bit := 7 - (x % 8)
	return ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
}

// spritePixel decodes the sprite's color index at screen (x, y), applying
// flips and the 8x16 tile-pair rule. Returns 0 for transparent.
func (p *PPU) spritePixel(s oamEntry, x, y, spriteH int) byte {
	row := y - s.sy
	col := x - s.sx
	if s.attr&(1<<6) != 0 {
		row = spriteH - 1 - row
	}
	if s.attr&(1<<5) != 0 {
		col = 7 - col
	}
	tile := s.tile
	if spriteH == 16 {
		tile &= 0xFE
		if row >= 8 {
			tile++
		}
	}
	tileAddr := uint16(tile)*16 + uint16(row&7)*2
	lo := p.vram[tileAddr]
	hi := p.vram[tileAddr+1]
	bit := 7 - byte(col)
	return ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
}
