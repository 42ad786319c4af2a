package ppu

import "testing"

func newLCDOn() *PPU {
	p := New()
	p.SetScheme(SchemeGray)
	p.CPUWrite(0xFF40, 0x91) // LCD on, BG on, tile data 0x8000
	return p
}

func TestPPU_ModeSequence(t *testing.T) {
	p := newLCDOn()
	if p.Mode() != ModeOAMScan {
		t.Fatalf("mode after LCD on got %d want 2", p.Mode())
	}
	p.Tick(oamScanCycles)
	if p.Mode() != ModeVRAM {
		t.Fatalf("mode after OAM scan got %d want 3", p.Mode())
	}
	p.Tick(172)
	if p.Mode() != ModeHBlank {
		t.Fatalf("mode after transfer got %d want 0", p.Mode())
	}
	p.Tick(scanlineCycles - oamScanCycles - 172)
	if p.LY() != 1 || p.Mode() != ModeOAMScan {
		t.Fatalf("after one scanline LY=%d mode=%d want LY=1 mode=2", p.LY(), p.Mode())
	}
}

func TestPPU_Mode3DurationTracksSCX(t *testing.T) {
	p := newLCDOn()
	p.CPUWrite(0xFF43, 5) // SCX
	p.Tick(oamScanCycles)
	if p.Mode() != ModeVRAM {
		t.Fatalf("expected mode 3")
	}
	p.Tick(172)
	if p.Mode() != ModeVRAM {
		t.Fatalf("mode 3 must last 172 + SCX%%8 cycles")
	}
	p.Tick(5)
	if p.Mode() != ModeHBlank {
		t.Fatalf("mode 3 did not end after 172+5 cycles")
	}
	// the scanline still totals 456 cycles
	p.Tick(scanlineCycles - oamScanCycles - 177)
	if p.LY() != 1 {
		t.Fatalf("LY got %d want 1", p.LY())
	}
}

func TestPPU_VBlankAndWrap(t *testing.T) {
	p := newLCDOn()
	frame := p.Tick(scanlineCycles * 144)
	if !frame {
		t.Fatalf("Tick must report frame completion at VBlank entry")
	}
	if p.LY() != 144 || p.Mode() != ModeVBlank {
		t.Fatalf("LY=%d mode=%d want 144/1", p.LY(), p.Mode())
	}
	if p.IF()&(1<<IntVBlank) == 0 {
		t.Fatalf("VBlank IF bit not raised")
	}
	p.Tick(scanlineCycles * 10)
	if p.LY() != 0 || p.Mode() != ModeOAMScan {
		t.Fatalf("after VBlank LY=%d mode=%d want 0/2", p.LY(), p.Mode())
	}
}

func TestPPU_LYRange(t *testing.T) {
	p := newLCDOn()
	for i := 0; i < 154*2; i++ {
		p.Tick(scanlineCycles)
		ly := p.LY()
		if ly > 153 {
			t.Fatalf("LY out of range: %d", ly)
		}
		if (ly >= 144) != (p.Mode() == ModeVBlank) {
			t.Fatalf("LY=%d but mode=%d", ly, p.Mode())
		}
	}
}

func TestPPU_LCDOffReadsZero(t *testing.T) {
	p := newLCDOn()
	p.Tick(scanlineCycles * 50)
	p.CPUWrite(0xFF40, 0x11) // bit 7 clear
	if p.CPURead(0xFF44) != 0 {
		t.Fatalf("LY must read 0 with LCD off")
	}
	if p.CPURead(0xFF41)&0x03 != 0 {
		t.Fatalf("STAT mode must read 0 with LCD off")
	}
	// idempotent: disabling again changes nothing
	p.CPUWrite(0xFF40, 0x11)
	if p.CPURead(0xFF44) != 0 || p.CPURead(0xFF41)&0x03 != 0 {
		t.Fatalf("repeated disable must stay LY=0 mode=0")
	}
	// time passing while off must not move LY
	p.Tick(scanlineCycles * 3)
	if p.CPURead(0xFF44) != 0 {
		t.Fatalf("LY moved while LCD off")
	}
}

func TestPPU_StatRisingEdgeLYC(t *testing.T) {
	p := newLCDOn()
	p.CPUWrite(0xFF45, 5)    // LYC=5
	p.CPUWrite(0xFF41, 0x40) // LYC interrupt enable
	p.CPUWrite(0xFF0F, 0)    // clear IF
	p.Tick(scanlineCycles * 5)
	if p.IF()&(1<<IntStat) == 0 {
		t.Fatalf("STAT IRQ not raised on LY==LYC")
	}
	// the line stays high across the scanline: no second edge
	p.CPUWrite(0xFF0F, 0)
	p.Tick(100)
	if p.IF()&(1<<IntStat) != 0 {
		t.Fatalf("STAT IRQ must only fire on the rising edge")
	}
	if p.CPURead(0xFF41)&(1<<2) == 0 {
		t.Fatalf("coincidence bit must be set while LY==LYC")
	}
}

func TestPPU_StatEdgeOnEnableWrite(t *testing.T) {
	p := newLCDOn()
	p.CPUWrite(0xFF45, 0) // LYC == LY == 0 already
	p.CPUWrite(0xFF0F, 0)
	p.CPUWrite(0xFF41, 0x40) // enabling the source must recompute and fire
	if p.IF()&(1<<IntStat) == 0 {
		t.Fatalf("STAT IRQ not raised when enable bit creates a rising edge")
	}
}

func TestPPU_IFUpperBitsReadOne(t *testing.T) {
	p := New()
	p.CPUWrite(0xFF0F, 0x00)
	if got := p.CPURead(0xFF0F); got != 0xE0 {
		t.Fatalf("IF read got %02x want E0", got)
	}
	p.Request(IntTimer)
	if got := p.CPURead(0xFF0F); got != 0xE4 {
		t.Fatalf("IF read got %02x want E4", got)
	}
}

func TestPPU_WindowLineCounter(t *testing.T) {
	p := newLCDOn()
	p.CPUWrite(0xFF40, 0xB1) // + window enable (bit 5)
	p.CPUWrite(0xFF4A, 0)    // WY=0
	p.CPUWrite(0xFF4B, 7)    // WX=7: window covers the full line
	p.Tick(scanlineCycles * 10)
	if p.winLine != 10 {
		t.Fatalf("window line counter got %d want 10", p.winLine)
	}
	// Offscreen window: WX too far right, no pixels drawn, counter frozen
	p2 := newLCDOn()
	p2.CPUWrite(0xFF40, 0xB1)
	p2.CPUWrite(0xFF4A, 0)
	p2.CPUWrite(0xFF4B, 200)
	p2.Tick(scanlineCycles * 10)
	if p2.winLine != 0 {
		t.Fatalf("window line counter must not advance without window pixels, got %d", p2.winLine)
	}
}

func TestPPU_WindowTriggerLatches(t *testing.T) {
	p := newLCDOn()
	p.CPUWrite(0xFF40, 0xB1)
	p.CPUWrite(0xFF4A, 3) // WY=3
	p.Tick(scanlineCycles * 2)
	if p.winYTrigger {
		t.Fatalf("trigger must not be set before WY is reached")
	}
	p.Tick(scanlineCycles * 2)
	if !p.winYTrigger {
		t.Fatalf("trigger must latch when LY==WY")
	}
	// raising WY later does not unlatch within the frame
	p.CPUWrite(0xFF4A, 200)
	p.Tick(scanlineCycles)
	if !p.winYTrigger {
		t.Fatalf("trigger must stay latched for the frame")
	}
	// frame wrap clears it
	p.Tick(scanlineCycles * 154)
	if p.winYTrigger {
		t.Fatalf("trigger must clear at frame start")
	}
}
