package ppu

import "testing"

func TestTimer_DIVIsCounterHighByte(t *testing.T) {
	p := New()
	p.Tick(256)
	if got := p.CPURead(0xFF04); got != 1 {
		t.Fatalf("DIV got %d want 1 after 256 cycles", got)
	}
	p.CPUWrite(0xFF04, 0x55) // any write clears
	if got := p.CPURead(0xFF04); got != 0 {
		t.Fatalf("DIV got %d want 0 after write", got)
	}
}

func TestTimer_FastestRate(t *testing.T) {
	p := New()
	p.CPUWrite(0xFF07, 0x05) // enable, 16-cycle period
	p.Tick(16)
	if got := p.CPURead(0xFF05); got != 1 {
		t.Fatalf("TIMA got %d want 1 after 16 cycles", got)
	}
	p.Tick(16 * 9)
	if got := p.CPURead(0xFF05); got != 10 {
		t.Fatalf("TIMA got %d want 10", got)
	}
}

func TestTimer_DisabledDoesNotCount(t *testing.T) {
	p := New()
	p.CPUWrite(0xFF07, 0x01) // mode 1 but disabled
	p.Tick(16 * 32)
	if got := p.CPURead(0xFF05); got != 0 {
		t.Fatalf("TIMA got %d want 0 while disabled", got)
	}
}

func TestTimer_OverflowReloadAndIRQ(t *testing.T) {
	p := New()
	p.CPUWrite(0xFF06, 0x23) // TMA
	p.CPUWrite(0xFF05, 0xFF)
	p.CPUWrite(0xFF07, 0x05)
	p.CPUWrite(0xFF0F, 0)
	p.Tick(16) // overflow
	// during the 4-cycle window TIMA reads 0 and no IRQ yet
	if got := p.CPURead(0xFF05); got != 0 {
		t.Fatalf("TIMA during reload window got %02x want 00", got)
	}
	if p.IF()&(1<<IntTimer) != 0 {
		t.Fatalf("Timer IRQ must not fire before the reload lands")
	}
	p.Tick(4)
	if got := p.CPURead(0xFF05); got != 0x23 {
		t.Fatalf("TIMA after reload got %02x want 23", got)
	}
	if p.IF()&(1<<IntTimer) == 0 {
		t.Fatalf("Timer IRQ missing after reload")
	}
}

func TestTimer_WriteTIMACancelsReload(t *testing.T) {
	p := New()
	p.CPUWrite(0xFF06, 0x23)
	p.CPUWrite(0xFF05, 0xFF)
	p.CPUWrite(0xFF07, 0x05)
	p.CPUWrite(0xFF0F, 0)
	p.Tick(16) // overflow; reload pending
	p.CPUWrite(0xFF05, 0x42)
	p.Tick(8)
	if got := p.CPURead(0xFF05); got != 0x42 {
		t.Fatalf("TIMA got %02x want 42 (reload cancelled)", got)
	}
	if p.IF()&(1<<IntTimer) != 0 {
		t.Fatalf("IRQ must be suppressed when the reload is cancelled")
	}
}

func TestTimer_DIVWriteFallingEdgeIncrements(t *testing.T) {
	p := New()
	p.CPUWrite(0xFF07, 0x05) // bit 3 selected
	p.Tick(8)                // counter=8: selected bit is now 1
	if got := p.CPURead(0xFF05); got != 0 {
		t.Fatalf("TIMA got %d want 0", got)
	}
	p.CPUWrite(0xFF04, 0) // counter to 0: 1->0 edge
	if got := p.CPURead(0xFF05); got != 1 {
		t.Fatalf("TIMA got %d want 1 after DIV-write edge", got)
	}
}

func TestTimer_ManyOverflowsCountIRQs(t *testing.T) {
	p := New()
	p.CPUWrite(0xFF07, 0x05)
	p.CPUWrite(0xFF0F, 0)
	irqs := 0
	// 256 overflows at one increment per 16 cycles, 256 increments each
	for i := 0; i < 16*256*256; i += 16 {
		p.Tick(16)
		if p.IF()&(1<<IntTimer) != 0 {
			irqs++
			p.CPUWrite(0xFF0F, 0)
		}
	}
	// the final overflow's reload lands 4 cycles after the last increment
	p.Tick(4)
	if p.IF()&(1<<IntTimer) != 0 {
		irqs++
	}
	if irqs != 256 {
		t.Fatalf("timer IRQs got %d want 256", irqs)
	}
}
