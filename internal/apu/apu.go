package apu

import (
	"bytes"
	"encoding/gob"
)

// CPU frequency in Hz (DMG master clock).
const cpuHz = 4194304

const frameSeqPeriod = 8192 // T-cycles between frame-sequencer steps (512 Hz)

// APU is the DMG audio unit: two pulse channels, the wave channel, the
// noise channel, the 512 Hz frame sequencer, and a downsampler feeding a
// lock-free ring of mono float samples in [-1, 1].
type APU struct {
	enabled bool

	// sample generation
	sampleRate      int
	cyclesPerSample float64
	cycAccum        float64
	mixGain         float64
	hpCap           float64 // high-pass capacitor state

	// frame sequencer (512 Hz)
	fsCounter int
	fsStep    int // 0..7, last step clocked

	nr50 byte // 0xFF24 master volume
	nr51 byte // 0xFF25 channel routing

	ch1 chSquare // NR10..NR14, with sweep
	ch2 chSquare // NR21..NR24
	ch3 chWave   // NR30..NR34 + wave RAM
	ch4 chNoise  // NR41..NR44

	ring sampleRing
}

func New(sampleRate int) *APU {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	a := &APU{
		enabled:         true,
		sampleRate:      sampleRate,
		cyclesPerSample: float64(cpuHz) / float64(sampleRate),
		mixGain:         0.5,
		fsCounter:       frameSeqPeriod,
		fsStep:          7,
	}
	a.nr50 = 0x77
	a.nr51 = 0xF3
	return a
}

// SampleRate returns the host rate the downsampler was configured for.
func (a *APU) SampleRate() int { return a.sampleRate }

// Pull copies up to len(dst) samples out of the ring buffer and returns the
// count. Consumer side; safe to call from the audio thread.
func (a *APU) Pull(dst []float32) int {
	n := 0
	for n < len(dst) {
		v, ok := a.ring.pop()
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	return n
}

// Buffered returns the number of samples currently in the ring.
func (a *APU) Buffered() int { return a.ring.len() }

// DropBuffered discards all pending samples to re-sync audio with video.
func (a *APU) DropBuffered() { a.ring.drain() }

// nextStepClocksLength reports whether the upcoming frame-sequencer step is
// one of the length steps (0, 2, 4, 6).
func (a *APU) nextStepClocksLength() bool {
	return (a.fsStep+1)&1 == 0
}

// writeLenEnable applies the NRx4 length-enable edge: enabling the counter
// when the next sequencer step does not clock lengths eats one extra tick.
func (a *APU) writeLenEnable(enabled *bool, lenEn *bool, length *int, newEn bool) {
	wasEn := *lenEn
	*lenEn = newEn
	if !wasEn && newEn && !a.nextStepClocksLength() && *length > 0 {
		*length--
		if *length == 0 {
			*enabled = false
		}
	}
}

// triggerLength reloads a zero length counter to full on trigger, minus one
// when the counter is enabled and the next step is a non-length step.
func (a *APU) triggerLength(length *int, max int, lenEn bool) {
	if *length == 0 {
		*length = max
		if lenEn && !a.nextStepClocksLength() {
			*length--
		}
	}
}

// CPURead reads an APU register.
func (a *APU) CPURead(addr uint16) byte {
	switch addr {
	case 0xFF10: // NR10 sweep (CH1)
		n := (a.ch1.sweepPer & 7) << 4
		if a.ch1.sweepNeg {
			n |= 1 << 3
		}
		n |= a.ch1.sweepShift & 7
		return 0x80 | n
	case 0xFF11: // NR11 duty/length
		return a.ch1.duty<<6 | 0x3F
	case 0xFF12: // NR12 envelope
		return readEnvelope(a.ch1.vol, a.ch1.envAdd, a.ch1.envPer)
	case 0xFF13: // NR13 freq lo (write only)
		return 0xFF
	case 0xFF14: // NR14
		return readNRx4(a.ch1.lenEn)
	case 0xFF16: // NR21 duty/length
		return a.ch2.duty<<6 | 0x3F
	case 0xFF17: // NR22 envelope
		return readEnvelope(a.ch2.vol, a.ch2.envAdd, a.ch2.envPer)
	case 0xFF18: // NR23
		return 0xFF
	case 0xFF19: // NR24
		return readNRx4(a.ch2.lenEn)
	case 0xFF1A: // NR30 DAC
		if a.ch3.dacOn {
			return 0xFF
		}
		return 0x7F
	case 0xFF1B: // NR31 length (write only)
		return 0xFF
	case 0xFF1C: // NR32 volume
		return a.ch3.volCode<<5 | 0x9F
	case 0xFF1D: // NR33
		return 0xFF
	case 0xFF1E: // NR34
		return readNRx4(a.ch3.lenEn)
	case 0xFF20: // NR41 length (write only)
		return 0xFF
	case 0xFF21: // NR42 envelope
		return readEnvelope(a.ch4.vol, a.ch4.envAdd, a.ch4.envPer)
	case 0xFF22: // NR43 polynomial
		w := byte(0)
		if a.ch4.width7 {
			w = 1
		}
		return a.ch4.shift<<4 | w<<3 | (a.ch4.divSel & 7)
	case 0xFF23: // NR44
		return readNRx4(a.ch4.lenEn)
	case 0xFF24:
		return a.nr50
	case 0xFF25:
		return a.nr51
	case 0xFF26:
		flags := byte(0)
		if a.ch1.enabled {
			flags |= 1 << 0
		}
		if a.ch2.enabled {
			flags |= 1 << 1
		}
		if a.ch3.enabled {
			flags |= 1 << 2
		}
		if a.ch4.enabled {
			flags |= 1 << 3
		}
		pwr := byte(0)
		if a.enabled {
			pwr = 1 << 7
		}
		return 0x70 | pwr | flags
	default:
		if addr >= 0xFF30 && addr <= 0xFF3F {
			return a.ch3.ram[addr-0xFF30]
		}
		return 0xFF
	}
}

func readEnvelope(vol byte, add bool, per byte) byte {
	dir := byte(0)
	if add {
		dir = 1
	}
	return vol<<4 | dir<<3 | (per & 7)
}

func readNRx4(lenEn bool) byte {
	if lenEn {
		return 0xFF
	}
	return 0xBF
}

// CPUWrite writes an APU register. While the APU is powered off, only NR52
// and wave RAM are writable.
func (a *APU) CPUWrite(addr uint16, v byte) {
	if !a.enabled && addr != 0xFF26 && !(addr >= 0xFF30 && addr <= 0xFF3F) {
		return
	}
	switch addr {
	case 0xFF10: // NR10
		a.ch1.sweepPer = (v >> 4) & 7
		a.ch1.sweepNeg = v&(1<<3) != 0
		a.ch1.sweepShift = v & 7
	case 0xFF11: // NR11
		a.ch1.duty = (v >> 6) & 3
		a.ch1.length = 64 - int(v&0x3F)
	case 0xFF12: // NR12
		a.writeEnvelope(&a.ch1, v)
	case 0xFF13: // NR13
		a.ch1.freq = (a.ch1.freq & 0x0700) | uint16(v)
	case 0xFF14: // NR14
		a.ch1.freq = (a.ch1.freq & 0x00FF) | uint16(v&7)<<8
		a.writeLenEnable(&a.ch1.enabled, &a.ch1.lenEn, &a.ch1.length, v&(1<<6) != 0)
		if v&(1<<7) != 0 {
			a.triggerCh1()
		}
	case 0xFF16: // NR21
		a.ch2.duty = (v >> 6) & 3
		a.ch2.length = 64 - int(v&0x3F)
	case 0xFF17: // NR22
		a.writeEnvelope(&a.ch2, v)
	case 0xFF18: // NR23
		a.ch2.freq = (a.ch2.freq & 0x0700) | uint16(v)
	case 0xFF19: // NR24
		a.ch2.freq = (a.ch2.freq & 0x00FF) | uint16(v&7)<<8
		a.writeLenEnable(&a.ch2.enabled, &a.ch2.lenEn, &a.ch2.length, v&(1<<6) != 0)
		if v&(1<<7) != 0 {
			a.triggerCh2()
		}
	case 0xFF1A: // NR30
		a.ch3.dacOn = v&0x80 != 0
		if !a.ch3.dacOn {
			a.ch3.enabled = false
		}
	case 0xFF1B: // NR31
		a.ch3.length = 256 - int(v)
	case 0xFF1C: // NR32
		a.ch3.volCode = (v >> 5) & 3
	case 0xFF1D: // NR33
		a.ch3.freq = (a.ch3.freq & 0x0700) | uint16(v)
	case 0xFF1E: // NR34
		a.ch3.freq = (a.ch3.freq & 0x00FF) | uint16(v&7)<<8
		a.writeLenEnable(&a.ch3.enabled, &a.ch3.lenEn, &a.ch3.length, v&(1<<6) != 0)
		if v&(1<<7) != 0 {
			a.triggerCh3()
		}
	case 0xFF20: // NR41
		a.ch4.length = 64 - int(v&0x3F)
	case 0xFF21: // NR42
		a.ch4.dacOn = v&0xF8 != 0
		if !a.ch4.dacOn {
			a.ch4.enabled = false
		}
		a.ch4.vol = (v >> 4) & 0x0F
		a.ch4.envAdd = v&(1<<3) != 0
		a.ch4.envPer = v & 7
	case 0xFF22: // NR43
		a.ch4.shift = (v >> 4) & 0x0F
		a.ch4.width7 = v&(1<<3) != 0
		a.ch4.divSel = v & 7
	case 0xFF23: // NR44
		a.writeLenEnable(&a.ch4.enabled, &a.ch4.lenEn, &a.ch4.length, v&(1<<6) != 0)
		if v&(1<<7) != 0 {
			a.triggerCh4()
		}
	case 0xFF24:
		a.nr50 = v
	case 0xFF25:
		a.nr51 = v
	case 0xFF26:
		if v&(1<<7) == 0 {
			a.powerOff()
		} else if !a.enabled {
			a.enabled = true
			// re-enable restarts the frame sequencer at step 0
			a.fsStep = 7
			a.fsCounter = frameSeqPeriod
		}
	default:
		if addr >= 0xFF30 && addr <= 0xFF3F {
			a.ch3.ram[addr-0xFF30] = v
		}
	}
}

func (a *APU) writeEnvelope(c *chSquare, v byte) {
	// DAC is driven by the envelope register's upper 5 bits
	c.dacOn = v&0xF8 != 0
	if !c.dacOn {
		c.enabled = false
	}
	c.vol = (v >> 4) & 0x0F
	c.envAdd = v&(1<<3) != 0
	c.envPer = v & 7
}

// powerOff zeroes every APU register except the length counters, which
// remain observable on DMG.
func (a *APU) powerOff() {
	len1, len2, len3, len4 := a.ch1.length, a.ch2.length, a.ch3.length, a.ch4.length
	wave := a.ch3.ram
	a.ch1 = chSquare{length: len1}
	a.ch2 = chSquare{length: len2}
	a.ch3 = chWave{length: len3, ram: wave}
	a.ch4 = chNoise{length: len4}
	a.nr50, a.nr51 = 0, 0
	a.enabled = false
}

func (a *APU) triggerCh1() {
	a.ch1.enabled = a.ch1.dacOn
	a.triggerLength(&a.ch1.length, 64, a.ch1.lenEn)
	a.ch1.timer = a.ch1.period()
	a.ch1.curVol = a.ch1.vol
	a.ch1.envTmr = a.ch1.envPer
	if a.ch1.envTmr == 0 {
		a.ch1.envTmr = 8
	}
	a.ch1.envDone = false
	// Sweep: load the shadow register and run the initial calculation
	a.ch1.sweepShadow = a.ch1.freq & 0x7FF
	a.ch1.sweepEn = a.ch1.sweepPer != 0 || a.ch1.sweepShift != 0
	a.ch1.sweepTmr = a.ch1.sweepPer
	if a.ch1.sweepTmr == 0 {
		a.ch1.sweepTmr = 8
	}
	if a.ch1.sweepShift != 0 {
		if a.sweepCalc() > 2047 {
			a.ch1.enabled = false
		}
	}
}

func (a *APU) triggerCh2() {
	a.ch2.enabled = a.ch2.dacOn
	a.triggerLength(&a.ch2.length, 64, a.ch2.lenEn)
	a.ch2.timer = a.ch2.period()
	a.ch2.curVol = a.ch2.vol
	a.ch2.envTmr = a.ch2.envPer
	if a.ch2.envTmr == 0 {
		a.ch2.envTmr = 8
	}
	a.ch2.envDone = false
}

func (a *APU) triggerCh3() {
	a.ch3.enabled = a.ch3.dacOn
	a.triggerLength(&a.ch3.length, 256, a.ch3.lenEn)
	a.ch3.timer = a.ch3.period()
	a.ch3.pos = 0
}

func (a *APU) triggerCh4() {
	a.ch4.enabled = a.ch4.dacOn
	a.triggerLength(&a.ch4.length, 64, a.ch4.lenEn)
	a.ch4.timer = a.ch4.period()
	a.ch4.curVol = a.ch4.vol
	a.ch4.envTmr = a.ch4.envPer
	if a.ch4.envTmr == 0 {
		a.ch4.envTmr = 8
	}
	a.ch4.envDone = false
	a.ch4.lfsr = 0x7FFF
}

// sweepCalc computes the next channel-1 frequency from the shadow register.
func (a *APU) sweepCalc() int {
	delta := int(a.ch1.sweepShadow) >> a.ch1.sweepShift
	if a.ch1.sweepNeg {
		return int(a.ch1.sweepShadow) - delta
	}
	return int(a.ch1.sweepShadow) + delta
}

func (a *APU) clockSweep() {
	if !a.ch1.enabled || !a.ch1.sweepEn {
		return
	}
	if a.ch1.sweepTmr > 0 {
		a.ch1.sweepTmr--
	}
	if a.ch1.sweepTmr != 0 {
		return
	}
	a.ch1.sweepTmr = a.ch1.sweepPer
	if a.ch1.sweepTmr == 0 {
		a.ch1.sweepTmr = 8
		return // period 0: reload only, no calculation
	}
	nf := a.sweepCalc()
	if nf > 2047 {
		a.ch1.enabled = false
		return
	}
	if a.ch1.sweepShift != 0 {
		a.ch1.sweepShadow = uint16(nf)
		a.ch1.freq = uint16(nf) & 0x7FF
		// second calculation, overflow check only
		if a.sweepCalc() > 2047 {
			a.ch1.enabled = false
		}
	}
}

func (a *APU) clockLengths() {
	a.ch1.clockLength()
	a.ch2.clockLength()
	a.ch3.clockLength()
	a.ch4.clockLength()
}

func (a *APU) clockEnvelopes() {
	a.ch1.clockEnvelope()
	a.ch2.clockEnvelope()
	a.ch4.clockEnvelope()
}

// Tick advances the APU by the given number of T-cycles, pushing samples
// into the ring when the downsampler accumulator rolls over.
func (a *APU) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		if a.enabled {
			a.fsCounter--
			if a.fsCounter <= 0 {
				a.fsCounter += frameSeqPeriod
				a.fsStep = (a.fsStep + 1) & 7
				if a.fsStep&1 == 0 {
					a.clockLengths()
				}
				if a.fsStep == 2 || a.fsStep == 6 {
					a.clockSweep()
				}
				if a.fsStep == 7 {
					a.clockEnvelopes()
				}
			}
			if a.ch1.enabled {
				a.ch1.tick()
			}
			if a.ch2.enabled {
				a.ch2.tick()
			}
			if a.ch3.enabled {
				a.ch3.tick()
			}
			if a.ch4.enabled {
				a.ch4.tick()
			}
		}
		a.cycAccum++
		for a.cycAccum >= a.cyclesPerSample {
			a.cycAccum -= a.cyclesPerSample
			a.ring.push(a.mixSample())
		}
	}
}

// mixSample mixes the four digital channel outputs per NR51/NR50 into one
// mono float, removes the DC bias with a single-pole high-pass, and clamps.
func (a *APU) mixSample() float32 {
	c1 := float64(a.ch1.output())
	c2 := float64(a.ch2.output())
	c3 := float64(a.ch3.output())
	c4 := float64(a.ch4.output())

	var l, r float64
	if a.nr51&0x10 != 0 {
		l += c1
	}
	if a.nr51&0x20 != 0 {
		l += c2
	}
	if a.nr51&0x40 != 0 {
		l += c3
	}
	if a.nr51&0x80 != 0 {
		l += c4
	}
	if a.nr51&0x01 != 0 {
		r += c1
	}
	if a.nr51&0x02 != 0 {
		r += c2
	}
	if a.nr51&0x04 != 0 {
		r += c3
	}
	if a.nr51&0x08 != 0 {
		r += c4
	}
	l = l / 16.0 * float64((a.nr50>>4)&7) / 7.0
	r = r / 16.0 * float64(a.nr50&7) / 7.0

	v := (l + r) / 2.0 * a.mixGain
	v = a.highPass(v)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return float32(v)
}

// highPass is a single-pole filter with alpha=0.995 that strips DC bias.
func (a *APU) highPass(in float64) float64 {
	const alpha = 0.995
	out := in - a.hpCap
	a.hpCap = in - out*alpha
	return out
}

// --- Save/Load state ---
type squareState struct {
	Enabled, DACOn         bool
	Duty                   byte
	Length                 int
	LenEn                  bool
	Vol                    byte
	EnvAdd                 bool
	EnvPer, CurVol, EnvTmr byte
	EnvDone                bool
	Freq                   uint16
	Timer, Phase           int

	SweepPer    byte
	SweepNeg    bool
	SweepShift  byte
	SweepTmr    byte
	SweepEn     bool
	SweepShadow uint16
}

type waveState struct {
	Enabled, DACOn bool
	Length         int
	LenEn          bool
	VolCode        byte
	Freq           uint16
	Timer, Pos     int
	RAM            [16]byte
}

type noiseState struct {
	Enabled, DACOn         bool
	Length                 int
	LenEn                  bool
	Vol                    byte
	EnvAdd                 bool
	EnvPer, CurVol, EnvTmr byte
	EnvDone                bool
	Shift                  byte
	Width7                 bool
	DivSel                 byte
	Timer                  int
	LFSR                   uint16
}

type apuState struct {
	Enabled    bool
	NR50, NR51 byte
	FSCounter  int
	FSStep     int
	CycAccum   float64
	HPCap      float64
	Ch1        squareState
	Ch2        squareState
	Ch3        waveState
	Ch4        noiseState
}

func packSquare(c *chSquare) squareState {
	return squareState{
		Enabled: c.enabled, DACOn: c.dacOn, Duty: c.duty, Length: c.length, LenEn: c.lenEn,
		Vol: c.vol, EnvAdd: c.envAdd, EnvPer: c.envPer, CurVol: c.curVol, EnvTmr: c.envTmr,
		EnvDone: c.envDone, Freq: c.freq, Timer: c.timer, Phase: c.phase,
		SweepPer: c.sweepPer, SweepNeg: c.sweepNeg, SweepShift: c.sweepShift,
		SweepTmr: c.sweepTmr, SweepEn: c.sweepEn, SweepShadow: c.sweepShadow,
	}
}

func unpackSquare(c *chSquare, s squareState) {
	c.enabled, c.dacOn, c.duty, c.length, c.lenEn = s.Enabled, s.DACOn, s.Duty, s.Length, s.LenEn
	c.vol, c.envAdd, c.envPer, c.curVol, c.envTmr = s.Vol, s.EnvAdd, s.EnvPer, s.CurVol, s.EnvTmr
	c.envDone, c.freq, c.timer, c.phase = s.EnvDone, s.Freq, s.Timer, s.Phase
	c.sweepPer, c.sweepNeg, c.sweepShift = s.SweepPer, s.SweepNeg, s.SweepShift
	c.sweepTmr, c.sweepEn, c.sweepShadow = s.SweepTmr, s.SweepEn, s.SweepShadow
}

func (a *APU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(apuState{
		Enabled: a.enabled, NR50: a.nr50, NR51: a.nr51,
		FSCounter: a.fsCounter, FSStep: a.fsStep,
		CycAccum: a.cycAccum, HPCap: a.hpCap,
		Ch1: packSquare(&a.ch1),
		Ch2: packSquare(&a.ch2),
		Ch3: waveState{
			Enabled: a.ch3.enabled, DACOn: a.ch3.dacOn, Length: a.ch3.length, LenEn: a.ch3.lenEn,
			VolCode: a.ch3.volCode, Freq: a.ch3.freq, Timer: a.ch3.timer, Pos: a.ch3.pos, RAM: a.ch3.ram,
		},
		Ch4: noiseState{
			Enabled: a.ch4.enabled, DACOn: a.ch4.dacOn, Length: a.ch4.length, LenEn: a.ch4.lenEn,
			Vol: a.ch4.vol, EnvAdd: a.ch4.envAdd, EnvPer: a.ch4.envPer, CurVol: a.ch4.curVol,
			EnvTmr: a.ch4.envTmr, EnvDone: a.ch4.envDone,
			Shift: a.ch4.shift, Width7: a.ch4.width7, DivSel: a.ch4.divSel,
			Timer: a.ch4.timer, LFSR: a.ch4.lfsr,
		},
	})
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) {
	var s apuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	a.enabled = s.Enabled
	a.nr50, a.nr51 = s.NR50, s.NR51
	a.fsCounter, a.fsStep = s.FSCounter, s.FSStep
	a.cycAccum, a.hpCap = s.CycAccum, s.HPCap
	unpackSquare(&a.ch1, s.Ch1)
	unpackSquare(&a.ch2, s.Ch2)
	a.ch3.enabled, a.ch3.dacOn, a.ch3.length, a.ch3.lenEn = s.Ch3.Enabled, s.Ch3.DACOn, s.Ch3.Length, s.Ch3.LenEn
	a.ch3.volCode, a.ch3.freq, a.ch3.timer, a.ch3.pos, a.ch3.ram = s.Ch3.VolCode, s.Ch3.Freq, s.Ch3.Timer, s.Ch3.Pos, s.Ch3.RAM
	a.ch4.enabled, a.ch4.dacOn, a.ch4.length, a.ch4.lenEn = s.Ch4.Enabled, s.Ch4.DACOn, s.Ch4.Length, s.Ch4.LenEn
	a.ch4.vol, a.ch4.envAdd, a.ch4.envPer, a.ch4.curVol = s.Ch4.Vol, s.Ch4.EnvAdd, s.Ch4.EnvPer, s.Ch4.CurVol
	a.ch4.envTmr, a.ch4.envDone = s.Ch4.EnvTmr, s.Ch4.EnvDone
	a.ch4.shift, a.ch4.width7, a.ch4.divSel = s.Ch4.Shift, s.Ch4.Width7, s.Ch4.DivSel
	a.ch4.timer, a.ch4.lfsr = s.Ch4.Timer, s.Ch4.LFSR
}
