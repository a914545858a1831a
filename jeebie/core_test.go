package jeebie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelcore/dmgcore/jeebie/addr"
	"github.com/kestrelcore/dmgcore/jeebie/audio"
	"github.com/kestrelcore/dmgcore/jeebie/memory"
)

// buildTestROM assembles a 32 KiB plain-ROM image with the given program at
// the 0x100 entry point and a valid header checksum.
func buildTestROM(program []byte) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x134:], "DMGCORE TEST")
	// cartridge type 0x00 (ROM only), ROM size code 0x01 (4 banks) to match
	// the 32 KiB image, no RAM
	rom[0x147] = 0x00
	rom[0x148] = 0x01
	rom[0x149] = 0x00

	var sum uint8
	for a := 0x134; a < 0x14D; a++ {
		sum = sum - rom[a] - 1
	}
	rom[0x14D] = sum

	copy(rom[0x100:], program)
	return rom
}

func newTestEmulator(t *testing.T, program []byte) *Emulator {
	t.Helper()
	e, err := NewWithData(buildTestROM(program))
	require.NoError(t, err)
	return e
}

func TestLoad_RejectsBadImages(t *testing.T) {
	_, err := NewWithData(make([]byte, 0x100))
	assert.ErrorIs(t, err, memory.ErrCartridgeTooSmall)

	rom := buildTestROM(nil)
	rom[0x147] = 0xC0
	_, err = NewWithData(rom)
	assert.ErrorIs(t, err, memory.ErrUnknownMBC)
}

func TestEntryLoop_LDThenJP(t *testing.T) {
	// 0x100: LD A, 0x42; JP 0x0100
	e := newTestEmulator(t, []byte{0x3E, 0x42, 0xC3, 0x00, 0x01})

	e.RunCycles(8)
	assert.Equal(t, uint16(0x4200), e.GetCPU().GetAF()&0xFF00, "LD A,0x42 executed")

	e.RunCycles(16) // JP 0x0100

	// From here each LD+JP iteration is 24 T-cycles, and the jump lands
	// back on the entry point every iteration.
	for i := 0; i < 4; i++ {
		e.RunCycles(24)
		assert.Equal(t, uint16(0x0100), e.GetCPU().GetPC())
	}
}

func TestAddAB_FlagsAndCycles(t *testing.T) {
	// 0x100: LD A,0x3A; LD B,0xC6; ADD A,B
	e := newTestEmulator(t, []byte{0x3E, 0x3A, 0x06, 0xC6, 0x80})

	e.RunCycles(8 + 8) // the two loads
	used := e.RunCycles(1)
	assert.Equal(t, 4, used, "ADD A,B is a single M-cycle instruction")
	assert.Equal(t, uint16(0x00B0), e.GetCPU().GetAF(), "A=0 with Z|H|C set")
	assert.Equal(t, uint16(0x0105), e.GetCPU().GetPC())
}

func TestDAA_AfterBCDAdd(t *testing.T) {
	// 0x100: LD A,0x45; ADD A,A; DAA
	e := newTestEmulator(t, []byte{0x3E, 0x45, 0x87, 0x27})

	e.RunCycles(8 + 4)
	assert.Equal(t, uint16(0x8A00), e.GetCPU().GetAF(), "0x45+0x45=0x8A")

	e.RunCycles(4)
	assert.Equal(t, uint16(0x9000), e.GetCPU().GetAF(), "DAA corrects to BCD 90, flags clear")
}

func TestTimerOverflow_RaisesIRQOnce(t *testing.T) {
	e := newTestEmulator(t, nil) // NOP sled

	mem := e.GetMMU()
	mem.Write(addr.IF, 0xE0)
	mem.Write(addr.TAC, 0x05) // enable, divisor 16
	mem.Write(addr.DIV, 0x00) // align the edge detector
	mem.Write(addr.TIMA, 0xFE)
	mem.Write(addr.TMA, 0x00)

	e.RunCycles(44)

	assert.NotZero(t, mem.Read(addr.IF)&0x04, "timer IRQ flag must be set after overflow")
	assert.Equal(t, byte(0x00), mem.Read(addr.TIMA), "TIMA reloads from TMA")
}

func TestOAMDMA_CopiesFromWRAM(t *testing.T) {
	e := newTestEmulator(t, nil)
	mem := e.GetMMU()

	for i := uint16(0); i < 160; i++ {
		mem.Write(0xC000+i, byte(0xAA+i))
	}
	mem.Write(addr.DMA, 0xC0)

	for i := uint16(0); i < 160; i++ {
		assert.Equal(t, byte(0xAA+i), mem.Read(addr.OAMStart+i))
	}
}

func TestEchoRAM_MirrorsWorkRAM(t *testing.T) {
	e := newTestEmulator(t, nil)
	mem := e.GetMMU()

	mem.Write(0xE123, 0x5A)
	assert.Equal(t, byte(0x5A), mem.Read(0xC123))

	mem.Write(0xC456, 0xA5)
	assert.Equal(t, byte(0xA5), mem.Read(0xE456))
}

func TestDIVWrite_AlwaysReadsZero(t *testing.T) {
	e := newTestEmulator(t, nil)
	mem := e.GetMMU()

	e.RunCycles(4096)
	mem.Write(addr.DIV, 0x7F)
	assert.Equal(t, byte(0x00), mem.Read(addr.DIV))
}

func TestChannel1Trigger_ProducesSamples(t *testing.T) {
	e := newTestEmulator(t, nil)
	mem := e.GetMMU()

	var results []audio.SampleResult
	e.SetSampleCallback(512, func(r audio.SampleResult) { results = append(results, r) })

	mem.Write(addr.NR52, 0x80)
	mem.Write(addr.NR11, 0xFF)
	mem.Write(addr.NR12, 0xF0)
	mem.Write(addr.NR14, 0x80)

	assert.NotZero(t, mem.Read(addr.NR52)&0x01, "channel 1 on-flag reads 1 after trigger")

	e.RunCycles(16384)

	require.NotEmpty(t, results)
	sawOutput := false
	for _, r := range results {
		if r.Left.Pulse1 > 0 || r.Right.Pulse1 > 0 {
			sawOutput = true
			break
		}
	}
	assert.True(t, sawOutput, "a triggered full-volume pulse must show up in the raw samples")
}

func TestRunUntilFrame_TakesOneFrameOfCycles(t *testing.T) {
	e := newTestEmulator(t, nil)

	// Let the PPU settle into a frame boundary first.
	e.RunUntilFrame()

	start := e.GetCycleCount()
	e.RunUntilFrame()
	delta := e.GetCycleCount() - start

	assert.GreaterOrEqual(t, delta, uint64(CyclesPerFrame))
	assert.Less(t, delta, uint64(CyclesPerFrame+40), "overshoot is bounded by one instruction")
}

func TestCompletedFrame_StableBetweenVBlanks(t *testing.T) {
	e := newTestEmulator(t, nil)

	e.RunUntilFrame()
	frame := e.GetCurrentFrame().ToSlice()
	snapshot := make([]uint32, len(frame))
	copy(snapshot, frame)

	// Mid-frame the completed buffer must not change under the host.
	e.RunCycles(CyclesPerFrame / 2)
	assert.Equal(t, snapshot, e.GetCurrentFrame().ToSlice())
}

func TestReset_RestoresPostBootState(t *testing.T) {
	e := newTestEmulator(t, []byte{0x3E, 0x42}) // LD A,0x42

	e.RunCycles(8)
	assert.Equal(t, uint16(0x4200), e.GetCPU().GetAF()&0xFF00)

	e.Reset(true)
	assert.Equal(t, uint16(0x01B0), e.GetCPU().GetAF())
	assert.Equal(t, uint16(0x0100), e.GetCPU().GetPC())
	assert.Equal(t, uint64(0), e.GetFrameCount())
}

func TestJoypad_SetPadRaisesInterrupt(t *testing.T) {
	e := newTestEmulator(t, nil)
	mem := e.GetMMU()

	mem.Write(addr.IF, 0xE0)
	mem.Write(addr.P1, 0x20) // select d-pad lines (bit 4 low)

	e.SetPad(memory.PadState{Dpad: 0x0E, Action: 0x0F}) // press Right

	assert.NotZero(t, mem.Read(addr.IF)&0x10, "joypad IRQ on 1->0 transition")
	assert.Equal(t, byte(0x0E), mem.Read(addr.P1)&0x0F, "pressed line reads low")
}

func BenchmarkRunFrame(b *testing.B) {
	e, err := NewWithData(buildTestROM([]byte{0xC3, 0x00, 0x01})) // JP 0x0100
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.RunUntilFrame()
	}
}
