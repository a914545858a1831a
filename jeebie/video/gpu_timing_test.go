package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelcore/dmgcore/jeebie/addr"
	"github.com/kestrelcore/dmgcore/jeebie/memory"
)

func statMode(mmu *memory.MMU) byte {
	return mmu.Read(addr.STAT) & 0x03
}

// advance ticks one dot at a time, the way the bus delivers cycles, so mode
// transitions land on their exact boundaries.
func advance(gpu *GPU, cycles int) {
	for i := 0; i < cycles; i++ {
		gpu.Tick(1)
	}
}

// newLineStartGPU builds a GPU ticked out of its initial VBlank so the next
// Tick lands at the start of line 0's OAM search.
func newLineStartGPU(t *testing.T, mmu *memory.MMU) *GPU {
	t.Helper()
	gpu := NewGpu(mmu)
	mmu.Write(addr.LCDC, 0x91)
	advance(gpu, 4560)
	require.Equal(t, byte(oamReadMode), statMode(mmu))
	require.Equal(t, byte(0), mmu.Read(addr.LY))
	return gpu
}

func TestModeDurations_NoPenalty(t *testing.T) {
	mmu := memory.New()
	gpu := newLineStartGPU(t, mmu)

	advance(gpu, 79)
	assert.Equal(t, byte(oamReadMode), statMode(mmu))
	advance(gpu, 1)
	assert.Equal(t, byte(vramReadMode), statMode(mmu), "OAM search is 80 dots")

	advance(gpu, 171)
	assert.Equal(t, byte(vramReadMode), statMode(mmu))
	advance(gpu, 1)
	assert.Equal(t, byte(hblankMode), statMode(mmu), "pixel transfer is 172 dots with SCX=0")

	advance(gpu, 203)
	assert.Equal(t, byte(hblankMode), statMode(mmu))
	advance(gpu, 1)
	assert.Equal(t, byte(oamReadMode), statMode(mmu), "the scanline totals 456 dots")
	assert.Equal(t, byte(1), mmu.Read(addr.LY))
}

func TestModeDurations_SCXFineScrollStretchesMode3(t *testing.T) {
	mmu := memory.New()
	mmu.Write(addr.SCX, 0x05)
	gpu := newLineStartGPU(t, mmu)

	advance(gpu, 80)
	require.Equal(t, byte(vramReadMode), statMode(mmu))

	// The 5 discarded fine-scroll pixels stretch mode 3...
	advance(gpu, 172)
	assert.Equal(t, byte(vramReadMode), statMode(mmu), "SCX&7 penalty must extend pixel transfer")
	advance(gpu, 5)
	assert.Equal(t, byte(hblankMode), statMode(mmu))

	// ...and shorten HBlank so the scanline stays 456 dots.
	advance(gpu, 198)
	assert.Equal(t, byte(hblankMode), statMode(mmu))
	advance(gpu, 1)
	assert.Equal(t, byte(oamReadMode), statMode(mmu))
}

func TestWindowActivation_AddsMode3Penalty(t *testing.T) {
	mmu := memory.New()
	mmu.Write(addr.WX, 7)
	mmu.Write(addr.WY, 0)
	gpu := newLineStartGPU(t, mmu)
	mmu.Write(addr.LCDC, 0xB1) // window enable on top of the usual bits

	advance(gpu, 80)
	require.Equal(t, byte(vramReadMode), statMode(mmu))

	advance(gpu, 172)
	assert.Equal(t, byte(vramReadMode), statMode(mmu))
	advance(gpu, 6)
	assert.Equal(t, byte(hblankMode), statMode(mmu), "window restart costs 6 dots")
}

func TestFrameCount_IncrementsAtVBlank(t *testing.T) {
	mmu := memory.New()
	gpu := newLineStartGPU(t, mmu)

	require.Equal(t, uint64(0), gpu.FrameCount())
	advance(gpu, 144*456)
	assert.Equal(t, uint64(1), gpu.FrameCount())
	assert.Equal(t, byte(vblankMode), statMode(mmu))
}

func TestCompletedFrame_OnlySwapsAtVBlank(t *testing.T) {
	mmu := memory.New()
	gpu := newLineStartGPU(t, mmu)

	// Scribble on the completed buffer to tell the two buffers apart.
	gpu.completedFrame.buffer[0] = 0xDEADBEEF

	advance(gpu, 143*456)
	assert.Equal(t, uint32(0xDEADBEEF), gpu.completedFrame.buffer[0], "no swap before VBlank")

	advance(gpu, 456)
	assert.NotEqual(t, uint32(0xDEADBEEF), gpu.completedFrame.buffer[0], "VBlank copies the internal buffer over")
}

func TestVBlankRaisesInterrupt(t *testing.T) {
	mmu := memory.New()
	gpu := newLineStartGPU(t, mmu)
	mmu.Write(addr.IF, 0xE0)

	advance(gpu, 144*456)
	assert.NotZero(t, mmu.Read(addr.IF)&0x01, "VBlank entry sets IF bit 0")
}

func TestLYCCoincidence_RaisesSTATInterrupt(t *testing.T) {
	mmu := memory.New()
	mmu.Write(addr.LYC, 2)
	mmu.Write(addr.STAT, 0x40) // LYC interrupt enable
	mmu.Write(addr.IF, 0xE0)
	gpu := newLineStartGPU(t, mmu)

	advance(gpu, 2*456)
	assert.NotZero(t, mmu.Read(addr.IF)&0x02, "LY==LYC must raise STAT")
	assert.NotZero(t, mmu.Read(addr.STAT)&0x04, "coincidence flag set")
}
