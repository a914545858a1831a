package jeebie

import (
	"github.com/kestrelcore/dmgcore/jeebie/addr"
	"github.com/kestrelcore/dmgcore/jeebie/cpu"
	"github.com/kestrelcore/dmgcore/jeebie/memory"
	"github.com/kestrelcore/dmgcore/jeebie/video"
)

// Bus sits between the CPU and the MMU and keeps the peripherals in
// lock-step with the processor: every CPU bus access advances the shared
// clock by four T-cycles before the byte moves, so the timer, PPU, APU and
// cartridge observe state at the correct cycle within an instruction.
// Internal cycles that perform no bus access (the ADD SP,e delay, taken
// branches) are ticked as a remainder at the end of the instruction.
type Bus struct {
	CPU *cpu.CPU
	MMU *memory.MMU
	GPU *video.GPU

	ticked int // T-cycles already delivered during the current instruction
}

var _ cpu.Bus = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{}
}

// Read delivers one M-cycle to the peripherals, then performs the read.
func (b *Bus) Read(address uint16) byte {
	b.tick(4)
	return b.MMU.Read(address)
}

// Write delivers one M-cycle to the peripherals, then performs the write.
func (b *Bus) Write(address uint16, value byte) {
	b.tick(4)
	b.MMU.Write(address, value)
}

// PendingInterrupts samples IF & IE without consuming a cycle; interrupt
// lines are not bus transactions.
func (b *Bus) PendingInterrupts() uint8 {
	return b.MMU.PendingInterrupts()
}

// AcknowledgeInterrupt clears one pending IF bit at service entry.
func (b *Bus) AcknowledgeInterrupt(bit uint8) {
	b.MMU.AcknowledgeInterrupt(bit)
}

func (b *Bus) tick(cycles int) {
	b.ticked += cycles
	b.MMU.Tick(cycles)
	b.GPU.Tick(cycles)
	b.MMU.APU.Tick(cycles)
}

// TickInstruction executes one CPU instruction and settles the cycle
// ledger: whatever the instruction consumed beyond its bus accesses is
// ticked here. Returns the total T-cycles delivered.
func (b *Bus) TickInstruction() int {
	b.ticked = 0
	cycles := b.CPU.Exec()
	if cycles > b.ticked {
		b.tick(cycles - b.ticked)
	}
	return b.ticked
}

func (b *Bus) RequestInterrupt(interrupt addr.Interrupt) {
	b.MMU.RequestInterrupt(interrupt)
}
