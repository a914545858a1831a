package jeebie

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kestrelcore/dmgcore/jeebie/addr"
	"github.com/kestrelcore/dmgcore/jeebie/audio"
	"github.com/kestrelcore/dmgcore/jeebie/cpu"
	"github.com/kestrelcore/dmgcore/jeebie/memory"
	"github.com/kestrelcore/dmgcore/jeebie/timing"
	"github.com/kestrelcore/dmgcore/jeebie/video"
)

// divSeed is where the internal divider counter sits when the DMG boot ROM
// hands control to the cartridge.
const divSeed = 0xABCC

// ErrSRAMPersistence wraps any failure to write the battery-RAM sidecar.
// The in-memory SRAM is untouched when it is returned.
var ErrSRAMPersistence = errors.New("persisting SRAM sidecar")

// Emulator is the root struct and entry point for running the emulation.
// It creates the CPU, GPU, MMU and Bus once and holds each through a
// pointer; the APU belongs to the MMU. The components hold pointers to one
// another: the Bus holds the CPU, MMU and GPU, the CPU holds the Bus, and
// the GPU reads and writes the MMU directly.
type Emulator struct {
	cpu *cpu.CPU
	gpu *video.GPU
	mem *memory.MMU
	bus *Bus

	cart     *memory.Cartridge
	bootROM  []byte
	romPath  string
	skipBoot bool

	instructionCount uint64
	cycleCount       uint64

	// host configuration that survives a reset
	samplePeriod   int
	sampleCallback audio.SampleCallback
	palette        *[4]video.GBColor
}

// New creates a new emulator instance with no cartridge loaded.
func New() *Emulator {
	e := &Emulator{skipBoot: true}
	e.cart = memory.NewCartridge()
	e.wire(memory.NewWithCartridge(e.cart))
	e.applyPostBootState()
	return e
}

// NewWithData creates an emulator and loads the given ROM image into it.
func NewWithData(data []byte) (*Emulator, error) {
	e := New()
	if err := e.Load(data); err != nil {
		return nil, err
	}
	return e, nil
}

// NewWithFile creates a new emulator instance and loads the file specified
// into it, restoring battery RAM from the sidecar file when one exists.
func NewWithFile(path string) (*Emulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ROM: %w", err)
	}

	slog.Debug("Loaded ROM data", "size", len(data), "path", path)

	e := New()
	e.romPath = path
	if err := e.Load(data); err != nil {
		return nil, err
	}

	if sram, err := os.ReadFile(sramPath(path)); err == nil {
		e.mem.LoadSRAM(sram)
		slog.Debug("Restored SRAM sidecar", "size", len(sram))
	}

	return e, nil
}

// Load parses the ROM image and resets the core around it. On failure the
// emulator keeps its previous (possibly empty) cartridge.
func (e *Emulator) Load(data []byte) error {
	cart, err := memory.NewCartridgeWithData(data)
	if err != nil {
		return fmt.Errorf("loading cartridge: %w", err)
	}
	e.cart = cart
	e.Reset(e.skipBoot)
	return nil
}

// LoadBootROM installs a 256-byte boot ROM. Subsequent resets with
// skipBoot=false start execution inside it at 0x0000.
func (e *Emulator) LoadBootROM(data []byte) {
	e.bootROM = make([]byte, len(data))
	copy(e.bootROM, data)
}

// Reset rebuilds every component around the loaded cartridge. Battery RAM
// survives; everything else returns to power-on state. With skipBoot the
// CPU starts at 0x0100 with the post-boot register file; otherwise the
// boot ROM overlay is re-armed and execution starts at 0x0000.
func (e *Emulator) Reset(skipBoot bool) {
	e.skipBoot = skipBoot

	var sram []byte
	if e.mem != nil {
		if live := e.mem.SRAM(); live != nil {
			sram = make([]byte, len(live))
			copy(sram, live)
		}
	}

	mem := memory.NewWithCartridge(e.cart)
	if sram != nil {
		mem.LoadSRAM(sram)
	}
	e.wire(mem)

	if len(e.bootROM) > 0 && !skipBoot {
		e.mem.LoadBootROM(e.bootROM)
		e.cpu.ResetToBoot()
		return
	}

	e.applyPostBootState()
}

// wire connects a fresh MMU to new CPU/GPU/Bus instances and re-applies
// host-side configuration.
func (e *Emulator) wire(mem *memory.MMU) {
	e.mem = mem
	e.bus = NewBus()
	e.bus.MMU = mem
	e.gpu = video.NewGpu(mem)
	e.bus.GPU = e.gpu
	e.cpu = cpu.New(e.bus)
	e.bus.CPU = e.cpu

	e.instructionCount = 0
	e.cycleCount = 0

	if e.sampleCallback != nil {
		e.mem.APU.SetSampleCallback(e.samplePeriod, e.sampleCallback)
	}
	if e.palette != nil {
		e.gpu.SetPalette(*e.palette)
	}
}

// postBootIO is the I/O register state the DMG boot ROM leaves behind.
var postBootIO = []struct {
	addr  uint16
	value byte
}{
	{addr.NR52, 0xF1},
	{addr.NR10, 0x80},
	{addr.NR11, 0xBF},
	{addr.NR12, 0xF3},
	{addr.NR13, 0xFF},
	{addr.NR14, 0xBF},
	{addr.NR21, 0x3F},
	{addr.NR22, 0x00},
	{addr.NR23, 0xFF},
	{addr.NR24, 0xBF},
	{addr.NR30, 0x7F},
	{addr.NR31, 0xFF},
	{addr.NR32, 0x9F},
	{addr.NR33, 0xFF},
	{addr.NR34, 0xBF},
	{addr.NR41, 0xFF},
	{addr.NR42, 0x00},
	{addr.NR43, 0x00},
	{addr.NR44, 0xBF},
	{addr.NR50, 0x77},
	{addr.NR51, 0xF3},
	{addr.LCDC, 0x91},
	{addr.STAT, 0x85},
	{addr.SCY, 0x00},
	{addr.SCX, 0x00},
	{addr.LYC, 0x00},
	{addr.BGP, 0xFC},
	{addr.OBP0, 0xFF},
	{addr.OBP1, 0xFF},
	{addr.WY, 0x00},
	{addr.WX, 0x00},
	{addr.IF, 0xE1},
	{addr.IE, 0x00},
}

func (e *Emulator) applyPostBootState() {
	e.mem.SetTimerSeed(divSeed)
	for _, reg := range postBootIO {
		e.mem.Write(reg.addr, reg.value)
	}
}

// RunFrames runs the core until n more VBlanks have been produced.
func (e *Emulator) RunFrames(n int) {
	for i := 0; i < n; i++ {
		e.RunUntilFrame()
	}
}

// RunUntilFrame executes instructions until the PPU enters its next VBlank.
func (e *Emulator) RunUntilFrame() {
	target := e.gpu.FrameCount() + 1
	// A frozen CPU still lets the PPU finish frames; the bus keeps ticking.
	for e.gpu.FrameCount() < target {
		e.step()
	}

	if frame := e.gpu.FrameCount(); frame%60 == 0 {
		slog.Debug("Frame completed", "frame", frame, "pc", fmt.Sprintf("0x%04X", e.cpu.GetPC()))
	}
}

// RunCycles runs the core until at least n T-cycles have elapsed and
// returns the number actually executed (the last instruction may overshoot).
func (e *Emulator) RunCycles(n int) int {
	total := 0
	for total < n {
		total += e.step()
	}
	return total
}

func (e *Emulator) step() int {
	cycles := e.bus.TickInstruction()
	e.instructionCount++
	e.cycleCount += uint64(cycles)
	return cycles
}

// SetPad replaces the joypad state, typically once per host frame. Newly
// pressed buttons on a selected matrix line raise the joypad interrupt.
func (e *Emulator) SetPad(state memory.PadState) {
	e.mem.SetPad(state)
}

func (e *Emulator) HandleKeyPress(key memory.JoypadKey) {
	e.mem.HandleKeyPress(key)
}

func (e *Emulator) HandleKeyRelease(key memory.JoypadKey) {
	e.mem.HandleKeyRelease(key)
}

// SetSampleCallback registers a raw-sample callback invoked every
// periodTCycles T-cycles of APU time. The callback runs on the goroutine
// driving Run*.
func (e *Emulator) SetSampleCallback(periodTCycles int, cb audio.SampleCallback) {
	e.samplePeriod = periodTCycles
	e.sampleCallback = cb
	e.mem.APU.SetSampleCallback(periodTCycles, cb)
}

// SetPalette installs the host's 4-entry colour table for DMG shades. The
// table survives resets.
func (e *Emulator) SetPalette(palette [4]video.GBColor) {
	e.palette = &palette
	e.gpu.SetPalette(palette)
}

// GetCurrentFrame returns the last completed framebuffer. It is stable
// until the next VBlank.
func (e *Emulator) GetCurrentFrame() *video.FrameBuffer {
	return e.gpu.GetCompletedFrame()
}

// SaveSRAM persists battery-backed cartridge RAM to the sidecar file next
// to the ROM. It is a no-op for carts without a battery.
func (e *Emulator) SaveSRAM() error {
	if !e.cart.HasBattery() {
		return nil
	}
	sram := e.mem.SRAM()
	if sram == nil {
		return nil
	}
	if e.romPath == "" {
		return fmt.Errorf("%w: no ROM path to derive sidecar from", ErrSRAMPersistence)
	}
	if err := os.WriteFile(sramPath(e.romPath), sram, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrSRAMPersistence, err)
	}
	slog.Debug("Saved SRAM sidecar", "size", len(sram), "path", sramPath(e.romPath))
	return nil
}

func sramPath(romPath string) string {
	return romPath + ".sram"
}

// GetCPU exposes the CPU, mainly for tests and diagnostics.
func (e *Emulator) GetCPU() *cpu.CPU {
	return e.cpu
}

// GetMMU exposes the memory unit, mainly for tests and diagnostics.
func (e *Emulator) GetMMU() *memory.MMU {
	return e.mem
}

// GetInstructionCount returns instructions executed since the last reset.
func (e *Emulator) GetInstructionCount() uint64 {
	return e.instructionCount
}

// GetFrameCount returns frames completed since the last reset.
func (e *Emulator) GetFrameCount() uint64 {
	return e.gpu.FrameCount()
}

// GetCycleCount returns T-cycles executed since the last reset.
func (e *Emulator) GetCycleCount() uint64 {
	return e.cycleCount
}

// CyclesPerFrame re-exports the frame length so hosts don't reach into the
// timing package for the single constant they need.
const CyclesPerFrame = timing.CyclesPerFrame
