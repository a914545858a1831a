package memory

import (
	"fmt"
	"log/slog"

	"github.com/kestrelcore/dmgcore/jeebie/addr"
	"github.com/kestrelcore/dmgcore/jeebie/audio"
	"github.com/kestrelcore/dmgcore/jeebie/bit"
	"github.com/kestrelcore/dmgcore/jeebie/serial"
)

type memRegion uint8

const (
	regionROM memRegion = iota
	regionVRAM
	regionExtRAM
	regionWRAM
	regionEcho
	regionOAM
	regionIO
)

// SerialPort is the minimal interface for a serial device connected to SB/SC.
// Implementations MUST only accept reads/writes to addr.SB and addr.SC.
type SerialPort interface {
	Write(address uint16, value byte)
	Read(address uint16) byte
	Tick(cycles int)
	Reset()
}

// MMU decodes the 16-bit address space and routes every access to the
// owning component: cartridge mapper, VRAM, work RAM and its echo, OAM,
// high RAM, or one of the memory-mapped peripherals. It also owns the
// boot-ROM overlay and the instantaneous OAM DMA.
type MMU struct {
	cart      *Cartridge
	mbc       MBC
	memory    []byte
	APU       *audio.APU
	regionMap [256]memRegion

	bootROM     []byte
	bootEnabled bool

	joypad *Joypad
	serial SerialPort
	timer  Timer

	// CGB register plumbing. Inert on DMG carts: the registers read 0xFF
	// and writes are dropped, matching unmapped MMIO.
	cgb       bool
	key1      uint8
	vbk       uint8
	svbk      uint8
	vramBank1 [0x2000]byte
	wramBanks [8][0x1000]byte // banks 1-7 map at 0xD000 when SVBK selects them
	bgPalRAM  [64]byte
	objPalRAM [64]byte
	bcps      uint8
	ocps      uint8
}

// New creates a new memory unit with no cartridge loaded, equivalent to
// powering on a Gameboy with an empty slot.
func New() *MMU {
	mmu := &MMU{
		memory: make([]byte, 0x10000),
		cart:   NewCartridge(),
		APU:    audio.New(),
	}
	mmu.joypad = NewJoypad(func() { mmu.RequestInterrupt(addr.JoypadInterrupt) })
	mmu.serial = serial.NewLogSink(func() { mmu.RequestInterrupt(addr.SerialInterrupt) })
	mmu.timer.TimerInterruptHandler = func() { mmu.RequestInterrupt(addr.TimerInterrupt) }
	mmu.timer.APUFrameHandler = mmu.APU.StepFrameSequencer
	initRegionMap(mmu)
	return mmu
}

// NewWithCartridge creates a new memory unit with the provided cartridge
// loaded and the matching mapper constructed.
func NewWithCartridge(cart *Cartridge) *MMU {
	mmu := New()
	mmu.cart = cart
	if len(cart.data) > 0 {
		mmu.mbc = cart.MBC()
		mmu.cgb = cart.IsCGB()
	}
	return mmu
}

// Tick advances every cycle-driven peripheral the MMU owns: the timer (and
// through it the APU frame sequencer), the serial port, and the cartridge
// mapper's RTC.
func (m *MMU) Tick(cycles int) {
	m.timer.Tick(cycles)
	if m.serial != nil {
		m.serial.Tick(cycles)
	}
	if m.mbc != nil {
		m.mbc.Tick(cycles)
	}
}

// SetSerialPort swaps the device behind SB/SC, e.g. a capturing sink in the
// test-ROM harness.
func (m *MMU) SetSerialPort(port SerialPort) {
	m.serial = port
}

// SetTimerSeed initializes the internal timer divider seed and DIV register.
func (m *MMU) SetTimerSeed(seed uint16) {
	m.timer.SetSeed(seed)
}

// LoadBootROM installs a boot ROM image and enables the 0x0000-0x00FF
// overlay. The overlay stays active until the first write to 0xFF50.
func (m *MMU) LoadBootROM(data []byte) {
	m.bootROM = make([]byte, len(data))
	copy(m.bootROM, data)
	m.bootEnabled = true
}

// BootOverlayEnabled reports whether the boot ROM still shadows 0x0000-0x00FF.
func (m *MMU) BootOverlayEnabled() bool {
	return m.bootEnabled
}

// SetBootOverlay re-arms or clears the overlay; used by reset.
func (m *MMU) SetBootOverlay(enabled bool) {
	m.bootEnabled = enabled && len(m.bootROM) > 0
}

// Cartridge returns the loaded cartridge.
func (m *MMU) Cartridge() *Cartridge {
	return m.cart
}

// SRAM exposes the mapper's battery-backed RAM, nil when there is none.
func (m *MMU) SRAM() []byte {
	if m.mbc == nil {
		return nil
	}
	return m.mbc.RAM()
}

// LoadSRAM restores previously persisted cartridge RAM.
func (m *MMU) LoadSRAM(data []byte) {
	if m.mbc != nil {
		m.mbc.LoadRAM(data)
	}
}

func initRegionMap(m *MMU) {
	// ROM: 0x0000-0x7FFF
	for i := 0x00; i <= 0x7F; i++ {
		m.regionMap[i] = regionROM
	}
	// VRAM: 0x8000-0x9FFF
	for i := 0x80; i <= 0x9F; i++ {
		m.regionMap[i] = regionVRAM
	}
	// External RAM: 0xA000-0xBFFF
	for i := 0xA0; i <= 0xBF; i++ {
		m.regionMap[i] = regionExtRAM
	}
	// Work RAM: 0xC000-0xDFFF
	for i := 0xC0; i <= 0xDF; i++ {
		m.regionMap[i] = regionWRAM
	}
	// Echo RAM: 0xE000-0xFDFF
	for i := 0xE0; i <= 0xFD; i++ {
		m.regionMap[i] = regionEcho
	}
	// OAM + unused area: 0xFE00-0xFEFF
	m.regionMap[0xFE] = regionOAM
	// IO + HRAM: 0xFF00-0xFFFF
	m.regionMap[0xFF] = regionIO
}

// RequestInterrupt sets the interrupt flag (IF register) of the chosen interrupt to 1.
func (m *MMU) RequestInterrupt(interrupt addr.Interrupt) {
	interruptFlags := m.Read(addr.IF)

	var bitPos uint8
	switch interrupt {
	case addr.VBlankInterrupt:
		bitPos = 0
	case addr.LCDSTATInterrupt:
		bitPos = 1
	case addr.TimerInterrupt:
		bitPos = 2
	case addr.SerialInterrupt:
		bitPos = 3
	case addr.JoypadInterrupt:
		bitPos = 4
	default:
		panic(fmt.Sprintf("Unknown interrupt: 0x%02X", uint8(interrupt)))
	}

	m.Write(addr.IF, bit.Set(bitPos, interruptFlags))
}

// PendingInterrupts returns IF & IE for the CPU's fetch-boundary sampling.
// This is not a bus transaction and consumes no cycle.
func (m *MMU) PendingInterrupts() uint8 {
	return m.memory[addr.IF] & m.memory[addr.IE] & 0x1F
}

// AcknowledgeInterrupt clears one pending IF bit at interrupt-service entry.
func (m *MMU) AcknowledgeInterrupt(bitPos uint8) {
	m.memory[addr.IF] = bit.Reset(bitPos, m.memory[addr.IF]) | 0xE0
}

func (m *MMU) ReadBit(index uint8, address uint16) bool {
	return bit.IsSet(index, m.Read(address))
}

func (m *MMU) SetBit(index uint8, address uint16, set bool) {
	value := m.Read(address)
	if set {
		value = bit.Set(index, value)
	} else {
		value = bit.Reset(index, value)
	}
	m.Write(address, value)
}

func (m *MMU) Read(address uint16) byte {
	switch m.regionMap[address>>8] {
	case regionROM:
		if m.bootEnabled && int(address) < len(m.bootROM) && address < 0x0100 {
			return m.bootROM[address]
		}
		if m.mbc == nil {
			return 0xFF
		}
		return m.mbc.Read(address)
	case regionExtRAM:
		if m.mbc == nil {
			return 0xFF
		}
		return m.mbc.Read(address)
	case regionVRAM:
		if m.cgb && m.vbk&0x01 == 1 {
			return m.vramBank1[address-0x8000]
		}
		return m.memory[address]
	case regionWRAM:
		return m.readWRAM(address)
	case regionEcho:
		return m.readWRAM(address - 0x2000)
	case regionOAM:
		if address <= addr.OAMEnd {
			return m.memory[address]
		}
		// Unused area 0xFEA0-0xFEFF
		return 0xFF
	case regionIO:
		return m.readIO(address)
	default:
		panic(fmt.Sprintf("Attempted read at unmapped address: 0x%X", address))
	}
}

func (m *MMU) Write(address uint16, value byte) {
	switch m.regionMap[address>>8] {
	case regionROM, regionExtRAM:
		if m.mbc == nil {
			slog.Warn("Write with no cartridge", "addr", fmt.Sprintf("0x%04X", address), "value", fmt.Sprintf("0x%02X", value))
			return
		}
		m.mbc.Write(address, value)
	case regionVRAM:
		if m.cgb && m.vbk&0x01 == 1 {
			m.vramBank1[address-0x8000] = value
			return
		}
		m.memory[address] = value
	case regionWRAM:
		m.writeWRAM(address, value)
	case regionEcho:
		m.writeWRAM(address-0x2000, value)
	case regionOAM:
		if address <= addr.OAMEnd {
			m.memory[address] = value
		}
		// Writes to 0xFEA0-0xFEFF are ignored.
	case regionIO:
		m.writeIO(address, value)
	default:
		panic(fmt.Sprintf("Attempted write at unmapped address: 0x%X", address))
	}
}

// readWRAM handles the banked 0xD000 window on CGB; DMG uses the flat 8 KiB.
func (m *MMU) readWRAM(address uint16) byte {
	if m.cgb && address >= 0xD000 {
		return m.wramBanks[m.wramBank()][address-0xD000]
	}
	return m.memory[address]
}

func (m *MMU) writeWRAM(address uint16, value byte) {
	if m.cgb && address >= 0xD000 {
		m.wramBanks[m.wramBank()][address-0xD000] = value
		return
	}
	m.memory[address] = value
}

func (m *MMU) wramBank() uint8 {
	bank := m.svbk & 0x07
	if bank == 0 {
		bank = 1
	}
	return bank
}

func (m *MMU) readIO(address uint16) byte {
	switch {
	case address == addr.P1:
		return m.joypad.Read()
	case address == addr.SB || address == addr.SC:
		return m.serial.Read(address)
	case address >= addr.DIV && address <= addr.TAC:
		return m.timer.Read(address)
	case address == addr.IF:
		// The upper 3 bits are unwired and always read as 1.
		return m.memory[address] | 0xE0
	case address >= addr.AudioStart && address <= addr.WaveRAMEnd:
		return m.APU.ReadRegister(address)
	case address == addr.BootROMDisable:
		if m.bootEnabled {
			return 0xFE
		}
		return 0xFF
	case address == addr.KEY1:
		if !m.cgb {
			return 0xFF
		}
		return m.key1 | 0x7E
	case address == addr.VBK:
		if !m.cgb {
			return 0xFF
		}
		return m.vbk | 0xFE
	case address == addr.SVBK:
		if !m.cgb {
			return 0xFF
		}
		return m.svbk | 0xF8
	case address == addr.BCPS:
		if !m.cgb {
			return 0xFF
		}
		return m.bcps | 0x40
	case address == addr.BCPD:
		if !m.cgb {
			return 0xFF
		}
		return m.bgPalRAM[m.bcps&0x3F]
	case address == addr.OCPS:
		if !m.cgb {
			return 0xFF
		}
		return m.ocps | 0x40
	case address == addr.OCPD:
		if !m.cgb {
			return 0xFF
		}
		return m.objPalRAM[m.ocps&0x3F]
	default:
		return m.memory[address]
	}
}

func (m *MMU) writeIO(address uint16, value byte) {
	switch {
	case address == addr.P1:
		m.joypad.Write(value)
	case address == addr.SB || address == addr.SC:
		m.serial.Write(address, value)
	case address >= addr.DIV && address <= addr.TAC:
		m.timer.Write(address, value)
	case address == addr.IF:
		m.memory[address] = value | 0xE0
	case address >= addr.AudioStart && address <= addr.WaveRAMEnd:
		m.APU.WriteRegister(address, value)
	case address == addr.DMA:
		// OAM DMA: modelled as an instantaneous 160-byte copy. Games issue
		// it from HRAM and only observe the result, not the bus stall.
		sourceAddr := uint16(value) << 8
		for i := uint16(0); i < 160; i++ {
			m.memory[addr.OAMStart+i] = m.Read(sourceAddr + i)
		}
		m.memory[address] = value
	case address == addr.BootROMDisable:
		// Write-once: any write unmaps the boot ROM for good, whatever the
		// value. Hardware has no way to re-enable the overlay.
		m.bootEnabled = false
	case address == addr.KEY1:
		if m.cgb {
			m.key1 = m.key1&0x80 | value&0x01
		}
	case address == addr.VBK:
		if m.cgb {
			m.vbk = value & 0x01
		}
	case address == addr.SVBK:
		if m.cgb {
			m.svbk = value & 0x07
		}
	case address == addr.BCPS:
		if m.cgb {
			m.bcps = value & 0xBF
		}
	case address == addr.BCPD:
		if m.cgb {
			m.bgPalRAM[m.bcps&0x3F] = value
			if m.bcps&0x80 != 0 {
				m.bcps = 0x80 | (m.bcps+1)&0x3F
			}
		}
	case address == addr.OCPS:
		if m.cgb {
			m.ocps = value & 0xBF
		}
	case address == addr.OCPD:
		if m.cgb {
			m.objPalRAM[m.ocps&0x3F] = value
			if m.ocps&0x80 != 0 {
				m.ocps = 0x80 | (m.ocps+1)&0x3F
			}
		}
	default:
		m.memory[address] = value
	}
}

// SetPad replaces the joypad matrix state, raising the joypad interrupt on
// any newly pressed visible line.
func (m *MMU) SetPad(state PadState) {
	m.joypad.SetState(state)
}

func (m *MMU) HandleKeyPress(key JoypadKey) {
	m.joypad.Press(key)
}

func (m *MMU) HandleKeyRelease(key JoypadKey) {
	m.joypad.Release(key)
}
