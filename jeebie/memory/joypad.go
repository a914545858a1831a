package memory

import "github.com/kestrelcore/dmgcore/jeebie/bit"

// JoypadKey represents a key on the Gameboy joypad
type JoypadKey uint8

const (
	JoypadRight JoypadKey = iota
	JoypadLeft
	JoypadUp
	JoypadDown
	JoypadA
	JoypadB
	JoypadSelect
	JoypadStart
)

// PadState is the externally-held button matrix: one active-low nibble for
// the d-pad (right/left/up/down in bits 0-3) and one for the action buttons
// (A/B/select/start in bits 0-3). Pressed = 0.
type PadState struct {
	Dpad   uint8
	Action uint8
}

// Joypad models the P1 register at 0xFF00: a 2x4 button matrix where bits
// 4-5 select which nibble is visible in bits 0-3. Button state is pushed in
// from the host; a 1->0 transition on any currently-selected line requests
// the joypad interrupt.
//
// The mapping:
//   - if bit 4 is low, bits 0-3 read the 4 d-pad directions
//   - if bit 5 is low, bits 0-3 read A, B, Select, Start
//   - if both are low, hardware ANDs the two nibbles together
//   - if neither is low, the lines float high (0x0F)
//
// Bits 6-7 are unused and always read as 1.
type Joypad struct {
	buttons uint8 // action nibble, active-low
	dpad    uint8 // direction nibble, active-low
	sel     uint8 // selection bits 4-5 as last written

	irq func()
}

// NewJoypad creates a joypad with no keys pressed. The callback is invoked
// whenever a visible line transitions from released to pressed.
func NewJoypad(irq func()) *Joypad {
	return &Joypad{
		buttons: 0x0F,
		dpad:    0x0F,
		sel:     0x30,
		irq:     irq,
	}
}

// Read returns the P1 register value for the current selection.
func (j *Joypad) Read() uint8 {
	return 0xC0 | j.sel | j.visibleLines()
}

// Write updates the selection bits; the button lines themselves are
// read-only from the bus side.
func (j *Joypad) Write(value uint8) {
	j.sel = value & 0x30
}

// SetState replaces the whole button matrix at once, the way a host updates
// input before each run call. Any visible line going low raises the IRQ.
func (j *Joypad) SetState(state PadState) {
	before := j.visibleLines()
	j.dpad = state.Dpad & 0x0F
	j.buttons = state.Action & 0x0F
	j.maybeInterrupt(before)
}

// Press updates the joypad state when a key is pressed.
func (j *Joypad) Press(key JoypadKey) {
	before := j.visibleLines()
	if key <= JoypadDown {
		j.dpad = bit.Reset(uint8(key), j.dpad)
	} else {
		j.buttons = bit.Reset(uint8(key-JoypadA), j.buttons)
	}
	j.maybeInterrupt(before)
}

// Release updates the joypad state when a key is released.
func (j *Joypad) Release(key JoypadKey) {
	if key <= JoypadDown {
		j.dpad = bit.Set(uint8(key), j.dpad)
	} else {
		j.buttons = bit.Set(uint8(key-JoypadA), j.buttons)
	}
}

// visibleLines computes the low nibble as seen through the current
// selection bits.
func (j *Joypad) visibleLines() uint8 {
	selectDpad := !bit.IsSet(4, j.sel)
	selectButtons := !bit.IsSet(5, j.sel)

	switch {
	case selectButtons && !selectDpad:
		return j.buttons
	case selectDpad && !selectButtons:
		return j.dpad
	case selectButtons && selectDpad:
		return j.buttons & j.dpad
	}
	return 0x0F
}

func (j *Joypad) maybeInterrupt(before uint8) {
	after := j.visibleLines()
	if before&^after != 0 && j.irq != nil {
		j.irq()
	}
}
