package audio

// Timing constants
// Reference: https://gbdev.io/pandocs/Audio_details.html
const (
	// FrameSequencerCycles is the period of one frame sequencer step at
	// normal speed: the timer fires StepFrameSequencer on each falling edge
	// of DIV bit 12, i.e. every 8192 T-cycles (512 Hz).
	FrameSequencerCycles = 8192
)

// Channel constants
const (
	// waveRAMSize is the size of wave pattern RAM in bytes (16 bytes = 32 nibbles)
	waveRAMSize = 16
)
