package memory

import (
	"errors"
	"fmt"
	"log/slog"
)

const titleLength = 16

const (
	entryPointAddress       = 0x100
	logoAddress             = 0x104
	titleAddress            = 0x134
	manufacturerCodeAddress = 0x13F
	cgbFlagAddress          = 0x143
	newLicenseCodeAddress   = 0x144
	sgbFlagAddress          = 0x146
	cartridgeTypeAddress    = 0x147
	romSizeAddress          = 0x148
	ramSizeAddress          = 0x149
	destinationCodeAddress  = 0x14A
	oldLicenseCodeAddress   = 0x14B
	versionNumberAddress    = 0x14C
	headerChecksumAddress   = 0x14D
	globalChecksumAddress   = 0x14E

	// headerEndAddress is the first byte past the cartridge header; ROMs
	// shorter than this can't even be parsed.
	headerEndAddress = 0x150
)

// Load errors. Callers can match these with errors.Is after unwrapping
// whatever path/context the loading layer added.
var (
	// ErrCartridgeTooSmall is returned for ROM images shorter than the header.
	ErrCartridgeTooSmall = errors.New("cartridge image smaller than header")
	// ErrUnknownMBC is returned when the cartridge-type byte is not one of
	// the mapper variants this core supports.
	ErrUnknownMBC = errors.New("unknown or unsupported MBC type")
)

// MBCType identifies which mapper chip the cartridge carries.
type MBCType uint8

const (
	NoMBCType MBCType = iota
	MBC1Type
	MBC2Type
	MBC3Type
	MBC5Type
)

func (t MBCType) String() string {
	switch t {
	case NoMBCType:
		return "ROM"
	case MBC1Type:
		return "MBC1"
	case MBC2Type:
		return "MBC2"
	case MBC3Type:
		return "MBC3"
	case MBC5Type:
		return "MBC5"
	}
	return "unknown"
}

// Cartridge holds the raw ROM image plus everything derived from its header:
// title, mapper kind, battery/RTC/rumble flags and ROM/RAM geometry. It is
// parsed once at load and never mutated afterwards; all runtime banking
// state lives in the MBC.
type Cartridge struct {
	data  []byte
	title string

	cgb        bool
	mbcType    MBCType
	hasBattery bool
	hasRTC     bool
	hasRumble  bool

	romBankCount int
	ramSizeBytes int

	version        uint8
	headerChecksum uint8
	globalChecksum uint16
}

// NewCartridge creates an empty cartridge, the state of a console powered
// on with nothing in the slot. Reads through it return open-bus 0xFF.
func NewCartridge() *Cartridge {
	return &Cartridge{}
}

// NewCartridgeWithData parses the header of a ROM image and returns the
// cartridge, or a load error if the image is too small or names a mapper
// this core does not support.
func NewCartridgeWithData(bytes []byte) (*Cartridge, error) {
	if len(bytes) < headerEndAddress {
		return nil, fmt.Errorf("%w: %d bytes", ErrCartridgeTooSmall, len(bytes))
	}

	cart := &Cartridge{
		data:           make([]byte, len(bytes)),
		title:          cleanGameboyTitle(bytes[titleAddress : titleAddress+titleLength]),
		cgb:            bytes[cgbFlagAddress]&0x80 != 0,
		version:        bytes[versionNumberAddress],
		headerChecksum: bytes[headerChecksumAddress],
		globalChecksum: uint16(bytes[globalChecksumAddress])<<8 | uint16(bytes[globalChecksumAddress+1]),
	}
	copy(cart.data, bytes)

	if err := cart.deriveMapper(bytes[cartridgeTypeAddress]); err != nil {
		return nil, err
	}

	cart.romBankCount = 2 << bytes[romSizeAddress]
	cart.ramSizeBytes = ramSizeFromCode(bytes[ramSizeAddress])
	if cart.mbcType == MBC2Type {
		// MBC2 RAM is built into the mapper, the header RAM code is 0.
		cart.ramSizeBytes = 512
	}

	if sum := computeHeaderChecksum(bytes); sum != cart.headerChecksum {
		slog.Warn("Cartridge header checksum mismatch",
			"computed", fmt.Sprintf("0x%02X", sum),
			"header", fmt.Sprintf("0x%02X", cart.headerChecksum))
	}

	slog.Debug("Parsed cartridge header",
		"title", cart.title,
		"mbc", cart.mbcType.String(),
		"battery", cart.hasBattery,
		"rtc", cart.hasRTC,
		"rom_banks", cart.romBankCount,
		"ram_bytes", cart.ramSizeBytes,
		"cgb", cart.cgb)

	return cart, nil
}

// deriveMapper decodes the cartridge-type byte at 0x147 into the mapper
// kind plus battery/RTC/rumble flags.
func (c *Cartridge) deriveMapper(code uint8) error {
	switch code {
	case 0x00:
		c.mbcType = NoMBCType
	case 0x08:
		c.mbcType = NoMBCType
	case 0x09:
		c.mbcType = NoMBCType
		c.hasBattery = true
	case 0x01, 0x02:
		c.mbcType = MBC1Type
	case 0x03:
		c.mbcType = MBC1Type
		c.hasBattery = true
	case 0x05:
		c.mbcType = MBC2Type
	case 0x06:
		c.mbcType = MBC2Type
		c.hasBattery = true
	case 0x0F:
		c.mbcType = MBC3Type
		c.hasRTC = true
		c.hasBattery = true
	case 0x10:
		c.mbcType = MBC3Type
		c.hasRTC = true
		c.hasBattery = true
	case 0x11, 0x12:
		c.mbcType = MBC3Type
	case 0x13:
		c.mbcType = MBC3Type
		c.hasBattery = true
	case 0x19, 0x1A:
		c.mbcType = MBC5Type
	case 0x1B:
		c.mbcType = MBC5Type
		c.hasBattery = true
	case 0x1C, 0x1D:
		c.mbcType = MBC5Type
		c.hasRumble = true
	case 0x1E:
		c.mbcType = MBC5Type
		c.hasRumble = true
		c.hasBattery = true
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownMBC, code)
	}
	return nil
}

func ramSizeFromCode(code uint8) int {
	switch code {
	case 1:
		return 2 * 1024
	case 2:
		return 8 * 1024
	case 3:
		return 32 * 1024
	case 4:
		return 128 * 1024
	case 5:
		return 64 * 1024
	}
	return 0
}

// computeHeaderChecksum reproduces the boot ROM's header check: the byte at
// 0x14D must equal the running twos-complement sum over 0x134-0x14C.
func computeHeaderChecksum(bytes []byte) uint8 {
	var sum uint8
	for addr := titleAddress; addr < headerChecksumAddress; addr++ {
		sum = sum - bytes[addr] - 1
	}
	return sum
}

// Title returns the cleaned-up cartridge title.
func (c *Cartridge) Title() string {
	return c.title
}

// IsCGB reports whether the header flags the cartridge as Game Boy Color.
func (c *Cartridge) IsCGB() bool {
	return c.cgb
}

// HasBattery reports whether the mapper's RAM should persist to a sidecar.
func (c *Cartridge) HasBattery() bool {
	return c.hasBattery
}

// MBC builds the mapper that matches this cartridge's header.
func (c *Cartridge) MBC() MBC {
	switch c.mbcType {
	case NoMBCType:
		return NewNoMBC(c.data, c.ramSizeBytes)
	case MBC1Type:
		return NewMBC1(c.data, c.ramSizeBytes)
	case MBC2Type:
		return NewMBC2(c.data)
	case MBC3Type:
		return NewMBC3(c.data, c.ramSizeBytes, c.hasRTC)
	case MBC5Type:
		return NewMBC5(c.data, c.ramSizeBytes, c.hasRumble)
	}
	// deriveMapper is exhaustive, an unknown type can't construct a Cartridge.
	panic(fmt.Sprintf("unsupported MBC type: %d", c.mbcType))
}
