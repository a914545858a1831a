package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelcore/dmgcore/jeebie"
)

// buildROM assembles a minimal 32 KiB image with the given cartridge-type
// and RAM-size codes, a program at the entry point, and a valid header
// checksum.
func buildROM(cartType, ramSize byte, program []byte) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x134:], "INTEGRATION")
	rom[0x147] = cartType
	rom[0x148] = 0x01
	rom[0x149] = ramSize

	var sum uint8
	for a := 0x134; a < 0x14D; a++ {
		sum = sum - rom[a] - 1
	}
	rom[0x14D] = sum

	copy(rom[0x100:], program)
	return rom
}

func writeROMFile(t *testing.T, rom []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.gb")
	require.NoError(t, os.WriteFile(path, rom, 0o644))
	return path
}

func TestSRAMSidecar_RoundTrip(t *testing.T) {
	// MBC1 + RAM + battery, 8 KiB RAM
	path := writeROMFile(t, buildROM(0x03, 0x02, nil))

	emu, err := jeebie.NewWithFile(path)
	require.NoError(t, err)

	mem := emu.GetMMU()
	mem.Write(0x0000, 0x0A) // enable RAM
	for i := uint16(0); i < 64; i++ {
		mem.Write(0xA000+i, byte(i)^0x5A)
	}

	require.NoError(t, emu.SaveSRAM())
	require.FileExists(t, path+".sram")

	// A fresh emulator picks the sidecar up at load.
	reloaded, err := jeebie.NewWithFile(path)
	require.NoError(t, err)

	mem = reloaded.GetMMU()
	mem.Write(0x0000, 0x0A)
	for i := uint16(0); i < 64; i++ {
		assert.Equal(t, byte(i)^0x5A, mem.Read(0xA000+i), "sram[0x%04X]", 0xA000+i)
	}
}

func TestSRAMSidecar_NoBatteryWritesNothing(t *testing.T) {
	path := writeROMFile(t, buildROM(0x00, 0x00, nil)) // plain ROM

	emu, err := jeebie.NewWithFile(path)
	require.NoError(t, err)

	require.NoError(t, emu.SaveSRAM())
	assert.NoFileExists(t, path+".sram")
}

func TestBootROM_OverlayRunsThenUnmaps(t *testing.T) {
	// Cartridge loops at the entry point.
	rom := buildROM(0x00, 0x00, []byte{0xC3, 0x00, 0x01}) // JP 0x0100
	emu, err := jeebie.NewWithData(rom)
	require.NoError(t, err)

	// Boot program shaped like the real one: do work at 0x0000, jump to the
	// tail, unmap at 0xFC so execution falls off the end into 0x0100.
	//   0x00: LD A,0x01 ; JP 0x00FC
	//   0xFC: LDH (0x50),A ; NOP ; NOP -> PC reaches 0x0100
	boot := make([]byte, 256)
	copy(boot, []byte{0x3E, 0x01, 0xC3, 0xFC, 0x00})
	boot[0xFC], boot[0xFD] = 0xE0, 0x50
	emu.LoadBootROM(boot)
	emu.Reset(false)

	mem := emu.GetMMU()
	require.True(t, mem.BootOverlayEnabled())
	assert.Equal(t, byte(0x3E), mem.Read(0x0000), "overlay shadows cartridge")
	assert.Equal(t, uint16(0x0000), emu.GetCPU().GetPC())

	emu.RunCycles(8 + 16 + 12 + 4 + 4) // LD, JP, LDH, two trailing NOPs

	assert.False(t, mem.BootOverlayEnabled(), "FF50 write unmaps the overlay")
	assert.Equal(t, byte(0x00), mem.Read(0x0000), "cartridge visible again")
	assert.Equal(t, uint16(0x0100), emu.GetCPU().GetPC())

	// The overlay is write-once: poking FF50 again must not re-enable it.
	mem.Write(0xFF50, 0x00)
	assert.False(t, mem.BootOverlayEnabled())
}

func TestReset_SkipBootStartsAtEntryPoint(t *testing.T) {
	rom := buildROM(0x00, 0x00, []byte{0xC3, 0x00, 0x01})
	emu, err := jeebie.NewWithData(rom)
	require.NoError(t, err)

	boot := make([]byte, 256)
	emu.LoadBootROM(boot)

	emu.Reset(true)
	assert.Equal(t, uint16(0x0100), emu.GetCPU().GetPC())
	assert.False(t, emu.GetMMU().BootOverlayEnabled())

	emu.Reset(false)
	assert.Equal(t, uint16(0x0000), emu.GetCPU().GetPC())
	assert.True(t, emu.GetMMU().BootOverlayEnabled())
}

func TestCartridgeTitle_ParsedFromHeader(t *testing.T) {
	emu, err := jeebie.NewWithData(buildROM(0x00, 0x00, nil))
	require.NoError(t, err)

	assert.Equal(t, "INTEGRATION", emu.GetMMU().Cartridge().Title())
}
