package blargg

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelcore/dmgcore/internal/testrom"
)

// The suite is data-driven: testdata/manifest.yaml names the ROMs and their
// pass conditions. ROM binaries are not checked into the repository, so each
// entry skips cleanly when its file is absent.
func TestBlarggSuite(t *testing.T) {
	manifest, err := testrom.LoadManifest(filepath.Join("testdata", "manifest.yaml"))
	require.NoError(t, err)

	for _, entry := range manifest.ROMs {
		entry := entry
		t.Run(entry.Name, func(t *testing.T) {
			result, err := testrom.Run(entry)
			if errors.Is(err, testrom.ErrROMMissing) {
				t.Skipf("ROM not available: %s", entry.Path)
			}
			require.NoError(t, err)

			if !result.Passed {
				t.Fatalf("%s failed after %d frames: %s\nserial output:\n%s",
					entry.Name, result.FramesRun, result.Detail, result.SerialOutput)
			}
		})
	}
}
