package testing

// Helpers for standing up an in-memory FAT image for a test: allocate a
// blank byte slice, format it, and mount it, without ever touching the
// filesystem.

import (
	"io"
	"testing"

	disko "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/driver"
	"github.com/dargueta/gofat/drivers/fat"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// NewBlankImage allocates totalBlocks*bytesPerBlock zeroed bytes and wraps
// them in an io.ReadWriteSeeker backed entirely by memory.
func NewBlankImage(t *testing.T, bytesPerBlock int64, totalBlocks uint64) io.ReadWriteSeeker {
	backing := make([]byte, bytesPerBlock*int64(totalBlocks))
	return bytesextra.NewReadWriteSeeker(backing)
}

// FormatAndMount formats a freshly allocated image per stat and mounts it,
// failing the test immediately on any error. It returns both the mounted
// Volume and the BaseDriver wrapping it, since most tests only need the
// latter.
func FormatAndMount(t *testing.T, stat disko.FSStat) (*fat.Volume, *driver.BaseDriver) {
	if stat.BlockSize == 0 {
		stat.BlockSize = 512
	}
	image := NewBlankImage(t, stat.BlockSize, stat.TotalBlocks)

	formatter := &fat.Volume{}
	formatErr := formatter.FormatImage(image, stat)
	require.NoError(t, formatErr, "FormatImage failed")

	volume, err := fat.Mount(image, disko.MountFlagsAllowAll)
	require.NoError(t, err, "Mount failed on freshly formatted image")

	return volume, driver.New(volume, disko.MountFlagsAllowAll)
}

// FloppyStat returns the FSStat for a standard 1.44 MiB floppy, the smallest
// geometry that reliably lands on FAT12 with the default formatting
// heuristics.
func FloppyStat() disko.FSStat {
	return disko.FSStat{BlockSize: 512, TotalBlocks: 2880}
}

// SmallFAT16Stat returns the FSStat for a 32 MiB image, comfortably inside
// the FAT16 cluster-count range.
func SmallFAT16Stat() disko.FSStat {
	return disko.FSStat{BlockSize: 512, TotalBlocks: 65536}
}

// SmallFAT32Stat returns the FSStat for a 256 MiB image, large enough that
// the formatting heuristics choose FAT32.
func SmallFAT32Stat() disko.FSStat {
	return disko.FSStat{BlockSize: 512, TotalBlocks: 524288}
}
