package fat_test

import (
	"testing"

	disko "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/fat"
	gofattesting "github.com/dargueta/gofat/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVolumeCleanOnFreshlyFormattedVolume(t *testing.T) {
	volume, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())

	require.NoError(t, base.WriteFile("/a.txt", []byte("hello"), 0o644))
	require.NoError(t, base.Mkdir("/sub", 0o755))
	require.NoError(t, base.WriteFile("/sub/b.txt", []byte("world"), 0o644))

	report, err := volume.CheckVolume()
	require.NoError(t, err)
	assert.True(t, report.Clean(), "a volume written through the normal API should report clean: %+v", report)
}

func TestCheckVolumeReportsOrphanedClusterAfterDirectFATEdit(t *testing.T) {
	volume, base := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())
	require.NoError(t, base.WriteFile("/a.txt", []byte("hello"), 0o644))

	// Mark a cluster allocated in the FAT without attaching it to any
	// directory entry's chain, simulating a leak left by a crashed writer.
	require.NoError(t, volume.SetClusterAtIndex(10, fat.ClusterID(0xFFFF)))

	report, err := volume.CheckVolume()
	require.NoError(t, err)
	assert.False(t, report.FATCopiesMismatched)
	assert.Contains(t, report.OrphanedClusters, fat.ClusterID(10))
}

func TestGetLabelEmptyOnFreshVolume(t *testing.T) {
	volume, _ := gofattesting.FormatAndMount(t, gofattesting.FloppyStat())
	assert.Equal(t, "", volume.GetLabel())
}

func TestSetLabelThenGetLabelRoundTrips(t *testing.T) {
	volume, _ := gofattesting.FormatAndMount(t, gofattesting.FloppyStat())

	require.NoError(t, volume.SetLabel("testvol"))
	assert.Equal(t, "TESTVOL", volume.GetLabel())

	require.NoError(t, volume.SetLabel("renamed"))
	assert.Equal(t, "RENAMED", volume.GetLabel())

	require.NoError(t, volume.SetLabel(""))
	assert.Equal(t, "", volume.GetLabel())
}

func TestSetLabelRejectsOverlongName(t *testing.T) {
	volume, _ := gofattesting.FormatAndMount(t, gofattesting.FloppyStat())
	err := volume.SetLabel("waytoolongforeleven")
	assert.ErrorIs(t, err, disko.ErrInvalidArgument)
}

func TestPreallocateGrowsChainWithoutChangingSize(t *testing.T) {
	volume, _ := gofattesting.FormatAndMount(t, gofattesting.SmallFAT16Stat())

	root := volume.GetRootDirectory()
	object, err := volume.CreateObject("grown.bin", root, 0o644)
	require.NoError(t, err)

	preallocator, ok := object.(interface {
		Preallocate(uint64) disko.DriverError
	})
	require.True(t, ok, "fatObjectHandle must implement Preallocate")

	bootSector := volume.GetBootSector()
	target := uint64(bootSector.BytesPerCluster) * 4

	require.NoError(t, preallocator.Preallocate(target))
	assert.Equal(t, int64(0), object.Stat().Size, "Preallocate must not change the reported size")

	// Preallocating to a smaller size than what's already reserved is a no-op,
	// not a shrink.
	require.NoError(t, preallocator.Preallocate(1))
	assert.Equal(t, int64(0), object.Stat().Size)
}
