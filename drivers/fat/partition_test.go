package fat_test

import (
	"encoding/binary"
	"testing"

	disko "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/fat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

const sectorSize = 512

// buildMBRImage lays out a single primary partition starting at startSector,
// formats a FAT12 volume inside it, and returns the full disk's backing
// bytes.
func buildMBRImage(t *testing.T, startSector, partitionSectors uint32) []byte {
	totalSectors := startSector + partitionSectors
	disk := make([]byte, uint64(totalSectors)*sectorSize)

	partitionImage := bytesextra.NewReadWriteSeeker(disk[uint64(startSector)*sectorSize : uint64(totalSectors)*sectorSize])
	volume := &fat.Volume{}
	formatErr := volume.FormatImage(partitionImage, disko.FSStat{
		BlockSize:   sectorSize,
		TotalBlocks: uint64(partitionSectors),
	})
	require.NoError(t, formatErr)

	entryOffset := 446
	disk[entryOffset+4] = 0x06 // FAT16B, arbitrary non-zero partition type
	binary.LittleEndian.PutUint32(disk[entryOffset+8:entryOffset+12], startSector)
	binary.LittleEndian.PutUint32(disk[entryOffset+12:entryOffset+16], partitionSectors)
	disk[510] = 0x55
	disk[511] = 0xAA

	return disk
}

func TestReadPartitionTableFindsPrimaryEntry(t *testing.T) {
	disk := buildMBRImage(t, 1, 2880)
	image := bytesextra.NewReadWriteSeeker(disk)

	entries, err := fat.ReadPartitionTable(image)
	require.NoError(t, err)

	require.False(t, entries[0].IsEmpty())
	assert.Equal(t, uint32(1), entries[0].StartLBA)
	assert.Equal(t, uint32(2880), entries[0].SectorCount)
	for i := 1; i < 4; i++ {
		assert.True(t, entries[i].IsEmpty(), "slot %d should be empty", i)
	}
}

func TestMountPartitionMountsTheRightRegion(t *testing.T) {
	disk := buildMBRImage(t, 1, 2880)
	image := bytesextra.NewReadWriteSeeker(disk)

	volume, err := fat.MountPartition(image, int64(len(disk)), 0, disko.MountFlagsAllowAll)
	require.NoError(t, err)
	require.NotNil(t, volume)

	bootSector := volume.GetBootSector()
	assert.Equal(t, uint(2880), uint(bootSector.FirstDataSector)+bootSector.TotalDataSectors,
		"mounted volume's own sector count should match the partition, not the whole disk")
}

func TestMountPartitionRejectsEmptySlot(t *testing.T) {
	disk := buildMBRImage(t, 1, 2880)
	image := bytesextra.NewReadWriteSeeker(disk)

	_, err := fat.MountPartition(image, int64(len(disk)), 1, disko.MountFlagsAllowAll)
	assert.Error(t, err)
}

// buildEBRChainImage lays out a primary extended partition spanning the rest
// of the disk, with two logical partitions inside it linked by a two-entry
// EBR chain, each holding its own formatted FAT12 volume.
func buildEBRChainImage(t *testing.T) ([]byte, uint32, uint32) {
	const (
		extendedStart    = 1
		firstLogicalSize = 2880
		firstEBRLBA      = extendedStart
		secondEBRLBA     = extendedStart + 1 + firstLogicalSize
		secondLogicalSize = 2880
	)
	totalSectors := secondEBRLBA + 1 + secondLogicalSize
	disk := make([]byte, uint64(totalSectors)*sectorSize)

	formatAt := func(startSector, sectors uint32) {
		region := bytesextra.NewReadWriteSeeker(
			disk[uint64(startSector)*sectorSize : uint64(startSector+sectors)*sectorSize])
		volume := &fat.Volume{}
		require.NoError(t, volume.FormatImage(region, disko.FSStat{
			BlockSize:   sectorSize,
			TotalBlocks: uint64(sectors),
		}))
	}

	// First EBR: logical partition starts 1 sector after this EBR, links to
	// the second EBR (relative to the chain root, i.e. extendedStart).
	firstLogicalStart := firstEBRLBA + 1
	formatAt(firstLogicalStart, firstLogicalSize)
	binary.LittleEndian.PutUint32(disk[firstEBRLBA*sectorSize+446+8:firstEBRLBA*sectorSize+446+12], 1)
	disk[firstEBRLBA*sectorSize+446+4] = 0x06
	binary.LittleEndian.PutUint32(disk[firstEBRLBA*sectorSize+446+12:firstEBRLBA*sectorSize+446+16], firstLogicalSize)
	binary.LittleEndian.PutUint32(disk[firstEBRLBA*sectorSize+462+8:firstEBRLBA*sectorSize+462+12], secondEBRLBA-extendedStart)
	disk[firstEBRLBA*sectorSize+462+4] = mbrExtendedPartitionTypeForTest
	disk[firstEBRLBA*sectorSize+510] = 0x55
	disk[firstEBRLBA*sectorSize+511] = 0xAA

	// Second EBR: logical partition, no further link.
	secondLogicalStart := secondEBRLBA + 1
	formatAt(secondLogicalStart, secondLogicalSize)
	binary.LittleEndian.PutUint32(disk[secondEBRLBA*sectorSize+446+8:secondEBRLBA*sectorSize+446+12], 1)
	disk[secondEBRLBA*sectorSize+446+4] = 0x06
	binary.LittleEndian.PutUint32(disk[secondEBRLBA*sectorSize+446+12:secondEBRLBA*sectorSize+446+16], secondLogicalSize)
	disk[secondEBRLBA*sectorSize+510] = 0x55
	disk[secondEBRLBA*sectorSize+511] = 0xAA

	// Primary MBR: one extended partition covering the whole rest of the disk.
	binary.LittleEndian.PutUint32(disk[446+8:446+12], extendedStart)
	disk[446+4] = mbrExtendedPartitionTypeForTest
	binary.LittleEndian.PutUint32(disk[446+12:446+16], totalSectors-extendedStart)
	disk[510] = 0x55
	disk[511] = 0xAA

	return disk, firstLogicalStart, secondLogicalStart
}

// mbrExtendedPartitionTypeForTest mirrors fat's unexported mbrExtendedLBA
// constant so the test doesn't need to reach into package internals for it.
const mbrExtendedPartitionTypeForTest = 0x0F

func TestMountPartitionWalksEBRChain(t *testing.T) {
	disk, _, secondLogicalStart := buildEBRChainImage(t)
	image := bytesextra.NewReadWriteSeeker(disk)

	volume, err := fat.MountPartition(image, int64(len(disk)), 5, disko.MountFlagsAllowAll)
	require.NoError(t, err)
	require.NotNil(t, volume)

	bootSector := volume.GetBootSector()
	assert.Equal(t, uint(2880), uint(bootSector.FirstDataSector)+bootSector.TotalDataSectors)
	_ = secondLogicalStart
}

func TestMountPartitionGPTProtectiveMBRIsDetected(t *testing.T) {
	// Mirrors a real GPT layout: protective MBR in LBA 0, GPT header in
	// LBA 1, partition array starting at LBA 2, with the actual partition
	// placed well past both (LBA 34, the conventional reserved size) so
	// nothing overlaps.
	const (
		partitionStart = 34
		partitionSize  = 2880
	)
	disk := make([]byte, uint64(partitionStart+partitionSize)*sectorSize)

	partitionImage := bytesextra.NewReadWriteSeeker(
		disk[uint64(partitionStart)*sectorSize:])
	volume := &fat.Volume{}
	require.NoError(t, volume.FormatImage(partitionImage, disko.FSStat{
		BlockSize:   sectorSize,
		TotalBlocks: partitionSize,
	}))

	disk[446+4] = 0xEE // protective MBR entry
	disk[510] = 0x55
	disk[511] = 0xAA

	gptHeader := make([]byte, sectorSize)
	copy(gptHeader[0:8], "EFI PART")
	binary.LittleEndian.PutUint64(gptHeader[72:80], 2) // partition entry array at LBA 2
	binary.LittleEndian.PutUint32(gptHeader[80:84], 1) // one entry
	binary.LittleEndian.PutUint32(gptHeader[84:88], 128)
	copy(disk[sectorSize:2*sectorSize], gptHeader)

	entry := make([]byte, 128)
	entry[0] = 1 // non-zero type GUID byte marks the slot in use
	binary.LittleEndian.PutUint64(entry[32:40], partitionStart)
	binary.LittleEndian.PutUint64(entry[40:48], partitionStart+partitionSize-1)
	copy(disk[2*sectorSize:2*sectorSize+128], entry)

	image := bytesextra.NewReadWriteSeeker(disk)
	mounted, err := fat.MountPartition(image, int64(len(disk)), 0, disko.MountFlagsAllowAll)
	require.NoError(t, err)
	require.NotNil(t, mounted)
}
