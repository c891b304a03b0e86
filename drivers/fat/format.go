package fat

// This file implements FormatImage: laying out a brand new FAT12/16/32 boot
// sector, FAT(s), and root directory on blank media. It's deliberately
// stateless with respect to the Volume it's called on -- FormatImage is
// called before a volume exists to mount, so it only ever touches `image`
// and the requested geometry in `stat`.

import (
	"encoding/binary"
	"io"

	disko "github.com/dargueta/gofat"
)

// defaultRootEntryCount is the traditional FAT12/16 root directory capacity
// (512 entries, i.e. exactly 16 KiB at the standard 32-byte entry size).
const defaultRootEntryCount = 512

// fat32FSInfoSectorIndex and fat32BackupBootSectorIndex are the conventional
// sector offsets (from the start of the volume, i.e. within the reserved
// region) Microsoft's own formatter uses for FAT32's FSInfo sector and its
// backup boot sector.
const (
	fat32FSInfoSectorIndex     = 1
	fat32BackupBootSectorIndex = 6
)

// chooseSectorsPerCluster picks a cluster size using the same rough
// size-to-cluster-size bands Microsoft's own formatter uses, just without
// the FAT32-only largest bands (rarely useful on images small enough for a
// from-scratch formatter to matter).
func chooseSectorsPerCluster(totalSectors uint, bytesPerSector uint16) uint8 {
	totalBytes := uint64(totalSectors) * uint64(bytesPerSector)
	switch {
	case totalBytes <= 1*1024*1024:
		return 1
	case totalBytes <= 16*1024*1024:
		return 4
	case totalBytes <= 128*1024*1024:
		return 8
	case totalBytes <= 512*1024*1024:
		return 16
	case totalBytes <= 1024*1024*1024:
		return 32
	default:
		return 64
	}
}

// sectorsPerFATFor computes how many sectors one copy of the FAT needs to
// describe totalClusters entries of the given bit width.
func sectorsPerFATFor(version int, totalClusters uint, bytesPerSector uint16) uint32 {
	codec := codecForVersion(version)
	entries := totalClusters + 2 // clusters 0 and 1 are reserved, never allocatable
	totalBits := uint64(entries) * uint64(codec.bitWidth())
	totalBytes := (totalBits + 7) / 8
	return uint32((totalBytes + uint64(bytesPerSector) - 1) / uint64(bytesPerSector))
}

// FormatImage implements disko.FileSystemImplementer. It lays out a new
// FAT12/16/32 file system on image sized per stat, choosing the FAT width
// the same way real FAT drivers do: by the resulting cluster count, not by
// request.
func (v *Volume) FormatImage(image io.ReadWriteSeeker, stat disko.FSStat) disko.DriverError {
	bytesPerSector := uint16(stat.BlockSize)
	if bytesPerSector == 0 {
		bytesPerSector = 512
	}
	totalSectors := uint(stat.TotalBlocks)
	if totalSectors == 0 {
		return disko.ErrInvalidArgument.WithMessage("FormatImage requires a nonzero TotalBlocks")
	}

	sectorsPerCluster := chooseSectorsPerCluster(totalSectors, bytesPerSector)
	const numFATs = 2

	// The FAT version depends on the final cluster count, which depends on
	// how many sectors the FAT(s) and root directory take up -- which
	// depends on the FAT version. Converge by iterating: start with a FAT12
	// guess and re-derive until the version stops changing.
	version := 12
	var reservedSectors uint16
	var rootEntryCount uint16
	var sectorsPerFAT uint32
	var totalClusters uint

	for iteration := 0; iteration < 4; iteration++ {
		if version == 32 {
			reservedSectors = 32
			rootEntryCount = 0
		} else {
			reservedSectors = 1
			rootEntryCount = defaultRootEntryCount
		}

		rootDirSectors := (uint32(rootEntryCount)*DirentSize + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)
		sectorsPerFAT = sectorsPerFATFor(version, totalClusters, bytesPerSector)

		dataSectors := totalSectors - uint(reservedSectors) - uint(numFATs*sectorsPerFAT) - uint(rootDirSectors)
		newTotalClusters := dataSectors / uint(sectorsPerCluster)
		newVersion := DetermineFATVersion(newTotalClusters)

		totalClusters = newTotalClusters
		if newVersion == version {
			break
		}
		version = newVersion
	}

	header := RawFATBootSectorWithBPB{
		OEMName:           [8]byte{'G', 'O', 'F', 'A', 'T', ' ', ' ', ' '},
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: sectorsPerCluster,
		ReservedSectors:   reservedSectors,
		NumFATs:           numFATs,
		RootEntryCount:    rootEntryCount,
		Media:             0xF8, // fixed disk; the only value FAT12/16 drivers reliably agree on
		SectorsPerTrack:   63,
		NumHeads:          255,
	}
	header.JmpBoot = [3]byte{0xEB, 0x00, 0x90}

	if totalSectors <= 0xFFFF {
		header.totalSectors16 = uint16(totalSectors)
	} else {
		header.totalSectors32 = uint32(totalSectors)
	}
	if version != 32 {
		header.sectorsPerFAT16 = uint16(sectorsPerFAT)
	}

	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	if err := binary.Write(image, binary.LittleEndian, &header); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	if err := binary.Write(image, binary.LittleEndian, sectorsPerFAT); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}

	var rootCluster ClusterID
	if version == 32 {
		rootCluster = 2
		tail := RawFAT32BootSectorTail{
			RootCluster:      uint32(rootCluster),
			FSInfoSector:     fat32FSInfoSectorIndex,
			BackupBootSector: fat32BackupBootSectorIndex,
			DriveNumber:      0x80,
			ExBootSignature:  0x29,
			VolumeLabel:      [11]byte{'N', 'O', ' ', 'N', 'A', 'M', 'E', ' ', ' ', ' ', ' '},
			FileSystemType:   [8]byte{'F', 'A', 'T', '3', '2', ' ', ' ', ' '},
		}
		copy(tail.VolumeLabel[:], stat.Label)
		if err := binary.Write(image, binary.LittleEndian, &tail); err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
	}

	// Boot sector signature always lives at byte offset 510-511 of sector 0,
	// regardless of the volume's actual sector size.
	if _, err := image.Seek(510, io.SeekStart); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	if _, err := image.Write([]byte{0x55, 0xAA}); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}

	if version == 32 {
		if err := writeFAT32FSInfoAndBackup(image, bytesPerSector, totalClusters); err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
	}

	if err := writeBlankFATs(image, version, numFATs, sectorsPerFAT, bytesPerSector, reservedSectors, rootCluster); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}

	rootDirSectors := (uint32(rootEntryCount)*DirentSize + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)
	fatAreaStart := int64(reservedSectors) + int64(numFATs)*int64(sectorsPerFAT)

	if version == 32 {
		rootClusterStart := fatAreaStart
		zeros := make([]byte, uint(sectorsPerCluster)*uint(bytesPerSector))
		if _, err := image.Seek(rootClusterStart*int64(bytesPerSector), io.SeekStart); err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
		if _, err := image.Write(zeros); err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
	} else if rootDirSectors > 0 {
		zeros := make([]byte, uint32(rootDirSectors)*uint32(bytesPerSector))
		if _, err := image.Seek(fatAreaStart*int64(bytesPerSector), io.SeekStart); err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
		if _, err := image.Write(zeros); err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
	}

	return nil
}

// writeFAT32FSInfoAndBackup writes the FAT32 FSInfo sector and a backup copy
// of the boot sector. Both live within the reserved region, at fixed
// conventional offsets; the boot sector itself (including its trailing
// 0x55AA signature) must already be fully written to image before this runs,
// since the backup is a byte-for-byte copy of it.
func writeFAT32FSInfoAndBackup(image io.ReadWriteSeeker, bytesPerSector uint16, totalClusters uint) error {
	bootSector := make([]byte, bytesPerSector)
	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(image, bootSector); err != nil {
		return err
	}
	if _, err := image.Seek(int64(fat32BackupBootSectorIndex)*int64(bytesPerSector), io.SeekStart); err != nil {
		return err
	}
	if _, err := image.Write(bootSector); err != nil {
		return err
	}

	// Cluster 2 (the root directory) is the only cluster already spoken for
	// at format time.
	freeCount := uint32(0xFFFFFFFF)
	nextFree := uint32(0xFFFFFFFF)
	if totalClusters > 1 {
		freeCount = uint32(totalClusters) - 1
		nextFree = 3
	}

	fsInfo := newFSInfoSector(freeCount, nextFree)
	if _, err := image.Seek(int64(fat32FSInfoSectorIndex)*int64(bytesPerSector), io.SeekStart); err != nil {
		return err
	}
	return binary.Write(image, binary.LittleEndian, &fsInfo)
}

// partitionableImage is satisfied by any backing store MountPartition can
// also work with: addressable by absolute offset for the partition-section
// wrapper, and seekable for FormatImage itself.
type partitionableImage interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.WriterAt
}

// FormatPartitionedDisk formats image as a single-partition disk: an MBR in
// sector 0 declaring one partition of the requested system ID, followed by
// a FAT12/16/32 volume occupying the rest of the image. This is the
// "real disk" counterpart to FormatImage, which instead treats the whole
// image as the volume (the traditional floppy-disk/superfloppy layout with
// no partition table at all).
func FormatPartitionedDisk(image partitionableImage, stat disko.FSStat, systemID uint8) disko.DriverError {
	bytesPerSector := uint16(stat.BlockSize)
	if bytesPerSector == 0 {
		bytesPerSector = 512
	}
	if stat.TotalBlocks <= 1 {
		return disko.ErrInvalidArgument.WithMessage(
			"a partitioned disk needs at least one sector for the MBR plus the volume itself")
	}

	const partitionStartLBA = 1
	partitionSectors := stat.TotalBlocks - partitionStartLBA

	partitionStat := stat
	partitionStat.TotalBlocks = partitionSectors

	section := &partitionSectionReadWriteSeeker{
		underlying:  image,
		startByte:   partitionStartLBA * int64(bytesPerSector),
		lengthBytes: int64(partitionSectors) * int64(bytesPerSector),
	}

	volume := &Volume{}
	if err := volume.FormatImage(section, partitionStat); err != nil {
		return err
	}

	mbrSector := make([]byte, bytesPerSector)
	entryOff := mbrPartitionTableOff
	mbrSector[entryOff+4] = systemID
	binary.LittleEndian.PutUint32(mbrSector[entryOff+8:entryOff+12], partitionStartLBA)
	binary.LittleEndian.PutUint32(mbrSector[entryOff+12:entryOff+16], uint32(partitionSectors))
	mbrSector[mbrSignatureOff] = 0x55
	mbrSector[mbrSignatureOff+1] = 0xAA

	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	if _, err := image.Write(mbrSector); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	return nil
}

// writeBlankFATs initializes every FAT copy's first two reserved cells
// (media descriptor + EOC in cell 0, EOC in cell 1) and, for FAT32, marks
// the root directory's single starting cluster as end-of-chain.
func writeBlankFATs(image io.WriteSeeker, version int, numFATs int, sectorsPerFAT uint32, bytesPerSector uint16, reservedSectors uint16, rootCluster ClusterID) error {
	codec := codecForVersion(version)
	fatBytes := make([]byte, uint32(sectorsPerFAT)*uint32(bytesPerSector))

	setCell := func(index uint, value ClusterID) {
		offset := codec.byteOffsetOf(index)
		span := codec.spanBytes()
		codec.encode(index, value, fatBytes[offset:offset+span])
	}

	// Cell 0 conventionally mirrors the media descriptor byte in its low
	// bits, with every other bit set; cell 1 is marked end-of-chain from the
	// start (some implementations use its top bits as a "clean unmount"
	// flag, which this formatter doesn't set).
	setCell(0, codec.eocMarker()&^ClusterID(0xFF)|ClusterID(0xF8))
	setCell(1, codec.eocMarker())
	if version == 32 && rootCluster >= 2 {
		setCell(uint(rootCluster), codec.eocMarker())
	}

	for i := 0; i < numFATs; i++ {
		offset := int64(reservedSectors) + int64(i)*int64(sectorsPerFAT)
		if _, err := image.Seek(offset*int64(bytesPerSector), io.SeekStart); err != nil {
			return err
		}
		if _, err := image.Write(fatBytes); err != nil {
			return err
		}
	}
	return nil
}
