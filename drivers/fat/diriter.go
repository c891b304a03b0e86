package fat

// This file implements directory iteration: turning the raw bytes of a
// directory's cluster chain into a slice of fully-resolved Dirent values,
// including VFAT long names. Unlike a naive per-cluster scan, entries are
// parsed from the chain's bytes concatenated end to end, so a long name
// whose fragments straddle a cluster boundary is still reassembled
// correctly.

import (
	"errors"
	"strings"

	disko "github.com/dargueta/gofat"
)

// parseDirectoryEntries walks a buffer holding one or more whole directory
// clusters concatenated together and returns every live entry it finds,
// resolving any VFAT long name fragments that precede a short entry.
//
// Orphaned long-name fragments (a run with no following short entry, or
// whose checksum doesn't match the short entry that follows) are not treated
// as an error: the short name is still returned, just without LongName set,
// the same tolerant behavior real-world FAT drivers use when they encounter
// a long name written by an implementation they don't trust.
func parseDirectoryEntries(data []byte) ([]Dirent, error) {
	entries := []Dirent{}
	var pendingLFN []rawLFNEntry
	slot := 0

	for offset := 0; offset+DirentSize <= len(data); offset += DirentSize {
		raw := data[offset : offset+DirentSize]

		if raw[0] == 0x00 {
			// Free entry: end of the directory.
			break
		}
		if raw[0] == 0xE5 {
			// Deleted entry. Any preceding LFN run belonged to it and is
			// meaningless now.
			pendingLFN = nil
			slot++
			continue
		}

		attributeFlags := raw[11]
		if isLFNEntry(attributeFlags) {
			pendingLFN = append(pendingLFN, newRawLFNEntryFromBytes(raw))
			slot++
			continue
		}

		rawDirent, err := NewRawDirentFromBytes(raw)
		if err != nil {
			return nil, err
		}

		dirent, err := NewDirentFromRaw(&rawDirent)
		if err != nil {
			if errors.Is(err, disko.ErrNotFound) {
				break
			}
			return nil, err
		}

		numSlots := len(pendingLFN) + 1
		dirent.slotIndex = slot - len(pendingLFN)
		dirent.numSlots = numSlots

		if len(pendingLFN) > 0 {
			longName, lfnErr := decodeLFNFragments(pendingLFN, lfnChecksum(dirent.shortName11))
			if lfnErr == nil && longName != "" {
				dirent.longName = longName
			}
		}

		pendingLFN = nil
		entries = append(entries, dirent)
		slot++
	}

	return entries, nil
}

// readClusterChainBytes reads every cluster in a chain and concatenates
// their raw bytes in logical order.
func (drv *FATDriver) readClusterChainBytes(firstCluster ClusterID) ([]byte, error) {
	clusters, err := drv.listClusters(firstCluster)
	if err != nil {
		return nil, err
	}

	bootSector := drv.fs.GetBootSector()
	buf := make([]byte, 0, len(clusters)*int(bootSector.BytesPerCluster))

	for _, cluster := range clusters {
		clusterData, err := drv.readCluster(cluster, 1)
		if err != nil {
			return nil, err
		}
		buf = append(buf, clusterData...)
	}

	return buf, nil
}

// readFixedRootBytes reads the FAT12/16 root directory, which (unlike every
// other directory on the volume) lives in a fixed region ahead of the
// cluster data area and isn't addressed through the FAT at all.
func (drv *FATDriver) readFixedRootBytes() ([]byte, error) {
	bootSector := drv.fs.GetBootSector()
	rootStart := SectorID(uint(bootSector.ReservedSectors) + bootSector.TotalFATSectors)
	return drv.readAbsoluteSectors(rootStart, bootSector.RootDirSectors)
}

// ReadAllDirents returns every live entry (including `.` and `..`, except in
// the FAT12/16 fixed root which has neither) of the directory described by
// directoryDirent, with VFAT long names resolved.
//
// A root Dirent on a FAT12/16 volume is identified by FirstCluster == 0,
// since cluster IDs 0 and 1 are otherwise never valid; such a directory is
// read from the fixed root region instead of following a cluster chain.
func (drv *FATDriver) ReadAllDirents(directoryDirent *Dirent) ([]Dirent, error) {
	if !directoryDirent.IsDir() {
		return nil, disko.ErrNotADirectory
	}

	var data []byte
	var err error
	if directoryDirent.FirstCluster == 0 {
		data, err = drv.readFixedRootBytes()
	} else {
		data, err = drv.readClusterChainBytes(directoryDirent.FirstCluster)
	}
	if err != nil {
		return nil, err
	}

	return parseDirectoryEntries(data)
}

// writeDirectoryBytes overwrites the entirety of a directory's storage with
// data, which must be exactly the same length as what ReadAllDirents read
// (growth happens separately via growDirectory).
func (drv *FATDriver) writeDirectoryBytes(directoryDirent *Dirent, data []byte) error {
	if directoryDirent.FirstCluster == 0 {
		return drv.writeFixedRootBytes(data)
	}

	bootSector := drv.fs.GetBootSector()
	clusters, err := drv.listClusters(directoryDirent.FirstCluster)
	if err != nil {
		return err
	}

	bytesPerCluster := int(bootSector.BytesPerCluster)
	if len(data) != len(clusters)*bytesPerCluster {
		return disko.ErrInvalidArgument.WithMessage(
			"directory buffer length does not match its cluster chain; call growDirectory first")
	}

	for i, cluster := range clusters {
		chunk := data[i*bytesPerCluster : (i+1)*bytesPerCluster]
		if err := drv.writeCluster(cluster, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (drv *FATDriver) writeFixedRootBytes(data []byte) error {
	bootSector := drv.fs.GetBootSector()
	rootStart := SectorID(uint(bootSector.ReservedSectors) + bootSector.TotalFATSectors)
	return drv.writeAbsoluteSectors(rootStart, data)
}

// FindDirentByName scans a directory for an entry matching name, comparing
// case-insensitively against both the long and short names (FAT has no
// notion of case-sensitive lookups).
func (drv *FATDriver) FindDirentByName(directoryDirent *Dirent, name string) (*Dirent, error) {
	entries, err := drv.ReadAllDirents(directoryDirent)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if strings.EqualFold(entries[i].Name(), name) || strings.EqualFold(entries[i].ShortName(), name) {
			return &entries[i], nil
		}
	}
	return nil, disko.ErrNotFound
}
