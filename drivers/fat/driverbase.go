package fat

import (
	"fmt"
	"io"

	disko "github.com/dargueta/gofat"
)

// This file defines the driver interface and delegates to the underlying version-specific
// drivers.

type ClusterID uint32
type SectorID uint32

type FATDriverCommon interface {
	GetBootSector() *FATBootSector
	GetClusterAtIndex(index uint) (ClusterID, error)
	SetClusterAtIndex(index uint, cluster ClusterID) error
	GetNextClusterInChain(cluster ClusterID) (ClusterID, error)
	IsValidCluster(cluster ClusterID) bool
	IsEndOfChain(cluster ClusterID) bool
}

type FATDriver struct {
	fs       FATDriverCommon
	diskFile interface{}
}

func (drv *FATDriver) getFirstSectorOfCluster(cluster ClusterID) (SectorID, error) {
	bootSector := drv.fs.GetBootSector()
	if cluster < 2 {
		return 0, disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d is below the first valid data cluster (2)", cluster))
	}
	return bootSector.FirstDataSector + SectorID(
		uint32(bootSector.SectorsPerCluster)*uint32(cluster-2)), nil
}

func (drv *FATDriver) readAbsoluteSectors(sector SectorID, numSectors uint) ([]byte, error) {
	bootSector := drv.fs.GetBootSector()

	wantBytes := int(bootSector.BytesPerSector) * int(numSectors)
	buffer := make([]byte, wantBytes)
	diskFile := drv.diskFile.(io.ReaderAt)

	nRead, err := diskFile.ReadAt(buffer, int64(bootSector.BytesPerSector)*int64(sector))

	if err != nil {
		return buffer, err
	} else if nRead < wantBytes {
		return nil, fmt.Errorf(
			"unexpected short read: wanted %d bytes, got %d", wantBytes, nRead)
	}

	return buffer, nil
}

// writeAbsoluteSectors writes data (which must be an exact multiple of the
// sector size) starting at the given absolute sector.
func (drv *FATDriver) writeAbsoluteSectors(sector SectorID, data []byte) error {
	bootSector := drv.fs.GetBootSector()
	diskFile := drv.diskFile.(io.WriterAt)

	nWritten, err := diskFile.WriteAt(data, int64(bootSector.BytesPerSector)*int64(sector))
	if err != nil {
		return err
	} else if nWritten < len(data) {
		return fmt.Errorf("unexpected short write: wanted %d bytes, wrote %d", len(data), nWritten)
	}
	return nil
}

// writeCluster overwrites the entirety of the given cluster with data, which
// must be exactly one cluster's worth of bytes.
func (drv *FATDriver) writeCluster(cluster ClusterID, data []byte) error {
	sectorID, err := drv.getFirstSectorOfCluster(cluster)
	if err != nil {
		return err
	}
	return drv.writeAbsoluteSectors(sectorID, data)
}

// readCluster returns the bytes of the given cluster on the file system. The
// `index` argument is not used.
func (drv *FATDriver) readCluster(cluster ClusterID, index uint) ([]byte, error) {
	sectorID, err := drv.getFirstSectorOfCluster(cluster)
	if err != nil {
		return nil, err
	}

	bootSector := drv.fs.GetBootSector()
	return drv.readAbsoluteSectors(sectorID, uint(bootSector.SectorsPerCluster))
}

// readSectorsInCluster returns the bytes of `numSectors` sectors of the given cluster,
// starting at the `index`th one. `index` starts from 0. On error, the byte slice will be nil and the second return value
// is an error object detailing what went wrong.
func (drv *FATDriver) readSectorsInCluster(cluster ClusterID, index uint, numSectors uint) ([]byte, error) {
	firstSector, err := drv.getFirstSectorOfCluster(cluster)
	if err != nil {
		return nil, err
	}

	bootSector := drv.fs.GetBootSector()
	if (index + numSectors) > uint(bootSector.SectorsPerCluster) {
		return nil, disko.ErrArgumentOutOfRange.WithMessage(
				fmt.Sprintf(
				"cannot read %d sectors from index %d: read would exceed cluster size",
				numSectors,
				index))
	}

	absoluteSector := uint(firstSector) + index
	return drv.readAbsoluteSectors(SectorID(absoluteSector), numSectors)
}

// listClusters returns a list of every cluster in the chain beginning at chainStart.
//
// The returned list will always have chainStart as its first member. If chainStart is
// not a valid data cluster (including an EOF marker such as 0xFFF on FAT12 systems),
// it returns ErrInvalidArgument instead of a list.
func (drv *FATDriver) listClusters(chainStart ClusterID) ([]ClusterID, error) {
	if !drv.fs.IsValidCluster(chainStart) {
		return nil, disko.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("invalid cluster 0x%x cannot start a cluster chain", chainStart))
	}

	chain := []ClusterID{}
	currentCluster := chainStart
	i := 0

	for !drv.fs.IsEndOfChain(currentCluster) {
		chain = append(chain, currentCluster)

		nextCluster, err := drv.fs.GetClusterAtIndex(uint(currentCluster))
		if err != nil {
			return nil, err
		}

		if !drv.fs.IsValidCluster(nextCluster) {
			// Hit an invalid cluster. This is not the same as EOF, and usually indicates
			// corruption of some sort.
			return chain, disko.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"cluster %d followed by invalid cluster 0x%x at index %d in chain from %d",
					currentCluster,
					nextCluster,
					i,
					chainStart))
		}

		currentCluster = nextCluster
		i++
	}

	return chain, nil

}

// getClusterInChain returns the ID of the `index`th cluster in the chain starting at
// `firstCluster`. Indexing begins at 0. A cluster ID of 0 indicates an error occurred,
// and the Error object in the second return value will indicate what went wrong.
func (drv *FATDriver) getClusterInChain(firstCluster ClusterID, index uint) (ClusterID, error) {
	currentCluster := firstCluster

	for i := uint(0); i < index; i++ {
		nextCluster, err := drv.fs.GetClusterAtIndex(uint(currentCluster))
		if err != nil {
			return 0, err
		}

		if drv.fs.IsEndOfChain(nextCluster) {
			// Hit EOF
			return 0, disko.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"cluster index %d out of bounds -- chain from 0x%x has %d clusters",
					index,
					firstCluster,
					i+1))
		} else if !drv.fs.IsValidCluster(nextCluster) {
			// Hit an invalid cluster. This is not the same as EOF, and usually indicates
			// corruption of some sort.
			return 0, disko.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"cluster %d followed by invalid cluster 0x%x at index %d in chain from %d",
					currentCluster,
					nextCluster,
					i,
					firstCluster))
		}
		currentCluster = nextCluster
	}

	return currentCluster, nil
}

func (drv *FATDriver) readClusterOfDirent(dirent *Dirent, index uint) ([]byte, error) {
	cluster, err := drv.getClusterInChain(dirent.FirstCluster, index)
	if err != nil {
		return nil, err
	}
	return drv.readCluster(cluster, 1)
}

////////////////////////////////////////////////////////////////////////////////////////
// Parts of the Driver interface that can be implemented with little knowledge of the
// underlying file system.

// ReadDirFromDirent returns a list of the directory entries found in directoryDirent,
// including the `.` and `..` entries.
func (drv *FATDriver) ReadDirFromDirent(directoryDirent *Dirent) ([]Dirent, error) {
	if !directoryDirent.IsDir() {
		return nil, disko.ErrNotADirectory
	}

	bootSector := drv.fs.GetBootSector()
	allDirents := []Dirent{}

	i := uint(0)
	for true {
		clusterData, err := drv.readClusterOfDirent(directoryDirent, i)
		if err != nil {
			return nil, err
		}

		clusterDirents, err := drv.clusterToDirentSlice(clusterData)
		if err != nil {
			return nil, err
		}

		allDirents = append(allDirents, clusterDirents...)
		if len(clusterDirents) < bootSector.DirentsPerCluster {
			break
		}

		i++
	}

	return allDirents, nil
}
