package fat

// This file implements GetClusterAtIndex/SetClusterAtIndex/IsValidCluster/
// IsEndOfChain for all three FAT widths on top of the sector window and cell
// codec. Volume (mount.go) satisfies FATDriverCommon for
// drivers/fat/driverbase.go's chain-walking helpers by delegating to it.

import (
	"bytes"
	"fmt"

	disko "github.com/dargueta/gofat"
	common "github.com/dargueta/gofat/drivers/common"
)

// fatTable is the FAT access layer: given a cluster index it knows which
// sector(s) of which FAT copy to touch, how to decode/encode the cell at
// that position, and how to keep every FAT copy mirrored on write.
type fatTable struct {
	codec         cellCodec
	window        *fatWindow
	totalClusters uint
}

// newFATTable builds the FAT access layer for an already-mounted volume.
func newFATTable(stream *common.BlockStream, bootSector *FATBootSector) *fatTable {
	return &fatTable{
		codec:         codecForVersion(bootSector.FATVersion),
		window:        newFATWindow(stream, bootSector),
		totalClusters: bootSector.TotalClusters,
	}
}

// cellLocation resolves a cluster index to the absolute sector(s) holding its
// cell and the byte offset within the first of those sectors.
func (t *fatTable) cellLocation(index uint) (sector common.BlockID, offsetInSector uint, spanSectors uint) {
	byteOffset := t.codec.byteOffsetOf(index)
	bytesPerSector := t.window.bytesPerSector

	sectorIndex := byteOffset / bytesPerSector
	offsetInSector = byteOffset % bytesPerSector

	spanSectors = 1
	if offsetInSector+t.codec.spanBytes() > bytesPerSector {
		spanSectors = 2
	}

	sector = t.window.fatSectorStart + common.BlockID(sectorIndex)
	return sector, offsetInSector, spanSectors
}

// GetClusterAtIndex returns the raw cell value stored at the given cluster
// index (i.e. what cluster follows it in a chain, or an EOC/bad/free marker).
func (t *fatTable) GetClusterAtIndex(index uint) (ClusterID, error) {
	if index >= t.totalClusters+2 {
		return 0, disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("cluster index %d out of bounds (max %d)", index, t.totalClusters+1))
	}

	sector, offsetInSector, spanSectors := t.cellLocation(index)
	if err := t.window.ensureLoaded(sector, spanSectors); err != nil {
		return 0, disko.ErrIOFailed.Wrap(err)
	}

	buf := t.window.slice(sector, offsetInSector, t.codec.spanBytes())
	return t.codec.decode(index, buf), nil
}

// SetClusterAtIndex writes a new cell value at the given cluster index. The
// change is buffered in the window and mirrored to every FAT copy the next
// time Flush is called.
func (t *fatTable) SetClusterAtIndex(index uint, cluster ClusterID) error {
	if index >= t.totalClusters+2 {
		return disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("cluster index %d out of bounds (max %d)", index, t.totalClusters+1))
	}

	sector, offsetInSector, spanSectors := t.cellLocation(index)
	if err := t.window.ensureLoaded(sector, spanSectors); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}

	buf := t.window.slice(sector, offsetInSector, t.codec.spanBytes())
	t.codec.encode(index, cluster, buf)
	t.window.markDirty()
	return nil
}

// IsValidCluster reports whether cluster refers to an ordinary, allocatable
// data cluster -- i.e. not free, not the end of a chain, and not marked bad.
func (t *fatTable) IsValidCluster(cluster ClusterID) bool {
	if cluster < 2 {
		return false
	}
	return cluster <= t.codec.maxValidValue()
}

// IsEndOfChain reports whether cluster is one of the reserved values marking
// the last cluster of a chain.
func (t *fatTable) IsEndOfChain(cluster ClusterID) bool {
	return t.codec.isEndOfChain(cluster)
}

// IsBadCluster reports whether cluster is marked defective.
func (t *fatTable) IsBadCluster(cluster ClusterID) bool {
	return t.codec.isBadCluster(cluster)
}

// IsFreeCluster reports whether cluster is unallocated.
func (t *fatTable) IsFreeCluster(cluster ClusterID) bool {
	return t.codec.isFree(cluster)
}

// EndOfChainMarker returns the value this FAT width uses to terminate a
// chain, for use when allocating a new final cluster.
func (t *fatTable) EndOfChainMarker() ClusterID {
	return t.codec.eocMarker()
}

// Flush writes any buffered FAT changes back to every FAT copy.
func (t *fatTable) Flush() error {
	if err := t.window.Flush(); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	return nil
}

// CopiesMatch flushes any pending write, then reads every FAT copy straight
// off the stream (bypassing the window cache) and reports whether they are
// byte-for-byte identical. A single-FAT volume trivially matches.
func (t *fatTable) CopiesMatch() (bool, error) {
	if err := t.window.Flush(); err != nil {
		return false, err
	}
	if t.window.numFATs < 2 {
		return true, nil
	}

	first, err := t.window.stream.Read(t.window.fatSectorStart, t.window.sectorsPerFAT)
	if err != nil {
		return false, err
	}
	for copyIndex := uint(1); copyIndex < t.window.numFATs; copyIndex++ {
		copyStart := t.window.fatSectorStart + common.BlockID(copyIndex*t.window.sectorsPerFAT)
		other, err := t.window.stream.Read(copyStart, t.window.sectorsPerFAT)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(first, other) {
			return false, nil
		}
	}
	return true, nil
}
