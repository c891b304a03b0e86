package fat

// This file implements fatObjectHandle, the concrete disko.ObjectHandle (and,
// for directories, disko.SupportsListDirHandle) returned by Volume's
// GetRootDirectory/GetObject/CreateObject. It bridges the generic
// driver.BaseDriver/driver.File machinery -- which thinks in terms of
// logical blocks -- to cluster chains and raw dirents.

import (
	"os"
	"time"

	disko "github.com/dargueta/gofat"
	common "github.com/dargueta/gofat/drivers/common"
	"golang.org/x/exp/slices"
)

// fatObjectHandle is a live reference to one file or directory on a mounted
// volume. Logical block size for ReadBlocks/WriteBlocks/ZeroOutBlocks is
// always the volume's cluster size; that matches how CLMT-based fast seek
// naturally operates.
type fatObjectHandle struct {
	volume           *Volume
	dirent           Dirent
	parent           *Dirent
	path             string
	seekTable        *fastSeekTable
	acquiredFlag     bool
	acquiredForWrite bool
}

// newFATObjectHandle wraps dirent (a snapshot taken from its parent
// directory) into a live handle. parent is nil only for the volume's root
// directory, which has no entry of its own to write back to.
func newFATObjectHandle(volume *Volume, dirent *Dirent, path string, parent *Dirent) *fatObjectHandle {
	return &fatObjectHandle{volume: volume, dirent: *dirent, path: path, parent: parent}
}

func (h *fatObjectHandle) ensureSeekTable() error {
	if h.seekTable != nil {
		return nil
	}
	if h.dirent.FirstCluster < 2 {
		h.seekTable = &fastSeekTable{}
		return nil
	}
	chain, err := h.volume.chains.Walk(h.dirent.FirstCluster)
	if err != nil {
		return err
	}
	h.seekTable = buildFastSeekTable(chain)
	return nil
}

// disko.ObjectHandle -----------------------------------------------------

func (h *fatObjectHandle) Stat() disko.FileStat {
	bootSector := h.volume.bootSector
	numBlocks := int64(0)
	if h.seekTable != nil {
		numBlocks = int64(h.seekTable.TotalClusters())
	} else if h.dirent.FirstCluster >= 2 {
		if chain, err := h.volume.chains.Walk(h.dirent.FirstCluster); err == nil {
			numBlocks = int64(len(chain))
		}
	}

	return disko.FileStat{
		ModeFlags:    h.dirent.Mode(),
		Size:         h.dirent.Size(),
		BlockSize:    int64(bootSector.BytesPerCluster),
		NumBlocks:    numBlocks,
		CreatedAt:    h.dirent.Created,
		LastAccessed: h.dirent.LastAccessed,
		LastModified: h.dirent.LastModified,
		DeletedAt:    h.dirent.Deleted,
	}
}

// Resize grows or shrinks the object's cluster chain to match newSize,
// zero-filling any newly allocated space, and persists the new size to the
// object's directory entry.
func (h *fatObjectHandle) Resize(newSize uint64) disko.DriverError {
	bootSector := h.volume.bootSector
	bytesPerCluster := uint64(bootSector.BytesPerCluster)
	neededClusters := uint((newSize + bytesPerCluster - 1) / bytesPerCluster)

	if err := h.ensureSeekTable(); err != nil {
		return wrapAsDriverError(err)
	}
	currentClusters := h.seekTable.TotalClusters()

	var newClusters []ClusterID
	switch {
	case neededClusters == currentClusters:
		// No structural change; just update the recorded size below.
	case neededClusters > currentClusters:
		if currentClusters == 0 {
			clusters, err := h.volume.chains.Allocate(neededClusters)
			if err != nil {
				return wrapAsDriverError(err)
			}
			h.dirent.FirstCluster = clusters[0]
			newClusters = clusters
		} else {
			chain, err := h.volume.chains.Walk(h.dirent.FirstCluster)
			if err != nil {
				return wrapAsDriverError(err)
			}
			added, err := h.volume.chains.Extend(chain[len(chain)-1], neededClusters-currentClusters)
			if err != nil {
				return wrapAsDriverError(err)
			}
			newClusters = added
		}
		zeros := make([]byte, bytesPerCluster)
		for _, cluster := range newClusters {
			if err := h.volume.core.writeCluster(cluster, zeros); err != nil {
				return wrapAsDriverError(err)
			}
		}
	default:
		newTail, err := h.volume.chains.Truncate(h.dirent.FirstCluster, neededClusters)
		if err != nil {
			return wrapAsDriverError(err)
		}
		if neededClusters == 0 {
			h.dirent.FirstCluster = 0
		} else {
			_ = newTail
		}
	}

	h.dirent.size = int64(newSize)
	h.dirent.LastModified = time.Now()
	h.seekTable = nil

	if err := h.volume.persistDirent(&h.dirent, h.parent); err != nil {
		return wrapAsDriverError(err)
	}
	return nil
}

// Preallocate grows the object's cluster chain to cover at least minSize
// bytes without changing its reported size, so writes up to minSize that
// follow can't fail partway through for lack of free space. It shares
// Resize's growth path but skips the size bookkeeping and truncation branch
// entirely, since preallocating never shrinks anything.
func (h *fatObjectHandle) Preallocate(minSize uint64) disko.DriverError {
	bootSector := h.volume.bootSector
	bytesPerCluster := uint64(bootSector.BytesPerCluster)
	neededClusters := uint((minSize + bytesPerCluster - 1) / bytesPerCluster)

	if err := h.ensureSeekTable(); err != nil {
		return wrapAsDriverError(err)
	}
	currentClusters := h.seekTable.TotalClusters()
	if neededClusters <= currentClusters {
		return nil
	}

	if currentClusters == 0 {
		clusters, err := h.volume.chains.Allocate(neededClusters)
		if err != nil {
			return wrapAsDriverError(err)
		}
		h.dirent.FirstCluster = clusters[0]
	} else {
		chain, err := h.volume.chains.Walk(h.dirent.FirstCluster)
		if err != nil {
			return wrapAsDriverError(err)
		}
		if _, err := h.volume.chains.Extend(chain[len(chain)-1], neededClusters-currentClusters); err != nil {
			return wrapAsDriverError(err)
		}
	}

	h.seekTable = nil
	return wrapAsDriverError(h.volume.persistDirent(&h.dirent, h.parent))
}

func (h *fatObjectHandle) ReadBlocks(index common.LogicalBlock, buffer []byte) disko.DriverError {
	if err := h.ensureSeekTable(); err != nil {
		return wrapAsDriverError(err)
	}

	bytesPerCluster := int(h.volume.bootSector.BytesPerCluster)
	numClusters := len(buffer) / bytesPerCluster

	for i := 0; i < numClusters; i++ {
		cluster, ok := h.seekTable.ClusterAtLogicalIndex(uint(index) + uint(i))
		if !ok {
			return disko.ErrArgumentOutOfRange
		}
		data, err := h.volume.core.readCluster(cluster, 0)
		if err != nil {
			return wrapAsDriverError(err)
		}
		copy(buffer[i*bytesPerCluster:(i+1)*bytesPerCluster], data)
	}
	return nil
}

func (h *fatObjectHandle) WriteBlocks(index common.LogicalBlock, data []byte) disko.DriverError {
	if err := h.ensureSeekTable(); err != nil {
		return wrapAsDriverError(err)
	}

	bytesPerCluster := int(h.volume.bootSector.BytesPerCluster)
	numClusters := len(data) / bytesPerCluster

	for i := 0; i < numClusters; i++ {
		cluster, ok := h.seekTable.ClusterAtLogicalIndex(uint(index) + uint(i))
		if !ok {
			return disko.ErrArgumentOutOfRange
		}
		chunk := data[i*bytesPerCluster : (i+1)*bytesPerCluster]
		if err := h.volume.core.writeCluster(cluster, chunk); err != nil {
			return wrapAsDriverError(err)
		}
	}
	return nil
}

func (h *fatObjectHandle) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) disko.DriverError {
	bytesPerCluster := int(h.volume.bootSector.BytesPerCluster)
	zeros := make([]byte, bytesPerCluster*int(count))
	return h.WriteBlocks(startIndex, zeros)
}

// Unlink removes the directory entry for this object. It refuses with
// disko.ErrLocked if any handle, read-mode or write-mode, currently has the
// object's data open; the caller must close every handle first.
func (h *fatObjectHandle) Unlink() disko.DriverError {
	return wrapAsDriverError(h.volume.unlinkDirent(&h.dirent, h.parent))
}

// Acquire registers this handle as a live reference to its data, enforcing
// writer-exclusive/reader-shared discipline so a concurrent Unlink can tell
// whether the object is in use. driver.File calls this (via an
// optional-interface check) when it wraps a handle for an open session,
// passing the mode the file was opened with. Any object with a first cluster
// of 2 or more is tracked, directories included; it's a no-op only for
// zero-length files and the FAT12/16 fixed root (first cluster below 2),
// which registry.go doesn't track.
func (h *fatObjectHandle) Acquire(write bool) disko.DriverError {
	if err := h.volume.registry.Acquire(h.dirent.FirstCluster, write); err != nil {
		return err
	}
	h.acquiredFlag = true
	h.acquiredForWrite = write
	return nil
}

// CloseHandle drops this handle's reference from the registry.
func (h *fatObjectHandle) CloseHandle() disko.DriverError {
	if h.acquiredFlag {
		h.volume.registry.Release(h.dirent.FirstCluster, h.acquiredForWrite)
		h.acquiredFlag = false
	}
	return nil
}

func (h *fatObjectHandle) Chmod(mode os.FileMode) disko.DriverError {
	if mode&0o200 == 0 {
		h.dirent.AttributeFlags |= AttrReadOnly
	} else {
		h.dirent.AttributeFlags &^= AttrReadOnly
	}
	return wrapAsDriverError(h.volume.persistDirent(&h.dirent, h.parent))
}

func (h *fatObjectHandle) Chown(uid, gid int) disko.DriverError {
	// FAT has no concept of ownership; accept and ignore, matching the
	// file system's declared feature set (GetFSFeatures().HasUserID() ==
	// false).
	return nil
}

func (h *fatObjectHandle) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	if !createdAt.IsZero() {
		h.dirent.Created = createdAt
	}
	if !lastAccessed.IsZero() {
		h.dirent.LastAccessed = lastAccessed
	}
	if !lastModified.IsZero() {
		h.dirent.LastModified = lastModified
	}
	if !deletedAt.IsZero() {
		h.dirent.Deleted = deletedAt
	}
	return h.volume.persistDirent(&h.dirent, h.parent)
}

func (h *fatObjectHandle) Name() string {
	return h.dirent.Name()
}

func (h *fatObjectHandle) SameAs(other disko.ObjectHandle) bool {
	otherHandle, ok := other.(*fatObjectHandle)
	if !ok {
		return false
	}
	if h.dirent.FirstCluster >= 2 {
		return h.dirent.FirstCluster == otherHandle.dirent.FirstCluster
	}
	// Both refer to zero-length objects or the fixed root; fall back to
	// comparing paths, since FirstCluster alone can't disambiguate them.
	return h.path == otherHandle.path
}

// disko.SupportsListDirHandle ---------------------------------------------

func (h *fatObjectHandle) ListDir() ([]string, disko.DriverError) {
	entries, err := h.volume.core.ReadAllDirents(&h.dirent)
	if err != nil {
		return nil, wrapAsDriverError(err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// wrapAsDriverError adapts a plain `error` (as returned by the
// driverbase.go-era helpers, which predate the DriverError interface) into a
// disko.DriverError, passing DriverError values through unchanged.
func wrapAsDriverError(err error) disko.DriverError {
	if err == nil {
		return nil
	}
	if driverErr, ok := err.(disko.DriverError); ok {
		return driverErr
	}
	return disko.ErrIOFailed.Wrap(err)
}
