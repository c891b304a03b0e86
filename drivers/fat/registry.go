package fat

// This file implements the open-file registry: the bookkeeping FAT needs in
// place of an inode table to arbitrate concurrent access to the same data.
// A writer gets exclusive access (no reader or other writer may attach while
// it holds the slot); readers share a slot freely among themselves. unlink
// and rename consult the registry and refuse outright -- with ErrLocked --
// if anything at all is attached, rather than the POSIX trick of detaching
// the name and deferring the free.

import (
	"sync"

	disko "github.com/dargueta/gofat"
)

// writeLockValue is the refcount slot value that marks a cluster chain as
// held by a single write-mode handle. It's chosen to sit just above the
// shared-reader range so the two cases can't be confused.
const writeLockValue = 0x100

// maxSharedReaders is the largest number of concurrent read-mode handles a
// single cluster chain can have attached at once.
const maxSharedReaders = 0xFF

// openFileRegistry tracks, per starting cluster, whether the chain is held
// by a single exclusive writer or by some number of shared readers.
type openFileRegistry struct {
	mu        sync.Mutex
	refCounts map[ClusterID]int
}

func newOpenFileRegistry() *openFileRegistry {
	return &openFileRegistry{
		refCounts: make(map[ClusterID]int),
	}
}

// Acquire registers a new open handle for the object whose data starts at
// firstCluster. write selects write-mode (exclusive) vs. read-mode (shared)
// discipline. Objects with no data of their own (empty files, or the
// FAT12/16 fixed root) are not tracked; there's nothing for a second opener
// to race against.
//
// A write acquire fails with ErrLocked if the cluster is already held, by a
// writer or by any reader. A read acquire fails with ErrLocked if a writer
// holds it, and with ErrTooManyOpenFiles if the shared-reader count is
// already at its cap.
func (r *openFileRegistry) Acquire(firstCluster ClusterID, write bool) disko.DriverError {
	if firstCluster < 2 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.refCounts[firstCluster]
	if write {
		if current != 0 {
			return disko.ErrLocked.WithMessage("cluster chain already has an open handle")
		}
		r.refCounts[firstCluster] = writeLockValue
		return nil
	}

	if current == writeLockValue {
		return disko.ErrLocked.WithMessage("cluster chain is open for writing")
	}
	if current >= maxSharedReaders {
		return disko.ErrTooManyOpenFiles.WithMessage("too many concurrent readers on this cluster chain")
	}
	r.refCounts[firstCluster] = current + 1
	return nil
}

// Release drops a reference previously taken by Acquire(firstCluster, write).
func (r *openFileRegistry) Release(firstCluster ClusterID, write bool) {
	if firstCluster < 2 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if write {
		delete(r.refCounts, firstCluster)
		return
	}
	if current := r.refCounts[firstCluster]; current > 1 {
		r.refCounts[firstCluster] = current - 1
	} else {
		delete(r.refCounts, firstCluster)
	}
}

// IsOpen reports whether any handle, reader or writer, currently references
// firstCluster.
func (r *openFileRegistry) IsOpen(firstCluster ClusterID) bool {
	if firstCluster < 2 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refCounts[firstCluster] > 0
}
