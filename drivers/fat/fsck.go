package fat

// This file implements a read-only consistency scan over a mounted volume:
// comparing the FAT copies against each other, and cross-checking the
// allocation bitmap built at mount time (mount.go's buildClusterAllocator)
// against the cluster chains actually reachable by walking the directory
// tree. It doesn't repair anything; it reports what it finds and leaves the
// decision of what to do about it to the caller. The FAT-copy comparison is
// the same idea as fat8Driver.readFATs()'s three-way copy check, generalized
// here to however many FATs the volume actually has.

import (
	disko "github.com/dargueta/gofat"
	multierror "github.com/hashicorp/go-multierror"
)

// FSCheckReport summarizes the result of a CheckVolume scan.
type FSCheckReport struct {
	// FATCopiesMismatched is true if the volume has more than one FAT and
	// they're not byte-for-byte identical.
	FATCopiesMismatched bool

	// CorruptEntries holds the cluster indices whose FAT cell couldn't be
	// read at all.
	CorruptEntries []ClusterID

	// CrossLinkedClusters holds clusters that are reachable from more than
	// one directory entry's chain.
	CrossLinkedClusters []ClusterID

	// OrphanedClusters holds clusters the FAT marks allocated but that no
	// directory entry's chain reaches.
	OrphanedClusters []ClusterID

	// WalkErrors accumulates chain-walk failures encountered while
	// traversing individual directories; a subtree that can't be walked
	// doesn't stop the rest of the scan from running.
	WalkErrors error
}

// Clean reports whether the scan found nothing wrong.
func (r FSCheckReport) Clean() bool {
	return !r.FATCopiesMismatched &&
		len(r.CorruptEntries) == 0 &&
		len(r.CrossLinkedClusters) == 0 &&
		len(r.OrphanedClusters) == 0 &&
		r.WalkErrors == nil
}

// CheckVolume walks the FAT and the directory tree looking for three classes
// of structural damage: FAT copies that have diverged, cluster chains that
// share a cluster (cross-linked files), and clusters the FAT marks allocated
// that no directory entry's chain actually reaches (orphaned/leaked space).
// It takes no corrective action; a report with Clean() true means the volume
// is internally consistent.
func (v *Volume) CheckVolume() (FSCheckReport, disko.DriverError) {
	if err := v.lock(); err != nil {
		return FSCheckReport{}, err
	}
	defer v.unlock()

	var report FSCheckReport
	var errs *multierror.Error

	match, err := v.table.CopiesMatch()
	if err != nil {
		return FSCheckReport{}, wrapAsDriverError(err)
	}
	report.FATCopiesMismatched = !match

	owner := make(map[ClusterID]bool, v.bootSector.TotalClusters)
	crossLinked := make(map[ClusterID]bool)

	markChain := func(dirent *Dirent) {
		if dirent.FirstCluster < 2 {
			return
		}
		chain, werr := v.chains.Walk(dirent.FirstCluster)
		if werr != nil {
			errs = multierror.Append(errs, werr)
			return
		}
		for _, c := range chain {
			if owner[c] {
				crossLinked[c] = true
			}
			owner[c] = true
		}
	}

	var walkDir func(dir *Dirent)
	walkDir = func(dir *Dirent) {
		markChain(dir)

		entries, rerr := v.core.ReadAllDirents(dir)
		if rerr != nil {
			errs = multierror.Append(errs, rerr)
			return
		}
		for i := range entries {
			entry := &entries[i]
			if entry.name == "." || entry.name == ".." || entry.FirstCluster < 2 {
				continue
			}
			if entry.AttributeFlags&AttrDirectory != 0 {
				walkDir(entry)
				continue
			}
			markChain(entry)
		}
	}

	walkDir(&v.rootDirent)
	report.WalkErrors = errs.ErrorOrNil()

	for c := range crossLinked {
		report.CrossLinkedClusters = append(report.CrossLinkedClusters, c)
	}

	for i := uint(0); i < v.bootSector.TotalClusters; i++ {
		cluster := ClusterID(i + 2)
		value, gerr := v.table.GetClusterAtIndex(uint(cluster))
		if gerr != nil {
			report.CorruptEntries = append(report.CorruptEntries, cluster)
			continue
		}
		if !v.table.IsFreeCluster(value) && !owner[cluster] {
			report.OrphanedClusters = append(report.OrphanedClusters, cluster)
		}
	}

	return report, nil
}
