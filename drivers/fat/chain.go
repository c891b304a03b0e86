package fat

// This file implements cluster chain operations (walking, allocating,
// extending, truncating, and freeing) on top of the FAT access layer in
// table.go, plus a fast-seek table (CLMT) that turns "what physical cluster
// holds logical byte offset N of this file" from an O(N) FAT walk into a
// lookup over a short list of contiguous runs.

import (
	"fmt"

	disko "github.com/dargueta/gofat"
	common "github.com/dargueta/gofat/drivers/common"
)

// clusterRun is one maximal run of consecutive physical clusters that are
// also consecutive in the logical chain they belong to.
type clusterRun struct {
	FirstLogicalIndex uint
	FirstCluster      ClusterID
	Length            uint
}

// fastSeekTable is the in-memory Cluster Linkage Map Table for one open
// file or directory: a compact summary of its chain as a sequence of runs,
// so random access doesn't need to re-walk the FAT from the first cluster
// every time.
type fastSeekTable struct {
	runs []clusterRun
}

// buildFastSeekTable condenses a fully-walked chain into runs of physically
// contiguous clusters.
func buildFastSeekTable(chain []ClusterID) *fastSeekTable {
	table := &fastSeekTable{}
	if len(chain) == 0 {
		return table
	}

	runStart := 0
	for i := 1; i <= len(chain); i++ {
		if i < len(chain) && chain[i] == chain[i-1]+1 {
			continue
		}
		table.runs = append(table.runs, clusterRun{
			FirstLogicalIndex: uint(runStart),
			FirstCluster:      chain[runStart],
			Length:            uint(i - runStart),
		})
		runStart = i
	}
	return table
}

// ClusterAtLogicalIndex returns the physical cluster holding the `index`th
// cluster of the file (0-based), and whether it was found.
func (t *fastSeekTable) ClusterAtLogicalIndex(index uint) (ClusterID, bool) {
	for _, run := range t.runs {
		if index >= run.FirstLogicalIndex && index < run.FirstLogicalIndex+run.Length {
			offset := index - run.FirstLogicalIndex
			return run.FirstCluster + ClusterID(offset), true
		}
	}
	return 0, false
}

// TotalClusters returns the number of logical clusters covered by the table.
func (t *fastSeekTable) TotalClusters() uint {
	if len(t.runs) == 0 {
		return 0
	}
	last := t.runs[len(t.runs)-1]
	return last.FirstLogicalIndex + last.Length
}

// chainManager ties the FAT access layer to a free-cluster allocator to
// implement the higher-level chain operations a file or directory handle
// needs: walk, allocate, extend, truncate, free.
type chainManager struct {
	table     *fatTable
	allocator *common.Allocator
}

// newChainManager builds a chain manager. allocator's bitmap must cover
// exactly the data clusters of the volume (cluster 2 through
// table.totalClusters+1), indexed so that bit 0 corresponds to cluster 2.
func newChainManager(table *fatTable, allocator *common.Allocator) *chainManager {
	return &chainManager{table: table, allocator: allocator}
}

func clusterToBlockID(cluster ClusterID) common.BlockID {
	return common.BlockID(cluster - 2)
}

func blockIDToCluster(block common.BlockID) ClusterID {
	return ClusterID(block) + 2
}

// Walk returns every cluster in the chain starting at first, in logical
// order, stopping at (and not including) the end-of-chain marker.
func (m *chainManager) Walk(first ClusterID) ([]ClusterID, error) {
	if !m.table.IsValidCluster(first) {
		return nil, disko.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cluster 0x%x cannot start a chain", first))
	}

	chain := []ClusterID{}
	current := first

	for {
		chain = append(chain, current)

		next, err := m.table.GetClusterAtIndex(uint(current))
		if err != nil {
			return nil, err
		}

		if m.table.IsEndOfChain(next) {
			break
		}
		if !m.table.IsValidCluster(next) {
			return chain, disko.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("cluster %d is followed by invalid cluster 0x%x", current, next))
		}
		current = next
	}

	return chain, nil
}

// Allocate reserves `count` free clusters, links them together in the order
// they're returned, and terminates the new chain with an EOC marker. It does
// not attach the new chain to anything; callers (directory/file creation,
// Extend) are responsible for wiring the first cluster into a dirent or a
// prior chain's tail.
func (m *chainManager) Allocate(count uint) ([]ClusterID, error) {
	if count == 0 {
		return nil, nil
	}

	clusters := make([]ClusterID, 0, count)
	for i := uint(0); i < count; i++ {
		block, err := m.allocator.AllocateBlock()
		if err != nil {
			// Roll back everything we allocated in this call so a failed
			// Allocate doesn't leak clusters.
			for _, c := range clusters {
				_ = m.allocator.FreeBlock(clusterToBlockID(c))
			}
			return nil, err
		}
		clusters = append(clusters, blockIDToCluster(block))
	}

	for i, cluster := range clusters {
		var cell ClusterID
		if i == len(clusters)-1 {
			cell = m.table.EndOfChainMarker()
		} else {
			cell = clusters[i+1]
		}
		if err := m.table.SetClusterAtIndex(uint(cluster), cell); err != nil {
			return nil, err
		}
	}

	return clusters, nil
}

// Extend allocates `count` additional clusters and appends them to the chain
// whose current last cluster is tailCluster, returning just the new
// clusters.
func (m *chainManager) Extend(tailCluster ClusterID, count uint) ([]ClusterID, error) {
	newClusters, err := m.Allocate(count)
	if err != nil {
		return nil, err
	}
	if len(newClusters) == 0 {
		return nil, nil
	}

	if err := m.table.SetClusterAtIndex(uint(tailCluster), newClusters[0]); err != nil {
		return nil, err
	}
	return newClusters, nil
}

// Truncate cuts a chain down to keepCount clusters, freeing everything past
// that point. If keepCount is 0, the entire chain is freed and the caller
// must clear the owning dirent's first-cluster field itself. Returns the new
// last cluster of the (possibly empty) chain.
func (m *chainManager) Truncate(first ClusterID, keepCount uint) (ClusterID, error) {
	chain, err := m.Walk(first)
	if err != nil {
		return 0, err
	}

	if keepCount >= uint(len(chain)) {
		return chain[len(chain)-1], nil
	}

	if keepCount == 0 {
		return 0, m.freeChainClusters(chain)
	}

	newTail := chain[keepCount-1]
	if err := m.table.SetClusterAtIndex(uint(newTail), m.table.EndOfChainMarker()); err != nil {
		return 0, err
	}

	if err := m.freeChainClusters(chain[keepCount:]); err != nil {
		return 0, err
	}
	return newTail, nil
}

// Free releases every cluster in the chain starting at first.
func (m *chainManager) Free(first ClusterID) error {
	if !m.table.IsValidCluster(first) {
		return nil
	}
	chain, err := m.Walk(first)
	if err != nil {
		return err
	}
	return m.freeChainClusters(chain)
}

func (m *chainManager) freeChainClusters(chain []ClusterID) error {
	for _, cluster := range chain {
		if err := m.table.SetClusterAtIndex(uint(cluster), 0); err != nil {
			return err
		}
		if err := m.allocator.FreeBlock(clusterToBlockID(cluster)); err != nil {
			return err
		}
	}
	return nil
}
