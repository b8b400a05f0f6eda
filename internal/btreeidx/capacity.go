package btreeidx

import "github.com/tuannm99/novasql/internal/storage"

// pageCapacity is the usable tuple+slot-directory budget of a node page:
// the page minus storage's own header and this package's special header
// (component A). Every occupancy computation in the split and merge paths
// -- usedBytes, isUnderfull, the size-based split point -- measures
// against this same number so they never disagree with each other.
const pageCapacity = storage.PageSize - storage.HeaderSize - specialHeaderSize

// maxEntriesPerPage estimates how many fixed-size entries of entrySize
// bytes fit on a page once the special header and slot directory are
// accounted for. Its caller is EstimatedLeafCapacity; the split point
// itself is chosen from actual byte sizes (computeSplit), not from it.
func maxEntriesPerPage(entrySize int) int {
	if entrySize <= 0 {
		return 0
	}
	if pageCapacity <= 0 {
		return 0
	}
	return pageCapacity / (storage.SlotSize + entrySize)
}

// EstimatedLeafCapacity reports how many leaf entries of the given
// average key length (RID suffix included) a fresh leaf page can hold,
// for callers sizing a workload or reporting index stats (cmd/idxshell's
// stats command).
func (t *Tree) EstimatedLeafCapacity(avgKeyLen int) int {
	return maxEntriesPerPage(avgKeyLen + 4 /* PageID */ + 2 /* Slot */)
}
