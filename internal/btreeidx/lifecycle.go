package btreeidx

import (
	"log/slog"

	"github.com/tuannm99/novasql/internal/storage"
)

// Page lifecycle (component D): allocation is segment-based for an
// ordinary index's leaf/internal levels (SegLeaf/SegTop, data model
// invariant 6) with one exception -- the insert buffer tree frees and
// reuses pages through its own dedicated free list (storage.IBUFFree)
// instead of ever returning pages to a segment, so its allocations never
// block on segment extension. The segment/free-list split itself lives in
// storage.StorageManager (internal/storage/sm.go); this file is the
// B-tree-shaped layer on top of it.

// segmentFor picks the page type a newly allocated node page is charged
// against. Leaves and internal nodes share the same two segments an
// ordinary index owns; ibuf is a special case callers opt into via
// useIBufFreeList.
func segmentFor(useIBufFreeList bool, leaf bool) storage.PageType {
	if useIBufFreeList {
		return storage.IBUFFree
	}
	if leaf {
		return storage.SegLeaf
	}
	return storage.SegTop
}

// allocPage reserves a page id for pageType and returns its loaded
// *storage.Page by routing through the buffer pool so the page is
// immediately pinned. A page taken from the free list still holds its old
// contents until InitNodePage clears them.
func (t *Tree) allocPage(pageType storage.PageType) (uint32, *storage.Page, error) {
	pageID, err := t.SM.AllocatePage(t.FS, pageType)
	if err != nil {
		return 0, nil, err
	}
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return 0, nil, err
	}
	return pageID, p, nil
}

// freePage returns pageID to pageType's free list. The caller must have
// already unpinned the page and must not use it again until it is
// re-allocated.
func (t *Tree) freePage(pageID uint32, pageType storage.PageType) error {
	t.Lock.Forget(pageID)
	return t.SM.FreePage(t.FS, pageType, pageID)
}

// createNode allocates and initializes a brand-new node page at the given
// level, linked into its siblings via prev/next.
func (t *Tree) createNode(leaf bool, level uint16, prev, next uint32) (uint32, *NodePage, error) {
	pageID, p, err := t.allocPage(segmentFor(t.UseIBufFreeList, leaf))
	if err != nil {
		return 0, nil, err
	}
	n, err := InitNodePage(p, t.IndexID, level, prev, next)
	if err != nil {
		return 0, nil, err
	}
	slog.Debug("btreeidx.lifecycle.createNode", "pageID", pageID, "level", level)
	return pageID, n, nil
}

// emptyNode clears all records from an existing node page in place,
// keeping its page id, level and special header intact -- the primitive
// root_raise uses to turn the old root into an empty page one level up,
// and that the split paths, liftUp and reorganizeNode use before
// rewriting a page's records.
func (t *Tree) emptyNode(n *NodePage) {
	level := n.Level()
	indexID := n.IndexID()
	prev := n.Prev()
	next := n.Next()
	n.P.Clear()
	n.SetLevel(level)
	n.SetIndexID(indexID)
	n.SetPrev(prev)
	n.SetNext(next)
	n.SetLastInsert(0)
}

// reorganizeNode repacks a node page's live tuples into a dense,
// key-sorted slot layout, reclaiming space fragmented by deletes and
// MOVED redirects left behind by storage.Page.UpdateTuple. It logs a
// PAGE_REORGANIZE redo record with no body (component F): replay simply
// reruns this same routine against the named page.
func (t *Tree) reorganizeNode(n *NodePage) error {
	order, _, err := n.LowerBound(nil)
	if err != nil {
		return err
	}

	tuples := make([][]byte, 0, len(order))
	for _, slot := range order {
		tup, err := n.P.ReadTuple(slot)
		if err != nil {
			continue // deleted slot; drop it
		}
		tuples = append(tuples, append([]byte(nil), tup...))
	}

	t.emptyNode(n)
	for _, tup := range tuples {
		if _, err := n.P.InsertTuple(tup); err != nil {
			return err
		}
	}

	if t.WAL != nil {
		if _, err := t.WAL.AppendReorganize(t.walDir(), t.walBase(), n.PageID(), false); err != nil {
			return err
		}
	}
	t.Lock.MoveReorganize(n.PageID())
	slog.Debug("btreeidx.lifecycle.reorganizeNode", "pageID", n.PageID(), "kept", len(tuples))
	return nil
}
