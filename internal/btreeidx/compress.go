package btreeidx

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/novasql/internal/storage"
)

// usedBytes approximates the page's occupied byte count (tuple bytes plus
// their slot directory entries), the quantity the merge/compress heuristic
// compares against half the page's usable space (component E).
//
// storage.Page.DeleteTuple never reclaims heap/slot space -- it only
// tombstones the slot -- so capacity-FreeSpace() alone only ever grows and
// would make a heavily-deleted page look permanently full. Callers that
// care about live occupancy (isUnderfull) must reorganizeNode first so
// FreeSpace() reflects only what's actually live.
func usedBytes(n *NodePage) int {
	return pageCapacity - n.P.FreeSpace()
}

func isUnderfull(n *NodePage) bool {
	return float64(usedBytes(n)) < minFillFraction*float64(pageCapacity)
}

// compressAfterDelete is the post-delete compaction pass: if leaf fell
// below the minimum fill fraction, try to merge it into a sibling that
// shares its parent, removing the now-redundant separator from the parent
// and, if that empties the parent down to a single child, lifting the
// child up to take the parent's place (component E: merge/compress, lift).
func (t *Tree) compressAfterDelete(leaf *NodePage, path []pathStep) error {
	if leaf.PageID() == t.RootPage {
		_ = t.BP.Unpin(leaf.P, true)
		return nil
	}
	if err := t.reorganizeNode(leaf); err != nil {
		_ = t.BP.Unpin(leaf.P, true)
		return err
	}
	if !isUnderfull(leaf) {
		_ = t.BP.Unpin(leaf.P, true)
		return nil
	}

	parentID, slot, ok := t.fatherNodePtr(path)
	if !ok {
		_ = t.BP.Unpin(leaf.P, true)
		return nil
	}

	// Merge (compress) step 2: prefer the left sibling; fall back to right
	// only when there is no left sibling to merge into, or it doesn't fit.
	// The absorbed page's own separator is what must come out of parent:
	// leaf's own (slot) when leaf is absorbed into its left sibling, or
	// the next sorted slot over when a right sibling is absorbed into leaf.
	// leaf's left sibling shares parentID only when leaf's own separator
	// is not the first one in parent's key order.
	leftShared := false
	if pp, perr := t.BP.GetPage(parentID); perr == nil {
		porder, oerr := (&NodePage{P: pp}).sortedSlotsExported()
		_ = t.BP.Unpin(pp, false)
		leftShared = oerr == nil && len(porder) > 0 && porder[0] != slot
	}
	if leftID := leaf.Prev(); leftID != 0 && leftShared {
		left, err := t.BP.GetPage(leftID)
		if err == nil {
			ln := &NodePage{P: left}
			if ln.IndexID() == leaf.IndexID() {
				if rerr := t.reorganizeNode(ln); rerr != nil {
					_ = t.BP.Unpin(left, false)
					_ = t.BP.Unpin(leaf.P, true)
					return rerr
				}
				if usedBytes(ln)+usedBytes(leaf) <= pageCapacity {
					return t.mergeSiblings(ln, leaf, parentID, slot, path[:len(path)-1])
				}
			}
			_ = t.BP.Unpin(left, false)
		}
	}
	if rightID := leaf.Next(); rightID != 0 {
		right, err := t.BP.GetPage(rightID)
		if err == nil {
			rn := &NodePage{P: right}
			if rn.IndexID() == leaf.IndexID() {
				if rerr := t.reorganizeNode(rn); rerr != nil {
					_ = t.BP.Unpin(right, false)
					_ = t.BP.Unpin(leaf.P, true)
					return rerr
				}
				if usedBytes(leaf)+usedBytes(rn) <= pageCapacity {
					rightSlot, sok, serr := t.nextSiblingSlot(parentID, slot)
					if serr != nil {
						_ = t.BP.Unpin(right, false)
						_ = t.BP.Unpin(leaf.P, true)
						return serr
					}
					if sok {
						return t.mergeSiblings(leaf, rn, parentID, rightSlot, path[:len(path)-1])
					}
				}
			}
			_ = t.BP.Unpin(right, false)
		}
	}

	_ = t.BP.Unpin(leaf.P, true)
	return nil
}

// nextSiblingSlot looks up the slot immediately after slot in parentID's
// sorted key order -- the separator belonging to the child one to the
// right, used when the page being absorbed into a merge is a right
// sibling rather than the page fatherNodePtr was computed for.
func (t *Tree) nextSiblingSlot(parentID uint32, slot int) (int, bool, error) {
	p, err := t.BP.GetPage(parentID)
	if err != nil {
		return 0, false, err
	}
	n := &NodePage{P: p}
	order, err := n.sortedSlotsExported()
	_ = t.BP.Unpin(p, false)
	if err != nil {
		return 0, false, err
	}
	for i, s := range order {
		if s == slot {
			if i+1 < len(order) {
				return order[i+1], true, nil
			}
			return 0, false, nil
		}
	}
	return 0, false, nil
}

// mergeSiblings folds right's tuples into left, relinks left.Next past
// right, removes the parent separator that pointed at right, frees right,
// and -- if that leaves the parent with a single child -- lifts it.
//
// Per the merge/compress pre-check-and-abort contract, every tuple right
// holds is read and its exact footprint (tuple bytes plus a slot entry)
// summed before left is touched; if the sum doesn't fit, the merge is
// abandoned with neither page mutated, rather than copying partway and
// leaving left with a partial duplicate of right's contents.
func (t *Tree) mergeSiblings(left, right *NodePage, parentID uint32, rightSlot int, grandPath []pathStep) error {
	order, err := right.sortedSlotsExported()
	if err != nil {
		_ = t.BP.Unpin(left.P, false)
		_ = t.BP.Unpin(right.P, false)
		return err
	}

	tuples := make([][]byte, 0, len(order))
	need := 0
	for _, slot := range order {
		tup, err := right.P.ReadTuple(slot)
		if err != nil {
			continue
		}
		tuples = append(tuples, tup)
		need += len(tup) + storage.SlotSize
	}
	if need > left.P.FreeSpace() {
		// Doesn't actually fit despite the caller's coarse usedBytes
		// estimate; abort before mutating either page.
		_ = t.BP.Unpin(left.P, false)
		_ = t.BP.Unpin(right.P, false)
		return nil
	}

	for _, tup := range tuples {
		if _, err := left.P.InsertTuple(append([]byte(nil), tup...)); err != nil {
			// The precheck above guarantees this never happens; surface it
			// as corruption rather than leaving left half-merged.
			_ = t.BP.Unpin(left.P, true)
			_ = t.BP.Unpin(right.P, false)
			return fmt.Errorf("btreeidx: mergeSiblings: page %d: %w despite precheck", left.PageID(), err)
		}
	}

	newNext := right.Next()
	left.SetNext(newNext)
	rightPageID := right.PageID()
	leafType := segmentFor(t.UseIBufFreeList, left.IsLeaf())

	if newNext != 0 {
		if np, err := t.BP.GetPage(newNext); err == nil {
			nn := &NodePage{P: np}
			nn.SetPrev(left.PageID())
			_ = t.BP.Unpin(np, true)
		}
	}

	t.Lock.MergeLeft(rightPageID, left.PageID())
	if err := t.logPageImage(left); err != nil {
		_ = t.BP.Unpin(left.P, true)
		_ = t.BP.Unpin(right.P, false)
		return err
	}
	_ = t.BP.Unpin(left.P, true)
	_ = t.BP.Unpin(right.P, false)

	if err := t.freePage(rightPageID, leafType); err != nil {
		return err
	}

	return t.removeFromParent(parentID, rightSlot, grandPath)
}

// removeFromParent deletes the separator at slot from parentID (the
// pointer that used to route to the page just merged away). If parentID
// is the root and is left with exactly one live child, the root is
// lifted; a non-root parent is reorganized and, if underfull, compressed
// in turn.
func (t *Tree) removeFromParent(parentID uint32, slot int, grandPath []pathStep) error {
	p, err := t.BP.GetPage(parentID)
	if err != nil {
		return err
	}
	parent := &NodePage{P: p}
	if err := parent.DeleteAt(slot); err != nil {
		_ = t.BP.Unpin(p, false)
		return err
	}

	if err := t.logPageImage(parent); err != nil {
		_ = t.BP.Unpin(p, true)
		return err
	}

	if parent.PageID() == t.RootPage {
		// NumRecords still counts the slot DeleteAt just tombstoned, so
		// the single-child test has to count live slots.
		if live, lerr := parent.sortedSlotsExported(); lerr == nil && len(live) == 1 {
			return t.liftUp(parent)
		}
	}
	if parent.NumRecords() > 0 && parent.PageID() != t.RootPage {
		if err := t.reorganizeNode(parent); err != nil {
			_ = t.BP.Unpin(p, true)
			return err
		}
		if isUnderfull(parent) {
			return t.compressAfterDelete(parent, grandPath)
		}
	}
	_ = t.BP.Unpin(p, true)
	return nil
}

// liftUp collapses the tree by one level when the root has been reduced
// to a single child: the child's contents are copied up into the root
// page (keeping the root's page number fixed, the same invariant
// rootRaise preserves in the other direction) and the child is freed.
func (t *Tree) liftUp(root *NodePage) error {
	order, err := root.sortedSlotsExported()
	if err != nil {
		_ = t.BP.Unpin(root.P, true)
		return err
	}
	if len(order) != 1 {
		_ = t.BP.Unpin(root.P, true)
		return nil
	}
	childID, err := root.ChildAt(order[0])
	if err != nil {
		_ = t.BP.Unpin(root.P, true)
		return err
	}
	childP, err := t.BP.GetPage(childID)
	if err != nil {
		_ = t.BP.Unpin(root.P, true)
		return err
	}
	child := &NodePage{P: childP}

	childOrder, err := child.sortedSlotsExported()
	if err != nil {
		_ = t.BP.Unpin(root.P, true)
		_ = t.BP.Unpin(childP, false)
		return err
	}
	tuples := make([][]byte, 0, len(childOrder))
	for _, slot := range childOrder {
		tup, err := child.P.ReadTuple(slot)
		if err != nil {
			continue
		}
		tuples = append(tuples, append([]byte(nil), tup...))
	}
	wasLeaf := child.IsLeaf()
	childLevel := child.Level()
	prev, next := child.Prev(), child.Next()

	t.emptyNode(root)
	root.SetLevel(childLevel)
	if wasLeaf {
		root.SetPrev(prev)
		root.SetNext(next)
	}
	for _, tup := range tuples {
		if _, err := root.P.InsertTuple(tup); err != nil {
			_ = t.BP.Unpin(root.P, true)
			_ = t.BP.Unpin(childP, false)
			return err
		}
	}

	t.Lock.CopyAndDiscard(childID, root.PageID())
	if err := t.logPageImage(root); err != nil {
		_ = t.BP.Unpin(root.P, true)
		_ = t.BP.Unpin(childP, false)
		return err
	}
	_ = t.BP.Unpin(root.P, true)
	_ = t.BP.Unpin(childP, false)

	if err := t.freePage(childID, segmentFor(t.UseIBufFreeList, wasLeaf)); err != nil {
		return err
	}

	t.Height--
	slog.Info("btreeidx.compress.liftUp", "root", t.RootPage, "newHeight", t.Height)
	return t.saveMeta()
}
