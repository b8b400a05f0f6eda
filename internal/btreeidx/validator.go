package btreeidx

import (
	"fmt"
)

// Validate walks the tree depth-first checking the invariants component
// G cares about: every leaf sits at the same depth, every separator key on
// an internal page actually bounds its child's keys, and the leaf level's
// prev/next chain yields the same number of records, in key order, walked
// forward and backward; internal levels' sibling links are not walked. It
// does not check live data against
// the heap (that is the record layer's job); this is purely a structural
// check of the index itself.
func (t *Tree) Validate() error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	err := t.validateSubtree(t.RootPage, nil, nil, -1)
	if err == nil {
		err = t.validateLeafChainFromRoot()
	}
	if err != nil && t.Diag != nil {
		t.Diag.Corruption("%v", err)
		if p, gerr := t.BP.GetPage(t.RootPage); gerr == nil {
			t.Diag.DumpPage(err.Error(), p)
			_ = t.BP.Unpin(p, false)
		}
		if t.PanicOnCorruption {
			panic(err)
		}
	}
	return err
}

// validateSubtree recursively checks pageID's records fall within
// (lowKey, highKey) -- nil means unbounded on that side -- and that its
// level matches expectedLevel (-1 means "unknown yet," set from whatever
// level the root reports, and checked against on every recursive call so
// a subtree can never be missing a level or have two children disagree
// on their own).
func (t *Tree) validateSubtree(pageID uint32, lowKey, highKey []byte, expectedLevel int) error {
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return fmt.Errorf("btreeidx: validate: page %d: %w", pageID, err)
	}
	n := &NodePage{P: p}
	defer func() { _ = t.BP.Unpin(p, false) }()

	if expectedLevel >= 0 && int(n.Level()) != expectedLevel {
		return fmt.Errorf("btreeidx: validate: page %d: level %d, expected %d", pageID, n.Level(), expectedLevel)
	}

	order, err := n.sortedSlots()
	if err != nil {
		return fmt.Errorf("btreeidx: validate: page %d: %w", pageID, err)
	}

	var prevKey []byte
	for i, slot := range order {
		key, err := n.KeyAt(slot)
		if err != nil {
			return fmt.Errorf("btreeidx: validate: page %d slot %d: %w", pageID, slot, err)
		}
		if i > 0 && CompareKeys(key, prevKey) < 0 {
			return fmt.Errorf("btreeidx: validate: page %d: keys out of order at slot %d", pageID, slot)
		}
		if lowKey != nil && CompareKeys(key, lowKey) < 0 {
			return fmt.Errorf("btreeidx: validate: page %d: key below parent separator", pageID)
		}
		if highKey != nil && CompareKeys(key, highKey) >= 0 {
			return fmt.Errorf("btreeidx: validate: page %d: key above parent separator", pageID)
		}
		prevKey = key

		if !n.IsLeaf() {
			child, err := n.ChildAt(slot)
			if err != nil {
				return err
			}
			var childHigh []byte
			if i+1 < len(order) {
				childHigh, _ = n.KeyAt(order[i+1])
			} else {
				childHigh = highKey
			}
			childLow := key
			if i == 0 {
				childLow = lowKey
			}
			if err := t.validateSubtree(child, childLow, childHigh, int(n.Level())-1); err != nil {
				return err
			}
		}
	}

	if n.IsLeaf() && n.NumRecords() == 0 && pageID != t.RootPage {
		return fmt.Errorf("btreeidx: validate: empty non-root leaf page %d", pageID)
	}
	return nil
}

// validateLeafChainFromRoot descends to the leftmost leaf and hands off to
// validateLeafChain. validateSubtree alone only ever looks at a page's
// parent-imposed key bounds; it never walks a Prev/Next pointer, so a leaf
// whose sibling links were left dangling by a bad merge would pass it
// silently.
func (t *Tree) validateLeafChainFromRoot() error {
	leaf, _, err := t.descend(nil)
	if err != nil {
		return err
	}
	order, err := leaf.sortedSlotsExported()
	_ = t.BP.Unpin(leaf.P, false)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}
	return t.validateLeafChain(leaf.PageID(), order[0])
}

// validateLeafChain walks the leaf level left to right via getNextUserRec
// (component C's cross-page successor primitive) checking keys never
// regress across a page boundary, then walks the same span back via
// getPrevUserRec and checks the reverse traversal agrees on length -- the
// Prev half of the sibling chain the forward walk alone can't exercise.
func (t *Tree) validateLeafChain(startPage uint32, startSlot int) error {
	page, slot := startPage, startSlot
	var prevKey []byte
	forward := 0
	for {
		key, err := t.keyAtLeaf(page, slot)
		if err != nil {
			return err
		}
		if prevKey != nil && CompareKeys(key, prevKey) < 0 {
			return fmt.Errorf("btreeidx: validate: leaf chain keys out of order at page %d slot %d", page, slot)
		}
		prevKey = key
		forward++

		nextPage, nextSlot, ok, err := t.getNextUserRec(page, slot)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		page, slot = nextPage, nextSlot
	}

	var nextKey []byte
	backward := 0
	for {
		key, err := t.keyAtLeaf(page, slot)
		if err != nil {
			return err
		}
		if nextKey != nil && CompareKeys(key, nextKey) > 0 {
			return fmt.Errorf("btreeidx: validate: leaf chain keys out of order (reverse) at page %d slot %d", page, slot)
		}
		nextKey = key
		backward++

		prevPage, prevSlot, ok, err := t.getPrevUserRec(page, slot)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		page, slot = prevPage, prevSlot
	}

	if forward != backward {
		return fmt.Errorf("btreeidx: validate: leaf chain length mismatch: forward=%d backward=%d", forward, backward)
	}
	return nil
}

func (t *Tree) keyAtLeaf(pageID uint32, slot int) ([]byte, error) {
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.BP.Unpin(p, false) }()
	n := &NodePage{P: p}
	return n.KeyAt(slot)
}
