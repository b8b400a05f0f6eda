package btreeidx


// pathStep records one level crossed while descending to a leaf, so a
// structural operation can climb back up (father_node_ptr) without a
// second top-down pass.
type pathStep struct {
	pageID uint32
	slot   int // slot of the node pointer that led to the next level down
}

// descend walks from the root to the leaf that key belongs in (component
// C), returning the leaf and the stack of internal pages/slots visited.
// Each internal page is unpinned as soon as its child is chosen; only the
// returned leaf stays pinned and must be unpinned by the caller. The path
// records page ids and slots, not pinned pages.
func (t *Tree) descend(key []byte) (leaf *NodePage, path []pathStep, err error) {
	pageID := t.RootPage
	for {
		p, err := t.BP.GetPage(pageID)
		if err != nil {
			return nil, nil, err
		}
		n := &NodePage{P: p}
		if n.IsLeaf() {
			return n, path, nil
		}

		order, pos, err := n.LowerBound(key)
		if err != nil {
			_ = t.BP.Unpin(p, false)
			return nil, nil, err
		}
		// The node pointer governing key is the last one whose key <= key;
		// if key is smaller than every separator, the leftmost child still
		// covers it (its min-rec flag says so).
		idx := pos
		if idx == len(order) || CompareKeys(mustKey(n, order[idx]), key) > 0 {
			idx--
		}
		if idx < 0 {
			idx = 0
		}
		slot := order[idx]
		child, err := n.ChildAt(slot)
		if err != nil {
			_ = t.BP.Unpin(p, false)
			return nil, nil, err
		}

		path = append(path, pathStep{pageID: pageID, slot: slot})
		_ = t.BP.Unpin(p, false)
		pageID = child
	}
}

func mustKey(n *NodePage, slot int) []byte {
	k, err := n.KeyAt(slot)
	if err != nil {
		return nil
	}
	return k
}

// fatherNodePtr re-fetches the parent page and slot of child from path,
// the InnoDB btr_page_get_father_node_ptr equivalent: used by the
// structural mutator to update or remove the separator pointing at a page
// it just split, merged or discarded.
func (t *Tree) fatherNodePtr(path []pathStep) (parentPageID uint32, slot int, ok bool) {
	if len(path) == 0 {
		return 0, 0, false
	}
	last := path[len(path)-1]
	return last.pageID, last.slot, true
}

// getNextUserRec returns the leaf slot immediately after (pageID, slot) in
// key order, crossing into the next leaf page via its Next pointer if
// slot was the last record on pageID. ok is false at the end of the index.
func (t *Tree) getNextUserRec(pageID uint32, slot int) (nextPageID uint32, nextSlot int, ok bool, err error) {
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return 0, 0, false, err
	}
	n := &NodePage{P: p}
	order, pos, err := n.LowerBound(mustKey(n, slot))
	if err != nil {
		_ = t.BP.Unpin(p, false)
		return 0, 0, false, err
	}
	// pos is the index of slot itself (or its first duplicate); advance one.
	i := pos
	for i < len(order) && order[i] != slot {
		i++
	}
	i++
	if i < len(order) {
		next := order[i]
		_ = t.BP.Unpin(p, false)
		return pageID, next, true, nil
	}

	nextPage := n.Next()
	_ = t.BP.Unpin(p, false)
	if nextPage == 0 {
		return 0, 0, false, nil
	}
	np, err := t.BP.GetPage(nextPage)
	if err != nil {
		return 0, 0, false, err
	}
	nn := &NodePage{P: np}
	if nn.NumRecords() == 0 {
		_ = t.BP.Unpin(np, false)
		return 0, 0, false, nil
	}
	order2, err := nn.sortedSlotsExported()
	_ = t.BP.Unpin(np, false)
	if err != nil {
		return 0, 0, false, err
	}
	return nextPage, order2[0], true, nil
}

// getPrevUserRec is the symmetric predecessor lookup, crossing into Prev
// when slot was the first record on pageID.
func (t *Tree) getPrevUserRec(pageID uint32, slot int) (prevPageID uint32, prevSlot int, ok bool, err error) {
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return 0, 0, false, err
	}
	n := &NodePage{P: p}
	order, pos, err := n.LowerBound(mustKey(n, slot))
	if err != nil {
		_ = t.BP.Unpin(p, false)
		return 0, 0, false, err
	}
	i := pos
	for i < len(order) && order[i] != slot {
		i++
	}
	i--
	if i >= 0 {
		prev := order[i]
		_ = t.BP.Unpin(p, false)
		return pageID, prev, true, nil
	}

	prevPage := n.Prev()
	_ = t.BP.Unpin(p, false)
	if prevPage == 0 {
		return 0, 0, false, nil
	}
	pp, err := t.BP.GetPage(prevPage)
	if err != nil {
		return 0, 0, false, err
	}
	pn := &NodePage{P: pp}
	num := pn.NumRecords()
	if num == 0 {
		_ = t.BP.Unpin(pp, false)
		return 0, 0, false, nil
	}
	order2, err := pn.sortedSlotsExported()
	_ = t.BP.Unpin(pp, false)
	if err != nil {
		return 0, 0, false, err
	}
	return prevPage, order2[num-1], true, nil
}

// sortedSlotsExported is package-internal plumbing onto NodePage's private
// sort, shared by the navigator, mutator, compress, validator and tree
// code so none of them duplicates the sort key extraction.
func (n *NodePage) sortedSlotsExported() ([]int, error) { return n.sortedSlots() }
