package btreeidx

import (
	"errors"
	"sort"

	"github.com/tuannm99/novasql/internal/storage"
	"github.com/tuannm99/novasql/pkg/bx"
)

// specialHeaderSize is the fixed trailer this package carves out of every
// node page's special space (component A: the access method's own page
// header, kept out of internal/storage entirely).
//
//	off 0:  level      uint16  (0 = leaf)
//	off 2:  prev       uint32  (0 = none)
//	off 6:  next       uint32  (0 = none)
//	off 10: indexID    uint32
//	off 14: lastInsert uint16  (PAGE_LAST_INSERT: slot hint for sequential inserts)
const specialHeaderSize = 16

const (
	shOffLevel      = 0
	shOffPrev       = 2
	shOffNext       = 6
	shOffIndexID    = 10
	shOffLastInsert = 14
)

// NodePage is a B-tree node: one storage.Page plus the level/prev/next/
// index-id header carved out of its special space.
type NodePage struct {
	P *storage.Page
}

// InitNodePage reserves the special header (or, on a page reused from a
// free list that already carries one, clears the page's old records) and
// writes level/indexID/prev/next into it (component D: page create).
func InitNodePage(p *storage.Page, indexID uint32, level uint16, prev, next uint32) (*NodePage, error) {
	if len(p.SpecialBytes()) == specialHeaderSize {
		p.Clear()
	} else if err := p.ReserveSpecial(specialHeaderSize); err != nil {
		return nil, err
	}
	n := &NodePage{P: p}
	n.SetLevel(level)
	n.SetIndexID(indexID)
	n.SetPrev(prev)
	n.SetNext(next)
	n.SetLastInsert(0)
	return n, nil
}

func (n *NodePage) sp() []byte { return n.P.SpecialBytes() }

func (n *NodePage) Level() uint16        { return bx.U16At(n.sp(), shOffLevel) }
func (n *NodePage) SetLevel(v uint16)    { bx.PutU16At(n.sp(), shOffLevel, v) }
func (n *NodePage) IsLeaf() bool         { return n.Level() == 0 }
func (n *NodePage) Prev() uint32         { return bx.U32At(n.sp(), shOffPrev) }
func (n *NodePage) SetPrev(v uint32)     { bx.PutU32At(n.sp(), shOffPrev, v) }
func (n *NodePage) Next() uint32         { return bx.U32At(n.sp(), shOffNext) }
func (n *NodePage) SetNext(v uint32)     { bx.PutU32At(n.sp(), shOffNext, v) }
func (n *NodePage) IndexID() uint32      { return bx.U32At(n.sp(), shOffIndexID) }
func (n *NodePage) SetIndexID(v uint32)  { bx.PutU32At(n.sp(), shOffIndexID, v) }
func (n *NodePage) LastInsert() uint16   { return bx.U16At(n.sp(), shOffLastInsert) }
func (n *NodePage) SetLastInsert(v uint16) { bx.PutU16At(n.sp(), shOffLastInsert, v) }

func (n *NodePage) PageID() uint32 { return n.P.PageID() }
func (n *NodePage) NumRecords() int { return n.P.NumSlots() }

// keyOf extracts the comparison key from a raw tuple at slot i: everything
// but the trailing fixed-width child-pointer/RID suffix.
func (n *NodePage) keyOf(tup []byte) []byte {
	if n.IsLeaf() {
		k, _ := DecodeLeafRecord(tup)
		return k
	}
	k, _, _ := DecodeNodePointer(tup)
	return k
}

// KeyAt returns the separator/leaf key at slot i.
func (n *NodePage) KeyAt(i int) ([]byte, error) {
	tup, err := n.P.ReadTuple(i)
	if err != nil {
		return nil, err
	}
	return n.keyOf(tup), nil
}

// sortedSlots returns the page's live slot numbers ordered by key (the
// physical slot order re-sorted), so callers can walk forward without
// re-sorting (get_next_user_rec within a page).
//
// Tombstoned slots (storage.Page.DeleteTuple never shrinks the slot
// directory) are skipped rather than treated as an error: the directory
// can carry deleted entries for the rest of the page's life, up until a
// reorganize repacks it away, and every other component on this page
// (split, merge, validate) needs to see only the live ones.
func (n *NodePage) sortedSlots() ([]int, error) {
	num := n.NumRecords()
	type liveSlot struct {
		slot int
		key  []byte
	}
	live := make([]liveSlot, 0, num)
	for i := 0; i < num; i++ {
		k, err := n.KeyAt(i)
		if errors.Is(err, storage.ErrBadSlot) {
			continue
		}
		if err != nil {
			return nil, err
		}
		live = append(live, liveSlot{slot: i, key: k})
	}
	sort.Slice(live, func(a, b int) bool {
		return CompareKeys(live[a].key, live[b].key) < 0
	})
	order := make([]int, len(live))
	for i, e := range live {
		order[i] = e.slot
	}
	return order, nil
}

// LowerBound returns the sorted slot order and the position within it of
// the first record whose key is >= target.
func (n *NodePage) LowerBound(target []byte) (order []int, pos int, err error) {
	order, err = n.sortedSlots()
	if err != nil {
		return nil, 0, err
	}
	keys := make([][]byte, len(order))
	for i, slot := range order {
		k, err := n.KeyAt(slot)
		if err != nil {
			return nil, 0, err
		}
		keys[i] = k
	}
	pos = sort.Search(len(order), func(i int) bool {
		return CompareKeys(keys[i], target) >= 0
	})
	return order, pos, nil
}

// InsertLeaf inserts a leaf record (key, rid), returning its slot.
func (n *NodePage) InsertLeaf(key []byte, rid RID) (int, error) {
	return n.P.InsertTuple(EncodeLeafRecord(key, rid))
}

// InsertNodePointer inserts an internal separator entry, returning its
// slot.
func (n *NodePage) InsertNodePointer(key []byte, child uint32, minRec bool) (int, error) {
	return n.P.InsertTuple(EncodeNodePointer(key, child, minRec))
}

// DeleteAt marks slot as deleted.
func (n *NodePage) DeleteAt(slot int) error { return n.P.DeleteTuple(slot) }

// ChildAt decodes the child page number of an internal entry at slot.
func (n *NodePage) ChildAt(slot int) (uint32, error) {
	tup, err := n.P.ReadTuple(slot)
	if err != nil {
		return 0, err
	}
	_, child, _ := DecodeNodePointer(tup)
	return child, nil
}

// RIDAt decodes the RID of a leaf entry at slot.
func (n *NodePage) RIDAt(slot int) (RID, error) {
	tup, err := n.P.ReadTuple(slot)
	if err != nil {
		return RID{}, err
	}
	_, rid := DecodeLeafRecord(tup)
	return rid, nil
}

// SetMinRec sets or clears the min-rec flag on an internal entry in
// place, rewriting the tuple (component F: REC_MIN_MARK/COMP_REC_MIN_MARK).
func (n *NodePage) SetMinRec(slot int, minRec bool) error {
	tup, err := n.P.ReadTuple(slot)
	if err != nil {
		return err
	}
	if n.IsLeaf() {
		return storage.ErrInvalidOperation
	}
	key, child, _ := DecodeNodePointer(tup)
	return n.P.UpdateTuple(slot, EncodeNodePointer(key, child, minRec))
}
