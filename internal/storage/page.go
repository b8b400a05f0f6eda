package storage

import "github.com/tuannm99/novasql/pkg/bx"

// Page is a fixed-size slotted page, Postgres-style:
//
//	+------------------+ 0
//	| flags / pageID   |
//	| lower / upper    |
//	| special          |
//	| LinePointers[]   | <-- grows up from HeaderSize, bounded by lower
//	+------------------+
//	|   free space     |
//	+------------------+ <-- upper
//	|  Tuple heap      |
//	|  (grows down)    |
//	+------------------+ <-- special
//	|  Special space   | <-- access-method-specific trailer
//	+------------------+ PageSize
//
// The special space lets an index access method carve out a fixed
// trailer for its own page header (level, prev/next, index id, segment
// headers) without this package knowing anything about B-trees.
type Page struct {
	Buf []byte
}

const (
	offFlags   = 0
	offPageID  = 2
	offLower   = 6
	offUpper   = 8
	offSpecial = 10
)

// Slot flags.
const (
	SlotFlagNormal  uint16 = 0
	SlotFlagDeleted uint16 = 1
	SlotFlagMoved   uint16 = 2
)

// NewPage initializes a fresh page in buf, which must be exactly PageSize bytes.
func NewPage(buf []byte, pageID uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWriteExceedPageSize
	}
	p := &Page{Buf: buf}
	p.init(pageID)
	return p, nil
}

func (p *Page) init(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	bx.PutU16At(p.Buf, offFlags, 0)
	bx.PutU32At(p.Buf, offPageID, pageID)
	bx.PutU16At(p.Buf, offLower, HeaderSize)
	bx.PutU16At(p.Buf, offUpper, PageSize)
	bx.PutU16At(p.Buf, offSpecial, PageSize)
}

func (p *Page) IsUninitialized() bool {
	return p.lower() == 0 && p.upper() == 0
}

func (p *Page) PageID() uint32 { return bx.U32At(p.Buf, offPageID) }

func (p *Page) Flags() uint16       { return bx.U16At(p.Buf, offFlags) }
func (p *Page) SetFlags(v uint16)   { bx.PutU16At(p.Buf, offFlags, v) }
func (p *Page) flags() uint16       { return p.Flags() }
func (p *Page) lower() uint16       { return bx.U16At(p.Buf, offLower) }
func (p *Page) setLower(v uint16)   { bx.PutU16At(p.Buf, offLower, v) }
func (p *Page) upper() uint16       { return bx.U16At(p.Buf, offUpper) }
func (p *Page) setUpper(v uint16)   { bx.PutU16At(p.Buf, offUpper, v) }
func (p *Page) special() uint16     { return bx.U16At(p.Buf, offSpecial) }
func (p *Page) setSpecial(v uint16) { bx.PutU16At(p.Buf, offSpecial, v) }

// ReserveSpecial carves out n bytes of special (trailer) space for an access
// method's own page header. Must be called before any tuple is inserted.
func (p *Page) ReserveSpecial(n int) error {
	if p.NumSlots() != 0 || p.upper() != PageSize {
		return ErrInvalidOperation
	}
	if n < 0 || n > PageSize-HeaderSize {
		return ErrInvalidOperation
	}
	sp := uint16(PageSize - n)
	p.setSpecial(sp)
	p.setUpper(sp)
	return nil
}

// SpecialBytes returns the mutable special-space slice reserved via ReserveSpecial.
func (p *Page) SpecialBytes() []byte {
	return p.Buf[p.special():PageSize]
}

// Clear discards every tuple and slot on the page (zeroing the slot
// directory and tuple heap) while leaving the reserved special space
// untouched. This is the page-emptying primitive the page lifecycle and
// structural mutator build on: a page handed back to a free list, or
// reused as the left half of a split, starts from Clear rather than a
// fresh ReserveSpecial call.
func (p *Page) Clear() {
	for i := HeaderSize; i < int(p.special()); i++ {
		p.Buf[i] = 0
	}
	p.setLower(HeaderSize)
	p.setUpper(p.special())
}

// FreeSpace returns the number of bytes available for new tuples + slots.
func (p *Page) FreeSpace() int {
	return int(p.upper()) - int(p.lower())
}

func (p *Page) NumSlots() int {
	return (int(p.lower()) - HeaderSize) / SlotSize
}

type slotRec struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

func slotOff(i int) int { return HeaderSize + i*SlotSize }

func (p *Page) getSlot(i int) (slotRec, error) {
	if i < 0 || i >= p.NumSlots() {
		return slotRec{}, ErrBadSlot
	}
	o := slotOff(i)
	return slotRec{
		Offset: bx.U16At(p.Buf, o),
		Length: bx.U16At(p.Buf, o+2),
		Flags:  bx.U16At(p.Buf, o+4),
	}, nil
}

func (p *Page) putSlot(i int, s slotRec) {
	o := slotOff(i)
	bx.PutU16At(p.Buf, o, s.Offset)
	bx.PutU16At(p.Buf, o+2, s.Length)
	bx.PutU16At(p.Buf, o+4, s.Flags)
}

func (p *Page) appendSlot(s slotRec) int {
	i := p.NumSlots()
	p.putSlot(i, s)
	p.setLower(p.lower() + SlotSize)
	return i
}

// InsertTuple appends tup to the tuple heap and a directory slot pointing
// at it, returning the new slot index.
func (p *Page) InsertTuple(tup []byte) (int, error) {
	need := len(tup) + SlotSize
	if p.FreeSpace() < need {
		return -1, ErrPageFull
	}
	u := p.upper() - uint16(len(tup))
	copy(p.Buf[u:], tup)
	p.setUpper(u)
	return p.appendSlot(slotRec{Offset: u, Length: uint16(len(tup)), Flags: SlotFlagNormal}), nil
}

// ReadTuple returns the tuple bytes at slot, transparently following a
// MOVED redirect left behind by UpdateTuple.
func (p *Page) ReadTuple(slot int) ([]byte, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}
	switch s.Flags {
	case SlotFlagDeleted:
		return nil, ErrBadSlot
	case SlotFlagMoved:
		return p.ReadTuple(int(s.Offset))
	default:
		return p.Buf[s.Offset : s.Offset+s.Length], nil
	}
}

// UpdateTuple overwrites the tuple at slot in place when it still fits in
// its original footprint; otherwise it inserts newTuple elsewhere on the
// page and leaves a MOVED redirect behind so existing references to slot
// keep resolving to the current data.
func (p *Page) UpdateTuple(slot int, newTuple []byte) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags == SlotFlagDeleted {
		return ErrBadSlot
	}
	if s.Flags == SlotFlagMoved {
		return p.UpdateTuple(int(s.Offset), newTuple)
	}
	if len(newTuple) <= int(s.Length) {
		copy(p.Buf[s.Offset:], newTuple)
		p.putSlot(slot, slotRec{Offset: s.Offset, Length: uint16(len(newTuple)), Flags: SlotFlagNormal})
		return nil
	}
	newSlot, err := p.InsertTuple(newTuple)
	if err != nil {
		return err
	}
	p.putSlot(slot, slotRec{Offset: uint16(newSlot), Length: 0, Flags: SlotFlagMoved})
	return nil
}

func (p *Page) DeleteTuple(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags == SlotFlagDeleted {
		return ErrBadSlot
	}
	p.putSlot(slot, slotRec{Offset: 0, Length: 0, Flags: SlotFlagDeleted})
	return nil
}
