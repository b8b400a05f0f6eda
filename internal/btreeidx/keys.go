// Package btreeidx implements the B-tree index engine: a page accessor
// layer over storage.Page, a node-pointer codec, a tree navigator, page
// lifecycle management, a structural mutator (split/merge/root-raise),
// a redo interface, and a validator.
package btreeidx

import (
	"bytes"
	"fmt"

	"github.com/tuannm99/novasql/internal/record"
	"github.com/tuannm99/novasql/pkg/bx"
)

// RID identifies the heap record a leaf entry points to: the page it lives
// on and its slot within that page (internal/storage.Page's directory
// slot, not a byte offset).
type RID struct {
	PageID uint32
	Slot   uint16
}

// MinRecFlag marks a node pointer as the logically smallest entry on its
// level. rootRaise sets it on the new root's first pointer, and a page
// copied down by rootRaise keeps it; a split of an internal page
// re-encodes the pointers it moves without it, so the leftmost page of a
// level does not always carry it. Leaf records never carry it (SetMinRec
// rejects leaf pages).
const MinRecFlag uint8 = 0x01

// EncodeNodePointer builds a non-leaf separator entry (component B): the
// key prefix of the child subtree's smallest record, the child's page
// number, and a one-byte flags field whose low bit is the min-rec marker.
func EncodeNodePointer(key []byte, child uint32, minRec bool) []byte {
	buf := make([]byte, len(key)+4+1)
	copy(buf, key)
	bx.PutU32(buf[len(key):], child)
	if minRec {
		buf[len(key)+4] = MinRecFlag
	}
	return buf
}

// DecodeNodePointer is the inverse of EncodeNodePointer.
func DecodeNodePointer(b []byte) (key []byte, child uint32, minRec bool) {
	n := len(b)
	key = append([]byte(nil), b[:n-5]...)
	child = bx.U32(b[n-5 : n-1])
	minRec = b[n-1]&MinRecFlag != 0
	return key, child, minRec
}

// EncodeLeafRecord builds a leaf entry: key bytes followed by the RID of
// the heap record the key maps to.
func EncodeLeafRecord(key []byte, rid RID) []byte {
	buf := make([]byte, len(key)+6)
	copy(buf, key)
	bx.PutU32(buf[len(key):], rid.PageID)
	bx.PutU16(buf[len(key)+4:], rid.Slot)
	return buf
}

// DecodeLeafRecord is the inverse of EncodeLeafRecord.
func DecodeLeafRecord(b []byte) (key []byte, rid RID) {
	n := len(b)
	key = append([]byte(nil), b[:n-6]...)
	rid.PageID = bx.U32(b[n-6 : n-2])
	rid.Slot = bx.U16(b[n-2:])
	return key, rid
}

// CompareKeys orders keys byte-lexicographically. Callers are responsible
// for producing order-preserving key encodings (record.Schema's key
// columns, BE-encoded for fixed-width numeric types).
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// EncodeSchemaKey encodes values into an index key using schema's leading
// key columns (schema.NUniq), the record codec's order-preserving layout
// for the fixed-width types and length-prefixed layout for TEXT/BYTES.
// Callers indexing a heap table's rows by a record.Schema use this instead
// of hand-building key bytes.
func EncodeSchemaKey(schema record.Schema, values []any) ([]byte, error) {
	keyCols := schema.KeyCols()
	if len(values) < len(keyCols) {
		return nil, fmt.Errorf("btreeidx: EncodeSchemaKey: need %d key values, got %d", len(keyCols), len(values))
	}
	keySchema := record.Schema{Cols: keyCols, NUniq: len(keyCols)}
	return record.EncodeRow(keySchema, values[:len(keyCols)])
}
