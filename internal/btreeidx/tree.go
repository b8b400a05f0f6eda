package btreeidx

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/diagnostics"
	"github.com/tuannm99/novasql/internal/lock"
	"github.com/tuannm99/novasql/internal/storage"
	"github.com/tuannm99/novasql/internal/wal"
)

var (
	ErrTreeClosed     = errors.New("btreeidx: tree is closed")
	ErrKeyNotFound    = errors.New("btreeidx: key not found")
	ErrIndexCorrupted = errors.New("btreeidx: index corrupted")

	// ErrInsertDoesNotFit is returned by the structural mutator when no
	// split boundary exists that leaves both halves within pageCapacity --
	// the sure-split contract failing outright, which only happens when a
	// single encoded record is too large to ever share a page with
	// anything else.
	ErrInsertDoesNotFit = errors.New("btreeidx: insert does not fit after split")
)

// Index is the engine's public surface: the operations exposed to the
// record layer and to cmd/idxshell (component-agnostic of storage
// mechanics, per the external-interfaces section).
type Index interface {
	Insert(key []byte, rid RID) error
	Delete(key []byte) error
	SearchEqual(key []byte) ([]RID, error)
	RangeScan(minKey, maxKey []byte) ([]RID, error)
	Validate() error
	Close() error
	Drop() error
}

var _ Index = (*Tree)(nil)

// Tree is a B-tree index: one root page (invariant: its page number never
// changes) plus however many leaf/internal pages the segment manager has
// handed out. Two-tier latching (§5): mu is the tree-level lock taken in
// read mode for search and write mode for any structural operation;
// individual pages are additionally latched by the buffer pool for the
// duration they are pinned.
type Tree struct {
	SM   *storage.StorageManager
	FS   storage.FileSet
	BP   bufferpool.Manager
	WAL  *wal.Manager
	Lock *lock.Manager

	IndexID         uint32
	RootPage        uint32
	Height          int
	UseIBufFreeList bool

	PanicOnCorruption bool
	Diag              diagnostics.Sink

	mu sync.RWMutex

	metaEnabled bool
	metaPath    string

	closed atomic.Bool
}

// New creates a brand-new index with a fresh, empty root leaf page.
func New(sm *storage.StorageManager, fs storage.FileSet, bp bufferpool.Manager, w *wal.Manager, indexID uint32) (*Tree, error) {
	t := &Tree{
		SM:                sm,
		FS:                fs,
		BP:                bp,
		WAL:               w,
		Lock:              lock.NewManager(),
		IndexID:           indexID,
		Height:            1,
		PanicOnCorruption: true,
		Diag:              diagnostics.NewSlogSink(),
	}

	if mp, ok := metaPathForFileSet(fs); ok {
		t.metaEnabled = true
		t.metaPath = mp
	}

	rootID, p, err := t.allocPage(segmentFor(false, true))
	if err != nil {
		return nil, err
	}
	if rootID != 0 {
		// The root must be the first page of a fresh index; anything else
		// means the file set already had pages, which New does not expect.
		return nil, fmt.Errorf("btreeidx: New requires an empty file set, got root page %d", rootID)
	}
	if _, err := InitNodePage(p, indexID, 0, 0, 0); err != nil {
		return nil, err
	}
	_ = t.BP.Unpin(p, true)
	t.RootPage = rootID

	if err := t.saveMeta(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open restores a Tree from persisted meta (root page, height), falling
// back to page 0 / height 1 if no meta file exists yet.
func Open(sm *storage.StorageManager, fs storage.FileSet, bp bufferpool.Manager, w *wal.Manager, indexID uint32) (*Tree, error) {
	t := &Tree{
		SM:                sm,
		FS:                fs,
		BP:                bp,
		WAL:               w,
		Lock:              lock.NewManager(),
		IndexID:           indexID,
		RootPage:          0,
		Height:            1,
		PanicOnCorruption: true,
		Diag:              diagnostics.NewSlogSink(),
	}

	if mp, ok := metaPathForFileSet(fs); ok {
		t.metaEnabled = true
		t.metaPath = mp
	}

	if m, ok, err := t.loadMeta(); err != nil {
		return nil, err
	} else if ok {
		t.RootPage = m.Root
		if m.Height >= 1 {
			t.Height = m.Height
		}
	}
	return t, nil
}

func (t *Tree) ensureOpen() error {
	if t == nil || t.closed.Load() {
		return ErrTreeClosed
	}
	return nil
}

// SearchEqual returns every RID stored under key.
func (t *Tree) SearchEqual(key []byte) ([]RID, error) {
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, _, err := t.descend(key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.BP.Unpin(leaf.P, false) }()

	order, pos, err := leaf.LowerBound(key)
	if err != nil {
		return nil, err
	}
	var out []RID
	for i := pos; i < len(order); i++ {
		k, rid, err := t.leafEntryAt(leaf, order[i])
		if err != nil {
			return nil, err
		}
		if CompareKeys(k, key) != 0 {
			break
		}
		out = append(out, rid)
	}
	return out, nil
}

// RangeScan returns every RID with minKey <= key <= maxKey, walking leaf
// pages left to right via their Next pointers rather than re-descending
// per record.
func (t *Tree) RangeScan(minKey, maxKey []byte) ([]RID, error) {
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, _, err := t.descend(minKey)
	if err != nil {
		return nil, err
	}

	var out []RID
	cur := leaf
	order, pos, err := cur.LowerBound(minKey)
	if err != nil {
		_ = t.BP.Unpin(cur.P, false)
		return nil, err
	}

	for {
		for i := pos; i < len(order); i++ {
			k, rid, err := t.leafEntryAt(cur, order[i])
			if err != nil {
				_ = t.BP.Unpin(cur.P, false)
				return nil, err
			}
			if CompareKeys(k, maxKey) > 0 {
				_ = t.BP.Unpin(cur.P, false)
				return out, nil
			}
			out = append(out, rid)
		}

		next := cur.Next()
		_ = t.BP.Unpin(cur.P, false)
		if next == 0 {
			return out, nil
		}

		p, err := t.BP.GetPage(next)
		if err != nil {
			return nil, err
		}
		cur = &NodePage{P: p}
		order, err = cur.sortedSlotsExported()
		if err != nil {
			_ = t.BP.Unpin(cur.P, false)
			return nil, err
		}
		pos = 0
	}
}

func (t *Tree) leafEntryAt(n *NodePage, slot int) ([]byte, RID, error) {
	tup, err := n.P.ReadTuple(slot)
	if err != nil {
		return nil, RID{}, err
	}
	k, rid := DecodeLeafRecord(tup)
	return k, rid, nil
}

// Delete removes every entry stored under key, then runs compressAfterDelete
// inline against the leaf it deleted from so an underfull page is merged
// into a sibling (and the tree lifted) as part of the same call rather than
// a separate out-of-band pass (component E: merge/compress, lift, discard).
func (t *Tree) Delete(key []byte) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf, path, err := t.descend(key)
	if err != nil {
		return err
	}
	order, pos, err := leaf.LowerBound(key)
	if err != nil {
		_ = t.BP.Unpin(leaf.P, false)
		return err
	}

	removed := 0
	for i := pos; i < len(order); i++ {
		k, err := leaf.KeyAt(order[i])
		if err != nil {
			continue
		}
		if CompareKeys(k, key) != 0 {
			break
		}
		if err := leaf.DeleteAt(order[i]); err != nil {
			_ = t.BP.Unpin(leaf.P, false)
			return err
		}
		removed++
	}

	if removed == 0 {
		_ = t.BP.Unpin(leaf.P, false)
		return ErrKeyNotFound
	}
	if err := t.logPageImage(leaf); err != nil {
		_ = t.BP.Unpin(leaf.P, true)
		return err
	}
	return t.compressAfterDelete(leaf, path)
}

// Close flushes every dirty page belonging to this tree's buffer pool
// view, aggregating errors with multierr rather than stopping at the
// first one (the teacher's "keep going, report first error" pattern
// generalized to "keep going, report all errors").
func (t *Tree) Close() error {
	if t == nil {
		return nil
	}
	if t.closed.Swap(true) {
		return nil
	}
	var errs error
	if t.BP != nil {
		errs = multierr.Append(errs, t.BP.FlushAll())
	}
	if t.WAL != nil {
		errs = multierr.Append(errs, t.WAL.Close())
	}
	return errs
}

// Drop closes the tree, evicts its pages from the buffer pool, and removes
// every on-disk segment of its file set (DROP INDEX). It returns
// bufferpool.ErrPagePinned instead of deleting anything if a caller is
// still holding a page pinned.
func (t *Tree) Drop() error {
	if err := t.Close(); err != nil {
		return err
	}
	if t.BP != nil {
		if err := t.BP.DropFileSet(); err != nil {
			return err
		}
	}
	lfs, ok := t.FS.(storage.LocalFileSet)
	if !ok {
		return nil
	}
	if err := storage.RemoveAllSegments(lfs); err != nil {
		return err
	}
	if t.metaEnabled {
		_ = os.Remove(t.metaPath)
	}
	return nil
}

func (t *Tree) walDir() string {
	if lfs, ok := t.FS.(storage.LocalFileSet); ok {
		return lfs.Dir
	}
	return ""
}

func (t *Tree) walBase() string {
	if lfs, ok := t.FS.(storage.LocalFileSet); ok {
		return lfs.Base
	}
	return ""
}
