package btreeidx

import (
	"log/slog"

	"github.com/tuannm99/novasql/internal/storage"
	"github.com/tuannm99/novasql/internal/wal"
)

var (
	_ wal.PageWriter = (*Tree)(nil)
	_ wal.OpWriter   = (*Tree)(nil)
)

// WritePage implements wal.PageWriter: applying a full-page-image redo
// record during recovery. Records logged against a different dir/base than
// this tree's own file set are ignored -- one WAL can be shared by several
// trees, and each Recover call only replays its own.
func (t *Tree) WritePage(dir, base string, pageID uint32, pageBytes []byte) error {
	if !t.ownsRecord(dir, base) {
		return nil
	}
	return t.SM.WritePage(t.FS, int32(pageID), pageBytes)
}

// ReorganizePage implements wal.OpWriter for a PAGE_REORGANIZE /
// COMP_PAGE_REORGANIZE record: the record carries no body, so replay just
// reruns reorganizeNode against the named page (component F).
func (t *Tree) ReorganizePage(dir, base string, pageID uint32, compact bool) error {
	if !t.ownsRecord(dir, base) {
		return nil
	}
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return err
	}
	n := &NodePage{P: p}
	if err := t.reorganizeNode(n); err != nil {
		_ = t.BP.Unpin(p, false)
		return err
	}
	return t.BP.Unpin(p, true)
}

// SetMinRecMark implements wal.OpWriter for a REC_MIN_MARK /
// COMP_REC_MIN_MARK record: reapplies the "smallest record on this level"
// flag to the slot at the recorded 2-byte offset.
func (t *Tree) SetMinRecMark(dir, base string, pageID uint32, offset uint16, compact bool) error {
	if !t.ownsRecord(dir, base) {
		return nil
	}
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return err
	}
	n := &NodePage{P: p}
	if err := n.SetMinRec(int(offset), true); err != nil {
		_ = t.BP.Unpin(p, false)
		return err
	}
	return t.BP.Unpin(p, true)
}

func (t *Tree) ownsRecord(dir, base string) bool {
	lfs, ok := t.FS.(storage.LocalFileSet)
	if !ok {
		return false
	}
	return lfs.Dir == dir && lfs.Base == base
}

// Recover replays this tree's own WAL records against its own file set,
// the standard startup path before a Tree is handed out for use.
func (t *Tree) Recover() error {
	if t.WAL == nil {
		return nil
	}
	if err := t.WAL.Recover(t, t); err != nil {
		return err
	}
	slog.Info("btreeidx.redo.Recover", "root", t.RootPage, "height", t.Height)
	return nil
}

// markMinRec sets or clears the min-rec flag on slot and logs a
// REC_MIN_MARK redo record (component F). rootRaise calls this on the
// node pointer to the old root's contents, since that pointer is always
// the smallest key on the new level.
func (t *Tree) markMinRec(n *NodePage, slot int, minRec bool) error {
	if err := n.SetMinRec(slot, minRec); err != nil {
		return err
	}
	if t.WAL != nil && minRec {
		if _, err := t.WAL.AppendMinRecMark(t.walDir(), t.walBase(), n.PageID(), uint16(slot), false); err != nil {
			return err
		}
	}
	return nil
}
