package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	// currently unused; if you later decide to distinguish between "zero page"
	// and "beyond EOF", you can return this from ReadPage.
	ErrPageNotFound = errors.New("storage_manager: page not found")

	// currently unused in this file; reserved for higher-level "append" logic.
	ErrPageFull = errors.New("storage_manager: write would exceed page data length")
)

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Debug("storage.closeFile", "path", f.Name(), "err", err)
	}
}

type FileSet interface {
	OpenSegment(segNo int32) (*os.File, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) OpenSegment(segNo int32) (*os.File, error) {
	name := lfs.Base
	if segNo > 0 {
		name = fmt.Sprintf("%s.%d", lfs.Base, segNo)
	}
	path := filepath.Join(lfs.Dir, name)
	if err := os.MkdirAll(lfs.Dir, 0o755); err != nil {
		return nil, err
	}
	// RDWR | CREATE (no truncate)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	// Best-effort: guards against a second process opening the same
	// segment concurrently. Not held across the lifetime of sm's page
	// ops, only for the duration of this *os.File (closed after each op).
	_ = flockExclusive(f)
	return f, nil
}

// StorageManager maps a logical pageID -> (segment, offset). A single
// StorageManager is shared across every relation's FileSet, so free-list
// bookkeeping is keyed per (FsKeyOf(fs), PageType) rather than bound to one
// directory.
type StorageManager struct {
	mu        sync.Mutex
	freeLists map[string]map[PageType][]uint32
	nextPage  map[string]uint32
}

func NewStorageManager() *StorageManager {
	return &StorageManager{
		freeLists: make(map[string]map[PageType][]uint32),
		nextPage:  make(map[string]uint32),
	}
}

func (sm *StorageManager) pagesPerSegment() int {
	// total 1 GiB / 8 KiB = 131072 pages per segment
	return SegmentSize / PageSize
}

func (sm *StorageManager) locate(pageID int32) (segNo int32, offset int32) {
	pps := sm.pagesPerSegment()
	segNo = pageID / int32(pps)
	pageInSeg := pageID % int32(pps)
	offset = pageInSeg * PageSize
	return segNo, offset
}

// ReadPage reads exactly one page (PageSize bytes) into dst.
// If the underlying file is smaller than the requested offset+PageSize,
// the remainder is zero-filled. This allows "sparse" pages that are
// lazily initialized by higher layers.
func (sm *StorageManager) ReadPage(fs FileSet, pageID int32, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("dst must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer closeFile(f)

	n, err := f.ReadAt(dst, int64(off))
	if err != nil && err != io.EOF {
		return err
	}
	// Zero-fill the rest of the page if we hit EOF early or a short read.
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// WritePage writes exactly one page (PageSize bytes) from src to disk
// at the location computed from pageID.
func (sm *StorageManager) WritePage(fs FileSet, pageID int32, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("src must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer closeFile(f)

	n, err := f.WriteAt(src, int64(off))
	if err != nil {
		return err
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return fdatasync(f)
}

// LoadPage reads a page into memory and returns a Page wrapper.
// If the on-disk bytes are all zero, the page is treated as uninitialized
// and is initialized with the given pageID.
func (sm *StorageManager) LoadPage(fs FileSet, pageID uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := sm.ReadPage(fs, int32(pageID), buf); err != nil {
		return nil, err
	}
	p := &Page{Buf: buf}
	if p.IsUninitialized() {
		p.init(pageID)
	}
	return p, nil
}

// SavePage writes the in-memory Page back to disk.
func (sm *StorageManager) SavePage(fs FileSet, pageID uint32, p Page) error {
	if len(p.Buf) != PageSize {
		return fmt.Errorf("page buffer must be %d bytes", PageSize)
	}
	return sm.WritePage(fs, int32(pageID), p.Buf)
}

// CountPages computes total pages for a given FileSet by scanning all segments.
func (sm *StorageManager) CountPages(fs FileSet) (uint32, error) {
	var total uint32

	// We assume segments are named: Base, Base.1, Base.2, ...
	for segNo := int32(0); ; segNo++ {
		f, err := fs.OpenSegment(segNo)
		if err != nil {
			// Stop when the segment file does not exist
			if os.IsNotExist(err) {
				break
			}
			return 0, err
		}

		info, statErr := f.Stat()
		_ = f.Close()
		if statErr != nil {
			return 0, statErr
		}

		size := info.Size()
		if size <= 0 {
			// Empty segment – no pages here
			continue
		}

		pages := uint32(size / int64(PageSize))
		total += pages
	}

	return total, nil
}

// fsKey resolves a stable cache key for fs, falling back to its pointer
// identity when it is not a LocalFileSet (FsKeyOf only normalizes local
// directories).
func fsKey(fs FileSet) string {
	if key, _, ok := FsKeyOf(fs); ok {
		return key
	}
	return fmt.Sprintf("%p", fs)
}

// bootstrap lazily seeds the high-water-mark page id for fs by scanning its
// segments, so a StorageManager created against an already-populated
// FileSet does not hand out page ids that collide with existing data.
func (sm *StorageManager) bootstrap(fs FileSet, key string) error {
	if _, ok := sm.nextPage[key]; ok {
		return nil
	}
	n, err := sm.CountPages(fs)
	if err != nil {
		return err
	}
	sm.nextPage[key] = n
	return nil
}

// AllocatePage reserves a page id for pageType, preferring a page returned
// by FreePage over growing the file set (segment manager, page lifecycle).
// The caller is responsible for zero-initializing and writing the page.
func (sm *StorageManager) AllocatePage(fs FileSet, pageType PageType) (uint32, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := fsKey(fs)
	if err := sm.bootstrap(fs, key); err != nil {
		return 0, err
	}

	byType := sm.freeLists[key]
	if byType == nil {
		byType = make(map[PageType][]uint32)
		sm.freeLists[key] = byType
	}
	if free := byType[pageType]; len(free) > 0 {
		pageID := free[len(free)-1]
		byType[pageType] = free[:len(free)-1]
		return pageID, nil
	}

	pageID := sm.nextPage[key]
	sm.nextPage[key] = pageID + 1
	return pageID, nil
}

// FreePage returns pageID to pageType's free list for later reuse by
// AllocatePage. This is also the path the insert buffer tree uses to hand
// pages back without involving a segment at all (page lifecycle §4.D).
func (sm *StorageManager) FreePage(fs FileSet, pageType PageType, pageID uint32) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := fsKey(fs)
	if err := sm.bootstrap(fs, key); err != nil {
		return err
	}
	byType := sm.freeLists[key]
	if byType == nil {
		byType = make(map[PageType][]uint32)
		sm.freeLists[key] = byType
	}
	byType[pageType] = append(byType[pageType], pageID)
	return nil
}
