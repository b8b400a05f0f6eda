package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePageWriter struct {
	pages map[uint32][]byte
}

func newFakePageWriter() *fakePageWriter {
	return &fakePageWriter{pages: make(map[uint32][]byte)}
}

func (f *fakePageWriter) WritePage(dir, base string, pageID uint32, pageBytes []byte) error {
	cp := make([]byte, len(pageBytes))
	copy(cp, pageBytes)
	f.pages[pageID] = cp
	return nil
}

type fakeOpWriter struct {
	reorganized []uint32
	minRecMarks map[uint32]uint16
}

func newFakeOpWriter() *fakeOpWriter {
	return &fakeOpWriter{minRecMarks: make(map[uint32]uint16)}
}

func (f *fakeOpWriter) ReorganizePage(dir, base string, pageID uint32, compact bool) error {
	f.reorganized = append(f.reorganized, pageID)
	return nil
}

func (f *fakeOpWriter) SetMinRecMark(dir, base string, pageID uint32, offset uint16, compact bool) error {
	f.minRecMarks[pageID] = offset
	return nil
}

func TestManager_AppendPageImageAndRecover(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	page := make([]byte, PageSize)
	for i := range page {
		page[i] = byte(i % 251)
	}
	_, err = m.AppendPageImage("/data", "rel", 7, page)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := Open(dir)
	require.NoError(t, err)

	pw := newFakePageWriter()
	require.NoError(t, m2.Recover(pw, nil))
	require.Equal(t, page, pw.pages[7])
}

func TestManager_AppendReorganizeAndMinRecMark(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	_, err = m.AppendReorganize("/data", "rel", 3, false)
	require.NoError(t, err)
	_, err = m.AppendMinRecMark("/data", "rel", 3, 5, false)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := Open(dir)
	require.NoError(t, err)

	pw := newFakePageWriter()
	ops := newFakeOpWriter()
	require.NoError(t, m2.Recover(pw, ops))
	require.Equal(t, []uint32{3}, ops.reorganized)
	require.Equal(t, uint16(5), ops.minRecMarks[3])
}

func TestManager_RecoverNilOpWriterSkipsTypedRecords(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	_, err = m.AppendReorganize("/data", "rel", 1, false)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := Open(dir)
	require.NoError(t, err)
	pw := newFakePageWriter()
	require.NoError(t, m2.Recover(pw, nil))
}
