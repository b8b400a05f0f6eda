package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageManager(t *testing.T) {
	fs := LocalFileSet{Dir: "../../data/test/base", Base: "segment"}
	sm := NewStorageManager()

	// Load page
	pg, err := sm.LoadPage(fs, 0)
	require.NoError(t, err)
	assert.NotNil(t, pg)
	assert.IsType(t, &Page{}, pg)
}

func TestStorageManager_AllocateAndFreePage(t *testing.T) {
	fs := LocalFileSet{Dir: t.TempDir(), Base: "idx"}
	sm := NewStorageManager()

	first, err := sm.AllocatePage(fs, SegLeaf)
	require.NoError(t, err)
	second, err := sm.AllocatePage(fs, SegLeaf)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, sm.FreePage(fs, SegLeaf, second))

	// A page returned to the free list is handed back out before the
	// high-water mark advances again.
	reused, err := sm.AllocatePage(fs, SegLeaf)
	require.NoError(t, err)
	assert.Equal(t, second, reused)

	// Different page types get independent free lists.
	topPage, err := sm.AllocatePage(fs, SegTop)
	require.NoError(t, err)
	assert.NotEqual(t, first, topPage)
}
