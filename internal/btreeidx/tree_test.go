package btreeidx_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/btreeidx"
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/storage"
)

func newTestTree(t *testing.T) *btreeidx.Tree {
	t.Helper()
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)

	tree, err := btreeidx.New(sm, fs, bp, nil, 1)
	require.NoError(t, err)
	return tree
}

func TestTree_InsertAndSearchEqual(t *testing.T) {
	tree := newTestTree(t)

	for i := 1; i <= 20; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		err := tree.Insert(key, btreeidx.RID{PageID: uint32(i), Slot: uint16(i)})
		require.NoError(t, err)
	}

	for i := 1; i <= 20; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		rids, err := tree.SearchEqual(key)
		require.NoError(t, err)
		require.Len(t, rids, 1)
		require.Equal(t, uint32(i), rids[0].PageID)
	}

	require.NoError(t, tree.Validate())
}

func TestTree_SplitAcrossManyKeys(t *testing.T) {
	tree := newTestTree(t)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%06d", i))
		require.NoError(t, tree.Insert(key, btreeidx.RID{PageID: uint32(i) + 1}))
	}
	require.NoError(t, tree.Validate())
	require.Greater(t, tree.Height, 1, "enough inserts should have raised the root at least once")
	require.Equal(t, 0, tree.BP.PinnedPages(), "every split path must unpin on both success and error returns")

	rids, err := tree.RangeScan([]byte("k000000"), []byte("k000099"))
	require.NoError(t, err)
	require.Len(t, rids, 100)
}

func TestTree_Delete(t *testing.T) {
	tree := newTestTree(t)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("d%04d", i))
		require.NoError(t, tree.Insert(key, btreeidx.RID{PageID: uint32(i) + 1}))
	}

	require.NoError(t, tree.Delete([]byte("d0010")))
	rids, err := tree.SearchEqual([]byte("d0010"))
	require.NoError(t, err)
	require.Empty(t, rids)

	err = tree.Delete([]byte("does-not-exist"))
	require.ErrorIs(t, err, btreeidx.ErrKeyNotFound)

	require.NoError(t, tree.Validate())
}

func TestTree_DeleteManyTriggersMerge(t *testing.T) {
	tree := newTestTree(t)

	const n = 1000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("m%06d", i))
		require.NoError(t, tree.Insert(key, btreeidx.RID{PageID: uint32(i) + 1}))
	}
	require.NoError(t, tree.Validate())
	peakHeight := tree.Height
	require.Greater(t, peakHeight, 1, "1000 inserts should have raised the root at least once")

	for i := 0; i < n-5; i++ {
		key := []byte(fmt.Sprintf("m%06d", i))
		require.NoError(t, tree.Delete(key))
	}
	require.NoError(t, tree.Validate())

	// Deleting all but 5 of 1000 keys should have repeatedly merged
	// underfull leaves and lifted the root back down -- if isUnderfull
	// never fired (the regression this test guards against), the tree
	// would still be sitting at peakHeight with hundreds of
	// barely-populated pages.
	require.Less(t, tree.Height, peakHeight, "heavy deletes should have lifted the root back down")
	require.Equal(t, 1, tree.Height, "only 5 keys remain, the root leaf alone should hold them")
	require.Equal(t, 0, tree.BP.PinnedPages(), "every merge/lift path must unpin on both success and error returns")

	for i := n - 5; i < n; i++ {
		key := []byte(fmt.Sprintf("m%06d", i))
		rids, err := tree.SearchEqual(key)
		require.NoError(t, err)
		require.Len(t, rids, 1)
	}
}

func TestTree_DropRemovesSegments(t *testing.T) {
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)

	tree, err := btreeidx.New(sm, fs, bp, nil, 1)
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("p%06d", i))
		require.NoError(t, tree.Insert(key, btreeidx.RID{PageID: uint32(i) + 1}))
	}

	require.NoError(t, tree.Drop())

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range ents {
		require.NotEqual(t, "idx", e.Name(), "Drop should have removed the base segment")
	}
}

func TestTree_CloseIsIdempotent(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert([]byte("a"), btreeidx.RID{PageID: 1}))
	require.NoError(t, tree.Close())
	require.NoError(t, tree.Close())

	_, err := tree.SearchEqual([]byte("a"))
	require.ErrorIs(t, err, btreeidx.ErrTreeClosed)
}
