package btreeidx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/storage"
)

func newTestNodePage(t *testing.T, leaf bool) *NodePage {
	t.Helper()
	buf := make([]byte, storage.PageSize)
	p, err := storage.NewPage(buf, 1)
	require.NoError(t, err)
	level := uint16(1)
	if leaf {
		level = 0
	}
	n, err := InitNodePage(p, 7, level, 0, 0)
	require.NoError(t, err)
	return n
}

func TestNodePage_LeafInsertAndLowerBound(t *testing.T) {
	n := newTestNodePage(t, true)

	keys := []string{"c", "a", "e", "b", "d"}
	for i, k := range keys {
		_, err := n.InsertLeaf([]byte(k), RID{PageID: uint32(i) + 1})
		require.NoError(t, err)
	}

	order, pos, err := n.LowerBound([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, 5, len(order))

	k, err := n.KeyAt(order[pos])
	require.NoError(t, err)
	require.Equal(t, []byte("b"), k)
}

func TestNodePage_InternalSetMinRec(t *testing.T) {
	n := newTestNodePage(t, false)

	slot, err := n.InsertNodePointer([]byte("m"), 99, false)
	require.NoError(t, err)

	require.NoError(t, n.SetMinRec(slot, true))
	child, err := n.ChildAt(slot)
	require.NoError(t, err)
	require.Equal(t, uint32(99), child)

	key, child2, minRec := DecodeNodePointer(mustReadTuple(t, n, slot))
	require.Equal(t, []byte("m"), key)
	require.Equal(t, uint32(99), child2)
	require.True(t, minRec)
}

func TestNodePage_DeleteAtMarksDeleted(t *testing.T) {
	n := newTestNodePage(t, true)
	slot, err := n.InsertLeaf([]byte("x"), RID{PageID: 1})
	require.NoError(t, err)
	require.NoError(t, n.DeleteAt(slot))
	_, err = n.P.ReadTuple(slot)
	require.Error(t, err)
}

// A tombstoned slot must not make sortedSlots (and therefore LowerBound,
// reorganizeNode, every split/merge path) fail outright -- it just isn't
// live anymore.
func TestNodePage_SortedSlotsSkipsDeleted(t *testing.T) {
	n := newTestNodePage(t, true)

	var slots []int
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		slot, err := n.InsertLeaf([]byte(k), RID{PageID: 1})
		require.NoError(t, err)
		slots = append(slots, slot)
	}
	// Delete "c" and "e" (slots 0 and 2).
	require.NoError(t, n.DeleteAt(slots[0]))
	require.NoError(t, n.DeleteAt(slots[2]))

	order, err := n.sortedSlots()
	require.NoError(t, err)
	require.Len(t, order, 3)

	var got []string
	for _, s := range order {
		k, err := n.KeyAt(s)
		require.NoError(t, err)
		got = append(got, string(k))
	}
	require.Equal(t, []string{"a", "b", "d"}, got)
}

func mustReadTuple(t *testing.T, n *NodePage, slot int) []byte {
	t.Helper()
	tup, err := n.P.ReadTuple(slot)
	require.NoError(t, err)
	return tup
}
