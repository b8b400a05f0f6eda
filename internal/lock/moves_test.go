package lock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManager_ResolveChain(t *testing.T) {
	m := NewManager()

	m.SplitRight(10, 11)
	m.MergeLeft(11, 12)

	current, kinds, ok := m.Resolve(10)
	require.True(t, ok)
	require.Equal(t, uint32(12), current)
	require.Equal(t, []MoveKind{MoveSplitRight, MoveMergeLeft}, kinds)
}

func TestManager_ResolveUnmigratedPage(t *testing.T) {
	m := NewManager()
	current, kinds, ok := m.Resolve(99)
	require.False(t, ok)
	require.Equal(t, uint32(99), current)
	require.Nil(t, kinds)
}

func TestManager_DiscardTerminates(t *testing.T) {
	m := NewManager()
	m.Discard(5)
	current, kinds, ok := m.Resolve(5)
	require.True(t, ok)
	require.Equal(t, uint32(0), current)
	require.Equal(t, []MoveKind{MoveDiscard}, kinds)
}

func TestManager_Forget(t *testing.T) {
	m := NewManager()
	m.MoveReorganize(1)
	m.Forget(1)
	_, _, ok := m.Resolve(1)
	require.False(t, ok)
}

func TestMoveKind_String(t *testing.T) {
	require.Equal(t, "root_raise", MoveRootRaise.String())
	require.Equal(t, "unknown", MoveKind(200).String())
}
