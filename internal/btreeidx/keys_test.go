package btreeidx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/btreeidx"
	"github.com/tuannm99/novasql/internal/record"
)

func TestNodePointerCodec_RoundTrip(t *testing.T) {
	enc := btreeidx.EncodeNodePointer([]byte("hello"), 42, true)
	key, child, minRec := btreeidx.DecodeNodePointer(enc)
	require.Equal(t, []byte("hello"), key)
	require.Equal(t, uint32(42), child)
	require.True(t, minRec)
}

func TestNodePointerCodec_MinRecFalse(t *testing.T) {
	enc := btreeidx.EncodeNodePointer([]byte("world"), 7, false)
	key, child, minRec := btreeidx.DecodeNodePointer(enc)
	require.Equal(t, []byte("world"), key)
	require.Equal(t, uint32(7), child)
	require.False(t, minRec)
}

func TestLeafRecordCodec_RoundTrip(t *testing.T) {
	rid := btreeidx.RID{PageID: 123, Slot: 9}
	enc := btreeidx.EncodeLeafRecord([]byte("key1"), rid)
	key, decodedRID := btreeidx.DecodeLeafRecord(enc)
	require.Equal(t, []byte("key1"), key)
	require.Equal(t, rid, decodedRID)
}

func TestCompareKeys(t *testing.T) {
	require.Negative(t, btreeidx.CompareKeys([]byte("a"), []byte("b")))
	require.Zero(t, btreeidx.CompareKeys([]byte("a"), []byte("a")))
	require.Positive(t, btreeidx.CompareKeys([]byte("b"), []byte("a")))
}

func TestEncodeSchemaKey(t *testing.T) {
	schema := record.Schema{
		Cols: []record.Column{
			{Name: "id", Type: record.ColInt64},
			{Name: "name", Type: record.ColText},
		},
		NUniq: 1,
	}

	k1, err := btreeidx.EncodeSchemaKey(schema, []any{int64(1), "alice"})
	require.NoError(t, err)
	k2, err := btreeidx.EncodeSchemaKey(schema, []any{int64(2), "bob"})
	require.NoError(t, err)

	require.Negative(t, btreeidx.CompareKeys(k1, k2))

	_, err = btreeidx.EncodeSchemaKey(schema, []any{})
	require.Error(t, err)
}
