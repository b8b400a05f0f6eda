package record

import (
	"errors"
	"math"

	"github.com/tuannm99/novasql/pkg/bx"
)

var (
	// ErrSchemaMismatch covers a values slice that does not have exactly
	// schema.NumCols() entries.
	ErrSchemaMismatch = errors.New("record: value count does not match schema")

	// ErrSchemaMismatchNotAllowNull is returned when a non-nullable column
	// is given a nil value.
	ErrSchemaMismatchNotAllowNull = errors.New("record: column is not nullable")

	ErrSchemaMismatchNotInt32   = errors.New("record: value is not an int32")
	ErrSchemaMismatchNotInt64   = errors.New("record: value is not an int64")
	ErrSchemaMismatchNotBool    = errors.New("record: value is not a bool")
	ErrSchemaMismatchNotFloat64 = errors.New("record: value is not a float64")
	ErrSchemaMismatchNotText    = errors.New("record: value is not a string")
	ErrSchemaMismatchNotBytes   = errors.New("record: value is not a []byte")

	// ErrVarTooLong is returned when a TEXT or BYTES value is longer than
	// math.MaxUint16 bytes, the widest length prefix this codec writes.
	ErrVarTooLong = errors.New("record: varlen value exceeds max length")

	// ErrBadBuffer is returned when a buffer handed to DecodeRow is too
	// short for the schema it is decoded against.
	ErrBadBuffer = errors.New("record: buffer too short")
)

func nullMapSize(numCols int) int {
	return (numCols + 7) / 8
}

func isNull(nullMap []byte, i int) bool {
	return nullMap[i/8]&(1<<uint(i%8)) != 0
}

func setNull(nullMap []byte, i int) {
	nullMap[i/8] |= 1 << uint(i%8)
}

// EncodeRow packs values according to schema into a flat byte slice: a
// leading null bitmap (one bit per column) followed by each non-null
// column's fixed-width or length-prefixed encoding, in schema order.
func EncodeRow(schema Schema, values []any) ([]byte, error) {
	if len(values) != schema.NumCols() {
		return nil, ErrSchemaMismatch
	}

	nullMap := make([]byte, nullMapSize(schema.NumCols()))
	body := make([]byte, 0, 64)

	for i, col := range schema.Cols {
		v := values[i]
		if v == nil {
			if !col.Nullable {
				return nil, ErrSchemaMismatchNotAllowNull
			}
			setNull(nullMap, i)
			continue
		}

		enc, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		body = append(body, enc...)
	}

	buf := make([]byte, 0, len(nullMap)+len(body))
	buf = append(buf, nullMap...)
	buf = append(buf, body...)
	return buf, nil
}

func encodeValue(col Column, v any) ([]byte, error) {
	switch col.Type {
	case ColInt32:
		iv, ok := v.(int32)
		if !ok {
			return nil, ErrSchemaMismatchNotInt32
		}
		b := make([]byte, 4)
		bx.PutU32(b, uint32(iv))
		return b, nil

	case ColInt64:
		iv, ok := v.(int64)
		if !ok {
			return nil, ErrSchemaMismatchNotInt64
		}
		b := make([]byte, 8)
		bx.PutU64(b, uint64(iv))
		return b, nil

	case ColBool:
		bv, ok := v.(bool)
		if !ok {
			return nil, ErrSchemaMismatchNotBool
		}
		if bv {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case ColFloat64:
		fv, ok := v.(float64)
		if !ok {
			return nil, ErrSchemaMismatchNotFloat64
		}
		b := make([]byte, 8)
		bx.PutU64(b, math.Float64bits(fv))
		return b, nil

	case ColText:
		sv, ok := v.(string)
		if !ok {
			return nil, ErrSchemaMismatchNotText
		}
		return encodeVarlen([]byte(sv))

	case ColBytes:
		bv, ok := v.([]byte)
		if !ok {
			return nil, ErrSchemaMismatchNotBytes
		}
		return encodeVarlen(bv)

	default:
		return nil, ErrSchemaMismatch
	}
}

func encodeVarlen(data []byte) ([]byte, error) {
	if len(data) > math.MaxUint16 {
		return nil, ErrVarTooLong
	}
	out := make([]byte, 2+len(data))
	bx.PutU16(out, uint16(len(data)))
	copy(out[2:], data)
	return out, nil
}

// DecodeRow is the inverse of EncodeRow: it reads the null bitmap followed
// by each column's value in schema order, returning nil for columns marked
// null in the bitmap.
func DecodeRow(schema Schema, buf []byte) ([]any, error) {
	mapSize := nullMapSize(schema.NumCols())
	if len(buf) < mapSize {
		return nil, ErrBadBuffer
	}
	nullMap := buf[:mapSize]
	pos := mapSize

	row := make([]any, schema.NumCols())

	for i, col := range schema.Cols {
		if isNull(nullMap, i) {
			row[i] = nil
			continue
		}

		v, n, err := decodeValue(col, buf[pos:])
		if err != nil {
			return nil, err
		}
		row[i] = v
		pos += n
	}

	if pos != len(buf) {
		return nil, ErrBadBuffer
	}

	return row, nil
}

func decodeValue(col Column, buf []byte) (any, int, error) {
	switch col.Type {
	case ColInt32:
		if len(buf) < 4 {
			return nil, 0, ErrBadBuffer
		}
		return int32(bx.U32(buf)), 4, nil

	case ColInt64:
		if len(buf) < 8 {
			return nil, 0, ErrBadBuffer
		}
		return int64(bx.U64(buf)), 8, nil

	case ColBool:
		if len(buf) < 1 {
			return nil, 0, ErrBadBuffer
		}
		return buf[0] != 0, 1, nil

	case ColFloat64:
		if len(buf) < 8 {
			return nil, 0, ErrBadBuffer
		}
		return math.Float64frombits(bx.U64(buf)), 8, nil

	case ColText:
		data, n, err := decodeVarlen(buf)
		if err != nil {
			return nil, 0, err
		}
		return string(data), n, nil

	case ColBytes:
		data, n, err := decodeVarlen(buf)
		if err != nil {
			return nil, 0, err
		}
		return data, n, nil

	default:
		return nil, 0, ErrBadBuffer
	}
}

func decodeVarlen(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrBadBuffer
	}
	l := int(bx.U16(buf))
	if len(buf) < 2+l {
		return nil, 0, ErrBadBuffer
	}
	out := make([]byte, l)
	copy(out, buf[2:2+l])
	return out, 2 + l, nil
}
