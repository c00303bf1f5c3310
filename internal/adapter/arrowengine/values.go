package arrowengine

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// numeric reads an ordinal cell as float64. Temporal values are read as their
// raw integer representation.
func numeric(arr arrow.Array, i int) (float64, bool) {
	if arr.IsNull(i) {
		return 0, false
	}
	switch a := arr.(type) {
	case *array.Int8:
		return float64(a.Value(i)), true
	case *array.Int16:
		return float64(a.Value(i)), true
	case *array.Int32:
		return float64(a.Value(i)), true
	case *array.Int64:
		return float64(a.Value(i)), true
	case *array.Uint8:
		return float64(a.Value(i)), true
	case *array.Uint16:
		return float64(a.Value(i)), true
	case *array.Uint32:
		return float64(a.Value(i)), true
	case *array.Uint64:
		return float64(a.Value(i)), true
	case *array.Float16:
		return float64(a.Value(i).Float32()), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	case *array.Boolean:
		if a.Value(i) {
			return 1, true
		}
		return 0, true
	case *array.Decimal128:
		return a.Value(i).ToFloat64(a.DataType().(*arrow.Decimal128Type).Scale), true
	case *array.Decimal256:
		return a.Value(i).ToFloat64(a.DataType().(*arrow.Decimal256Type).Scale), true
	}
	if v, ok := integer(arr, i); ok {
		return float64(v), true
	}
	return 0, false
}

// integer reads signed integer and temporal cells exactly.
func integer(arr arrow.Array, i int) (int64, bool) {
	if arr.IsNull(i) {
		return 0, false
	}
	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Date32:
		return int64(a.Value(i)), true
	case *array.Date64:
		return int64(a.Value(i)), true
	case *array.Time32:
		return int64(a.Value(i)), true
	case *array.Time64:
		return int64(a.Value(i)), true
	case *array.Timestamp:
		return int64(a.Value(i)), true
	case *array.Duration:
		return int64(a.Value(i)), true
	default:
		return 0, false
	}
}

// unsigned reads unsigned integer cells exactly.
func unsigned(arr arrow.Array, i int) (uint64, bool) {
	if arr.IsNull(i) {
		return 0, false
	}
	switch a := arr.(type) {
	case *array.Uint8:
		return uint64(a.Value(i)), true
	case *array.Uint16:
		return uint64(a.Value(i)), true
	case *array.Uint32:
		return uint64(a.Value(i)), true
	case *array.Uint64:
		return a.Value(i), true
	default:
		return 0, false
	}
}

// compareCells orders two non-null cells of the same array.
func compareCells(arr arrow.Array, i, j int) int {
	switch a := arr.(type) {
	case *array.String:
		return strings.Compare(a.Value(i), a.Value(j))
	case *array.LargeString:
		return strings.Compare(a.Value(i), a.Value(j))
	case *array.Binary:
		return bytes.Compare(a.Value(i), a.Value(j))
	case *array.Uint64:
		return cmp.Compare(a.Value(i), a.Value(j))
	}
	if x, ok := integer(arr, i); ok {
		y, _ := integer(arr, j)
		return cmp.Compare(x, y)
	}
	if x, ok := numeric(arr, i); ok {
		y, _ := numeric(arr, j)
		return cmp.Compare(x, y)
	}
	return strings.Compare(arr.ValueStr(i), arr.ValueStr(j))
}

// compareNullable orders two cells, placing nulls last.
func compareNullable(arr arrow.Array, i, j int) int {
	ni, nj := arr.IsNull(i), arr.IsNull(j)
	switch {
	case ni && nj:
		return 0
	case ni:
		return 1
	case nj:
		return -1
	default:
		return compareCells(arr, i, j)
	}
}

// cellKey encodes a cell for hashing. Nulls share one key that no value can produce.
func cellKey(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return "\x00"
	}
	switch a := arr.(type) {
	case *array.String:
		return "v" + a.Value(i)
	case *array.LargeString:
		return "v" + a.Value(i)
	}
	return "v" + arr.ValueStr(i)
}

type scaleKind int

const (
	scaleFloat scaleKind = iota
	scaleSigned
	scaleUnsigned
)

// binScale maps ordinal values onto equal-width bins between a minimum and a maximum.
// Integer and temporal types bin with an integral width, everything else with a float width.
type binScale struct {
	kind     scaleKind
	valid    bool
	binCount int

	minFloat, widthFloat float64
	minSigned            int64
	// Signed spans can exceed MaxInt64, so the signed width is unsigned.
	widthSigned, minUnsigned, widthUnsigned uint64

	// boundType is the type of the bound fields, widthType the type of the width field.
	boundType arrow.DataType
	widthType arrow.DataType
}

func scaleKindOf(dt arrow.DataType) scaleKind {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.DATE32, arrow.DATE64, arrow.TIME32, arrow.TIME64,
		arrow.TIMESTAMP, arrow.DURATION:
		return scaleSigned
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return scaleUnsigned
	default:
		return scaleFloat
	}
}

// newBinScale reads min and max from row 0 of the stats columns.
// A null min or max yields a scale that bins every value as null.
func newBinScale(valueType arrow.DataType, minCol, maxCol arrow.Array, binCount int) (binScale, error) {
	if !arrow.TypeEqual(minCol.DataType(), valueType) || !arrow.TypeEqual(maxCol.DataType(), valueType) {
		return binScale{}, fmt.Errorf("%w: stats fields have type %s and %s, key has %s",
			ErrTypeMismatch, minCol.DataType(), maxCol.DataType(), valueType)
	}
	binCount = max(binCount, 1)
	s := binScale{kind: scaleKindOf(valueType), binCount: binCount}

	switch s.kind {
	case scaleSigned:
		s.boundType, s.widthType = valueType, arrow.PrimitiveTypes.Int64
		lo, okLo := integer(minCol, 0)
		hi, okHi := integer(maxCol, 0)
		if okLo && okHi {
			width := signedDistance(min(lo, hi), max(lo, hi)) / uint64(binCount)
			if width == 0 {
				width = 1
			}
			s.valid, s.minSigned, s.widthSigned = true, lo, width
		}
	case scaleUnsigned:
		s.boundType, s.widthType = valueType, arrow.PrimitiveTypes.Uint64
		lo, okLo := unsigned(minCol, 0)
		hi, okHi := unsigned(maxCol, 0)
		if okLo && okHi {
			var width uint64
			if hi > lo {
				width = (hi - lo) / uint64(binCount)
			}
			if width == 0 {
				width = 1
			}
			s.valid, s.minUnsigned, s.widthUnsigned = true, lo, width
		}
	default:
		s.boundType, s.widthType = arrow.PrimitiveTypes.Float64, arrow.PrimitiveTypes.Float64
		if valueType.ID() == arrow.FLOAT32 {
			s.boundType = arrow.PrimitiveTypes.Float32
		}
		lo, okLo := numeric(minCol, 0)
		hi, okHi := numeric(maxCol, 0)
		if okLo && okHi {
			width := math.Abs((hi - lo) / float64(binCount))
			if width == 0 {
				width = 1
			}
			s.valid, s.minFloat, s.widthFloat = true, lo, width
		}
	}
	return s, nil
}

// fraction returns the fractional bin of a cell, (value - min) / width.
func (s binScale) fraction(arr arrow.Array, i int) (float64, bool) {
	if !s.valid || arr.IsNull(i) {
		return 0, false
	}
	switch s.kind {
	case scaleSigned:
		v, ok := integer(arr, i)
		if v < s.minSigned {
			return -float64(signedDistance(v, s.minSigned)) / float64(s.widthSigned), ok
		}
		return float64(signedDistance(s.minSigned, v)) / float64(s.widthSigned), ok
	case scaleUnsigned:
		v, ok := unsigned(arr, i)
		if v < s.minUnsigned {
			return -float64(s.minUnsigned-v) / float64(s.widthUnsigned), ok
		}
		return float64(v-s.minUnsigned) / float64(s.widthUnsigned), ok
	default:
		v, ok := numeric(arr, i)
		return (v - s.minFloat) / s.widthFloat, ok
	}
}

// bin returns the integral bin of a cell, clamped to [0, binCount).
func (s binScale) bin(arr arrow.Array, i int) (uint32, bool) {
	f, ok := s.fraction(arr, i)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	b := math.Floor(f)
	if b < 0 {
		b = 0
	}
	if b > float64(s.binCount-1) {
		b = float64(s.binCount - 1)
	}
	return uint32(b), true
}

// appendWidth appends the bin width to a builder of widthType.
func (s binScale) appendWidth(b array.Builder) {
	if !s.valid {
		b.AppendNull()
		return
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		bb.Append(int64(min(s.widthSigned, math.MaxInt64)))
	case *array.Uint64Builder:
		bb.Append(s.widthUnsigned)
	case *array.Float64Builder:
		bb.Append(s.widthFloat)
	default:
		b.AppendNull()
	}
}

// appendBound appends min + bin*width to a builder of boundType.
func (s binScale) appendBound(b array.Builder, bin uint32) {
	if !s.valid {
		b.AppendNull()
		return
	}
	switch s.kind {
	case scaleSigned:
		// Wraps back into range since the bound never exceeds the maximum.
		appendSigned(b, int64(uint64(s.minSigned)+uint64(bin)*s.widthSigned))
	case scaleUnsigned:
		appendUnsigned(b, s.minUnsigned+uint64(bin)*s.widthUnsigned)
	default:
		v := s.minFloat + float64(bin)*s.widthFloat
		switch bb := b.(type) {
		case *array.Float32Builder:
			bb.Append(float32(v))
		case *array.Float64Builder:
			bb.Append(v)
		default:
			b.AppendNull()
		}
	}
}

// signedDistance returns hi - lo for lo <= hi without overflowing.
func signedDistance(lo, hi int64) uint64 {
	return uint64(hi) - uint64(lo)
}

func appendSigned(b array.Builder, v int64) {
	switch bb := b.(type) {
	case *array.Int8Builder:
		bb.Append(int8(v))
	case *array.Int16Builder:
		bb.Append(int16(v))
	case *array.Int32Builder:
		bb.Append(int32(v))
	case *array.Int64Builder:
		bb.Append(v)
	case *array.Date32Builder:
		bb.Append(arrow.Date32(v))
	case *array.Date64Builder:
		bb.Append(arrow.Date64(v))
	case *array.Time32Builder:
		bb.Append(arrow.Time32(v))
	case *array.Time64Builder:
		bb.Append(arrow.Time64(v))
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(v))
	case *array.DurationBuilder:
		bb.Append(arrow.Duration(v))
	default:
		b.AppendNull()
	}
}

func appendUnsigned(b array.Builder, v uint64) {
	switch bb := b.(type) {
	case *array.Uint8Builder:
		bb.Append(uint8(v))
	case *array.Uint16Builder:
		bb.Append(uint16(v))
	case *array.Uint32Builder:
		bb.Append(uint32(v))
	case *array.Uint64Builder:
		bb.Append(v)
	default:
		b.AppendNull()
	}
}

// literalMatches compares a cell against a filter literal.
func literalMatches(arr arrow.Array, i int, cmpResult func(int) bool, double *float64, u64 *uint64) bool {
	if arr.IsNull(i) {
		return false
	}
	if u64 != nil {
		if v, ok := unsigned(arr, i); ok {
			return cmpResult(cmp.Compare(v, *u64))
		}
		if v, ok := integer(arr, i); ok {
			if v < 0 {
				return cmpResult(-1)
			}
			return cmpResult(cmp.Compare(uint64(v), *u64))
		}
		v, ok := numeric(arr, i)
		return ok && cmpResult(cmp.Compare(v, float64(*u64)))
	}
	if double != nil {
		v, ok := numeric(arr, i)
		return ok && cmpResult(cmp.Compare(v, *double))
	}
	return false
}

func newUint64Array(mem memory.Allocator, values []uint64) arrow.Array {
	b := array.NewUint64Builder(mem)
	defer b.Release()
	b.AppendValues(values, nil)
	return b.NewArray()
}
