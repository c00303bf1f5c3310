package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	int64List   = arrow.ListOf(arrow.PrimitiveTypes.Int64)
	float64List = arrow.ListOf(arrow.PrimitiveTypes.Float64)
	stringList  = arrow.ListOf(arrow.BinaryTypes.String)
)

// arrowType maps a PostgreSQL type OID to the arrow type of its result column.
// Types without a native mapping are carried as text.
func arrowType(oid uint32) arrow.DataType {
	switch oid {
	case pgtype.Int2OID:
		return arrow.PrimitiveTypes.Int16
	case pgtype.Int4OID:
		return arrow.PrimitiveTypes.Int32
	case pgtype.Int8OID:
		return arrow.PrimitiveTypes.Int64
	case pgtype.Float4OID:
		return arrow.PrimitiveTypes.Float32
	case pgtype.Float8OID, pgtype.NumericOID:
		return arrow.PrimitiveTypes.Float64
	case pgtype.BoolOID:
		return arrow.FixedWidthTypes.Boolean
	case pgtype.DateOID:
		return arrow.FixedWidthTypes.Date32
	case pgtype.TimestampOID:
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case pgtype.TimestamptzOID:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case pgtype.Int2ArrayOID, pgtype.Int4ArrayOID, pgtype.Int8ArrayOID:
		return int64List
	case pgtype.Float4ArrayOID, pgtype.Float8ArrayOID:
		return float64List
	case pgtype.TextArrayOID, pgtype.VarcharArrayOID:
		return stringList
	default:
		return arrow.BinaryTypes.String
	}
}

// resultSchema derives the arrow schema of a result set. Repeated column
// names get a numeric suffix since data frames address fields by name.
func resultSchema(fields []pgconn.FieldDescription) *arrow.Schema {
	seen := make(map[string]int, len(fields))
	out := make([]arrow.Field, len(fields))
	for i, fd := range fields {
		name := fd.Name
		if n := seen[name]; n > 0 {
			name = fd.Name + "_" + strconv.Itoa(n+1)
		}
		seen[fd.Name]++
		out[i] = arrow.Field{Name: name, Type: arrowType(fd.DataTypeOID), Nullable: true}
	}
	return arrow.NewSchema(out, nil)
}

// rowsToRecord drains pgx.Rows into a single arrow record.
func rowsToRecord(mem memory.Allocator, rows pgx.Rows) (arrow.Record, error) {
	schema := resultSchema(rows.FieldDescriptions())
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		for i, v := range vals {
			if err := appendValue(b.Field(i), v); err != nil {
				return nil, fmt.Errorf("column %q: %w", schema.Field(i).Name, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return b.NewRecord(), nil
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.Int16Builder:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		bld.Append(int16(n))
	case *array.Int32Builder:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		bld.Append(int32(n))
	case *array.Int64Builder:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		bld.Append(n)
	case *array.Float32Builder:
		f, ok, err := asFloat64(v)
		if err != nil {
			return err
		}
		if !ok {
			bld.AppendNull()
			return nil
		}
		bld.Append(float32(f))
	case *array.Float64Builder:
		f, ok, err := asFloat64(v)
		if err != nil {
			return err
		}
		if !ok {
			bld.AppendNull()
			return nil
		}
		bld.Append(f)
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("unexpected %T for boolean", v)
		}
		bld.Append(x)
	case *array.Date32Builder:
		// Infinite dates decode as strings and have no arrow representation.
		t, ok := v.(time.Time)
		if !ok {
			bld.AppendNull()
			return nil
		}
		bld.Append(arrow.Date32FromTime(t))
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			bld.AppendNull()
			return nil
		}
		bld.Append(arrow.Timestamp(t.UnixMicro()))
	case *array.ListBuilder:
		elems, ok := v.([]any)
		if !ok {
			return fmt.Errorf("unexpected %T for array", v)
		}
		bld.Append(true)
		vb := bld.ValueBuilder()
		for _, e := range elems {
			if err := appendValue(vb, e); err != nil {
				return err
			}
		}
	case *array.StringBuilder:
		bld.Append(asText(v))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("unexpected %T for integer", v)
	}
}

// asFloat64 reports false for numeric values that carry no finite number.
func asFloat64(v any) (float64, bool, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), true, nil
	case float64:
		return x, true, nil
	case int16, int32, int64, int:
		n, err := asInt64(x)
		return float64(n), err == nil, err
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil {
			return 0, false, fmt.Errorf("converting numeric: %w", err)
		}
		return f.Float64, f.Valid, nil
	default:
		return 0, false, fmt.Errorf("unexpected %T for float", v)
	}
}

// asText renders values of unmapped types.
func asText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
