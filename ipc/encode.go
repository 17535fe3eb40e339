package ipc

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/kdb-client/types"
)

var be = binary.BigEndian

// AppendValue appends the big-endian serialisation of v to dst.
func (c *Codec) AppendValue(dst []byte, v any) ([]byte, error) {
	return c.appendValue(dst, v, 1)
}

func (c *Codec) appendValue(dst []byte, v any, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return dst, fmt.Errorf("encode: %w", ErrTooDeep)
	}
	switch x := v.(type) {
	case nil:
		return append(dst, byte(types.TUnaryPrimitive), 0), nil
	case bool:
		return append(atom(dst, types.TBoolean), boolByte(x)), nil
	case uuid.UUID:
		if c.version < 3 {
			return dst, fmt.Errorf("guid needs kdb+ 3.0: %w", ErrVersion)
		}
		return append(atom(dst, types.TGUID), x[:]...), nil
	case byte:
		return append(atom(dst, types.TByte), x), nil
	case int16:
		return be.AppendUint16(atom(dst, types.TShort), uint16(x)), nil
	case int32:
		return be.AppendUint32(atom(dst, types.TInt), uint32(x)), nil
	case int64:
		return be.AppendUint64(atom(dst, types.TLong), uint64(x)), nil
	case int:
		return be.AppendUint64(atom(dst, types.TLong), uint64(int64(x))), nil
	case float32:
		return be.AppendUint32(atom(dst, types.TReal), math.Float32bits(x)), nil
	case float64:
		return be.AppendUint64(atom(dst, types.TFloat), math.Float64bits(x)), nil
	case types.Char:
		return append(atom(dst, types.TChar), byte(x)), nil
	case string:
		return c.appendSymbol(atom(dst, types.TSymbol), x), nil
	case time.Time:
		if c.version < 1 {
			return dst, fmt.Errorf("timestamp needs kdb+ 2.6: %w", ErrVersion)
		}
		return appendTimestamp(atom(dst, types.TTimestamp), x)
	case types.Month:
		return be.AppendUint32(atom(dst, types.TMonth), uint32(x)), nil
	case types.Date:
		return be.AppendUint32(atom(dst, types.TDate), uint32(x)), nil
	case types.Datetime:
		return be.AppendUint64(atom(dst, types.TDatetime), math.Float64bits(float64(x))), nil
	case types.Timespan:
		if c.version < 1 {
			return dst, fmt.Errorf("timespan needs kdb+ 2.6: %w", ErrVersion)
		}
		return be.AppendUint64(atom(dst, types.TTimespan), uint64(x)), nil
	case time.Duration:
		return c.appendValue(dst, types.Timespan(x), depth)
	case types.Minute:
		return be.AppendUint32(atom(dst, types.TMinute), uint32(x)), nil
	case types.Second:
		return be.AppendUint32(atom(dst, types.TSecond), uint32(x)), nil
	case types.Time:
		return be.AppendUint32(atom(dst, types.TTime), uint32(x)), nil
	case *RemoteError:
		if x == nil {
			return dst, fmt.Errorf("encode nil %T: %w", v, ErrUnsupportedType)
		}
		return c.appendSymbol(append(dst, typeByte(types.TError)), x.Message), nil
	case *types.Dict:
		if x == nil {
			return dst, fmt.Errorf("encode nil %T: %w", v, ErrUnsupportedType)
		}
		if err := x.Check(); err != nil {
			return dst, err
		}
		var err error
		dst = append(dst, byte(types.TDict))
		if dst, err = c.appendValue(dst, x.Keys, depth+1); err != nil {
			return dst, err
		}
		return c.appendValue(dst, x.Values, depth+1)
	case *types.Table:
		if x == nil {
			return dst, fmt.Errorf("encode nil %T: %w", v, ErrUnsupportedType)
		}
		dst = append(dst, byte(types.TTable), 0)
		return c.appendValue(dst, types.NewDict(x.Columns, x.Data), depth+1)
	case types.Chars:
		b := c.cs.encode(string(x))
		return append(vector(dst, types.TChar, len(b)), b...), nil
	case []any:
		var err error
		dst = vector(dst, types.TList, len(x))
		for _, e := range x {
			if dst, err = c.appendValue(dst, e, depth+1); err != nil {
				return dst, err
			}
		}
		return dst, nil
	case []bool:
		dst = vector(dst, types.TBoolean, len(x))
		for _, e := range x {
			dst = append(dst, boolByte(e))
		}
		return dst, nil
	case []uuid.UUID:
		if c.version < 3 {
			return dst, fmt.Errorf("guid needs kdb+ 3.0: %w", ErrVersion)
		}
		dst = vector(dst, types.TGUID, len(x))
		for _, e := range x {
			dst = append(dst, e[:]...)
		}
		return dst, nil
	case []byte:
		return append(vector(dst, types.TByte, len(x)), x...), nil
	case []int16:
		return appendInts(vector(dst, types.TShort, len(x)), x, func(b []byte, e int16) []byte { return be.AppendUint16(b, uint16(e)) }), nil
	case []int32:
		return appendInts(vector(dst, types.TInt, len(x)), x, appendInt32[int32]), nil
	case []int64:
		return appendInts(vector(dst, types.TLong, len(x)), x, appendInt64[int64]), nil
	case []float32:
		return appendInts(vector(dst, types.TReal, len(x)), x, func(b []byte, e float32) []byte { return be.AppendUint32(b, math.Float32bits(e)) }), nil
	case []float64:
		return appendInts(vector(dst, types.TFloat, len(x)), x, func(b []byte, e float64) []byte { return be.AppendUint64(b, math.Float64bits(e)) }), nil
	case []string:
		dst = vector(dst, types.TSymbol, len(x))
		for _, e := range x {
			dst = c.appendSymbol(dst, e)
		}
		return dst, nil
	case []time.Time:
		if c.version < 1 {
			return dst, fmt.Errorf("timestamp needs kdb+ 2.6: %w", ErrVersion)
		}
		var err error
		dst = vector(dst, types.TTimestamp, len(x))
		for _, e := range x {
			if dst, err = appendTimestamp(dst, e); err != nil {
				return dst, err
			}
		}
		return dst, nil
	case []types.Month:
		return appendInts(vector(dst, types.TMonth, len(x)), x, appendInt32[types.Month]), nil
	case []types.Date:
		return appendInts(vector(dst, types.TDate, len(x)), x, appendInt32[types.Date]), nil
	case []types.Datetime:
		return appendInts(vector(dst, types.TDatetime, len(x)), x, func(b []byte, e types.Datetime) []byte { return be.AppendUint64(b, math.Float64bits(float64(e))) }), nil
	case []types.Timespan:
		if c.version < 1 {
			return dst, fmt.Errorf("timespan needs kdb+ 2.6: %w", ErrVersion)
		}
		return appendInts(vector(dst, types.TTimespan, len(x)), x, appendInt64[types.Timespan]), nil
	case []time.Duration:
		if c.version < 1 {
			return dst, fmt.Errorf("timespan needs kdb+ 2.6: %w", ErrVersion)
		}
		return appendInts(vector(dst, types.TTimespan, len(x)), x, appendInt64[time.Duration]), nil
	case []types.Minute:
		return appendInts(vector(dst, types.TMinute, len(x)), x, appendInt32[types.Minute]), nil
	case []types.Second:
		return appendInts(vector(dst, types.TSecond, len(x)), x, appendInt32[types.Second]), nil
	case []types.Time:
		return appendInts(vector(dst, types.TTime, len(x)), x, appendInt32[types.Time]), nil
	default:
		return dst, fmt.Errorf("encode %T: %w", v, ErrUnsupportedType)
	}
}

// appendSymbol writes s as a NUL-terminated symbol, cut at any embedded NUL.
func (c *Codec) appendSymbol(dst []byte, s string) []byte {
	return append(append(dst, c.cs.symbol(s)...), 0)
}

func typeByte(t types.Type) byte {
	return byte(t)
}

func atom(dst []byte, t types.Type) []byte {
	return append(dst, byte(-t))
}

func vector(dst []byte, t types.Type, n int) []byte {
	return be.AppendUint32(append(dst, byte(t), 0), uint32(n))
}

func appendTimestamp(dst []byte, t time.Time) ([]byte, error) {
	n, err := types.TimestampOf(t)
	if err != nil {
		return dst, err
	}
	return be.AppendUint64(dst, uint64(n)), nil
}

func appendInts[T any](dst []byte, xs []T, put func([]byte, T) []byte) []byte {
	for _, x := range xs {
		dst = put(dst, x)
	}
	return dst
}

func appendInt32[T ~int32](b []byte, v T) []byte {
	return be.AppendUint32(b, uint32(v))
}

func appendInt64[T ~int64](b []byte, v T) []byte {
	return be.AppendUint64(b, uint64(v))
}
