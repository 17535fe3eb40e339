package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/kdb-client/types"
)

// DecodeValue deserialises one value from b, whose multi-byte fields use order.
// It returns the value and the number of bytes consumed. A q error anywhere in
// the value is returned as a *RemoteError.
func (c *Codec) DecodeValue(order binary.ByteOrder, b []byte) (any, int, error) {
	d := &decoder{buf: b, order: order, cs: c.cs}
	v := d.value()
	if d.err != nil {
		return nil, d.pos, d.err
	}
	return v, d.pos, nil
}

// decoder reads from buf with a sticky error: once a read fails every later read
// returns a zero value and the first error is kept.
type decoder struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
	cs    charset
	err   error
	depth int
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.pos < n {
		d.fail(fmt.Errorf("need %d bytes at offset %d: %w", n, d.pos, ErrShortBuffer))
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) byte() byte {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) int16() int16 {
	if b := d.take(2); b != nil {
		return int16(d.order.Uint16(b))
	}
	return 0
}

func (d *decoder) int32() int32 {
	if b := d.take(4); b != nil {
		return int32(d.order.Uint32(b))
	}
	return 0
}

func (d *decoder) int64() int64 {
	if b := d.take(8); b != nil {
		return int64(d.order.Uint64(b))
	}
	return 0
}

func (d *decoder) float32() float32 {
	return math.Float32frombits(uint32(d.int32()))
}

func (d *decoder) float64() float64 {
	return math.Float64frombits(uint64(d.int64()))
}

// guid is always big-endian on the wire, whatever the message byte order.
func (d *decoder) guid() uuid.UUID {
	var g uuid.UUID
	copy(g[:], d.take(16))
	return g
}

func (d *decoder) symbol() string {
	if d.err != nil {
		return ""
	}
	end := bytes.IndexByte(d.buf[d.pos:], 0)
	if end < 0 {
		d.fail(fmt.Errorf("unterminated symbol at offset %d: %w", d.pos, ErrShortBuffer))
		return ""
	}
	b := d.take(end + 1)
	if end == 0 {
		return ""
	}
	return d.cs.decode(b[:end])
}

func (d *decoder) timestamp() time.Time {
	return types.TimeOfTimestamp(d.int64())
}

// count reads a vector length and checks that n elements of at least minSize bytes fit.
func (d *decoder) count(minSize int) int {
	n := int(d.int32())
	if d.err != nil {
		return 0
	}
	if n < 0 || (minSize > 0 && n > (len(d.buf)-d.pos)/minSize) {
		d.fail(fmt.Errorf("vector of %d elements exceeds remaining %d bytes: %w", n, len(d.buf)-d.pos, ErrShortBuffer))
		return 0
	}
	return n
}

func (d *decoder) value() any {
	t := types.Type(int8(d.byte()))
	if d.err != nil {
		return nil
	}
	if d.depth++; d.depth > MaxDepth {
		d.fail(fmt.Errorf("at offset %d: %w", d.pos, ErrTooDeep))
		return nil
	}
	defer func() { d.depth-- }()

	switch {
	case t == types.TError:
		msg := d.symbol()
		d.fail(&RemoteError{Message: msg})
		return nil
	case t < 0:
		return d.atom(t)
	case t == types.TDict || t == types.TSortedDict:
		keys := d.value()
		values := d.value()
		if d.err != nil {
			return nil
		}
		dict := types.NewDict(keys, values)
		if err := dict.Check(); err != nil {
			d.fail(err)
			return nil
		}
		return dict
	case t == types.TTable:
		d.byte() // attribute
		v := d.value()
		if d.err != nil {
			return nil
		}
		dict, ok := v.(*types.Dict)
		if !ok {
			d.fail(fmt.Errorf("table payload is %T, not a dict", v))
			return nil
		}
		table, err := types.TableFromDict(dict)
		if err != nil {
			d.fail(err)
		}
		return table
	case t > types.TDict:
		return d.function(t)
	case t <= types.TTime:
		d.byte() // attribute
		return d.vector(t)
	default:
		d.fail(fmt.Errorf("decode type %d: %w", t, ErrUnsupportedType))
		return nil
	}
}

func (d *decoder) atom(t types.Type) any {
	switch -t {
	case types.TBoolean:
		return d.byte() == 1
	case types.TGUID:
		return d.guid()
	case types.TByte:
		return d.byte()
	case types.TShort:
		return d.int16()
	case types.TInt:
		return d.int32()
	case types.TLong:
		return d.int64()
	case types.TReal:
		return d.float32()
	case types.TFloat:
		return d.float64()
	case types.TChar:
		return types.Char(d.byte())
	case types.TSymbol:
		return d.symbol()
	case types.TTimestamp:
		return d.timestamp()
	case types.TMonth:
		return types.Month(d.int32())
	case types.TDate:
		return types.Date(d.int32())
	case types.TDatetime:
		return types.Datetime(d.float64())
	case types.TTimespan:
		return types.Timespan(d.int64())
	case types.TMinute:
		return types.Minute(d.int32())
	case types.TSecond:
		return types.Second(d.int32())
	case types.TTime:
		return types.Time(d.int32())
	default:
		d.fail(fmt.Errorf("decode atom type %d: %w", t, ErrUnsupportedType))
		return nil
	}
}

func (d *decoder) vector(t types.Type) any {
	switch t {
	case types.TList:
		n := d.count(2)
		xs := make([]any, n)
		for i := range xs {
			if xs[i] = d.value(); d.err != nil {
				return nil
			}
		}
		return xs
	case types.TBoolean:
		return readVector(d, t, func() bool { return d.byte() == 1 })
	case types.TGUID:
		return readVector(d, t, d.guid)
	case types.TByte:
		n := d.count(1)
		return bytes.Clone(d.take(n))
	case types.TShort:
		return readVector(d, t, d.int16)
	case types.TInt:
		return readVector(d, t, d.int32)
	case types.TLong:
		return readVector(d, t, d.int64)
	case types.TReal:
		return readVector(d, t, d.float32)
	case types.TFloat:
		return readVector(d, t, d.float64)
	case types.TChar:
		n := d.count(1)
		b := d.take(n)
		if d.err != nil {
			return nil
		}
		return types.Chars(d.cs.decode(b))
	case types.TSymbol:
		n := d.count(1)
		xs := make([]string, n)
		for i := range xs {
			xs[i] = d.symbol()
		}
		return xs
	case types.TTimestamp:
		return readVector(d, t, d.timestamp)
	case types.TMonth:
		return readVector(d, t, func() types.Month { return types.Month(d.int32()) })
	case types.TDate:
		return readVector(d, t, func() types.Date { return types.Date(d.int32()) })
	case types.TDatetime:
		return readVector(d, t, func() types.Datetime { return types.Datetime(d.float64()) })
	case types.TTimespan:
		return readVector(d, t, func() types.Timespan { return types.Timespan(d.int64()) })
	case types.TMinute:
		return readVector(d, t, func() types.Minute { return types.Minute(d.int32()) })
	case types.TSecond:
		return readVector(d, t, func() types.Second { return types.Second(d.int32()) })
	case types.TTime:
		return readVector(d, t, func() types.Time { return types.Time(d.int32()) })
	default:
		d.fail(fmt.Errorf("decode vector type %d: %w", t, ErrUnsupportedType))
		return nil
	}
}

func readVector[T any](d *decoder, t types.Type, next func() T) []T {
	n := d.count(t.ElemSize())
	xs := make([]T, n)
	for i := range xs {
		xs[i] = next()
	}
	return xs
}

// function decodes the function forms (100..112). Their bodies are consumed but only a
// lambda's source is kept; the unary primitive (::) decodes to nil.
func (d *decoder) function(t types.Type) any {
	switch {
	case t == types.TLambda:
		ctx := d.symbol()
		body := d.value()
		src, _ := body.(types.Chars)
		return types.Lambda{Context: ctx, Body: string(src)}
	case t < types.TProjection:
		b := d.byte()
		if t == types.TUnaryPrimitive && b == 0 {
			return nil
		}
		return types.Function{Type: t, Args: []any{b}}
	case t <= types.TComposition:
		n := d.count(1)
		args := make([]any, n)
		for i := range args {
			if args[i] = d.value(); d.err != nil {
				return nil
			}
		}
		return types.Function{Type: t, Args: args}
	case t <= types.TDynamicLoad:
		return types.Function{Type: t, Args: []any{d.value()}}
	default:
		d.fail(fmt.Errorf("decode type %d: %w", t, ErrUnsupportedType))
		return nil
	}
}
