// Package types defines the Go representations of q data types and their kdb+ type codes.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is a kdb+ type code. Atoms are negative, vectors positive, the general list is 0.
type Type int8

const (
	TList      Type = 0
	TBoolean   Type = 1
	TGUID      Type = 2
	TByte      Type = 4
	TShort     Type = 5
	TInt       Type = 6
	TLong      Type = 7
	TReal      Type = 8
	TFloat     Type = 9
	TChar      Type = 10
	TSymbol    Type = 11
	TTimestamp Type = 12
	TMonth     Type = 13
	TDate      Type = 14
	TDatetime  Type = 15
	TTimespan  Type = 16
	TMinute    Type = 17
	TSecond    Type = 18
	TTime      Type = 19

	TTable          Type = 98
	TDict           Type = 99
	TLambda         Type = 100
	TUnaryPrimitive Type = 101
	TOperator       Type = 102
	TIterator       Type = 103
	TProjection     Type = 104
	TComposition    Type = 105
	TEach           Type = 106
	TOver           Type = 107
	TScan           Type = 108
	TParallelEach   Type = 109
	TEachRight      Type = 110
	TEachLeft       Type = 111
	TDynamicLoad    Type = 112
	TSortedDict     Type = 127

	TError Type = -128
)

// elemSizes holds the per-element byte size for vector types 0..19. Zero means variable.
var elemSizes = [...]int{0, 1, 16, 0, 1, 2, 4, 8, 4, 8, 1, 0, 8, 4, 4, 8, 8, 4, 4, 4}

var typeNames = map[Type]string{
	TList:           "list",
	TBoolean:        "boolean",
	TGUID:           "guid",
	TByte:           "byte",
	TShort:          "short",
	TInt:            "int",
	TLong:           "long",
	TReal:           "real",
	TFloat:          "float",
	TChar:           "char",
	TSymbol:         "symbol",
	TTimestamp:      "timestamp",
	TMonth:          "month",
	TDate:           "date",
	TDatetime:       "datetime",
	TTimespan:       "timespan",
	TMinute:         "minute",
	TSecond:         "second",
	TTime:           "time",
	TTable:          "table",
	TDict:           "dict",
	TLambda:         "lambda",
	TUnaryPrimitive: "unary primitive",
	TOperator:       "operator",
	TIterator:       "iterator",
	TProjection:     "projection",
	TComposition:    "composition",
	TEach:           "each",
	TOver:           "over",
	TScan:           "scan",
	TParallelEach:   "each-parallel",
	TEachRight:      "each-right",
	TEachLeft:       "each-left",
	TDynamicLoad:    "dynamic load",
	TSortedDict:     "sorted dict",
	TError:          "error",
}

// IsAtom reports whether t is an atom type code.
func (t Type) IsAtom() bool {
	return t < 0
}

// Atom returns the atom code for a basic vector type.
func (t Type) Atom() Type {
	if t > 0 && t <= TTime {
		return -t
	}
	return t
}

// Vector returns the vector code for a basic atom type.
func (t Type) Vector() Type {
	if t < 0 && t >= -TTime {
		return -t
	}
	return t
}

// ElemSize returns the number of bytes one element of t occupies on the wire.
// Variable-width and non-basic types report 0.
func (t Type) ElemSize() int {
	v := t.Vector()
	if v >= 0 && int(v) < len(elemSizes) {
		return elemSizes[v]
	}
	return 0
}

func (t Type) String() string {
	if t < 0 && t != TError {
		if name, ok := typeNames[-t]; ok {
			return name + " atom"
		}
	}
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int8(t))
}

// Typed is implemented by values that report their own type code.
type Typed interface {
	QType() Type
}

// TypeOf returns the type code v serialises as. Values implementing Typed report their
// own code. Values outside the model report TList; nil reports TUnaryPrimitive, the generic null.
func TypeOf(v any) Type {
	switch x := v.(type) {
	case Typed:
		return x.QType()
	case nil:
		return TUnaryPrimitive
	case bool:
		return -TBoolean
	case uuid.UUID:
		return -TGUID
	case byte:
		return -TByte
	case int16:
		return -TShort
	case int32:
		return -TInt
	case int64, int:
		return -TLong
	case float32:
		return -TReal
	case float64:
		return -TFloat
	case Char:
		return -TChar
	case string:
		return -TSymbol
	case time.Time:
		return -TTimestamp
	case Month:
		return -TMonth
	case Date:
		return -TDate
	case Datetime:
		return -TDatetime
	case Timespan, time.Duration:
		return -TTimespan
	case Minute:
		return -TMinute
	case Second:
		return -TSecond
	case Time:
		return -TTime
	case []bool:
		return TBoolean
	case []uuid.UUID:
		return TGUID
	case []byte:
		return TByte
	case []int16:
		return TShort
	case []int32:
		return TInt
	case []int64:
		return TLong
	case []float32:
		return TReal
	case []float64:
		return TFloat
	case Chars:
		return TChar
	case []string:
		return TSymbol
	case []time.Time:
		return TTimestamp
	case []Month:
		return TMonth
	case []Date:
		return TDate
	case []Datetime:
		return TDatetime
	case []Timespan, []time.Duration:
		return TTimespan
	case []Minute:
		return TMinute
	case []Second:
		return TSecond
	case []Time:
		return TTime
	case *Table:
		return TTable
	case *Dict:
		return TDict
	default:
		return TList
	}
}
