package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrOutOfRange is returned when a Go value cannot be represented by the target q type.
var ErrOutOfRange = errors.New("types: value out of range")

const (
	NullShort = math.MinInt16
	NullInt   = math.MinInt32
	NullLong  = math.MinInt64
)

const (
	// DaysBetween1970And2000 is the offset between the Unix epoch and the kdb+ epoch.
	DaysBetween1970And2000 = 10957

	millisInDay               = 86400000
	nanosInDay                = 86400 * int64(time.Second)
	secondsBetween1970And2000 = DaysBetween1970And2000 * 86400
)

// Epoch is the kdb+ epoch, 2000-01-01T00:00:00Z.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Char is a single q char (one encoded byte).
type Char byte

func (c Char) String() string {
	return string(rune(c))
}

// Chars is a q char vector. Queries are sent as char vectors.
type Chars string

// Month counts months since 2000.01.
type Month int32

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month((t.Year()-2000)*12 + int(t.Month()) - 1)
}

func (m Month) IsNull() bool { return m == NullInt }

// Time returns the first instant of the month in UTC.
func (m Month) Time() time.Time {
	return Epoch.AddDate(0, int(m), 0)
}

func (m Month) String() string {
	if m.IsNull() {
		return ""
	}
	n := int(m) + 24000
	y := n / 12
	return fmt.Sprintf("%02d%02d-%02d", y/100, y%100, 1+n%12)
}

// Date counts days since 2000.01.01.
type Date int32

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) (Date, error) {
	y, m, d := t.Date()
	days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()/86400 - DaysBetween1970And2000
	if days <= NullInt || days > math.MaxInt32 {
		return Date(NullInt), fmt.Errorf("date %s: %w", t.Format(time.DateOnly), ErrOutOfRange)
	}
	return Date(days), nil
}

func (d Date) IsNull() bool { return d == NullInt }

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return Epoch.AddDate(0, 0, int(d))
}

func (d Date) String() string {
	if d.IsNull() {
		return ""
	}
	return d.Time().Format(time.DateOnly)
}

// Datetime is the deprecated q datetime: fractional days since the epoch. Null is NaN.
type Datetime float64

// NullDatetime returns the null datetime.
func NullDatetime() Datetime {
	return Datetime(math.NaN())
}

// DatetimeOf converts t with millisecond precision.
func DatetimeOf(t time.Time) Datetime {
	return Datetime(float64(t.UnixMilli()-secondsBetween1970And2000*1000) / millisInDay)
}

func (z Datetime) IsNull() bool { return math.IsNaN(float64(z)) }

// Time converts z back to a UTC instant, rounded to the millisecond.
func (z Datetime) Time() time.Time {
	return time.UnixMilli(secondsBetween1970And2000*1000 + int64(math.Round(millisInDay*float64(z)))).UTC()
}

func (z Datetime) String() string {
	if z.IsNull() {
		return ""
	}
	return z.Time().Format("2006-01-02T15:04:05.000")
}

// Timespan is a signed count of nanoseconds.
type Timespan int64

// TimespanSinceMidnight returns the time elapsed since midnight in t's location.
func TimespanSinceMidnight(t time.Time) Timespan {
	y, m, d := t.Date()
	return Timespan(t.Sub(time.Date(y, m, d, 0, 0, 0, 0, t.Location())))
}

func (n Timespan) IsNull() bool { return n == NullLong }

func (n Timespan) Duration() time.Duration { return time.Duration(n) }

func (n Timespan) String() string {
	if n.IsNull() {
		return ""
	}
	s := ""
	v := int64(n)
	if v < 0 {
		s = "-"
		v = -v
	}
	if d := v / nanosInDay; d != 0 {
		s += fmt.Sprintf("%dD", d)
	}
	v %= nanosInDay
	return s + fmt.Sprintf("%02d:%02d:%02d.%09d",
		v/int64(time.Hour), v%int64(time.Hour)/int64(time.Minute), v%int64(time.Minute)/int64(time.Second), v%int64(time.Second))
}

// Minute counts minutes since midnight.
type Minute int32

func MinuteOf(t time.Time) Minute {
	return Minute(t.Hour()*60 + t.Minute())
}

func (u Minute) IsNull() bool { return u == NullInt }

func (u Minute) String() string {
	if u.IsNull() {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", int(u)/60, int(u)%60)
}

// Second counts seconds since midnight.
type Second int32

func SecondOf(t time.Time) Second {
	return Second(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (v Second) IsNull() bool { return v == NullInt }

func (v Second) String() string {
	if v.IsNull() {
		return ""
	}
	return Minute(v/60).String() + fmt.Sprintf(":%02d", int(v)%60)
}

// Time counts milliseconds since midnight.
type Time int32

func TimeOf(t time.Time) Time {
	ms := (t.Hour()*3600+t.Minute()*60+t.Second())*1000 + t.Nanosecond()/int(time.Millisecond)
	return Time(ms % millisInDay)
}

func (t Time) IsNull() bool { return t == NullInt }

func (t Time) Duration() time.Duration { return time.Duration(t) * time.Millisecond }

func (t Time) String() string {
	if t.IsNull() {
		return ""
	}
	ms := int(t)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

// TimestampOf converts t to nanoseconds since the kdb+ epoch. The zero time maps to the null timestamp.
func TimestampOf(t time.Time) (int64, error) {
	if t.IsZero() {
		return NullLong, nil
	}
	secs := t.Unix() - secondsBetween1970And2000
	if secs >= math.MaxInt64/int64(time.Second) || secs <= math.MinInt64/int64(time.Second) {
		return NullLong, fmt.Errorf("timestamp %s: %w", t, ErrOutOfRange)
	}
	return secs*int64(time.Second) + int64(t.Nanosecond()), nil
}

// TimeOfTimestamp converts nanoseconds since the kdb+ epoch to a UTC instant. Null maps to the zero time.
func TimeOfTimestamp(n int64) time.Time {
	if n == NullLong {
		return time.Time{}
	}
	return Epoch.Add(time.Duration(n))
}
