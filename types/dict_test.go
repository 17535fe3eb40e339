package types

import (
	"errors"
	"reflect"
	"testing"
)

func TestDictHoldsKeysAndValues(t *testing.T) {
	keys := []string{"Key"}
	values := []any{[]string{"Value1", "Value2", "Value3"}}
	dict := NewDict(keys, values)

	if !reflect.DeepEqual(dict.Keys, keys) || !reflect.DeepEqual(dict.Values, values) {
		t.Fatalf("unexpected dict contents: %+v", dict)
	}
	if dict.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", dict.Len())
	}
}

func TestTableFromDict(t *testing.T) {
	column := []string{"Value1", "Value2", "Value3"}
	table, err := TableFromDict(NewDict([]string{"Key"}, []any{column}))
	if err != nil {
		t.Fatalf("table from dict: %v", err)
	}
	if !reflect.DeepEqual(table.Columns, []string{"Key"}) {
		t.Fatalf("columns = %v", table.Columns)
	}
	got, ok := table.Column("Key")
	if !ok {
		t.Fatal("expected Key column")
	}
	if !reflect.DeepEqual(got, column) {
		t.Fatalf("column = %v", got)
	}
	if table.Rows() != 3 {
		t.Fatalf("rows = %d", table.Rows())
	}
}

func TestTableUnknownColumn(t *testing.T) {
	table := NewTable([]string{"Key"}, []any{[]int64{1}})
	if _, ok := table.Column("RUBBISH"); ok {
		t.Fatal("expected unknown column to be reported missing")
	}
}

func TestTableFromDictRejectsMalformedInput(t *testing.T) {
	cases := map[string]*Dict{
		"nil dict":        nil,
		"non-symbol keys": NewDict([]int64{1}, []any{[]int64{1}}),
		"non-list values": NewDict([]string{"a"}, []int64{1}),
		"count mismatch":  NewDict([]string{"a", "b"}, []any{[]int64{1}}),
	}
	for name, dict := range cases {
		if _, err := TableFromDict(dict); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCount(t *testing.T) {
	if Count(nil) != 0 {
		t.Fatal("nil count")
	}
	if Count(int64(5)) != 1 {
		t.Fatal("atom count")
	}
	if Count([]float64{1, 2}) != 2 {
		t.Fatal("slice count")
	}
	if Count(Chars("abc")) != 3 {
		t.Fatal("chars count")
	}
	if Count(NewTable([]string{"a"}, []any{[]int32{1, 2, 3, 4}})) != 4 {
		t.Fatal("table count")
	}
}

func TestFunctionString(t *testing.T) {
	if got := (Function{Type: TEach}).String(); got != "func(each)" {
		t.Fatalf("got %q", got)
	}
	if got := (Lambda{Body: "{x+y}"}).String(); got != "{x+y}" {
		t.Fatalf("got %q", got)
	}
}

func TestDictCheck(t *testing.T) {
	valid := map[string]*Dict{
		"lists":       NewDict([]string{"a", "b"}, []int64{1, 2}),
		"atoms":       NewDict("a", int64(1)),
		"keyed table": NewDict(NewTable([]string{"k"}, []any{[]int64{1, 2}}), NewTable([]string{"v"}, []any{[]float64{1, 2}})),
		"empty":       NewDict([]string{}, []any{}),
	}
	for name, d := range valid {
		if err := d.Check(); err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
	}

	err := NewDict([]string{"a", "b"}, []int64{1}).Check()
	if !errors.Is(err, ErrLength) {
		t.Fatalf("expected length error, got %v", err)
	}
}
