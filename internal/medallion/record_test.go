package medallion

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestRecordKeepsFirstAppearanceOrder(t *testing.T) {
	r := NewRecord()
	r.Set("name", "Alpha")
	r.Set("state", "Texas")
	r.Set("name", "Beta")

	if got, want := r.Keys(), []string{"name", "state"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if v, _ := r.Get("name"); v != "Beta" {
		t.Errorf("Get(name) = %v, want Beta", v)
	}
}

func TestUnionKeys(t *testing.T) {
	records := []Record{
		RecordOf("id", "1", "state", "Ohio"),
		RecordOf("state", "Iowa", "brewery_type", "micro"),
		RecordOf("phone", nil, "id", "3"),
	}

	got := UnionKeys(records)
	want := []string{"id", "state", "brewery_type", "phone"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UnionKeys() = %v, want %v", got, want)
	}
}

func TestText(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{json.Number("-97.46818222"), "-97.46818222"},
		{true, "true"},
		{int64(42), "42"},
		{1.5, "1.5"},
	}
	for _, c := range cases {
		if got := Text(c.in); got != c.want {
			t.Errorf("Text(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLayoutPaths(t *testing.T) {
	l := Layout{BronzeRoot: "b", SilverRoot: "s", GoldRoot: "g", Context: "brewery"}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got := l.BronzeKey(); got != "brewery/bronze_brewery.csv" {
		t.Errorf("BronzeKey() = %q", got)
	}
	if got := l.SilverTable(); got != "brewery/" {
		t.Errorf("SilverTable() = %q", got)
	}

	bad := Layout{BronzeRoot: "b", Context: "a/b"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for incomplete layout")
	}
}

func TestStageErrorsUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	var err error = &WriteError{Stage: StageBronze, Artifact: "x.csv", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("WriteError should unwrap to its cause")
	}
	var we *WriteError
	if !errors.As(err, &we) || we.Stage != StageBronze {
		t.Errorf("errors.As failed: %v", err)
	}
}
