package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNetUidString(t *testing.T) {
	if got := ScalarNetUid(67).String(); got != "67" {
		t.Fatalf("scalar render: %q", got)
	}
	if got := PairNetUid(67, 73).String(); got != "67→73" {
		t.Fatalf("pair render: %q", got)
	}
	if got := AmbiguousNetUid([]uint64{21, 1, 3}).String(); got != "[1, 3, 21]" {
		t.Fatalf("ambiguous render: %q", got)
	}
	if got := UnknownNetUid().String(); got != "Unknown" {
		t.Fatalf("unknown render: %q", got)
	}
}

func TestAmbiguousNetUidSortsAndDedups(t *testing.T) {
	got := AmbiguousNetUid([]uint64{3, 1, 3, 21, 1})
	want := []uint64{1, 3, 21}
	if !reflect.DeepEqual(got.Candidates, want) {
		t.Fatalf("candidates mismatch: %v != %v", got.Candidates, want)
	}
}

func TestNetUidJSONIsRenderedForm(t *testing.T) {
	data, err := json.Marshal(PairNetUid(82, 82))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "\"82→82\"" {
		t.Fatalf("unexpected json: %s", data)
	}
}
