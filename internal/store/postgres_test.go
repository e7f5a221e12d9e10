package store

import (
	"encoding/hex"
	"testing"

	"facloc/internal/cflp"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"run.completed"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
	if computeDedupKey(body) != got {
		t.Fatalf("hash key not stable")
	}
}

func TestSolutionColumnRoundTrip(t *testing.T) {
	s := cflp.Solution{2, cflp.Unassigned, 0}
	back := fromInt64s(toInt64s(s))
	if len(back) != 3 || back[0] != 2 || back[1] != cflp.Unassigned || back[2] != 0 {
		t.Fatalf("unexpected solution %v", back)
	}
}

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty -> nil expected")
	}
	if v := nullIfEmpty("boom"); v != "boom" {
		t.Fatalf("got %v", v)
	}
}
