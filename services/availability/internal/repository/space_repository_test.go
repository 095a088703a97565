package repository

import "testing"

func TestDecodeAvailability(t *testing.T) {
	a, err := DecodeAvailability([]byte(`{"recurring":{"monday":{"enabled":true,"slots":[{"start":"09:00","end":"18:00"}]},"sunday":{"enabled":false}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Day("monday").Enabled {
		t.Fatal("monday should be enabled")
	}
	if a.Day("sunday").Enabled || a.Day("tuesday").Enabled {
		t.Fatal("sunday and missing tuesday should be disabled")
	}

	for _, raw := range [][]byte{nil, []byte("null")} {
		a, err := DecodeAvailability(raw)
		if err != nil || a != nil {
			t.Fatalf("expected nil document for %q, got %+v, %v", raw, a, err)
		}
	}

	if _, err := DecodeAvailability([]byte(`{"recurring":`)); err == nil {
		t.Fatal("expected error for truncated document")
	}
}

func TestHashKey_Stable(t *testing.T) {
	if hashKey("abc") != hashKey("abc") || hashKey("abc") == hashKey("abd") {
		t.Fatal("hash must be deterministic and key-specific")
	}
	if len(hashKey("abc")) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(hashKey("abc")))
	}
}
