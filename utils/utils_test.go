package utils

import (
	"strconv"
	"testing"
)

// ============================================================================
// SIZING HELPERS
// ============================================================================

func TestNextPow2(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-4, 1}, {0, 1}, {1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {100, 128}, {1024, 1024}, {1025, 2048},
	}
	for _, tt := range tests {
		if got := NextPow2(tt.in); got != tt.want {
			t.Fatalf("NextPow2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIsPow2(t *testing.T) {
	for _, n := range []int{1, 2, 4, 64, 1 << 20} {
		if !IsPow2(n) {
			t.Fatalf("IsPow2(%d) = false", n)
		}
	}
	for _, n := range []int{-8, 0, 3, 6, 100} {
		if IsPow2(n) {
			t.Fatalf("IsPow2(%d) = true", n)
		}
	}
}

// ============================================================================
// FORMATTING
// ============================================================================

func TestItoaMatchesStrconv(t *testing.T) {
	for _, n := range []int{0, 1, -1, 9, 10, 12345, -987654, 1 << 40} {
		if got, want := Itoa(n), strconv.Itoa(n); got != want {
			t.Fatalf("Itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestB2s(t *testing.T) {
	if B2s(nil) != "" {
		t.Fatal("B2s(nil) should be empty")
	}
	if got := B2s([]byte("audio")); got != "audio" {
		t.Fatalf("B2s = %q", got)
	}
}

func BenchmarkItoa(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Itoa(i)
	}
}
