// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: utils.go — allocation-free helpers shared by the bus runtime
//
// Purpose:
//   - Power-of-two sizing helpers for rings, queues and pool bins.
//   - Integer formatting and raw stderr output for cold-path diagnostics.
//
// Notes:
//   - Nothing here takes a lock or touches fmt; safe to call from the
//     real-time side when a diagnostic is unavoidable.
// ─────────────────────────────────────────────────────────────────────────────

package utils

import (
	"math/bits"
	"syscall"
	"unsafe"
)

// B2s converts a []byte to string without an allocation.
// The caller must keep b immutable for the lifetime of the string.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// IsPow2 reports whether n is a positive power of two.
//
//go:nosplit
//go:inline
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPow2 returns the smallest power of two >= n (1 for n <= 1).
//
//go:nosplit
//go:inline
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Itoa formats a non-negative or negative int using a stack buffer.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// PrintWarning writes msg straight to stderr, bypassing the log package.
//
//go:nosplit
func PrintWarning(msg string) {
	if len(msg) == 0 {
		return
	}
	_, _ = syscall.Write(2, unsafe.Slice(unsafe.StringData(msg), len(msg)))
}

// PrintInfo writes msg straight to stdout.
//
//go:nosplit
func PrintInfo(msg string) {
	if len(msg) == 0 {
		return
	}
	_, _ = syscall.Write(1, unsafe.Slice(unsafe.StringData(msg), len(msg)))
}
