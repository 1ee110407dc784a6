//go:build linux

// setaffinity_linux.go
//
// Pins the calling OS thread to one logical CPU through sched_setaffinity(2).
// Errors are swallowed: inside containers the call may be EPERM/EINVAL and
// the fallback is simply "no pin".

package ring

import "golang.org/x/sys/unix"

// setAffinity pins the current thread to cpu (0-based). Negative indices
// are ignored; CPUSet.Set drops indices beyond the mask.
func setAffinity(cpu int) {
	if cpu < 0 {
		return
	}
	var set unix.CPUSet
	set.Set(cpu)
	_ = unix.SchedSetaffinity(0, &set) // pid 0 → current thread
}
