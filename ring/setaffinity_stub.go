//go:build !linux

// setaffinity_stub.go
//
// No thread pinning outside Linux.

package ring

func setAffinity(int) {}
