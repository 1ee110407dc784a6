// relax_stub.go
//
// Portable spin back-off. Declared as an empty function so cold-spin loops
// compile unchanged on every architecture.

package ring

// cpuRelax is a no-op hint used between failed polls.
func cpuRelax() {}
