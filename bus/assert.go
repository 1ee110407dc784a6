//go:build !release

package bus

// assertionsEnabled turns contract violations (pushing without capacity,
// dispatching an unregistered call) into panics.
const assertionsEnabled = true
