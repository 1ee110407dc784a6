//go:build release

package bus

// assertionsEnabled is off in release builds: violations are logged and the
// offending message is dropped.
const assertionsEnabled = false
