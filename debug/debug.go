// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — cold-path diagnostic logging (no fmt, no log package)
//
// Purpose:
//   - Reports wiring events (bins committed, nodes activated) and contract
//     violations caught in release builds.
//   - Used only in cold paths: startup, teardown, exhaustion reports on the
//     UI side.
//
// ⚠️ Never invoke from a real-time callback on a success path.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import "retrohost/utils"

// DropError logs "<prefix>: <err>" or just "<prefix>" when err is nil.
//
//go:nosplit
//go:inline
func DropError(prefix string, err error) {
	if err != nil {
		utils.PrintWarning(prefix + ": " + err.Error() + "\n")
		return
	}
	utils.PrintWarning(prefix + "\n")
}

// DropMessage logs "<prefix>: <message>".
//
//go:nosplit
//go:inline
func DropMessage(prefix, message string) {
	utils.PrintWarning(prefix + ": " + message + "\n")
}
