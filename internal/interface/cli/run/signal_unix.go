//go:build !windows

package run

import (
	"os"
	"syscall"
)

// interruptSignals end a run after the current phase flushes its state.
// SIGTSTP is included so Ctrl+Z does not freeze a phase mid-write.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGTSTP}

func isSuspend(sig os.Signal) bool {
	return sig == syscall.SIGTSTP
}
