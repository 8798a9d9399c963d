//go:build windows

package run

import "os"

var interruptSignals = []os.Signal{os.Interrupt}

func isSuspend(os.Signal) bool {
	return false
}
