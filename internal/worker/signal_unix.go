//go:build !windows

package worker

import (
	"os"
	"syscall"
)

var terminateSignal os.Signal = syscall.SIGTERM
