//go:build windows

package worker

import "os"

var terminateSignal os.Signal = os.Kill
