package worker

import "os"

// processTerminateSignal returns the signal sent to ask a worker process
// to shut down cleanly before the grace period forces a kill.
func processTerminateSignal() os.Signal {
	return terminateSignal
}
