package signals

import (
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler registers for SIGINT and SIGTERM and returns a stop
// channel that is closed on the first signal, giving the control loop a
// chance to flush its telemetry session. A second signal exits
// immediately with code 1.
func SetupSignalHandler() <-chan struct{} {
	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		close(stop)
		<-sigCh
		os.Exit(1)
	}()

	return stop
}
