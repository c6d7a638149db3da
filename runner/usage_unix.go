//go:build unix

package runner

import (
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"
)

// processCPUTime is user plus system time of the whole process.
func processCPUTime() (time.Duration, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), nil
}

// notifyCPUExceeded delivers SIGXCPU, raised at the soft RLIMIT_CPU.
func notifyCPUExceeded() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGXCPU)
	return ch, func() { signal.Stop(ch) }
}
