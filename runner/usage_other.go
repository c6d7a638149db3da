//go:build !unix

package runner

import (
	"errors"
	"os"
	"time"
)

func processCPUTime() (time.Duration, error) {
	return 0, errors.New("cpu usage is not available on this platform")
}

func notifyCPUExceeded() (<-chan os.Signal, func()) {
	return nil, func() {}
}
