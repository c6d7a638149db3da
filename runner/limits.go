package runner

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Environment variables the supervisor sets on the runtime.
const (
	EnvCPUSeconds     = "SANDBOX_CPU_SECONDS"
	EnvMemoryMB       = "SANDBOX_MEMORY_MB"
	EnvMaxOutputBytes = "SANDBOX_MAX_OUTPUT_BYTES"
)

// Exit codes of the sandbox-runner process.
const (
	ExitOK      = 0
	ExitFault   = 1   // the submitted program failed
	ExitTimeout = 124 // the CPU ceiling was hit
	ExitSetup   = 125 // the limits could not be applied; nothing was run
)

// MaxCodeBytes bounds what is read from stdin.
const MaxCodeBytes = 1 << 20

// ErrUnsupportedPlatform is returned by Apply where the OS-level ceilings
// cannot be installed. The runner refuses to execute in that case.
var ErrUnsupportedPlatform = errors.New("resource limits are only supported on linux")

// Limits are the ceilings the runner applies to its own process.
type Limits struct {
	CPUTime        time.Duration
	MemoryMB       int
	MaxOutputBytes int
}

// DefaultLimits matches the supervisor defaults.
func DefaultLimits() Limits {
	return Limits{
		CPUTime:        2 * time.Second,
		MemoryMB:       128,
		MaxOutputBytes: 1 << 20,
	}
}

// Validate rejects non-positive ceilings.
func (l Limits) Validate() error {
	if l.CPUTime <= 0 {
		return fmt.Errorf("cpu time must be positive, got %s", l.CPUTime)
	}
	if l.MemoryMB <= 0 {
		return fmt.Errorf("memory must be positive, got %d", l.MemoryMB)
	}
	if l.MaxOutputBytes <= 0 {
		return fmt.Errorf("max output must be positive, got %d", l.MaxOutputBytes)
	}
	return nil
}

// LimitsFromEnv overrides the defaults with whatever lookup provides.
func LimitsFromEnv(lookup func(string) (string, bool)) (Limits, error) {
	l := DefaultLimits()

	read := func(name string, dst *int) error {
		raw, ok := lookup(name)
		if !ok || raw == "" {
			return nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		*dst = v
		return nil
	}

	cpu := int(l.CPUTime / time.Second)
	if err := read(EnvCPUSeconds, &cpu); err != nil {
		return Limits{}, err
	}
	l.CPUTime = time.Duration(cpu) * time.Second

	if err := read(EnvMemoryMB, &l.MemoryMB); err != nil {
		return Limits{}, err
	}
	if err := read(EnvMaxOutputBytes, &l.MaxOutputBytes); err != nil {
		return Limits{}, err
	}

	return l, l.Validate()
}

func (l Limits) memoryBytes() uint64 {
	return uint64(l.MemoryMB) << 20
}

func (l Limits) cpuSeconds() uint64 {
	secs := l.CPUTime / time.Second
	if l.CPUTime%time.Second != 0 {
		secs++
	}
	return uint64(secs)
}
