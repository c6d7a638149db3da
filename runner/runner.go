package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 20 * time.Millisecond
	sourceName          = "<stdin>"
	heapMetric          = "/memory/classes/heap/objects:bytes"
)

type breach int32

const (
	breachNone breach = iota
	breachCPU
	breachMemory
	breachOutput
)

// Messages written to stderr when a ceiling stops the program.
const (
	TimeoutMessage = "TimeoutError: execution exceeded the CPU time limit"
	MemoryMessage  = "MemoryError: memory limit exceeded"
	OutputMessage  = "OutputLimitError: output limit exceeded"
)

// Runner executes one submission with the allow-listed interpreter and
// watches its CPU, memory and output consumption.
type Runner struct {
	logger       *zap.Logger
	limits       Limits
	stdout       io.Writer
	stderr       io.Writer
	pollInterval time.Duration
	cpuClock     func() (time.Duration, error)
}

// Option defines a functional option for Runner
type Option func(*Runner)

// WithPollInterval sets how often resource usage is sampled.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.pollInterval = d
	}
}

// New creates a Runner writing program output to stdout and stderr.
func New(logger *zap.Logger, limits Limits, stdout, stderr io.Writer, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		limits:       limits,
		stdout:       stdout,
		stderr:       stderr,
		pollInterval: defaultPollInterval,
		cpuClock:     processCPUTime,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadCode reads the submission from r, refusing more than maxBytes.
func ReadCode(r io.Reader, maxBytes int) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(maxBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}
	if len(data) > maxBytes {
		return "", fmt.Errorf("code exceeds %d bytes", maxBytes)
	}
	return string(data), nil
}

// Run executes code and returns the process exit code. Program failures and
// ceiling breaches are reported on stderr, never returned.
func (r *Runner) Run(ctx context.Context, code string) int {
	var tripped atomic.Int32

	thread := &starlark.Thread{Name: "main"}
	out := &outputWriter{w: r.stdout, remaining: r.limits.MaxOutputBytes}
	thread.Print = func(t *starlark.Thread, msg string) {
		if !out.writeLine(msg) {
			trip(t, &tripped, breachOutput)
		}
	}

	stop := r.monitor(ctx, thread, &tripped)
	_, err := starlark.ExecFileOptions(fileOptions, thread, sourceName, code, capabilities())
	stop()

	switch breach(tripped.Load()) {
	case breachCPU:
		r.report(TimeoutMessage)
		return ExitTimeout
	case breachMemory:
		r.report(MemoryMessage)
		return ExitFault
	case breachOutput:
		r.report(OutputMessage)
		return ExitFault
	}

	if err != nil {
		r.report(formatError(err))
		return ExitFault
	}
	return ExitOK
}

func (r *Runner) report(msg string) {
	if _, err := fmt.Fprintln(r.stderr, msg); err != nil {
		r.logger.Debug("failed to write to stderr", zap.Error(err))
	}
}

// trip records the first breach and stops the interpreter.
func trip(thread *starlark.Thread, tripped *atomic.Int32, b breach) {
	if tripped.CompareAndSwap(int32(breachNone), int32(b)) {
		thread.Cancel(fmt.Sprintf("limit exceeded (%d)", b))
	}
}

// monitor samples CPU time and heap size until the returned stop is called.
// SIGXCPU from the soft RLIMIT_CPU is treated like a sampled CPU breach.
func (r *Runner) monitor(ctx context.Context, thread *starlark.Thread, tripped *atomic.Int32) func() {
	cpuStart, cpuErr := r.cpuClock()
	if cpuErr != nil {
		r.logger.Warn("cpu usage unavailable, relying on rlimit only", zap.Error(cpuErr))
	}
	heap := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(heap)
	heapStart := heapBytes(heap[0])

	sigCh, stopSignals := notifyCPUExceeded()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				trip(thread, tripped, breachCPU)
				return
			case <-sigCh:
				trip(thread, tripped, breachCPU)
				return
			case <-ticker.C:
				if cpuErr == nil {
					used, err := r.cpuClock()
					if err == nil && used-cpuStart >= r.limits.CPUTime {
						trip(thread, tripped, breachCPU)
						return
					}
				}
				metrics.Read(heap)
				if heapBytes(heap[0]) > heapStart+r.limits.memoryBytes() {
					trip(thread, tripped, breachMemory)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		stopSignals()
	}
}

func heapBytes(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}

// formatError renders interpreter errors the way a user expects to read them.
func formatError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) {
		msg := ""
		for i, e := range resolveErrs {
			if i > 0 {
				msg += "\n"
			}
			msg += e.Error()
		}
		return msg
	}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return "SyntaxError: " + syntaxErr.Error()
	}
	return err.Error()
}

// outputWriter enforces the output ceiling across every print.
type outputWriter struct {
	mu        sync.Mutex
	w         io.Writer
	remaining int
}

// writeLine reports false once the ceiling is exceeded; the line that
// crossed it is written up to the ceiling.
func (o *outputWriter) writeLine(msg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	line := msg + "\n"
	if len(line) > o.remaining {
		_, _ = io.WriteString(o.w, line[:o.remaining])
		o.remaining = 0
		return false
	}
	o.remaining -= len(line)
	_, _ = io.WriteString(o.w, line)
	return true
}
