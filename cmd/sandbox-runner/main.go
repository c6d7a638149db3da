// Package main is the restricted runtime started inside every sandbox
// container. It reads code from stdin, locks its own process down and runs the
// code with the allow-listed interpreter.
//
// Exit codes: 0 success, 1 program error or ceiling breach, 124 CPU timeout,
// 125 the limits could not be applied and nothing was run. An allocation the
// address-space ceiling refuses is fatal to the Go runtime and exits with 2.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/runner"
)

type options struct {
	cpuSeconds     int
	memoryMB       int
	maxOutputBytes int
	logLevel       string
}

func main() {
	os.Exit(execute())
}

func execute() int {
	exitCode := runner.ExitSetup
	opts := options{}

	cmd := &cobra.Command{
		Use:           "sandbox-runner",
		Short:         "Run code from stdin under fixed resource ceilings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := run(cmd, opts)
			exitCode = code
			return err
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.cpuSeconds, "cpu-seconds", 0, "CPU time ceiling (overrides "+runner.EnvCPUSeconds+")")
	flags.IntVar(&opts.memoryMB, "memory-mb", 0, "memory ceiling (overrides "+runner.EnvMemoryMB+")")
	flags.IntVar(&opts.maxOutputBytes, "max-output-bytes", 0, "output ceiling (overrides "+runner.EnvMaxOutputBytes+")")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "runner log level, written to stderr")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox-runner: %v\n", err)
		return runner.ExitSetup
	}
	return exitCode
}

func run(cmd *cobra.Command, opts options) (int, error) {
	log, err := logger.NewStderr(opts.logLevel)
	if err != nil {
		return runner.ExitSetup, err
	}
	defer func() { _ = log.Sync() }()

	limits, err := runner.LimitsFromEnv(os.LookupEnv)
	if err != nil {
		return runner.ExitSetup, err
	}
	flags := cmd.Flags()
	if flags.Changed("cpu-seconds") {
		limits.CPUTime = time.Duration(opts.cpuSeconds) * time.Second
	}
	if flags.Changed("memory-mb") {
		limits.MemoryMB = opts.memoryMB
	}
	if flags.Changed("max-output-bytes") {
		limits.MaxOutputBytes = opts.maxOutputBytes
	}

	code, err := runner.ReadCode(cmd.InOrStdin(), runner.MaxCodeBytes)
	if err != nil {
		// Oversized input is the submitter's fault, not the runtime's.
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return runner.ExitFault, nil
	}

	if err := runner.Apply(limits); err != nil {
		return runner.ExitSetup, fmt.Errorf("apply limits: %w", err)
	}
	log.Debug("limits applied",
		zap.Duration("cpu_time", limits.CPUTime),
		zap.Int("memory_mb", limits.MemoryMB),
		zap.Int("max_output_bytes", limits.MaxOutputBytes))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	r := runner.New(log, limits, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return r.Run(ctx, code), nil
}
