//go:build linux

package runner

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	seccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

// Apply installs the ceilings on the current process. It must run before any
// submitted code and cannot be undone.
func Apply(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if !seccomp.Supported() {
		return fmt.Errorf("seccomp is not available on this kernel")
	}

	cpu := l.cpuSeconds()
	// The soft limit raises SIGXCPU, which the monitor catches. The hard
	// limit one second later is the kernel's SIGKILL backstop.
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu + 1}); err != nil {
		return fmt.Errorf("set rlimit cpu: %w", err)
	}

	// The Go runtime reserves address space up front, so the ceiling sits on
	// top of what is already mapped.
	baseline, err := virtualMemorySize()
	if err != nil {
		return err
	}
	as := baseline + l.memoryBytes()
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: as, Max: as}); err != nil {
		return fmt.Errorf("set rlimit as: %w", err)
	}
	debug.SetMemoryLimit(int64(l.memoryBytes()))
	// An allocation refused by RLIMIT_AS is fatal to the runtime; its
	// goroutine dump describes the host, not the program.
	debug.SetTraceback("none")

	out := uint64(l.MaxOutputBytes)
	if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: out, Max: out}); err != nil {
		return fmt.Errorf("set rlimit fsize: %w", err)
	}

	if err := seccomp.LoadFilter(childProcessFilter()); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

// childProcessFilter denies every way of starting a new program. Thread
// creation (clone) stays allowed because the Go runtime needs it; RLIMIT_NPROC
// is not used for the same reason. The container pids limit caps threads.
func childProcessFilter() seccomp.Filter {
	names := []string{"execve", "execveat"}
	switch runtime.GOARCH {
	case "amd64", "386":
		names = append(names, "fork", "vfork")
	}

	return seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy: seccomp.Policy{
			DefaultAction: seccomp.ActionAllow,
			Syscalls: []seccomp.SyscallGroup{
				{
					Action: seccomp.ActionErrno,
					Names:  names,
				},
			},
		},
	}
}

// virtualMemorySize reads the current VmSize from /proc/self/statm.
func virtualMemorySize() (uint64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("read statm: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected statm content %q", data)
	}
	pages, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse statm: %w", err)
	}
	return pages * uint64(os.Getpagesize()), nil
}
