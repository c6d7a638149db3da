// Package runner is the restricted runtime that executes inside the sandbox
// container.
//
// It reads the submitted code from stdin, applies OS ceilings to its own
// process (CPU time, address space, output file size, and a seccomp filter
// that denies starting new programs) and then evaluates the code with a
// Starlark interpreter whose only reachable names are AllowedNames. There is
// no import statement, no file or network access, and no process control in
// that environment: those capabilities are never bound.
//
// A CPU ceiling breach, observed either by the usage monitor or as SIGXCPU
// from the kernel, stops the interpreter and is reported as a TimeoutError
// with exit code 124. The hard RLIMIT_CPU one second later remains the
// backstop when the catchable path cannot run.
package runner
