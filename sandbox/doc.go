// Package sandbox provides secure code execution capabilities.
//
// The sandbox package runs untrusted code in one disposable isolated runtime
// per request. It supports the docker and podman CLIs, the Docker Engine API,
// and local execution (for development).
//
// Every backend applies the same immutable Policy: no network, a read-only
// filesystem, memory, CPU, process count and output ceilings, and an outer
// wall-clock deadline owned by the supervisor. The submitted code is written
// to the runtime's stdin and never appears in an argument vector. A deadline
// hit at any layer surfaces as ErrTimeout; a runtime that could not be
// launched surfaces as an *InfrastructureError.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(logger, cfg)
//	result, err := executor.Execute(ctx, sandbox.ExecuteRequest{
//	    ID:   uuid.NewString(),
//	    Code: "print('Hello, World!')",
//	})
package sandbox
