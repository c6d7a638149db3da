package sandbox

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a wall-clock or CPU ceiling was exceeded at any
// layer. The runtime has been killed and reaped by the time it is returned.
var ErrTimeout = errors.New("execution timeout")

// InfrastructureError reports that the isolated runtime could not be
// launched or managed. It is never caused by the submitted program.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("sandbox %s failed: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func infraError(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure reports whether err is, or wraps, an *InfrastructureError.
func IsInfrastructure(err error) bool {
	var infra *InfrastructureError
	return errors.As(err, &infra)
}
