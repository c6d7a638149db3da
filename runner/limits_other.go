//go:build !linux

package runner

// Apply always fails: without rlimits and seccomp the runner would execute
// code with none of its ceilings in place.
func Apply(Limits) error {
	return ErrUnsupportedPlatform
}
