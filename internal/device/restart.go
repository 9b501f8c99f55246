package device

import (
	"fmt"
	"os"
)

// Restarter restarts the process. A successful Restart does not return.
type Restarter interface {
	Restart() error
}

// ExecRestarter restarts by re-executing the running binary with the same
// arguments and environment.
type ExecRestarter struct{}

// Restart replaces the process image.
func (ExecRestarter) Restart() error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	if err := execve(path, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}

// FakeRestarter counts restarts instead of performing them.
type FakeRestarter struct {
	Calls int
	Err   error
}

// Restart records the call.
func (f *FakeRestarter) Restart() error {
	f.Calls++
	return f.Err
}
