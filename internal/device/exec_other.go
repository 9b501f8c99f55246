//go:build !unix

package device

import "errors"

func execve(string, []string, []string) error {
	return errors.New("restart not supported on this platform")
}
