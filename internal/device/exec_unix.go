//go:build unix

package device

import "syscall"

func execve(path string, argv, envv []string) error {
	return syscall.Exec(path, argv, envv)
}
