//go:build unix

package lockfile

import "golang.org/x/sys/unix"

// processAlive sends signal 0 to pid, the standard Unix idiom for checking
// whether a process exists without affecting it.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}
