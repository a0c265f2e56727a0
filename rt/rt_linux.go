//go:build linux

package rt

import "golang.org/x/sys/unix"

// ElevateCurrentThread switches the calling OS thread to SCHED_FIFO with the
// given priority. The caller must have locked the goroutine to its thread.
func ElevateCurrentThread(priority int) error {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	return unix.SchedSetAttr(0, &attr, 0)
}
