package unwind

import (
	"fmt"
	"syscall"

	sys "golang.org/x/sys/unix"
)

// Attach stops pid under ptrace and waits for the stop to be delivered.
// The target must be stopped before a cursor can read its memory and
// registers. The attachment is process-wide state: detach with Detach when
// done, and do so from the same OS thread that attached.
func Attach(pid int) error {
	if err := sys.PtraceAttach(pid); err != nil {
		return fmt.Errorf("could not attach to pid %d: %w", pid, err)
	}

	var status sys.WaitStatus
	for {
		wpid, err := sys.Wait4(pid, &status, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			_ = sys.PtraceDetach(pid)
			return fmt.Errorf("waiting for pid %d to stop: %w", pid, err)
		}
		if wpid == pid && status.Stopped() {
			return nil
		}
	}
}

// Detach resumes pid and releases the ptrace attachment.
func Detach(pid int) error {
	return sys.PtraceDetach(pid)
}
