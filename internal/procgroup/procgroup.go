// SPDX-License-Identifier: MIT

// Package procgroup spawns child processes in their own process group
// and tears the whole group down on cancellation. Killing the group is
// the only way to guarantee bounded-time teardown of in-flight pipe I/O:
// the broken pipe unblocks both the feeder and the drainer.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Set configures the command to start in a new process group.
// Mandatory for KillGroup to function as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group tree: SIGTERM, wait for
// the grace period, then SIGKILL. The process MUST have been spawned
// with procgroup.Set(cmd).
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
