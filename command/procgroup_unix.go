//go:build unix

package command

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the command in its own process group so a timeout
// also kills the grandchildren a shell wrapper leaves behind.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
