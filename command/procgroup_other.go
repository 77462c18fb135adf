//go:build !unix

package command

import "os/exec"

// killProcessGroup keeps the default cancel; WaitDelay still bounds Run.
func killProcessGroup(cmd *exec.Cmd) {}
