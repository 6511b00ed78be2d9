//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonProcess sets Unix process attributes so mentord outlives the CLI
func configureDaemonProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
