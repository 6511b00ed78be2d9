//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonProcess sets Windows process attributes so mentord outlives the CLI
func configureDaemonProcess(cmd *exec.Cmd) {
	// CREATE_NEW_PROCESS_GROUP detaches from parent console on Windows
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
