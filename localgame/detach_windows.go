//go:build windows

package localgame

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// detach starts the client without inheriting our console.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.DETACHED_PROCESS}
}
