//go:build !windows

package localgame

import "os/exec"

func detach(cmd *exec.Cmd) {}
