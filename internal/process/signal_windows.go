//go:build windows

package process

import (
	"os"
	"os/exec"
)

func configureSysProcAttr(*exec.Cmd) {}

// Windows has no process groups reachable by signal; both steps kill the child.
func terminateGroup(pid int) error { return killGroup(pid) }

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
