//go:build unix

package agent

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the subprocess in its own process group so a kill
// reaches grandchildren too; otherwise a lingering child keeps the stdout
// pipe open and delays stream EOF.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return cmd.Process.Kill()
}
