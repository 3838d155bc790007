package browserprocess

import (
	"os/exec"
	"syscall"
)

// killAfterParent makes the kernel kill the backend process when the host
// process dies.
func killAfterParent(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = new(syscall.SysProcAttr)
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
