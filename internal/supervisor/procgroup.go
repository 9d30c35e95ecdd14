package supervisor

import (
	"os/exec"
	"syscall"
)

// procAttrNewGroup puts the child in its own process group so a signal to
// the group reaches any descendants it spawns, not just the direct child.
func procAttrNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the child's entire process group.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, sig)
}
