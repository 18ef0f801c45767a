//go:build unix

package headless

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup moves Chrome into its own process group so a terminal
// interrupt reaches only the crawler, which then closes the browser itself.
func detachProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
