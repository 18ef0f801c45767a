//go:build linux

package headless

import (
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetachProcessGroup(t *testing.T) {
	t.Parallel()

	fresh := exec.Command("chrome")
	detachProcessGroup(fresh)
	require.NotNil(t, fresh.SysProcAttr)
	assert.True(t, fresh.SysProcAttr.Setpgid)

	withDeathSignal := exec.Command("chrome")
	withDeathSignal.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
	detachProcessGroup(withDeathSignal)
	assert.True(t, withDeathSignal.SysProcAttr.Setpgid)
	assert.Equal(t, syscall.SIGKILL, withDeathSignal.SysProcAttr.Pdeathsig)
}
