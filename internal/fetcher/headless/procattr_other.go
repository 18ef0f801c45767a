//go:build !unix

package headless

import "os/exec"

func detachProcessGroup(*exec.Cmd) {}
