//go:build !unix

package process

import (
	"errors"
	"os/exec"
)

func detach(*exec.Cmd) {}

func killGroup(*exec.Cmd) error { return errors.New("process groups not supported") }

func interrupted(error) bool { return false }
