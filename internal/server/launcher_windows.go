//go:build windows

package server

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessAttrs(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
