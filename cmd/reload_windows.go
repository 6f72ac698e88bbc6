//go:build windows

package cmd

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// execSelf starts a fresh copy of the process and exits.
func execSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "failed to resolve executable")
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to restart")
	}
	os.Exit(0)
	return nil
}
