//go:build !windows

package cmd

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// execSelf replaces the process with a fresh copy of itself.
func execSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "failed to resolve executable")
	}
	return errors.Wrap(syscall.Exec(exe, os.Args, os.Environ()), "failed to re-exec")
}
