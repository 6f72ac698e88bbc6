package cmd

import (
	"sync"

	"github.com/babelcloud/gbox/packages/headunit/internal/util"
)

// processReloader restarts the head unit after a fatal session failure.
// The process is replaced without unwinding runHeadunit, so anything that
// outlives it, like the decoder helper's process group, is released by
// the cleanups first.
type processReloader struct {
	exec func() error

	mu       sync.Mutex
	cleanups []func() error
}

func newProcessReloader() *processReloader {
	return &processReloader{exec: execSelf}
}

// OnReload registers fn to run before the process is replaced. Cleanups
// run in reverse registration order, like defers.
func (r *processReloader) OnReload(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, fn)
}

func (r *processReloader) Reload() error {
	r.mu.Lock()
	cleanups := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()

	logger := util.GetLogger()
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			logger.Warn("Cleanup before reload failed", "error", err)
		}
	}
	return r.exec()
}
