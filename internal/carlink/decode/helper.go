package decode

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	procgroup "github.com/babelcloud/gbox/packages/headunit/internal/proc_group"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/pkg/errors"
)

// HelperStopTimeout is how long Stop waits after the terminate signal.
const HelperStopTimeout = 5 * time.Second

// Helper supervises a decoder helper process started by the head unit.
// The helper learns where to listen from HEADUNIT_DECODER_ADDRESS.
type Helper struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

// StartHelper launches command in its own process group. Its output is
// logged.
func StartHelper(command []string, address string) (*Helper, error) {
	if len(command) == 0 {
		return nil, errors.New("empty decoder helper command")
	}
	if _, _, err := parseAddress(address); err != nil {
		return nil, err
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), "HEADUNIT_DECODER_ADDRESS="+address)
	logger := util.GetLogger().With("helper", filepath.Base(command[0]))
	cmd.Stdout = util.NewLogWriter(logger)
	cmd.Stderr = util.NewLogWriter(logger)
	procgroup.SetProcGrp(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start decoder helper %s", command[0])
	}
	logger.Info("Decoder helper started", "pid", cmd.Process.Pid, "address", address)

	h := &Helper{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.err = err
		stopped := h.stopped
		h.mu.Unlock()
		if !stopped {
			logger.Error("Decoder helper exited", "error", err)
		}
		close(h.done)
	}()
	return h, nil
}

// Pid returns the helper's process id, which is also its process group id.
func (h *Helper) Pid() int {
	return h.cmd.Process.Pid
}

// Done is closed once the helper process has exited.
func (h *Helper) Done() <-chan struct{} {
	return h.done
}

// Err returns the exit error after Done is closed.
func (h *Helper) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop terminates the helper and its children, killing them if they do
// not exit within HelperStopTimeout.
func (h *Helper) Stop() error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
	}

	if err := procgroup.Terminate(h.cmd); err != nil {
		return errors.Wrap(err, "failed to terminate decoder helper")
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(HelperStopTimeout):
	}
	if err := procgroup.Kill(h.cmd); err != nil {
		return errors.Wrap(err, "failed to kill decoder helper")
	}
	<-h.done
	return nil
}
