package usb

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

const DefaultPollInterval = 2 * time.Second

type EventKind int

const (
	Attached EventKind = iota
	Detached
)

func (k EventKind) String() string {
	if k == Attached {
		return "attached"
	}
	return "detached"
}

// Event is a hotplug notification for an eligible accessory.
type Event struct {
	Kind   EventKind
	Device core.DeviceHandle
}

type Config struct {
	SysfsRoot    string
	DevRoot      string
	PollInterval time.Duration
}

// Watcher reports accessory hotplug and resolves devices for a session.
// Changes under the usbfs tree trigger a rescan; a periodic poll covers
// systems where that tree cannot be watched.
type Watcher struct {
	cfg    Config
	events chan Event

	mu    sync.Mutex
	known map[string]core.DeviceHandle
}

func NewWatcher(cfg Config) *Watcher {
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = DefaultSysfsRoot
	}
	if cfg.DevRoot == "" {
		cfg.DevRoot = DefaultDevRoot
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Watcher{
		cfg:    cfg,
		events: make(chan Event, 16),
		known:  make(map[string]core.DeviceHandle),
	}
}

// Events delivers attach and detach notifications while Run is active.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Devices lists every attached USB device.
func (w *Watcher) Devices() ([]core.DeviceHandle, error) {
	return scanDevices(w.cfg.SysfsRoot)
}

// Find returns the first attached eligible accessory.
func (w *Watcher) Find(ctx context.Context) (core.DeviceHandle, error) {
	devices, err := w.Devices()
	if err != nil {
		return core.DeviceHandle{}, err
	}
	for _, d := range devices {
		if d.Eligible() {
			return d, nil
		}
	}
	return core.DeviceHandle{}, core.ErrDeviceNotFound
}

// Request selects the accessory explicitly. It must also match the
// accessory product id, and its device node must be openable.
func (w *Watcher) Request(ctx context.Context) (core.DeviceHandle, error) {
	devices, err := w.Devices()
	if err != nil {
		return core.DeviceHandle{}, err
	}
	for _, d := range devices {
		if !d.Selectable() {
			continue
		}
		if err := w.checkAccess(d); err != nil {
			return core.DeviceHandle{}, err
		}
		return d, nil
	}
	return core.DeviceHandle{}, core.ErrDeviceNotFound
}

func (w *Watcher) checkAccess(d core.DeviceHandle) error {
	path := devnode(w.cfg.DevRoot, d)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, fs.ErrPermission):
		return errors.Wrapf(core.ErrPermissionDenied, "cannot open %s", path)
	case errors.Is(err, fs.ErrNotExist):
		return errors.Wrapf(core.ErrDeviceNotFound, "no device node %s", path)
	default:
		return errors.Wrapf(err, "failed to open %s", path)
	}
}

// Run watches for hotplug until ctx is done. Accessories present at start
// are reported as attached.
func (w *Watcher) Run(ctx context.Context) error {
	logger := util.GetLogger()

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Hotplug notifications unavailable, polling only", "error", err)
	} else {
		defer notify.Close()
		w.watchTree(notify)
	}

	w.rescan(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if notify != nil {
		fsEvents, fsErrors = notify.Events, notify.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.rescan(ctx)
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = notify.Add(ev.Name)
				}
			}
			w.rescan(ctx)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			logger.Debug("Hotplug watch error", "error", err)
		}
	}
}

func (w *Watcher) watchTree(notify *fsnotify.Watcher) {
	logger := util.GetLogger()
	if err := notify.Add(w.cfg.DevRoot); err != nil {
		logger.Warn("Cannot watch usb device tree, polling only", "path", w.cfg.DevRoot, "error", err)
		return
	}
	buses, _ := filepath.Glob(filepath.Join(w.cfg.DevRoot, "*"))
	for _, bus := range buses {
		if err := notify.Add(bus); err != nil {
			logger.Debug("Cannot watch usb bus", "path", bus, "error", err)
		}
	}
}

// rescan diffs the attached accessories against the last scan.
func (w *Watcher) rescan(ctx context.Context) {
	devices, err := w.Devices()
	if err != nil {
		util.GetLogger().Debug("USB scan failed", "error", err)
		return
	}

	current := make(map[string]core.DeviceHandle)
	for _, d := range devices {
		if d.Eligible() {
			current[d.Path] = d
		}
	}

	var changes []Event
	w.mu.Lock()
	for path, d := range w.known {
		if _, ok := current[path]; !ok {
			changes = append(changes, Event{Kind: Detached, Device: d})
		}
	}
	for path, d := range current {
		if _, ok := w.known[path]; !ok {
			changes = append(changes, Event{Kind: Attached, Device: d})
		}
	}
	w.known = current
	w.mu.Unlock()

	for _, ev := range changes {
		util.GetLogger().Info("Accessory "+ev.Kind.String(), "device", ev.Device.String())
		select {
		case w.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
