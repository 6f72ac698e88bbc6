package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/pkg/errors"
)

const (
	DefaultSysfsRoot = "/sys/bus/usb/devices"
	DefaultDevRoot   = "/dev/bus/usb"
)

// scanDevices lists the USB devices under a sysfs devices directory.
// Interface entries (names with a colon) and unreadable entries are
// skipped.
func scanDevices(sysfsRoot string) ([]core.DeviceHandle, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", sysfsRoot)
	}

	var devices []core.DeviceHandle
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, ":") {
			continue
		}
		dev, ok := readDevice(filepath.Join(sysfsRoot, name))
		if !ok {
			continue
		}
		dev.Path = name
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

func readDevice(dir string) (core.DeviceHandle, bool) {
	vendor, err := readUint(dir, "idVendor", 16)
	if err != nil {
		return core.DeviceHandle{}, false
	}
	product, err := readUint(dir, "idProduct", 16)
	if err != nil {
		return core.DeviceHandle{}, false
	}
	bus, _ := readUint(dir, "busnum", 10)
	addr, _ := readUint(dir, "devnum", 10)
	return core.DeviceHandle{
		VendorID:  uint16(vendor),
		ProductID: uint16(product),
		Bus:       int(bus),
		Address:   int(addr),
	}, true
}

func readUint(dir, attr string, base int) (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil {
		return 0, err
	}
	bits := 16
	if base == 10 {
		bits = 32
	}
	return strconv.ParseUint(strings.TrimSpace(string(raw)), base, bits)
}

// devnode returns the usbfs node of a device, /dev/bus/usb/BBB/DDD.
func devnode(devRoot string, d core.DeviceHandle) string {
	return filepath.Join(devRoot, fmt.Sprintf("%03d", d.Bus), fmt.Sprintf("%03d", d.Address))
}
