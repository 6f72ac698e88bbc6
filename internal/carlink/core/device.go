package core

import "fmt"

const (
	// AccessoryVendorID identifies eligible accessories (0x1314).
	AccessoryVendorID uint16 = 4884
	// AccessoryProductID is additionally required for explicit selection (0x1520).
	AccessoryProductID uint16 = 5408
)

// DeviceHandle identifies an attached accessory. It is only meaningful
// while the device stays attached.
type DeviceHandle struct {
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
	Bus       int    `json:"bus"`
	Address   int    `json:"address"`
	// Path is the transport identifier, the sysfs device name on Linux.
	Path string `json:"path"`
}

func (d DeviceHandle) String() string {
	return fmt.Sprintf("%04x:%04x@%s", d.VendorID, d.ProductID, d.Path)
}

func (d DeviceHandle) IsZero() bool {
	return d == DeviceHandle{}
}

// Eligible reports whether the device may be used at all.
func (d DeviceHandle) Eligible() bool {
	return d.VendorID == AccessoryVendorID
}

// Selectable reports whether the device matches an explicit selection prompt.
func (d DeviceHandle) Selectable() bool {
	return d.Eligible() && d.ProductID == AccessoryProductID
}

// Same reports whether both handles refer to the same physical attachment.
func (d DeviceHandle) Same(other DeviceHandle) bool {
	if d.Path != "" || other.Path != "" {
		return d.Path == other.Path
	}
	return d == other
}
