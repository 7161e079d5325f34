package model

import (
	"fmt"
	"strings"
)

// Vendor identifies a device family. It is resolved once from the
// inventory manufacturer name and dispatched on by value afterwards.
type Vendor string

const (
	VendorMikrotik Vendor = "mikrotik"
	VendorCisco    Vendor = "cisco"
	VendorJuniper  Vendor = "juniper"
	VendorDatacom  Vendor = "datacom"
	VendorAccedian Vendor = "accedian"
	VendorVersa    Vendor = "versa"
	VendorUnknown  Vendor = "unknown"
)

// Vendors lists every supported vendor in a stable order.
var Vendors = []Vendor{VendorMikrotik, VendorCisco, VendorJuniper, VendorDatacom, VendorAccedian, VendorVersa}

// ParseVendor maps an inventory manufacturer name to a Vendor.
// Names such as "MikroTik", "Juniper Networks" or "Cisco Systems" are
// matched case-insensitively; anything else is VendorUnknown.
func ParseVendor(manufacturer string) Vendor {
	m := strings.ToLower(strings.TrimSpace(manufacturer))
	if m == "" {
		return VendorUnknown
	}
	for _, v := range Vendors {
		if strings.Contains(m, string(v)) {
			return v
		}
	}
	return VendorUnknown
}

// DeviceRole is the position of a device in a service chain.
type DeviceRole string

const (
	RoleCPE DeviceRole = "cpe"
	RolePOP DeviceRole = "pop"
	RoleNNI DeviceRole = "nni"
)

// ParseDeviceRole validates a role name. Unknown values are rejected
// rather than defaulted.
func ParseDeviceRole(s string) (DeviceRole, error) {
	switch r := DeviceRole(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCPE, RolePOP, RoleNNI:
		return r, nil
	default:
		return "", fmt.Errorf("invalid device role %q: must be one of cpe, pop, nni", s)
	}
}

// DeviceLocation is the inventory record for one device of a service.
type DeviceLocation struct {
	Name         string     `json:"name"`
	ManagementIP string     `json:"management_ip"`
	DeviceType   string     `json:"device_type"`
	Manufacturer string     `json:"manufacturer"`
	Vendor       Vendor     `json:"vendor"`
	Role         DeviceRole `json:"role"`
	Site         string     `json:"site,omitempty"`
	ConnectedTo  string     `json:"connected_to,omitempty"`
}

// ProgressObserver receives advisory progress events. Implementations
// must not block.
type ProgressObserver interface {
	ReportProgress(percent int, message string)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(percent int, message string)

// ReportProgress calls f.
func (f ProgressFunc) ReportProgress(percent int, message string) {
	f(percent, message)
}

// NopObserver discards progress events.
type NopObserver struct{}

// ReportProgress does nothing.
func (NopObserver) ReportProgress(int, string) {}
