// Package session runs single commands on network devices.
package session

import (
	"context"
	"fmt"

	"github.com/user/circuitdiag/internal/model"
)

// Target identifies the device a command runs on.
type Target struct {
	Name       string
	Host       string
	Vendor     model.Vendor
	Role       model.DeviceRole
	DeviceType string
}

// TargetFor builds a Target from an inventory record.
func TargetFor(loc model.DeviceLocation) Target {
	return Target{
		Name:       loc.Name,
		Host:       loc.ManagementIP,
		Vendor:     loc.Vendor,
		Role:       loc.Role,
		DeviceType: loc.DeviceType,
	}
}

// ParseTarget validates an ad-hoc device selection given by address,
// vendor and role name. An empty host yields the zero Target, which
// callers treat as the local host.
func ParseTarget(host, vendor, role, deviceType string) (Target, error) {
	if host == "" {
		return Target{}, nil
	}
	v := model.ParseVendor(vendor)
	if v == model.VendorUnknown {
		return Target{}, fmt.Errorf("unknown vendor %q", vendor)
	}
	r := model.RoleCPE
	if role != "" {
		var err error
		if r, err = model.ParseDeviceRole(role); err != nil {
			return Target{}, err
		}
	}
	return Target{Host: host, Vendor: v, Role: r, DeviceType: deviceType}, nil
}

func (t Target) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s (%s)", t.Name, t.Host)
	}
	return t.Host
}

// Executor runs one command on a device and returns its output. Each
// call is a single attempt; sessions are not held between calls.
type Executor interface {
	ExecuteCommand(ctx context.Context, target Target, command string) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, target Target, command string) (string, error)

// ExecuteCommand calls f.
func (f ExecutorFunc) ExecuteCommand(ctx context.Context, target Target, command string) (string, error) {
	return f(ctx, target, command)
}

// TransportError reports that a device could not be reached or the
// command could not be run.
type TransportError struct {
	Target  string
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("session to %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("session to %s: %q: %v", e.Target, e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
