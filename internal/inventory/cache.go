package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// DeviceStore keeps the last resolved devices of each service.
type DeviceStore interface {
	SaveDevices(serviceID string, devices []model.DeviceLocation) error
	Devices(serviceID string) ([]model.DeviceLocation, error)
}

// CachedResolver records every successful resolution and answers from
// the store when the upstream inventory is unreachable. A definitive
// ErrNotFound is never masked.
type CachedResolver struct {
	upstream Resolver
	store    DeviceStore
	log      *slog.Logger
}

// NewCachedResolver wraps upstream with store.
func NewCachedResolver(upstream Resolver, store DeviceStore) *CachedResolver {
	return &CachedResolver{upstream: upstream, store: store, log: util.Component("inventory")}
}

func (c *CachedResolver) ResolveServiceLocation(ctx context.Context, serviceID string) ([]model.DeviceLocation, error) {
	devices, err := c.upstream.ResolveServiceLocation(ctx, serviceID)
	if err == nil {
		if serr := c.store.SaveDevices(serviceID, devices); serr != nil {
			c.log.Warn("failed to cache devices", "service", serviceID, "error", serr)
		}
		return devices, nil
	}
	if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		return nil, err
	}

	cached, cerr := c.store.Devices(serviceID)
	if cerr != nil || len(cached) == 0 {
		return nil, err
	}
	c.log.Warn("inventory unavailable, using cached devices", "service", serviceID, "error", err)
	return cached, nil
}

// Static resolves every service to a fixed device list. It backs the
// CLI --device flag.
type Static []model.DeviceLocation

func (s Static) ResolveServiceLocation(_ context.Context, serviceID string) ([]model.DeviceLocation, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("service %s: %w", serviceID, ErrNotFound)
	}
	return s, nil
}

// Device returns the device named name or with that management address.
func (s Static) Device(_ context.Context, name string, role model.DeviceRole) (model.DeviceLocation, error) {
	for _, d := range s {
		if d.Name == name || d.ManagementIP == name {
			d.Role = role
			return d, nil
		}
	}
	return model.DeviceLocation{}, fmt.Errorf("device %s: %w", name, ErrNotFound)
}
