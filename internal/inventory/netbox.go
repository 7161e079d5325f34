// Package inventory resolves where a service lives using the Netbox
// REST API.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// ErrNotFound is returned when no device matches a query.
var ErrNotFound = errors.New("not found in inventory")

// Resolver maps a service to the devices that carry it.
type Resolver interface {
	ResolveServiceLocation(ctx context.Context, serviceID string) ([]model.DeviceLocation, error)
}

// DeviceFinder looks up one named device, such as the NNI or POP a
// service crosses.
type DeviceFinder interface {
	Device(ctx context.Context, name string, role model.DeviceRole) (model.DeviceLocation, error)
}

// APIError is a non-2xx response from Netbox.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("netbox returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Netbox REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a Netbox client from configuration.
func NewClient(cfg util.NetboxConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("netbox url is not configured")
	}
	base := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     util.Component("inventory"),
	}, nil
}

// ResolveServiceLocation returns the devices at the service's site
// (CPEs) followed by the POP devices they are connected to. Devices
// without a management address are skipped.
func (c *Client) ResolveServiceLocation(ctx context.Context, serviceID string) ([]model.DeviceLocation, error) {
	devices, err := c.DevicesBySite(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	var (
		out  []model.DeviceLocation
		pops []string
	)
	for _, d := range devices {
		if d.ManagementIP == "" {
			c.log.Warn("device has no management address", "device", d.Name)
			continue
		}
		out = append(out, d)
		if d.ConnectedTo != "" && !containsString(pops, d.ConnectedTo) {
			pops = append(pops, d.ConnectedTo)
		}
	}

	for _, name := range pops {
		pop, err := c.deviceWithRole(ctx, name, model.RolePOP)
		if err != nil {
			c.log.Warn("cannot resolve connected device", "device", name, "error", err)
			continue
		}
		if pop.ManagementIP == "" {
			continue
		}
		out = append(out, pop)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("service %s: no reachable devices: %w", serviceID, ErrNotFound)
	}
	return out, nil
}

// DevicesBySite searches devices whose site matches site. Devices with
// no role set in Netbox default to CPE.
func (c *Client) DevicesBySite(ctx context.Context, site string) ([]model.DeviceLocation, error) {
	results, err := c.list(ctx, "dcim/devices/", url.Values{"q": {site}})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("site %s: %w", site, ErrNotFound)
	}
	devices := make([]model.DeviceLocation, 0, len(results))
	for _, r := range results {
		devices = append(devices, deviceFromJSON(r, model.RoleCPE))
	}
	return devices, nil
}

// Device looks a device up by exact name and places it at role in the
// service chain, whatever role Netbox records for it.
func (c *Client) Device(ctx context.Context, name string, role model.DeviceRole) (model.DeviceLocation, error) {
	d, err := c.deviceWithRole(ctx, name, role)
	if err != nil {
		return model.DeviceLocation{}, err
	}
	d.Role = role
	return d, nil
}

func (c *Client) deviceWithRole(ctx context.Context, name string, fallback model.DeviceRole) (model.DeviceLocation, error) {
	results, err := c.list(ctx, "dcim/devices/", url.Values{"name": {name}})
	if err != nil {
		return model.DeviceLocation{}, err
	}
	if len(results) == 0 {
		return model.DeviceLocation{}, fmt.Errorf("device %s: %w", name, ErrNotFound)
	}
	return deviceFromJSON(results[0], fallback), nil
}

// list fetches every page of a list endpoint.
func (c *Client) list(ctx context.Context, path string, query url.Values) ([]gjson.Result, error) {
	next := c.baseURL + "/" + path + "?" + query.Encode()

	var results []gjson.Result
	for next != "" {
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)
		results = append(results, doc.Get("results").Array()...)
		next = doc.Get("next").String()
	}
	return results, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	c.log.Debug("netbox request", "url", rawURL)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("netbox request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read netbox response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("netbox returned invalid JSON")
	}
	return body, nil
}

func deviceFromJSON(r gjson.Result, fallback model.DeviceRole) model.DeviceLocation {
	manufacturer := r.Get("device_type.manufacturer.name").String()

	role := fallback
	for _, path := range []string{"role.slug", "device_role.slug", "role.name", "device_role.name"} {
		if v := r.Get(path); v.Exists() {
			if parsed, err := model.ParseDeviceRole(v.String()); err == nil {
				role = parsed
				break
			}
		}
	}

	addr, _, _ := strings.Cut(r.Get("primary_ip.address").String(), "/")

	return model.DeviceLocation{
		Name:         r.Get("name").String(),
		ManagementIP: addr,
		DeviceType:   r.Get("device_type.model").String(),
		Manufacturer: manufacturer,
		Vendor:       model.ParseVendor(manufacturer),
		Role:         role,
		Site:         r.Get("site.name").String(),
		ConnectedTo:  connectedTo(r.Get("custom_fields.ConnectedTo")),
	}
}

// connectedTo reads the ConnectedTo custom field, which is either an
// object reference or a plain string.
func connectedTo(v gjson.Result) string {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.IsObject():
		if d := v.Get("display"); d.Exists() {
			return d.String()
		}
		return v.Get("name").String()
	default:
		return v.String()
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
