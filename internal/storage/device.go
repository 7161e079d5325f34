package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/user/circuitdiag/internal/model"
)

// DeviceStorage caches the devices resolved for each service.
type DeviceStorage struct {
	db *DB
}

// NewDeviceStorage creates a new device storage handler.
func NewDeviceStorage(db *DB) *DeviceStorage {
	return &DeviceStorage{db: db}
}

// SaveDevices replaces the cached devices of a service.
func (s *DeviceStorage) SaveDevices(serviceID string, devices []model.DeviceLocation) error {
	return s.db.WithLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec("DELETE FROM devices WHERE service_id = ?", serviceID); err != nil {
			return fmt.Errorf("failed to clear devices: %w", err)
		}

		stmt, err := tx.Prepare(
			`INSERT INTO devices (service_id, seq, name, management_ip, device_type, manufacturer,
			 vendor, role, site, connected_to, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(service_id, name) DO UPDATE SET
			 management_ip = excluded.management_ip,
			 last_seen = excluded.last_seen`)
		if err != nil {
			return fmt.Errorf("failed to prepare device statement: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i, d := range devices {
			if _, err := stmt.Exec(serviceID, i, d.Name, d.ManagementIP, d.DeviceType, d.Manufacturer,
				string(d.Vendor), string(d.Role), d.Site, d.ConnectedTo, now); err != nil {
				return fmt.Errorf("failed to save device %s: %w", d.Name, err)
			}
		}
		return tx.Commit()
	})
}

// Devices returns the cached devices of a service in resolution order.
func (s *DeviceStorage) Devices(serviceID string) ([]model.DeviceLocation, error) {
	query := `SELECT name, management_ip, device_type, manufacturer, vendor, role, site, connected_to
			  FROM devices WHERE service_id = ? ORDER BY seq`

	rows, err := s.db.Query(query, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []model.DeviceLocation
	for rows.Next() {
		var (
			d                                    model.DeviceLocation
			ip, deviceType, manufacturer, vendor sql.NullString
			role, site, connectedTo              sql.NullString
		)
		if err := rows.Scan(&d.Name, &ip, &deviceType, &manufacturer, &vendor, &role, &site, &connectedTo); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.ManagementIP = ip.String
		d.DeviceType = deviceType.String
		d.Manufacturer = manufacturer.String
		d.Vendor = model.ParseVendor(vendor.String)
		d.Site = site.String
		d.ConnectedTo = connectedTo.String
		if r, err := model.ParseDeviceRole(role.String); err == nil {
			d.Role = r
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
