package main

import (
	"fmt"
	"strings"

	"github.com/user/circuitdiag/internal/diagnose"
	"github.com/user/circuitdiag/internal/history"
	"github.com/user/circuitdiag/internal/inventory"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/service"
	"github.com/user/circuitdiag/internal/session"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
)

// stack is the set of collaborators every diagnosing command needs.
type stack struct {
	db       *storage.DB
	source   history.Source
	resolver inventory.Resolver
	finder   inventory.DeviceFinder
	exec     session.Executor
	engine   *diagnose.Engine
}

// openStack opens the database and wires the history source, the
// inventory, the SSH executor and the Versa Director client from cfg and
// the global flags.
func openStack() (*stack, error) {
	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	st := &stack{db: db}

	st.source, err = newSource(cfg, db, offline)
	if err != nil {
		db.Close()
		return nil, err
	}

	st.resolver, st.finder, err = newResolver(cfg, db, devices)
	if err != nil {
		db.Close()
		return nil, err
	}

	exec, err := session.NewSSHExecutor(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	st.exec = exec

	var opts []diagnose.Option
	if cfg.Versa.URL != "" {
		vc, err := service.NewVersaClient(cfg.Versa)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts = append(opts, diagnose.WithVersa(vc))
	}

	st.engine = diagnose.NewEngineFromConfig(cfg, st.source, st.resolver, st.exec, opts...)
	return st, nil
}

func (s *stack) Close() error {
	return s.db.Close()
}

func (s *stack) save(d *model.Diagnosis) error {
	return storage.NewDiagnosisStorage(s.db).Save(d)
}

// newSource returns Zabbix history recorded into the local database, or
// the recorded history alone when offline or Zabbix is not configured.
func newSource(cfg *util.Config, db *storage.DB, offline bool) (history.Source, error) {
	samples := storage.NewSampleStorage(db)
	if offline || cfg.Zabbix.URL == "" {
		if !offline {
			util.Warn("zabbix.url is not configured, using recorded history")
		}
		return history.NewRecorded(samples), nil
	}

	zbx, err := history.NewZabbixClient(cfg.Zabbix)
	if err != nil {
		return nil, err
	}
	return history.NewRecording(zbx, samples), nil
}

// newResolver returns a static device list when --device is given,
// otherwise Netbox with the last resolution cached locally. Without
// either no live evidence is gathered. The finder looks up devices
// named on the command line in the same inventory.
func newResolver(cfg *util.Config, db *storage.DB, specs []string) (inventory.Resolver, inventory.DeviceFinder, error) {
	if len(specs) > 0 {
		static := make(inventory.Static, 0, len(specs))
		for _, s := range specs {
			dev, err := parseDevice(s)
			if err != nil {
				return nil, nil, err
			}
			static = append(static, dev)
		}
		return static, static, nil
	}

	if cfg.Netbox.URL == "" {
		util.Debug("netbox.url is not configured, live evidence disabled")
		return nil, nil, nil
	}
	nb, err := inventory.NewClient(cfg.Netbox)
	if err != nil {
		return nil, nil, err
	}
	return inventory.NewCachedResolver(nb, storage.NewDeviceStorage(db)), nb, nil
}

// parseDevice parses "ip,vendor[,role[,name]]".
func parseDevice(s string) (model.DeviceLocation, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 4 {
		return model.DeviceLocation{}, fmt.Errorf("invalid device %q: want ip,vendor[,role[,name]]", s)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	role := ""
	if len(parts) > 2 {
		role = parts[2]
	}
	target, err := session.ParseTarget(parts[0], parts[1], role, "")
	if err != nil {
		return model.DeviceLocation{}, fmt.Errorf("invalid device %q: %w", s, err)
	}
	if target.Host == "" {
		return model.DeviceLocation{}, fmt.Errorf("invalid device %q: missing address", s)
	}

	name := target.Host
	if len(parts) > 3 && parts[3] != "" {
		name = parts[3]
	}
	return model.DeviceLocation{
		Name:         name,
		ManagementIP: target.Host,
		Manufacturer: parts[1],
		Vendor:       target.Vendor,
		Role:         target.Role,
	}, nil
}
