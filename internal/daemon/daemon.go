// Package daemon periodically diagnoses a watch list of services in the
// background.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/user/circuitdiag/internal/diagnose"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
)

const pidFileName = "circuitdiag.pid"

// Daemon manages the background service.
type Daemon struct {
	config    *util.Config
	scheduler *Scheduler
	engine    *diagnose.Engine
	diagnoses *storage.DiagnosisStorage
	pidFile   string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	startTime time.Time
	verdicts  map[string]model.Responsibility
	mu        sync.RWMutex
	statusMu  sync.Mutex
	log       *slog.Logger
}

// New creates a daemon that diagnoses cfg.Watch.Services with engine and
// stores results in db.
func New(cfg *util.Config, db *storage.DB, engine *diagnose.Engine) (*Daemon, error) {
	if len(cfg.Watch.Services) == 0 {
		return nil, errors.New("no services to watch: set watch.services")
	}
	if cfg.Watch.Interval <= 0 {
		return nil, fmt.Errorf("invalid watch.interval %s", cfg.Watch.Interval)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:    cfg,
		engine:    engine,
		diagnoses: storage.NewDiagnosisStorage(db),
		pidFile:   filepath.Join(cfg.DataDir, pidFileName),
		ctx:       ctx,
		cancel:    cancel,
		verdicts:  make(map[string]model.Responsibility),
		log:       util.Component("daemon"),
	}

	d.scheduler = NewScheduler(cfg.Watch.Concurrency)
	d.scheduler.afterRun = d.writeStatus

	return d, nil
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	util.Info("Daemon starting...")

	d.registerJobs()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.scheduler.Run(d.ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handleSignals()
	}()

	d.writeStatus()
	util.Info("Daemon started with PID %d watching %d services", os.Getpid(), len(d.config.Watch.Services))

	return nil
}

// Wait waits for the daemon to finish.
func (d *Daemon) Wait() {
	d.wg.Wait()
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	util.Info("Daemon stopping...")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		util.Info("Daemon stopped gracefully")
	case <-time.After(30 * time.Second):
		util.Warn("Daemon stop timed out")
	}

	d.writeStatus()
	d.removePIDFile()
	return nil
}

func (d *Daemon) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		util.Info("Received signal: %v", sig)
		go d.Stop()
	case <-d.ctx.Done():
		return
	}
}

func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func (d *Daemon) removePIDFile() {
	os.Remove(d.pidFile)
}

func (d *Daemon) writeStatus() {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if err := WriteStatusFile(d.config.DataDir, d.Status()); err != nil {
		d.log.Warn("failed to write status file", "error", err)
	}
}

// IsRunning returns whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Status returns the daemon status.
func (d *Daemon) Status() *model.DaemonStatus {
	jobs := d.scheduler.JobStatuses()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var lastCheck time.Time
	for _, j := range jobs {
		if j.LastRun.After(lastCheck) {
			lastCheck = j.LastRun
		}
	}

	return &model.DaemonStatus{
		Running:     d.running,
		PID:         os.Getpid(),
		StartTime:   d.startTime,
		Uptime:      time.Since(d.startTime).Round(time.Second).String(),
		Watched:     d.config.Watch.Services,
		LastCheck:   lastCheck,
		JobsRunning: d.scheduler.Running(),
		Jobs:        jobs,
	}
}

func (d *Daemon) lastVerdict(serviceID string) model.Responsibility {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.verdicts[serviceID]
}

func (d *Daemon) setVerdict(serviceID string, r model.Responsibility) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verdicts[serviceID] = r
}
