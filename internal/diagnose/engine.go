package diagnose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/circuitdiag/internal/availability"
	"github.com/user/circuitdiag/internal/history"
	"github.com/user/circuitdiag/internal/inventory"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/service"
	"github.com/user/circuitdiag/internal/session"
	"github.com/user/circuitdiag/internal/util"
)

// DefaultLookbackHours is used when a request does not name a window.
const DefaultLookbackHours = 12

// Engine runs full diagnoses. The zero value is not usable; use
// NewEngine.
type Engine struct {
	history  history.Source
	resolver inventory.Resolver
	exec     session.Executor
	policy   probes.Policy
	versa    *service.VersaClient
	extra    []model.DeviceLocation

	observer      model.ProgressObserver
	window        time.Duration
	lossThreshold float64
	lookbackHours int
	now           func() time.Time
	log           *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecencyWindow overrides DefaultRecencyWindow.
func WithRecencyWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithLossThreshold sets the loss extraction threshold.
func WithLossThreshold(t float64) Option {
	return func(e *Engine) { e.lossThreshold = t }
}

// WithLookbackHours sets the window used when a request passes 0.
func WithLookbackHours(h int) Option {
	return func(e *Engine) {
		if h > 0 {
			e.lookbackHours = h
		}
	}
}

// WithProbePolicy sets the escalating probe policy for live checks.
func WithProbePolicy(p probes.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithVersa enables live checks of Versa appliances through c.
func WithVersa(c *service.VersaClient) Option {
	return func(e *Engine) { e.versa = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. Any of src, resolver and exec may be nil:
// without src the history verdict is unknown, and without resolver or
// exec no live evidence is gathered.
func NewEngine(src history.Source, resolver inventory.Resolver, exec session.Executor, opts ...Option) *Engine {
	e := &Engine{
		history:       src,
		resolver:      resolver,
		exec:          exec,
		policy:        probes.DefaultPolicy(),
		observer:      model.NopObserver{},
		window:        DefaultRecencyWindow,
		lossThreshold: availability.DefaultLossThreshold,
		lookbackHours: DefaultLookbackHours,
		now:           time.Now,
		log:           util.Component("diagnose"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig builds an engine with the windows and probe
// policy of cfg.
func NewEngineFromConfig(cfg *util.Config, src history.Source, resolver inventory.Resolver, exec session.Executor, opts ...Option) *Engine {
	return NewEngine(src, resolver, exec, append([]Option{
		WithRecencyWindow(cfg.RecencyWindow),
		WithLossThreshold(cfg.LossThreshold),
		WithLookbackHours(cfg.LookbackHours),
		WithProbePolicy(probes.PolicyFromConfig(cfg.Probe)),
	}, opts...)...)
}

// Observe returns a copy of e that reports progress to o.
func (e *Engine) Observe(o model.ProgressObserver) *Engine {
	c := *e
	if o == nil {
		o = model.NopObserver{}
	}
	c.observer = o
	return &c
}

// Include returns a copy of e that also checks devices, such as the NNI
// or POP named by the caller, after the devices the inventory resolves.
func (e *Engine) Include(devices ...model.DeviceLocation) *Engine {
	c := *e
	c.extra = append(append([]model.DeviceLocation(nil), e.extra...), devices...)
	return &c
}

// Diagnose produces the merged verdict for serviceID. History and the
// live probes of every device of the service are gathered first; the
// decision table is then evaluated once on both.
func (e *Engine) Diagnose(ctx context.Context, serviceID string, lookbackHours int) (model.Diagnosis, error) {
	if serviceID == "" {
		return model.Diagnosis{}, errors.New("service id is required")
	}
	lookbackHours = e.lookback(lookbackHours)
	now := e.now()
	e.observer.ReportProgress(5, "reading history for "+serviceID)

	ev, snap, histErr := e.collect(ctx, serviceID, lookbackHours, now)
	if histErr != nil {
		if ctx.Err() != nil {
			return model.Diagnosis{}, ctx.Err()
		}
		e.log.Warn("history unavailable", "service", serviceID, "error", histErr)
		ev = Evidence{Status: model.StatusUnknown}
	}
	e.observer.ReportProgress(30, fmt.Sprintf("history status: %s", ev.Status))

	live, err := e.LiveEvidence(ctx, serviceID)
	var inventoryErr error
	if err != nil {
		if ctx.Err() != nil {
			return model.Diagnosis{}, ctx.Err()
		}
		inventoryErr = err
	}
	ev.Live = LiveVerdict(live.Probes)

	d := AttributeWithin(ev, now, e.window)
	d.ServiceID = serviceID
	d.LookbackHours = lookbackHours
	if histErr != nil {
		if d.Status == model.StatusUnknown {
			d.Reason = ReasonHistoryUnavailable
			d.Message = "History source could not be queried"
		}
		d.Evidence = []model.EvidenceRecord{{Stage: "history", Err: histErr.Error()}}
	} else {
		d.Evidence = []model.EvidenceRecord{historyRecord(d, len(snap.Ping), len(snap.Loss))}
	}
	if inventoryErr != nil {
		d.Evidence = append(d.Evidence, model.EvidenceRecord{Stage: "inventory", Err: inventoryErr.Error()})
	}
	d.Evidence = append(d.Evidence, live.Evidence...)
	d.Probes = live.Probes

	e.observer.ReportProgress(100, "diagnosis complete")
	e.log.Info("diagnosis complete", "service", serviceID, "status", d.Status,
		"responsibility", d.Responsibility, "issue", d.IssueType, "evidence", len(d.Evidence))
	return d, nil
}

// HistoryAnalysis evaluates the decision table on monitoring history
// only.
func (e *Engine) HistoryAnalysis(ctx context.Context, serviceID string, lookbackHours int) (model.Diagnosis, error) {
	lookbackHours = e.lookback(lookbackHours)
	now := e.now()

	ev, snap, err := e.collect(ctx, serviceID, lookbackHours, now)
	if err != nil {
		return model.Diagnosis{}, err
	}
	d := AttributeWithin(ev, now, e.window)
	d.ServiceID = serviceID
	d.LookbackHours = lookbackHours
	d.Evidence = []model.EvidenceRecord{historyRecord(d, len(snap.Ping), len(snap.Loss))}
	return d, nil
}

func (e *Engine) lookback(hours int) int {
	if hours <= 0 {
		return e.lookbackHours
	}
	return hours
}

// collect reads the history series of serviceID and derives the
// historical evidence.
func (e *Engine) collect(ctx context.Context, serviceID string, lookbackHours int, now time.Time) (Evidence, history.Snapshot, error) {
	var snap history.Snapshot
	if e.history == nil {
		snap.Status = model.StatusUnknown
	} else {
		var err error
		snap, err = history.Collect(ctx, e.history, serviceID, time.Duration(lookbackHours)*time.Hour, now)
		if err != nil {
			return Evidence{}, snap, fmt.Errorf("history for %s: %w", serviceID, err)
		}
	}
	return EvidenceFromSamples(snap.Status, snap.Ping, snap.Loss, e.lossThreshold, now), snap, nil
}

// LiveEvidence resolves the devices of serviceID and runs the vendor
// troubleshooter on each, in inventory order, followed by the included
// devices. A resolution failure is returned together with the evidence
// of the included devices.
func (e *Engine) LiveEvidence(ctx context.Context, serviceID string) (service.Result, error) {
	var res service.Result
	if e.exec == nil {
		return res, nil
	}

	var (
		devices    []model.DeviceLocation
		resolveErr error
	)
	if e.resolver != nil {
		e.observer.ReportProgress(35, "resolving devices for "+serviceID)
		devices, resolveErr = e.resolver.ResolveServiceLocation(ctx, serviceID)
		if resolveErr != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			resolveErr = fmt.Errorf("resolve %s: %w", serviceID, resolveErr)
		}
	}
	devices = append(devices, e.extra...)
	if len(devices) == 0 {
		return res, resolveErr
	}

	span := 60 / len(devices)
	for i, dev := range devices {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		lo := 35 + i*span
		e.observer.ReportProgress(lo, fmt.Sprintf("checking %s %s (%s)", dev.Role, dev.Name, dev.Vendor))

		r := e.toolkit(scaled{e.observer, lo, lo + span}).Troubleshoot(ctx, dev, serviceID)
		res.Evidence = append(res.Evidence, r.Evidence...)
		res.Probes = append(res.Probes, r.Probes...)
	}
	return res, resolveErr
}

// CheckDevice troubleshoots serviceID on one device without attributing
// the fault.
func (e *Engine) CheckDevice(ctx context.Context, device model.DeviceLocation, serviceID string) (service.Result, error) {
	if e.exec == nil && (device.Vendor != model.VendorVersa || e.versa == nil) {
		return service.Result{}, errors.New("no session executor configured")
	}
	e.observer.ReportProgress(5, fmt.Sprintf("checking %s %s (%s)", device.Role, device.Name, device.Vendor))
	r := e.toolkit(scaled{e.observer, 5, 95}).Troubleshoot(ctx, device, serviceID)
	if ctx.Err() != nil {
		return service.Result{}, ctx.Err()
	}
	e.observer.ReportProgress(100, "device check complete")
	return r, nil
}

func (e *Engine) toolkit(observer model.ProgressObserver) *service.Toolkit {
	return service.NewToolkit(e.exec, e.policy, observer).WithVersa(e.versa)
}

func historyRecord(d model.Diagnosis, pingSamples, lossSamples int) model.EvidenceRecord {
	a := d.Availability
	return model.EvidenceRecord{
		Stage: "history",
		Outcome: fmt.Sprintf("status %s, %d interruptions, %s unavailable, %d loss events (%d ping / %d loss samples)",
			d.Status, a.Interruptions, a.TotalUnavailable.Round(time.Second), len(d.LossEvents), pingSamples, lossSamples),
	}
}

// scaled maps a nested 0-100 progress range onto [lo, hi].
type scaled struct {
	inner  model.ProgressObserver
	lo, hi int
}

func (s scaled) ReportProgress(percent int, message string) {
	percent = max(0, min(percent, 100))
	s.inner.ReportProgress(s.lo+(s.hi-s.lo)*percent/100, message)
}
