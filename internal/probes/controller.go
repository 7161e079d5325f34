package probes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// ProbeSpec sizes one ping invocation.
type ProbeSpec struct {
	Count    int           `json:"count"`
	Interval time.Duration `json:"interval"`
	Size     int           `json:"size"`
}

// Policy is the escalation policy: a small baseline followed by a large
// extended probe when the baseline is clean.
type Policy struct {
	Baseline ProbeSpec `json:"baseline"`
	Extended ProbeSpec `json:"extended"`
}

// DefaultPolicy returns the standard escalation policy.
func DefaultPolicy() Policy {
	return Policy{
		Baseline: ProbeSpec{Count: 5, Interval: time.Second, Size: 1472},
		Extended: ProbeSpec{Count: 1000, Interval: 100 * time.Millisecond, Size: 1472},
	}
}

// PolicyFromConfig builds a policy from probe settings, falling back to
// the defaults for unset values.
func PolicyFromConfig(c util.ProbeConfig) Policy {
	p := DefaultPolicy()
	if c.BaselineCount > 0 {
		p.Baseline.Count = c.BaselineCount
	}
	if c.BaselineInterval > 0 {
		p.Baseline.Interval = c.BaselineInterval
	}
	if c.ExtendedCount > 0 {
		p.Extended.Count = c.ExtendedCount
	}
	if c.ExtendedInterval > 0 {
		p.Extended.Interval = c.ExtendedInterval
	}
	if c.PacketSize > 0 {
		p.Baseline.Size = c.PacketSize
		p.Extended.Size = c.PacketSize
	}
	return p
}

// PingRequest asks a Prober for one ping run.
type PingRequest struct {
	Source      string
	Destination string
	ProbeSpec
}

// Prober issues pings and path traces from one vantage point.
type Prober interface {
	// Ping returns a *ParseError when the output has no summary and any
	// other error when the ping could not be issued.
	Ping(ctx context.Context, req PingRequest) (model.PingOutcome, error)
	Trace(ctx context.Context, source, destination string) (string, error)
}

// Stage is a step of the escalating protocol.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageBaseline   Stage = "baseline"
	StageExtended   Stage = "extended"
	StageTraceroute Stage = "traceroute"
	StageDone       Stage = "done"
)

// Controller runs the escalating probe protocol.
type Controller struct {
	prober   Prober
	observer model.ProgressObserver
	log      *slog.Logger
}

// NewController creates a controller. A nil observer discards progress.
func NewController(prober Prober, observer model.ProgressObserver) *Controller {
	if observer == nil {
		observer = model.NopObserver{}
	}
	return &Controller{
		prober:   prober,
		observer: observer,
		log:      util.Component("probes"),
	}
}

// RunEscalatingProbe runs a baseline ping from source to destination and
// escalates: a clean baseline gets an extended ping, anything else gets a
// traceroute. A baseline that cannot be issued ends the run.
func (c *Controller) RunEscalatingProbe(ctx context.Context, source, destination string, policy Policy) model.ProbeReport {
	report := model.ProbeReport{Source: source, Destination: destination}

	c.stage(StageBaseline, 10, fmt.Sprintf("baseline ping %s -> %s (%d x %d bytes)", source, destination, policy.Baseline.Count, policy.Baseline.Size))
	outcome, err := c.prober.Ping(ctx, PingRequest{Source: source, Destination: destination, ProbeSpec: policy.Baseline})
	if err != nil {
		report.Baseline = ClassifyError(err)
		var perr *ParseError
		if !errors.As(err, &perr) {
			c.log.Warn("baseline probe failed", "destination", destination, "error", err)
			c.stage(StageDone, 100, "baseline probe could not be executed")
			return report
		}
		report.BaselineRaw = perr.Raw
	} else {
		report.Baseline = Classify(outcome)
		report.BaselineRaw = outcome.Raw
	}

	if report.Baseline.State == model.HealthClean {
		c.stage(StageExtended, 40, fmt.Sprintf("baseline clean, extended ping %s -> %s (%d packets)", source, destination, policy.Extended.Count))
		ext, err := c.prober.Ping(ctx, PingRequest{Source: source, Destination: destination, ProbeSpec: policy.Extended})
		var verdict model.HealthVerdict
		if err != nil {
			verdict = ClassifyError(err)
			var perr *ParseError
			if errors.As(err, &perr) {
				report.ExtendedRaw = perr.Raw
			} else {
				report.ExtendedRaw = err.Error()
			}
		} else {
			verdict = Classify(ext)
			report.ExtendedRaw = ext.Raw
		}
		report.Extended = &verdict
	} else {
		c.stage(StageTraceroute, 40, fmt.Sprintf("baseline %s, tracing %s -> %s", report.Baseline.State, source, destination))
		trace, err := c.prober.Trace(ctx, source, destination)
		if err != nil {
			trace = fmt.Sprintf("traceroute failed: %v", err)
		}
		report.Traceroute = &trace
	}

	c.stage(StageDone, 100, fmt.Sprintf("probe to %s finished: %s", destination, Summary(report)))
	return report
}

func (c *Controller) stage(s Stage, percent int, message string) {
	c.log.Debug("probe stage", "stage", s, "message", message)
	c.observer.ReportProgress(percent, message)
}

// Summary renders the headline of a probe report.
func Summary(r model.ProbeReport) string {
	if r.Extended != nil {
		return fmt.Sprintf("baseline %s, extended %s (%.1f%% loss)", r.Baseline.State, r.Extended.State, r.Extended.LossPercent)
	}
	return fmt.Sprintf("baseline %s (%s)", r.Baseline.State, r.Baseline.Reason)
}
