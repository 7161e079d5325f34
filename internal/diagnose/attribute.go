// Package diagnose decides who is responsible for a service fault by
// combining monitoring history with live device evidence.
package diagnose

import (
	"fmt"
	"time"

	"github.com/user/circuitdiag/internal/availability"
	"github.com/user/circuitdiag/internal/model"
)

// DefaultRecencyWindow is how recent an anomaly must be to be charged
// to the vendor network.
const DefaultRecencyWindow = 2 * time.Hour

const timeLayout = "2006-01-02 15:04:05 UTC"

// Attribution reasons.
const (
	ReasonNotInHistory       = "service not found in history source"
	ReasonHistoryUnavailable = "history source unavailable"
	ReasonDown               = "service is currently down"
	ReasonRecentLoss         = "packet loss detected in the recency window"
	ReasonRecentInterruption = "recent interruption"
	ReasonNoRecentAnomalies  = "no interruptions or packet loss observed in the recency window"
	ReasonLiveLoss           = "packet loss detected by a live probe"
)

// Evidence is the input to attribution. Live is the worst verdict of
// the live probes and has an empty State when none ran.
type Evidence struct {
	Status       model.Status
	Availability model.AvailabilityReport
	LossEvents   []model.LossEvent
	Live         model.HealthVerdict
}

// LiveVerdict folds the baseline and extended verdicts of reports into
// the worst one. Down outranks degraded, which outranks clean; the
// Reason of the result names the destination.
func LiveVerdict(reports []model.ProbeReport) model.HealthVerdict {
	var worst model.HealthVerdict
	consider := func(v model.HealthVerdict, dest string) {
		if rank(v.State) > rank(worst.State) ||
			(v.State == worst.State && v.LossPercent > worst.LossPercent) {
			worst = model.HealthVerdict{State: v.State, LossPercent: v.LossPercent, Reason: dest}
		}
	}
	for _, r := range reports {
		consider(r.Baseline, r.Destination)
		if r.Extended != nil {
			consider(*r.Extended, r.Destination)
		}
	}
	return worst
}

func rank(s model.HealthState) int {
	switch s {
	case model.HealthClean:
		return 1
	case model.HealthDegraded:
		return 2
	case model.HealthDown:
		return 3
	}
	return 0
}

// Attribute applies the decision table with the default recency window.
func Attribute(ev Evidence, now time.Time) model.Diagnosis {
	return AttributeWithin(ev, now, DefaultRecencyWindow)
}

// AttributeWithin evaluates, in order: unknown status with no live
// fault, down status (historical or live), packet loss inside the
// window, an interruption starting inside the window, live packet
// loss. The first match decides; with none the service is up and clean,
// and the fault is not in the vendor network.
func AttributeWithin(ev Evidence, now time.Time, window time.Duration) model.Diagnosis {
	d := model.Diagnosis{
		Status:       ev.Status,
		Availability: ev.Availability,
		LossEvents:   ev.LossEvents,
		EvaluatedAt:  now,
	}
	cutoff := now.Add(-window)
	last := ev.Availability.LastInterruptionStart

	liveDown := ev.Live.State == model.HealthDown
	liveLoss := ev.Live.State == model.HealthDegraded

	if (ev.Status == model.StatusUnknown || ev.Status == "") && !liveDown && !liveLoss {
		d.Status = model.StatusUnknown
		d.Responsibility = model.ResponsibilityUnknown
		d.IssueType = model.IssueUnknown
		d.Reason = ReasonNotInHistory
		d.Message = "Service not found in history source"
		return d
	}

	if ev.Status == model.StatusDown || liveDown {
		d.Status = model.StatusDown
		d.Responsibility = model.ResponsibilityVendor
		d.IssueType = model.IssueOutage
		d.Reason = ReasonDown
		switch {
		case ev.Status != model.StatusDown:
			d.Message = "No response from " + ev.Live.Reason + " on the live probe"
		case last != nil:
			d.Message = "Down since " + last.UTC().Format(timeLayout)
		default:
			d.Message = "Currently down"
		}
		return d
	}

	var (
		recentLoss bool
		lastLoss   time.Time
		maxLoss    float64
	)
	for _, e := range ev.LossEvents {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		recentLoss = true
		lastLoss = e.Timestamp
		if e.LossPercent > maxLoss {
			maxLoss = e.LossPercent
		}
	}
	if recentLoss {
		d.Responsibility = model.ResponsibilityVendor
		d.IssueType = model.IssueDegradation
		d.Reason = ReasonRecentLoss
		d.MaxLossPercent = maxLoss
		d.Message = fmt.Sprintf("Service active with recent packet loss (Max: %g%%) at %s",
			maxLoss, lastLoss.UTC().Format(timeLayout))
		return d
	}

	if last != nil && !last.Before(cutoff) {
		d.Responsibility = model.ResponsibilityVendor
		d.IssueType = model.IssueDegradation
		d.Reason = ReasonRecentInterruption
		d.Message = "Service active with recent interruptions"
		if rec := ev.Availability.RecoveredAt; rec != nil {
			d.Message = fmt.Sprintf("Service active but had an outage between %s and %s",
				last.UTC().Format(timeLayout), rec.UTC().Format(timeLayout))
		}
		return d
	}

	if liveLoss {
		d.Status = model.StatusUp
		d.Responsibility = model.ResponsibilityVendor
		d.IssueType = model.IssueDegradation
		d.Reason = ReasonLiveLoss
		d.MaxLossPercent = ev.Live.LossPercent
		d.Message = fmt.Sprintf("Live probe to %s shows %g%% packet loss", ev.Live.Reason, ev.Live.LossPercent)
		return d
	}

	d.Responsibility = model.ResponsibilityCustomer
	d.IssueType = model.IssueUnknown
	d.Reason = ReasonNoRecentAnomalies
	d.Message = fmt.Sprintf("Service active for more than %s with no issues", humanWindow(window))
	return d
}

// EvidenceFromSamples reconstructs availability and extracts loss events
// from raw series.
func EvidenceFromSamples(status model.Status, ping, loss []model.Sample, threshold float64, now time.Time) Evidence {
	return Evidence{
		Status:       status,
		Availability: availability.Reconstruct(ping, now),
		LossEvents:   availability.ExtractLossEvents(loss, threshold),
	}
}

func humanWindow(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	}
	return d.String()
}
