// Package availability turns liveness and packet-loss time-series into
// downtime intervals and loss events.
package availability

import (
	"time"

	"github.com/user/circuitdiag/internal/model"
)

// IsUp reports whether a liveness sample counts as up.
func IsUp(s model.Sample) bool {
	return s.Value > 0
}

// Reconstruct scans chronologically ordered liveness samples once and
// returns the downtime intervals found. An interval still open after the
// last sample is measured against now and left without a recovery time.
func Reconstruct(samples []model.Sample, now time.Time) model.AvailabilityReport {
	var (
		report    model.AvailabilityReport
		downSince *time.Time
	)

	for _, s := range samples {
		if !IsUp(s) {
			if downSince == nil {
				ts := s.Timestamp
				downSince = &ts
			}
			continue
		}
		if downSince == nil {
			continue
		}

		end := s.Timestamp
		report.Intervals = append(report.Intervals, model.DowntimeInterval{Start: *downSince, End: &end})
		report.TotalUnavailable += end.Sub(*downSince)
		report.LastInterruptionStart = downSince
		report.RecoveredAt = &end
		downSince = nil
	}

	if downSince != nil {
		report.Intervals = append(report.Intervals, model.DowntimeInterval{Start: *downSince})
		if now.After(*downSince) {
			report.TotalUnavailable += now.Sub(*downSince)
		}
		report.LastInterruptionStart = downSince
		report.RecoveredAt = nil
	}

	report.Interruptions = len(report.Intervals)
	return report
}

// DefaultLossThreshold keeps every sample with any loss at all.
const DefaultLossThreshold = 0.0

// ExtractLossEvents returns one event per sample whose loss exceeds
// threshold, in input order. Consecutive samples are not merged.
func ExtractLossEvents(samples []model.Sample, threshold float64) []model.LossEvent {
	var events []model.LossEvent
	for _, s := range samples {
		if s.Value > threshold {
			events = append(events, model.LossEvent{Timestamp: s.Timestamp, LossPercent: s.Value})
		}
	}
	return events
}

// MaxLoss returns the highest loss among events, or 0.
func MaxLoss(events []model.LossEvent) float64 {
	var max float64
	for _, e := range events {
		if e.LossPercent > max {
			max = e.LossPercent
		}
	}
	return max
}

// Uptime returns the fraction of window during which the service was up.
func Uptime(report model.AvailabilityReport, window time.Duration) float64 {
	if window <= 0 {
		return 1
	}
	up := 1 - float64(report.TotalUnavailable)/float64(window)
	if up < 0 {
		return 0
	}
	return up
}
