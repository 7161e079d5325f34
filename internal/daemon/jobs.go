package daemon

import (
	"context"
	"fmt"
	"time"
)

// Retention is how long stored diagnoses are kept.
const Retention = 30 * 24 * time.Hour

// registerJobs adds one diagnosis job per watched service and a prune job.
func (d *Daemon) registerJobs() {
	for _, id := range d.config.Watch.Services {
		d.scheduler.AddJob(&Job{
			Name:     "diagnose:" + id,
			Interval: d.config.Watch.Interval,
			Run: func(ctx context.Context) (string, error) {
				return d.runDiagnosis(ctx, id)
			},
		})
	}

	d.scheduler.AddJob(&Job{
		Name:     "prune",
		Interval: 24 * time.Hour,
		Run:      d.runPrune,
	})
}

func (d *Daemon) runDiagnosis(ctx context.Context, serviceID string) (string, error) {
	diag, err := d.engine.Diagnose(ctx, serviceID, 0)
	if err != nil {
		return "", err
	}
	if err := d.diagnoses.Save(&diag); err != nil {
		return "", fmt.Errorf("failed to save diagnosis: %w", err)
	}

	prev := d.lastVerdict(serviceID)
	d.setVerdict(serviceID, diag.Responsibility)
	if prev != "" && prev != diag.Responsibility {
		d.log.Warn("responsibility changed", "service", serviceID, "from", prev, "to", diag.Responsibility, "reason", diag.Reason)
	}

	return fmt.Sprintf("%s/%s: %s", diag.Status, diag.Responsibility, diag.Reason), nil
}

func (d *Daemon) runPrune(context.Context) (string, error) {
	n, err := d.diagnoses.Prune(time.Now().Add(-Retention))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pruned %d diagnoses", n), nil
}
