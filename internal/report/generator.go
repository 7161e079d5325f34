// Package report renders diagnoses and service history reports.
package report

import (
	"fmt"
	"time"

	"github.com/user/circuitdiag/internal/availability"
	"github.com/user/circuitdiag/internal/history"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
)

// Generator creates service reports from stored diagnoses and samples.
type Generator struct {
	diagnoses *storage.DiagnosisStorage
	samples   *storage.SampleStorage
	config    *util.Config
}

// NewGenerator creates a new report generator.
func NewGenerator(db *storage.DB, cfg *util.Config) *Generator {
	return &Generator{
		diagnoses: storage.NewDiagnosisStorage(db),
		samples:   storage.NewSampleStorage(db),
		config:    cfg,
	}
}

// ReportData holds all data for a report.
type ReportData struct {
	GeneratedAt time.Time
	Since       time.Time
	Until       time.Time
	ServiceID   string

	// Diagnoses, newest first, without evidence.
	Diagnoses []model.Diagnosis
	Latest    *model.Diagnosis

	VendorCount   int
	CustomerCount int
	UnknownCount  int

	// Recorded history over the report window.
	Ping          []model.Sample
	Loss          []model.Sample
	Availability  model.AvailabilityReport
	LossEvents    []model.LossEvent
	UptimePercent float64

	VerdictChanges []VerdictChange
	PathChanges    []PathChange
}

// VerdictChange is a change of responsibility between two diagnoses.
type VerdictChange struct {
	From      model.Responsibility
	To        model.Responsibility
	Reason    string
	Timestamp time.Time
}

// PathChange is a traceroute path change towards one destination.
type PathChange struct {
	Destination string
	OldHops     []string
	NewHops     []string
	Added       []string
	Removed     []string
	Timestamp   time.Time
}

// Generate creates a report for one service over the requested range.
func (g *Generator) Generate(opts model.ReportOptions) (*ReportData, error) {
	if opts.ServiceID == "" {
		return nil, fmt.Errorf("service id is required")
	}
	if opts.Until.IsZero() {
		opts.Until = time.Now()
	}

	data := &ReportData{
		GeneratedAt: time.Now(),
		Since:       opts.Since,
		Until:       opts.Until,
		ServiceID:   opts.ServiceID,
	}

	diagnoses, err := g.diagnoses.List(opts.ServiceID, opts.Since, 500)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnoses: %w", err)
	}
	for _, d := range diagnoses {
		if d.EvaluatedAt.After(opts.Until) {
			continue
		}
		data.Diagnoses = append(data.Diagnoses, d)
		switch d.Responsibility {
		case model.ResponsibilityVendor:
			data.VendorCount++
		case model.ResponsibilityCustomer:
			data.CustomerCount++
		default:
			data.UnknownCount++
		}
	}

	if len(data.Diagnoses) > 0 {
		latest, err := g.diagnoses.Get(data.Diagnoses[0].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest diagnosis: %w", err)
		}
		data.Latest = latest
	}

	data.Ping, err = g.samples.Samples(history.MetricKey{Host: opts.ServiceID, Metric: history.MetricPing}, opts.Since, opts.Until)
	if err != nil {
		return nil, fmt.Errorf("failed to get ping history: %w", err)
	}
	data.Loss, err = g.samples.Samples(history.MetricKey{Host: opts.ServiceID, Metric: history.MetricLoss}, opts.Since, opts.Until)
	if err != nil {
		return nil, fmt.Errorf("failed to get loss history: %w", err)
	}

	threshold := availability.DefaultLossThreshold
	if g.config != nil {
		threshold = g.config.LossThreshold
	}
	data.Availability = availability.Reconstruct(data.Ping, opts.Until)
	data.LossEvents = availability.ExtractLossEvents(data.Loss, threshold)
	data.UptimePercent = 100 * availability.Uptime(data.Availability, opts.Until.Sub(opts.Since))

	data.VerdictChanges = detectVerdictChanges(data.Diagnoses)
	data.PathChanges = detectPathChanges(data.Diagnoses)
	return data, nil
}

// detectVerdictChanges walks diagnoses newest first and reports every
// responsibility flip.
func detectVerdictChanges(diagnoses []model.Diagnosis) []VerdictChange {
	var changes []VerdictChange

	for i := 0; i < len(diagnoses)-1; i++ {
		curr, prev := diagnoses[i], diagnoses[i+1]
		if curr.Responsibility != prev.Responsibility {
			changes = append(changes, VerdictChange{
				From:      prev.Responsibility,
				To:        curr.Responsibility,
				Reason:    curr.Reason,
				Timestamp: curr.EvaluatedAt,
			})
		}
	}

	return changes
}

// detectPathChanges compares consecutive traceroutes to the same
// destination across diagnoses.
func detectPathChanges(diagnoses []model.Diagnosis) []PathChange {
	type trace struct {
		hops []string
		at   time.Time
	}
	byDest := make(map[string][]trace)
	var order []string

	for _, d := range diagnoses {
		for _, p := range d.Probes {
			if p.Traceroute == nil {
				continue
			}
			if _, ok := byDest[p.Destination]; !ok {
				order = append(order, p.Destination)
			}
			byDest[p.Destination] = append(byDest[p.Destination], trace{
				hops: getHopIPs(probes.ParseHops(*p.Traceroute)),
				at:   d.EvaluatedAt,
			})
		}
	}

	var changes []PathChange
	for _, dest := range order {
		traces := byDest[dest]
		for i := 0; i < len(traces)-1; i++ {
			curr, prev := traces[i], traces[i+1]
			if equalHops(curr.hops, prev.hops) {
				continue
			}
			added, removed := diffHops(prev.hops, curr.hops)
			changes = append(changes, PathChange{
				Destination: dest,
				OldHops:     prev.hops,
				NewHops:     curr.hops,
				Added:       added,
				Removed:     removed,
				Timestamp:   curr.at,
			})
		}
	}
	return changes
}

func getHopIPs(hops []model.TraceHop) []string {
	ips := make([]string, 0, len(hops))
	for _, hop := range hops {
		if !hop.Lost && hop.IP != "" {
			ips = append(ips, hop.IP)
		}
	}
	return ips
}

func equalHops(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diffHops returns hops only in next and hops only in prev, in path order.
func diffHops(prev, next []string) (added, removed []string) {
	prevSet := make(map[string]bool)
	nextSet := make(map[string]bool)

	for _, h := range prev {
		prevSet[h] = true
	}
	for _, h := range next {
		nextSet[h] = true
	}

	for _, h := range next {
		if !prevSet[h] {
			added = append(added, h)
		}
	}
	for _, h := range prev {
		if !nextSet[h] {
			removed = append(removed, h)
		}
	}

	return
}
