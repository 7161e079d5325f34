// Package model defines core data structures for circuitdiag.
package model

import "time"

// HealthState is the tri-state classification of a ping result.
type HealthState string

const (
	HealthClean    HealthState = "clean"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// PingOutcome is the normalized result of one ping invocation.
// LossPercent is 100*(Sent-Received)/Sent, except when CountsUnknown is
// set: the output only reported a loss percentage, Sent and Received
// are zero and LossPercent is taken as printed.
type PingOutcome struct {
	Sent          int     `json:"sent"`
	Received      int     `json:"received"`
	LossPercent   float64 `json:"loss_percent"`
	CountsUnknown bool    `json:"counts_unknown,omitempty"`
	Raw           string  `json:"raw,omitempty"`
}

// HealthVerdict is the classification of a PingOutcome.
type HealthVerdict struct {
	State       HealthState `json:"state"`
	LossPercent float64     `json:"loss_percent"`
	Reason      string      `json:"reason,omitempty"`
}

// ProbeReport is the outcome of the escalating probe protocol for one
// source/destination pair. Extended is set only after a clean baseline,
// Traceroute only after a degraded or down one.
type ProbeReport struct {
	Source      string         `json:"source,omitempty"`
	Destination string         `json:"destination"`
	Baseline    HealthVerdict  `json:"baseline"`
	BaselineRaw string         `json:"baseline_raw,omitempty"`
	Extended    *HealthVerdict `json:"extended,omitempty"`
	ExtendedRaw string         `json:"extended_raw,omitempty"`
	Traceroute  *string        `json:"traceroute,omitempty"`
}

// ServiceType classifies how a service is provisioned on a device.
type ServiceType string

const (
	ServiceBgp       ServiceType = "bgp"
	ServiceIrb       ServiceType = "irb"
	ServiceL2Circuit ServiceType = "l2circuit"
	ServiceVpls      ServiceType = "vpls"
	ServiceVlan      ServiceType = "vlan"
	ServiceUnknown   ServiceType = "unknown"
)

// Sample is one point of a historical time-series.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// DowntimeInterval is one contiguous outage. A nil End means the
// service was still down at evaluation time.
type DowntimeInterval struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// AvailabilityReport aggregates downtime over a lookback window.
type AvailabilityReport struct {
	Interruptions         int                `json:"interruptions"`
	TotalUnavailable      time.Duration      `json:"total_unavailable"`
	LastInterruptionStart *time.Time         `json:"last_interruption_start,omitempty"`
	RecoveredAt           *time.Time         `json:"recovered_at,omitempty"`
	Intervals             []DowntimeInterval `json:"intervals,omitempty"`
}

// LossEvent is one sample whose loss exceeded the extraction threshold.
type LossEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	LossPercent float64   `json:"loss_percent"`
}

// Status is the live status of a service.
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// Responsibility says who a fault is chargeable to.
type Responsibility string

const (
	ResponsibilityVendor    Responsibility = "vendor"
	ResponsibilityCustomer  Responsibility = "customer"
	ResponsibilityNotVendor Responsibility = "not-vendor"
	ResponsibilityUnknown   Responsibility = "unknown"
)

// IssueType is the kind of fault observed.
type IssueType string

const (
	IssueOutage      IssueType = "outage"
	IssueDegradation IssueType = "degradation"
	IssueUnknown     IssueType = "unknown"
)

// EvidenceRecord is one ordered piece of diagnostic evidence.
type EvidenceRecord struct {
	Device  string `json:"device,omitempty"`
	Stage   string `json:"stage"`
	Outcome string `json:"outcome,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Diagnosis is the final merged verdict for a service.
type Diagnosis struct {
	ID             int64              `json:"id,omitempty"`
	ServiceID      string             `json:"service_id"`
	Status         Status             `json:"status"`
	Responsibility Responsibility     `json:"responsibility"`
	IssueType      IssueType          `json:"issue_type"`
	Reason         string             `json:"reason"`
	Message        string             `json:"message,omitempty"`
	MaxLossPercent float64            `json:"max_loss_percent,omitempty"`
	LookbackHours  int                `json:"lookback_hours"`
	Availability   AvailabilityReport `json:"availability"`
	LossEvents     []LossEvent        `json:"loss_events,omitempty"`
	Evidence       []EvidenceRecord   `json:"evidence,omitempty"`
	Probes         []ProbeReport      `json:"probes,omitempty"`
	EvaluatedAt    time.Time          `json:"evaluated_at"`
}

// TraceHop represents a single hop parsed from traceroute output.
type TraceHop struct {
	HopNum    int     `json:"hop_num"`
	IP        string  `json:"ip"`
	LatencyMs float64 `json:"latency_ms"`
	Lost      bool    `json:"lost"`
}

// DaemonStatus represents the current state of the watch daemon.
type DaemonStatus struct {
	Running     bool        `json:"running"`
	PID         int         `json:"pid"`
	StartTime   time.Time   `json:"start_time"`
	Uptime      string      `json:"uptime"`
	Watched     []string    `json:"watched"`
	LastCheck   time.Time   `json:"last_check"`
	JobsRunning int         `json:"jobs_running"`
	Jobs        []JobStatus `json:"jobs,omitempty"`
}

// JobStatus represents the status of a scheduled diagnosis job.
type JobStatus struct {
	Name       string    `json:"name"`
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	LastResult string    `json:"last_result"`
	ErrorCount int       `json:"error_count"`
}

// ReportOptions defines options for report generation.
type ReportOptions struct {
	ServiceID  string    `json:"service_id"`
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until"`
	Format     string    `json:"format"`
	OutputPath string    `json:"output_path"`
	ChartPath  string    `json:"chart_path,omitempty"`
}
