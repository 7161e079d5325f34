package service

import (
	"context"
	"strings"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/session"
)

// Result is the evidence gathered from one device.
type Result struct {
	Evidence []model.EvidenceRecord `json:"evidence"`
	Probes   []model.ProbeReport    `json:"probes,omitempty"`
}

func (r *Result) merge(other Result) {
	r.Evidence = append(r.Evidence, other.Evidence...)
	r.Probes = append(r.Probes, other.Probes...)
}

// recorder runs commands on one device and keeps their output as
// ordered evidence records.
type recorder struct {
	exec   session.Executor
	target session.Target
	Result
}

func newRecorder(exec session.Executor, target session.Target) *recorder {
	return &recorder{exec: exec, target: target}
}

// run executes command and records it under stage. Transport errors are
// recorded, never returned.
func (r *recorder) run(ctx context.Context, stage, command string) (string, bool) {
	out, err := r.exec.ExecuteCommand(ctx, r.target, command)
	rec := model.EvidenceRecord{Device: r.target.Name, Stage: stage, Outcome: command, Raw: strings.TrimSpace(out)}
	if err != nil {
		rec.Err = err.Error()
		r.Evidence = append(r.Evidence, rec)
		return "", false
	}
	r.Evidence = append(r.Evidence, rec)
	return out, true
}

func (r *recorder) note(stage, outcome, raw string) {
	r.Evidence = append(r.Evidence, model.EvidenceRecord{Device: r.target.Name, Stage: stage, Outcome: outcome, Raw: raw})
}

func (r *recorder) fail(stage string, err error) {
	r.Evidence = append(r.Evidence, model.EvidenceRecord{Device: r.target.Name, Stage: stage, Err: err.Error()})
}

func (r *recorder) probe(stage string, report model.ProbeReport) {
	r.Probes = append(r.Probes, report)
	r.note(stage, probes.Summary(report), probeRaw(report))
}

// probeRaw joins the raw outputs of a probe report in stage order.
func probeRaw(report model.ProbeReport) string {
	parts := []string{strings.TrimSpace(report.BaselineRaw)}
	if report.Extended != nil {
		parts = append(parts, strings.TrimSpace(report.ExtendedRaw))
	}
	if report.Traceroute != nil {
		parts = append(parts, strings.TrimSpace(*report.Traceroute))
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
