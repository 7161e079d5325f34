// Package probes parses and classifies ping results and runs the
// escalating probe protocol against a device or the local host.
package probes

import (
	"errors"
	"fmt"

	"github.com/user/circuitdiag/internal/model"
)

// CleanLossThreshold is the loss percentage below which a ping is clean.
// It applies to every vendor.
const CleanLossThreshold = 2.0

const (
	ReasonNoProbeData  = "no probe data"
	ReasonNotExecuted  = "probe could not be executed"
	ReasonClean        = "loss below threshold"
	ReasonNoResponse   = "no response"
	reasonDegradedForm = "packet loss %.1f%%"
)

// Classify maps a PingOutcome to a HealthVerdict.
func Classify(o model.PingOutcome) model.HealthVerdict {
	if o.Sent <= 0 && !o.CountsUnknown {
		return model.HealthVerdict{State: model.HealthDown, LossPercent: 100, Reason: ReasonNoProbeData}
	}

	loss := o.LossPercent
	switch {
	case loss < CleanLossThreshold:
		return model.HealthVerdict{State: model.HealthClean, LossPercent: loss, Reason: ReasonClean}
	case loss < 100:
		return model.HealthVerdict{State: model.HealthDegraded, LossPercent: loss, Reason: fmt.Sprintf(reasonDegradedForm, loss)}
	default:
		return model.HealthVerdict{State: model.HealthDown, LossPercent: 100, Reason: ReasonNoResponse}
	}
}

// ClassifyError maps a probe failure to a Down verdict. Output that
// could not be parsed is "no probe data"; anything else means the probe
// never ran.
func ClassifyError(err error) model.HealthVerdict {
	var perr *ParseError
	if errors.As(err, &perr) {
		return model.HealthVerdict{State: model.HealthDown, LossPercent: 100, Reason: ReasonNoProbeData}
	}
	return model.HealthVerdict{State: model.HealthDown, LossPercent: 100, Reason: ReasonNotExecuted}
}

// ClassifyRaw parses raw output with p and classifies the result.
func ClassifyRaw(p Parser, raw string) (model.PingOutcome, model.HealthVerdict) {
	outcome, err := p.Parse(raw)
	if err != nil {
		return model.PingOutcome{Raw: raw}, ClassifyError(err)
	}
	return outcome, Classify(outcome)
}
