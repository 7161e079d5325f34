package probes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/circuitdiag/internal/model"
)

type fakeProber struct {
	pings    []fakePing
	trace    string
	traceErr error

	requests []PingRequest
	traced   int
}

type fakePing struct {
	outcome model.PingOutcome
	err     error
}

func (f *fakeProber) Ping(_ context.Context, req PingRequest) (model.PingOutcome, error) {
	f.requests = append(f.requests, req)
	if len(f.pings) == 0 {
		return model.PingOutcome{}, errors.New("unexpected ping")
	}
	p := f.pings[0]
	f.pings = f.pings[1:]
	return p.outcome, p.err
}

func (f *fakeProber) Trace(context.Context, string, string) (string, error) {
	f.traced++
	return f.trace, f.traceErr
}

func TestRunEscalatingProbe(t *testing.T) {
	clean := fakePing{outcome: newOutcome(5, 5, "5/5")}
	tests := map[string]struct {
		prober       *fakeProber
		wantBaseline model.HealthState
		wantReason   string
		wantExtended model.HealthState
		wantTrace    string
		wantPings    int
	}{
		"clean baseline escalates to extended": {
			prober:       &fakeProber{pings: []fakePing{clean, {outcome: newOutcome(1000, 970, "970/1000")}}},
			wantBaseline: model.HealthClean,
			wantExtended: model.HealthDegraded,
			wantPings:    2,
		},
		"degraded baseline traces": {
			prober:       &fakeProber{pings: []fakePing{{outcome: newOutcome(5, 3, "3/5")}}, trace: " 1  10.0.0.1  1.0 ms"},
			wantBaseline: model.HealthDegraded,
			wantTrace:    " 1  10.0.0.1  1.0 ms",
			wantPings:    1,
		},
		"unparsable baseline is down and traces": {
			prober:       &fakeProber{pings: []fakePing{{err: &ParseError{Format: "unix", Raw: "??"}}}, trace: "trace"},
			wantBaseline: model.HealthDown,
			wantReason:   ReasonNoProbeData,
			wantTrace:    "trace",
			wantPings:    1,
		},
		"trace failure is stored as text": {
			prober:       &fakeProber{pings: []fakePing{{outcome: newOutcome(5, 0, "0/5")}}, traceErr: errors.New("timeout")},
			wantBaseline: model.HealthDown,
			wantTrace:    "traceroute failed: timeout",
			wantPings:    1,
		},
		"extended parse failure is down": {
			prober:       &fakeProber{pings: []fakePing{clean, {err: &ParseError{Format: "unix", Raw: "cut"}}}},
			wantBaseline: model.HealthClean,
			wantExtended: model.HealthDown,
			wantPings:    2,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewController(test.prober, nil)
			report := c.RunEscalatingProbe(context.Background(), "10.0.0.1", "10.0.0.2", DefaultPolicy())

			assert.Equal(t, test.wantBaseline, report.Baseline.State)
			if test.wantReason != "" {
				assert.Equal(t, test.wantReason, report.Baseline.Reason)
			}
			assert.Len(t, test.prober.requests, test.wantPings)

			if test.wantExtended != "" {
				require.NotNil(t, report.Extended)
				assert.Equal(t, test.wantExtended, report.Extended.State)
				assert.Nil(t, report.Traceroute)
				assert.Zero(t, test.prober.traced)
			} else {
				require.NotNil(t, report.Traceroute)
				assert.Equal(t, test.wantTrace, *report.Traceroute)
				assert.Nil(t, report.Extended)
			}
		})
	}
}

func TestRunEscalatingProbeTransportFailure(t *testing.T) {
	prober := &fakeProber{pings: []fakePing{{err: errors.New("dial tcp: connection refused")}}}
	report := NewController(prober, nil).RunEscalatingProbe(context.Background(), "", "192.0.2.1", DefaultPolicy())

	assert.Equal(t, model.HealthDown, report.Baseline.State)
	assert.Equal(t, ReasonNotExecuted, report.Baseline.Reason)
	assert.Nil(t, report.Extended)
	assert.Nil(t, report.Traceroute)
	assert.Zero(t, prober.traced)
}

func TestRunEscalatingProbeUsesPolicy(t *testing.T) {
	prober := &fakeProber{pings: []fakePing{{outcome: newOutcome(5, 5, "")}, {outcome: newOutcome(1000, 1000, "")}}}
	policy := DefaultPolicy()

	var progress []int
	obs := model.ProgressFunc(func(p int, _ string) { progress = append(progress, p) })
	NewController(prober, obs).RunEscalatingProbe(context.Background(), "10.0.0.1", "10.0.0.2", policy)

	require.Len(t, prober.requests, 2)
	assert.Equal(t, policy.Baseline, prober.requests[0].ProbeSpec)
	assert.Equal(t, policy.Extended, prober.requests[1].ProbeSpec)
	assert.Equal(t, "10.0.0.1", prober.requests[1].Source)
	assert.Equal(t, []int{10, 40, 100}, progress)
}

func TestEscalationGatingIsExclusive(t *testing.T) {
	for sent := 1; sent <= 10; sent++ {
		for received := 0; received <= sent; received++ {
			prober := &fakeProber{
				pings: []fakePing{{outcome: newOutcome(sent, received, "")}, {outcome: newOutcome(1000, 1000, "")}},
				trace: "t",
			}
			r := NewController(prober, nil).RunEscalatingProbe(context.Background(), "a", "b", DefaultPolicy())
			clean := r.Baseline.State == model.HealthClean
			assert.Equal(t, clean, r.Extended != nil, "sent=%d received=%d", sent, received)
			assert.Equal(t, !clean, r.Traceroute != nil, "sent=%d received=%d", sent, received)
		}
	}
}
