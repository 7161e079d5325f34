package availability

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/circuitdiag/internal/model"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func up(t time.Time) model.Sample   { return model.Sample{Timestamp: t, Value: 1} }
func down(t time.Time) model.Sample { return model.Sample{Timestamp: t, Value: 0} }

func TestReconstructEmpty(t *testing.T) {
	for _, samples := range [][]model.Sample{nil, {}} {
		got := Reconstruct(samples, t0)
		if diff := cmp.Diff(model.AvailabilityReport{}, got); diff != "" {
			t.Errorf("Reconstruct() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestReconstructClosedInterval(t *testing.T) {
	t1 := t0
	t2 := t1.Add(5 * time.Minute)
	t3 := t2.Add(10 * time.Minute)
	samples := []model.Sample{up(t0), down(t1), down(t2), up(t3)}

	got := Reconstruct(samples, t3.Add(time.Hour))

	want := model.AvailabilityReport{
		Interruptions:         1,
		TotalUnavailable:      15 * time.Minute,
		LastInterruptionStart: ptr(t1),
		RecoveredAt:           ptr(t3),
		Intervals:             []model.DowntimeInterval{{Start: t1, End: ptr(t3)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reconstruct() mismatch (-want +got):\n%s", diff)
	}
}

func TestReconstructOpenInterval(t *testing.T) {
	start := t0.Add(time.Minute)
	now := t0.Add(31 * time.Minute)
	samples := []model.Sample{up(t0), down(start), down(t0.Add(2 * time.Minute))}

	got := Reconstruct(samples, now)

	assert.Equal(t, 1, got.Interruptions)
	assert.Equal(t, 30*time.Minute, got.TotalUnavailable)
	require.NotNil(t, got.LastInterruptionStart)
	assert.Equal(t, start, *got.LastInterruptionStart)
	assert.Nil(t, got.RecoveredAt)
	require.Len(t, got.Intervals, 1)
	assert.Nil(t, got.Intervals[0].End)
}

func TestReconstructSingleDownSample(t *testing.T) {
	got := Reconstruct([]model.Sample{down(t0)}, t0.Add(time.Hour))
	assert.Equal(t, 1, got.Interruptions)
	assert.Equal(t, time.Hour, got.TotalUnavailable)
	assert.Nil(t, got.RecoveredAt)
}

func TestReconstructOpenAfterRecovery(t *testing.T) {
	samples := []model.Sample{
		down(t0), up(t0.Add(10 * time.Minute)),
		down(t0.Add(20 * time.Minute)), up(t0.Add(25 * time.Minute)),
		down(t0.Add(40 * time.Minute)),
	}
	got := Reconstruct(samples, t0.Add(50*time.Minute))

	assert.Equal(t, 3, got.Interruptions)
	assert.Equal(t, 25*time.Minute, got.TotalUnavailable)
	assert.Equal(t, t0.Add(40*time.Minute), *got.LastInterruptionStart)
	assert.Nil(t, got.RecoveredAt, "last interval is still open")
}

func TestReconstructAllUp(t *testing.T) {
	got := Reconstruct([]model.Sample{up(t0), up(t0.Add(time.Minute))}, t0.Add(time.Hour))
	assert.Zero(t, got.Interruptions)
	assert.Zero(t, got.TotalUnavailable)
	assert.Nil(t, got.LastInterruptionStart)
}

func TestReconstructInvariants(t *testing.T) {
	samples := make([]model.Sample, 0, 200)
	for i := 0; i < 200; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		if (i/7)%3 == 0 {
			samples = append(samples, down(ts))
		} else {
			samples = append(samples, up(ts))
		}
	}
	now := t0.Add(300 * time.Minute)
	got := Reconstruct(samples, now)

	assert.Equal(t, len(got.Intervals), got.Interruptions)
	var total time.Duration
	for _, iv := range got.Intervals {
		end := now
		if iv.End != nil {
			end = *iv.End
		}
		assert.False(t, end.Before(iv.Start))
		total += end.Sub(iv.Start)
	}
	assert.Equal(t, total, got.TotalUnavailable)
}

func TestExtractLossEvents(t *testing.T) {
	samples := []model.Sample{
		{Timestamp: t0, Value: 0},
		{Timestamp: t0.Add(time.Minute), Value: 10},
		{Timestamp: t0.Add(2 * time.Minute), Value: 15},
		{Timestamp: t0.Add(3 * time.Minute), Value: 0},
		{Timestamp: t0.Add(4 * time.Minute), Value: 0.5},
	}

	tests := map[string]struct {
		threshold float64
		want      []model.LossEvent
	}{
		"default threshold keeps every lossy sample": {
			threshold: DefaultLossThreshold,
			want: []model.LossEvent{
				{Timestamp: t0.Add(time.Minute), LossPercent: 10},
				{Timestamp: t0.Add(2 * time.Minute), LossPercent: 15},
				{Timestamp: t0.Add(4 * time.Minute), LossPercent: 0.5},
			},
		},
		"threshold is exclusive": {
			threshold: 10,
			want:      []model.LossEvent{{Timestamp: t0.Add(2 * time.Minute), LossPercent: 15}},
		},
		"nothing above threshold": {
			threshold: 50,
			want:      nil,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := ExtractLossEvents(samples, test.threshold)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ExtractLossEvents() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMaxLossAndUptime(t *testing.T) {
	assert.Zero(t, MaxLoss(nil))
	assert.Equal(t, 15.0, MaxLoss([]model.LossEvent{{LossPercent: 10}, {LossPercent: 15}, {LossPercent: 3}}))

	report := model.AvailabilityReport{TotalUnavailable: 6 * time.Minute}
	assert.InDelta(t, 0.9, Uptime(report, time.Hour), 1e-9)
	assert.Equal(t, 1.0, Uptime(report, 0))
}
