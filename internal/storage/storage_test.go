package storage

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/circuitdiag/internal/history"
	"github.com/user/circuitdiag/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleDiagnosis(service string, at time.Time) *model.Diagnosis {
	start := at.Add(-30 * time.Minute)
	end := at.Add(-20 * time.Minute)
	trace := "1  10.0.0.1  1.2 ms"
	return &model.Diagnosis{
		ServiceID:      service,
		Status:         model.StatusUp,
		Responsibility: model.ResponsibilityVendor,
		IssueType:      model.IssueDegradation,
		Reason:         "recent interruption",
		Message:        "Service active but had an outage",
		LookbackHours:  12,
		Availability: model.AvailabilityReport{
			Interruptions:         1,
			TotalUnavailable:      10 * time.Minute,
			LastInterruptionStart: &start,
			RecoveredAt:           &end,
			Intervals:             []model.DowntimeInterval{{Start: start, End: &end}},
		},
		LossEvents: []model.LossEvent{{Timestamp: start, LossPercent: 5}},
		Evidence: []model.EvidenceRecord{
			{Device: "pe-01", Stage: "bgp", Outcome: "show bgp summary | match 10.0.0.2", Raw: "Establ"},
			{Device: "pe-01", Stage: "vlan", Err: "connection reset"},
		},
		Probes: []model.ProbeReport{{
			Source:      "10.0.0.1",
			Destination: "10.0.0.2",
			Baseline:    model.HealthVerdict{State: model.HealthDegraded, LossPercent: 40},
			Traceroute:  &trace,
		}},
		EvaluatedAt: at,
	}
}

func TestDiagnosisSaveAndGet(t *testing.T) {
	store := NewDiagnosisStorage(openTestDB(t))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	d := sampleDiagnosis("SVC-1", at)
	require.NoError(t, store.Save(d))
	require.NotZero(t, d.ID)

	got, err := store.Get(d.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("stored diagnosis mismatch (-want +got):\n%s", diff)
	}
}

func TestDiagnosisGetMissing(t *testing.T) {
	store := NewDiagnosisStorage(openTestDB(t))
	_, err := store.Get(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiagnosisListAndLatest(t *testing.T) {
	store := NewDiagnosisStorage(openTestDB(t))
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, svc := range []string{"SVC-1", "SVC-2", "SVC-1"} {
		require.NoError(t, store.Save(sampleDiagnosis(svc, base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := store.List("", base, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Empty(t, all[0].Evidence, "list omits evidence")

	one, err := store.List("SVC-1", base, 0)
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.True(t, one[0].EvaluatedAt.After(one[1].EvaluatedAt))

	latest, err := store.Latest("SVC-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.EvaluatedAt.Equal(base.Add(2*time.Hour)))
	assert.Len(t, latest.Evidence, 2)

	none, err := store.Latest("SVC-9")
	require.NoError(t, err)
	assert.Nil(t, none)

	services, err := store.Services()
	require.NoError(t, err)
	assert.Equal(t, []string{"SVC-1", "SVC-2"}, services)

	n, err := store.Prune(base.Add(90 * time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSamples(t *testing.T) {
	store := NewSampleStorage(openTestDB(t))
	key := history.MetricKey{Host: "SVC-1", Metric: history.MetricPing}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	samples := []model.Sample{
		{Timestamp: base.Add(2 * time.Minute), Value: 0},
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(time.Minute), Value: 1},
	}
	require.NoError(t, store.SaveSamples(key, samples))
	require.NoError(t, store.SaveSamples(key, samples[:1]), "re-recording is idempotent")

	got, err := store.Samples(key, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Timestamp.Equal(base))
	assert.Equal(t, 0.0, got[2].Value)

	got, err = store.Samples(history.MetricKey{Host: "SVC-1", Metric: history.MetricLoss}, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	ok, err := store.HasHost("SVC-1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.Count("SVC-1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordedHistoryRoundTrip(t *testing.T) {
	store := NewSampleStorage(openTestDB(t))
	key := history.MetricKey{Host: "SVC-1", Metric: history.MetricPing}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveSamples(key, []model.Sample{{Timestamp: now.Add(-time.Minute), Value: 1}}))

	status, err := history.CurrentStatus(t.Context(), history.NewRecorded(store), "SVC-1", now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUp, status)
}

func TestDevices(t *testing.T) {
	store := NewDeviceStorage(openTestDB(t))
	devices := []model.DeviceLocation{
		{Name: "cpe-1", ManagementIP: "10.0.0.5", Vendor: model.VendorMikrotik, Role: model.RoleCPE, Manufacturer: "MikroTik", ConnectedTo: "pop-1"},
		{Name: "pop-1", ManagementIP: "192.0.2.1", Vendor: model.VendorJuniper, Role: model.RolePOP, DeviceType: "MX204"},
	}
	require.NoError(t, store.SaveDevices("SVC-1", devices))
	require.NoError(t, store.SaveDevices("SVC-1", devices))

	got, err := store.Devices("SVC-1")
	require.NoError(t, err)
	if diff := cmp.Diff(devices, got); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}

	got, err = store.Devices("SVC-2")
	require.NoError(t, err)
	assert.Empty(t, got)
}
