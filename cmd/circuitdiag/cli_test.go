package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/user/circuitdiag/internal/history"
	"github.com/user/circuitdiag/internal/inventory"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90m", 90 * time.Minute, false},
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"0d", 0, true},
		{"-1h", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    model.DeviceLocation
		wantErr bool
	}{
		{
			name: "address and vendor",
			in:   "10.0.0.1,juniper",
			want: model.DeviceLocation{Name: "10.0.0.1", ManagementIP: "10.0.0.1", Manufacturer: "juniper", Vendor: model.VendorJuniper, Role: model.RoleCPE},
		},
		{
			name: "full",
			in:   "10.0.0.2, MikroTik, pop, pop-1",
			want: model.DeviceLocation{Name: "pop-1", ManagementIP: "10.0.0.2", Manufacturer: "MikroTik", Vendor: model.VendorMikrotik, Role: model.RolePOP},
		},
		{name: "missing vendor", in: "10.0.0.1", wantErr: true},
		{name: "unknown vendor", in: "10.0.0.1,acme", wantErr: true},
		{name: "bad role", in: "10.0.0.1,cisco,core", wantErr: true},
		{name: "empty address", in: ",cisco", wantErr: true},
		{name: "too many fields", in: "a,cisco,cpe,n,x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDevice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseDevice() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewResolver(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := util.DefaultConfig()

	r, f, err := newResolver(c, db, nil)
	require.NoError(t, err)
	assert.Nil(t, r, "no netbox and no devices disables live evidence")
	assert.Nil(t, f)

	r, f, err = newResolver(c, db, []string{"10.0.0.1,cisco", "10.0.0.9,juniper,nni,nni-01"})
	require.NoError(t, err)
	require.IsType(t, inventory.Static{}, r)
	assert.Len(t, r.(inventory.Static), 2)
	nni, err := f.Device(context.Background(), "nni-01", model.RoleNNI)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", nni.ManagementIP)

	_, _, err = newResolver(c, db, []string{"bogus"})
	assert.Error(t, err)

	c.Netbox.URL = "http://netbox.example"
	r, f, err = newResolver(c, db, nil)
	require.NoError(t, err)
	assert.IsType(t, &inventory.CachedResolver{}, r)
	assert.IsType(t, &inventory.Client{}, f)
}

func TestNewSource(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := util.DefaultConfig()

	src, err := newSource(c, db, false)
	require.NoError(t, err)
	assert.IsType(t, &history.Recorded{}, src)

	c.Zabbix.URL = "http://zabbix.example"
	src, err = newSource(c, db, false)
	require.NoError(t, err)
	assert.IsType(t, &history.Recording{}, src)

	src, err = newSource(c, db, true)
	require.NoError(t, err)
	assert.IsType(t, &history.Recorded{}, src)
}

func TestWriteDiagnoses(t *testing.T) {
	d := &model.Diagnosis{
		ServiceID:      "SVC-1",
		Status:         model.StatusDown,
		Responsibility: model.ResponsibilityVendor,
		IssueType:      model.IssueOutage,
		Reason:         "down",
		EvaluatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("json single", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDiagnoses(&buf, []*model.Diagnosis{d}, "json"))
		var got model.Diagnosis
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "SVC-1", got.ServiceID)
	})

	t.Run("json many", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDiagnoses(&buf, []*model.Diagnosis{d, d}, "json"))
		var got []model.Diagnosis
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Len(t, got, 2)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDiagnoses(&buf, []*model.Diagnosis{d}, "yaml"))
		var got map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "SVC-1", got["serviceid"])
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDiagnoses(&buf, []*model.Diagnosis{d}, "text"))
		assert.Contains(t, buf.String(), "Service SVC-1")
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDiagnoses(&buf, []*model.Diagnosis{d}, "markdown"))
		assert.Contains(t, buf.String(), "# Diagnosis: SVC-1")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, writeDiagnoses(&bytes.Buffer{}, []*model.Diagnosis{d}, "xml"))
	})
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	progressPrinter(&buf, "SVC-1").ReportProgress(30, "history verdict")
	assert.Equal(t, "[SVC-1]  30% history verdict\n", buf.String())
}

func TestCheckOutputFormat(t *testing.T) {
	for _, f := range []string{"text", "markdown", "md", "json", "yaml"} {
		assert.NoError(t, checkOutputFormat(f), f)
	}
	err := checkOutputFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"xml"`)
}

func TestRunDiagnoseRejectsFormatBeforeOpeningDatabase(t *testing.T) {
	old := diagOutput
	t.Cleanup(func() { diagOutput = old })
	diagOutput = "csv"

	err := runDiagnose(diagnoseCmd, []string{"SVC-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestNamedDevices(t *testing.T) {
	ctx := context.Background()
	finder := inventory.Static{
		{Name: "nni-01", ManagementIP: "10.0.0.9", Vendor: model.VendorJuniper, Role: model.RoleCPE},
		{Name: "pop-01", ManagementIP: "10.0.0.10", Vendor: model.VendorCisco, Role: model.RoleCPE},
	}

	devs, err := namedDevices(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, devs)

	devs, err = namedDevices(ctx, finder, []string{"nni-01"}, []string{"pop-01"})
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, model.RoleNNI, devs[0].Role)
	assert.Equal(t, model.RolePOP, devs[1].Role)

	_, err = namedDevices(ctx, finder, []string{"missing"}, nil)
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	_, err = namedDevices(ctx, nil, []string{"nni-01"}, nil)
	assert.ErrorContains(t, err, "need an inventory")
}
