package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/util"
)

const versaInterfaces = `{"collection":{"interfaces:brief":[
  {"name":"vni-0/0.0","mac":"aa:bb:cc:00:00:01","if-oper-status":"up","if-admin-status":"up","vrf":"Internet-Transport-VR","address":[{"ip":"198.51.100.2/30"}]},
  {"name":"vni-0/1.0","mac":"aa:bb:cc:00:00:02","if-oper-status":"down","if-admin-status":"up","vrf":"MPLS-Transport-VR","address":[]},
  {"name":"tvi-0/1.0","if-oper-status":"up","if-admin-status":"up"}
]}}`

const versaStats = `{"collection":{"sdwan:stats":[
  {"local-circuit":"Internet","remote-branch":"PRM-HUB-01","remote-circuit":"MPLS","multi-link-total-tx":"1200","multi-link-total-rx":"1180"},
  {"local-circuit":"Internet","remote-branch":"PRM-HUB-01","remote-circuit":"Internet","multi-link-total-tx":"800","multi-link-total-rx":"790"},
  {"local-circuit":"-","remote-branch":"PRM-HUB-02","remote-circuit":"-","multi-link-total-tx":"0","multi-link-total-rx":"0"}
]}}`

const versaProfile = `{"sdwan:forwarding-profile":{"replication":{"mode":"enable"},"fec":{"sender":{"mode":"disable"}}}}`

const versaPaths = `{"collection":{"sdwan:path-status":[
  {"path-handle":1,"local-wan-link":"Internet","remote-wan-link":"MPLS","conn-state":"up","flaps":"2"}
]}}`

// versaLog records the live commands the director served.
type versaLog struct {
	mu       sync.Mutex
	commands []string
}

func (l *versaLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.commands...)
}

func newVersaServer(t *testing.T, log *versaLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "secret" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/PRM-5589-A007/live" {
			http.NotFound(w, r)
			return
		}
		command := r.URL.Query().Get("command")
		log.mu.Lock()
		log.commands = append(log.commands, command)
		log.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case command == "interfaces/brief/":
			fmt.Fprint(w, versaInterfaces)
		case strings.HasSuffix(command, "P2P_Packet_Replication_1/stats"):
			fmt.Fprint(w, versaStats)
		case strings.HasSuffix(command, "forwarding-profile/Packet_Replication"):
			fmt.Fprint(w, versaProfile)
		case strings.HasSuffix(command, "/path-status"):
			fmt.Fprint(w, versaPaths)
		default:
			http.Error(w, `{"error":"unknown command"}`, http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newVersaClient(t *testing.T, url, password string) *VersaClient {
	t.Helper()
	c, err := NewVersaClient(util.VersaConfig{URL: url + "/", Username: "api", Password: password, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestVersaTroubleshoot(t *testing.T) {
	log := &versaLog{}
	srv := newVersaServer(t, log)
	device := model.DeviceLocation{Name: "PRM.5589.A007", Vendor: model.VendorVersa, Role: model.RoleCPE}

	res := NewToolkit(newScripted(), probes.DefaultPolicy(), nil).
		WithVersa(newVersaClient(t, srv.URL, "secret")).
		Troubleshoot(context.Background(), device, "SVC-5589")

	assert.Equal(t, []string{"system", "interfaces", "replication-stats", "replication-config", "sla-paths"}, stages(res.Evidence))
	for _, e := range res.Evidence {
		assert.Empty(t, e.Err, e.Stage)
		assert.Equal(t, "PRM.5589.A007", e.Device)
	}

	byStage := map[string]string{}
	for _, e := range res.Evidence {
		byStage[e.Stage] = e.Outcome
	}
	assert.Equal(t, "appliance PRM-5589-A007, organization PRM", byStage["system"])
	assert.Contains(t, byStage["interfaces"], "vni-0/0.0 oper up admin up vrf Internet-Transport-VR 198.51.100.2/30")
	assert.Contains(t, byStage["interfaces"], "vni-0/1.0 oper down")
	assert.NotContains(t, byStage["interfaces"], "tvi-0/1.0")
	assert.Contains(t, byStage["replication-stats"], "Internet -> PRM-HUB-01/MPLS tx 1200 rx 1180")
	assert.NotContains(t, byStage["replication-stats"], "PRM-HUB-02")
	assert.Equal(t, "replication enable, FEC disable", byStage["replication-config"])
	assert.Equal(t, "branch PRM-HUB-01: Internet->MPLS up flaps 2", byStage["sla-paths"])

	commands := log.all()
	require.Len(t, commands, 4, "one SLA query per distinct branch")
	assert.Equal(t, "orgs/org/PRM/sd-wan/sla-monitor/status/PRM-HUB-01/path-status", commands[3])
}

func TestVersaErrorsAreRecorded(t *testing.T) {
	log := &versaLog{}
	srv := newVersaServer(t, log)
	device := model.DeviceLocation{Name: "PRM.5589.A007", Vendor: model.VendorVersa}

	res := NewToolkit(newScripted(), probes.DefaultPolicy(), nil).
		WithVersa(newVersaClient(t, srv.URL, "wrong")).
		Troubleshoot(context.Background(), device, "SVC-5589")

	assert.Equal(t, []string{"system", "interfaces", "replication-stats", "replication-config"}, stages(res.Evidence))
	for _, e := range res.Evidence[1:] {
		assert.Contains(t, e.Err, "versa returned 401", e.Stage)
	}
	assert.Empty(t, log.all())
}

func TestVersaAppliance(t *testing.T) {
	tests := []struct {
		name, appliance, org string
	}{
		{"PRM.5589.A007", "PRM-5589-A007", "PRM"},
		{"EMB-5567-D023", "EMB-5567-D023", "EMB"},
		{"TXB.0001.B002", "TXB-0001-B002", "PRM"},
	}
	for _, tt := range tests {
		appliance, org := VersaAppliance(tt.name)
		assert.Equal(t, tt.appliance, appliance, tt.name)
		assert.Equal(t, tt.org, org, tt.name)
	}
}

func TestNewVersaClientRequiresConfig(t *testing.T) {
	_, err := NewVersaClient(util.VersaConfig{})
	assert.Error(t, err)
	_, err = NewVersaClient(util.VersaConfig{URL: "https://director"})
	assert.Error(t, err)
}
