package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/session"
)

// scriptedExecutor answers commands from a table. Commands not in the
// table return an empty string; commands in failing return a transport error.
type scriptedExecutor struct {
	mu       sync.Mutex
	replies  map[string]string
	prefixes map[string]string
	failing  map[string]bool
	commands []string
}

func newScripted() *scriptedExecutor {
	return &scriptedExecutor{replies: map[string]string{}, prefixes: map[string]string{}, failing: map[string]bool{}}
}

func (s *scriptedExecutor) ExecuteCommand(_ context.Context, target session.Target, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	if s.failing[cmd] {
		return "", &session.TransportError{Target: target.String(), Command: cmd, Err: errors.New("connection reset")}
	}
	if out, ok := s.replies[cmd]; ok {
		return out, nil
	}
	for prefix, out := range s.prefixes {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (s *scriptedExecutor) ran(cmd string) bool {
	for _, c := range s.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

func stages(records []model.EvidenceRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Stage)
	}
	return out
}

const junosClean = "5 packets transmitted, 5 packets received, 0% packet loss\n"

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		service string
		config  string
		want    []model.ServiceType
		check   func(t *testing.T, c Classification)
	}{
		"bgp and vlan co-occur": {
			service: "SVC-3040",
			config: `set interfaces ge-0/0/1 unit 3040 description SVC-3040
set protocols bgp group CUSTOMERS neighbor 10.30.40.2 description SVC-3040`,
			want: []model.ServiceType{model.ServiceBgp, model.ServiceVlan},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, []string{"10.30.40.2"}, c.BgpNeighbors)
				assert.Equal(t, []string{"3040"}, c.VlanUnits)
			},
		},
		"irb is not a vlan unit": {
			service: "SVC-512",
			config:  `set interfaces irb unit 512 family inet address 10.5.12.1/30 description SVC-512`,
			want:    []model.ServiceType{model.ServiceIrb},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, []string{"512"}, c.IrbUnits)
				assert.Equal(t, []string{"10.5.12.1"}, c.IrbAddresses)
			},
		},
		"l2circuit neighbor is not bgp": {
			service: "SVC-77",
			config:  `set protocols l2circuit neighbor 10.255.0.9 interface ge-0/0/3.77 description SVC-77`,
			want:    []model.ServiceType{model.ServiceL2Circuit},
		},
		"vpls instance": {
			service: "SVC-881",
			config:  `set routing-instances VPLS_881 protocols vpls site SVC-881 site-identifier 1`,
			want:    []model.ServiceType{model.ServiceVpls},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, []string{"VPLS_881"}, c.VplsInstances)
			},
		},
		"vpls id": {
			service: "SVC-990",
			config:  `set routing-instances SVC-990 protocols vpls vpls-id 990`,
			want:    []model.ServiceType{model.ServiceVpls},
			check: func(t *testing.T, c Classification) {
				assert.Equal(t, []string{"VPLS_990"}, c.VplsInstances)
			},
		},
		"nothing matches": {
			config: "set system host-name pe-01",
			want:   []model.ServiceType{model.ServiceUnknown},
		},
		"lines for other services are ignored": {
			service: "SVC-100",
			config: `set interfaces ge-0/0/1 unit 100 description SVC-100
set protocols bgp group X neighbor 10.0.0.2 description SVC-200`,
			want: []model.ServiceType{model.ServiceVlan},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := Classify(test.config, test.service)
			assert.Equal(t, test.want, c.Types())
			assert.Equal(t, test.want, ClassifyService(test.config, test.service))
			if test.check != nil {
				test.check(t, c)
			}
		})
	}
}

func TestNextAddress(t *testing.T) {
	got, err := NextAddress("10.5.12.1/30")
	require.NoError(t, err)
	assert.Equal(t, "10.5.12.2", got)

	got, err = NextAddress("10.0.0.255")
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0", got)

	_, err = NextAddress("255.255.255.255")
	assert.Error(t, err)
	_, err = NextAddress("2001:db8::1")
	assert.Error(t, err)
	_, err = NextAddress("not-an-ip")
	assert.Error(t, err)
}

func TestDispatcherOrderAndIsolation(t *testing.T) {
	exec := newScripted()
	exec.replies["show bgp summary | match 10.30.40.2"] = "10.30.40.2  65001  1200  1300  0  0  5d 3:00:12 Establ"
	exec.failing["show l2circuit connections neighbor 10.255.0.9 summary"] = true
	exec.replies["show vpls connections instance VPLS_881 | last 13"] = "No VPLS connections found."
	exec.replies["show bridge mac-table vlan-id 3040"] = "00:11:22:33:44:55  D  ge-0/0/1.3040"

	c := Classification{
		BgpNeighbors:       []string{"10.30.40.2"},
		L2CircuitNeighbors: []string{"10.255.0.9"},
		VplsInstances:      []string{"VPLS_881"},
		VlanUnits:          []string{"3040"},
	}
	target := session.Target{Name: "mx-01", Host: "192.0.2.1", Vendor: model.VendorJuniper, DeviceType: "MX204"}

	res := NewDispatcher(exec, probes.DefaultPolicy(), nil).Run(context.Background(), target, "SVC-3040", c)

	assert.Equal(t, []string{StageBgp, StageL2Circuit, StageVpls, StageVpls, StageVlan}, stages(res.Evidence))
	assert.Contains(t, res.Evidence[0].Raw, "Establ")
	assert.NotEmpty(t, res.Evidence[1].Err, "transport failure is recorded")
	assert.Contains(t, res.Evidence[3].Outcome, "VPLS instance VPLS_881 not found")
	assert.Empty(t, res.Evidence[4].Err)
	assert.True(t, exec.ran("show bridge mac-table vlan-id 3040"), "vlan runs after the l2circuit failure")
}

func TestDispatcherL2CircuitNotFound(t *testing.T) {
	exec := newScripted()
	exec.replies["show l2circuit connections neighbor 10.255.0.9 summary"] = "No L2 circuit connections found"

	res := NewDispatcher(exec, probes.DefaultPolicy(), nil).Run(context.Background(),
		session.Target{Vendor: model.VendorJuniper}, "SVC-77", Classification{L2CircuitNeighbors: []string{"10.255.0.9"}})

	require.Len(t, res.Evidence, 2)
	assert.Equal(t, "neighbor 10.255.0.9 not found in L2 circuit connections", res.Evidence[1].Outcome)
	assert.Empty(t, res.Evidence[1].Err)
}

func TestDispatcherIrbProbesPeer(t *testing.T) {
	exec := newScripted()
	exec.replies["show configuration interfaces irb | match SVC-512"] = "unit 512 { description SVC-512; family inet { address 10.5.12.1/30; } }"
	exec.prefixes["ping 10.5.12.2 source 10.5.12.1"] = junosClean

	res := NewDispatcher(exec, probes.DefaultPolicy(), nil).Run(context.Background(),
		session.Target{Name: "mx-01", Vendor: model.VendorJuniper}, "SVC-512", Classification{IrbUnits: []string{"512"}})

	require.Len(t, res.Probes, 1)
	p := res.Probes[0]
	assert.Equal(t, "10.5.12.1", p.Source)
	assert.Equal(t, "10.5.12.2", p.Destination)
	assert.Equal(t, model.HealthClean, p.Baseline.State)
	require.NotNil(t, p.Extended)
	assert.True(t, exec.ran("ping 10.5.12.2 source 10.5.12.1 rapid count 1000 size 1472 do-not-fragment"))
}

func TestDispatcherVlanOnEXSeries(t *testing.T) {
	exec := newScripted()
	NewDispatcher(exec, probes.DefaultPolicy(), nil).Run(context.Background(),
		session.Target{Vendor: model.VendorJuniper, DeviceType: "EX4300-48T"}, "SVC-1", Classification{VlanUnits: []string{"301"}})
	assert.True(t, exec.ran("show ethernet-switching table | match 301"))
}

func TestJunosTroubleshootBgpBeforeVlan(t *testing.T) {
	exec := newScripted()
	exec.replies["show configuration | match SVC-3040 | display set"] = `set interfaces ge-0/0/1 unit 3040 description SVC-3040
set protocols bgp group CUSTOMERS neighbor 10.30.40.2 description SVC-3040`
	exec.replies["show bgp summary | match 10.30.40.2"] = "10.30.40.2 Establ"
	exec.replies["show bridge mac-table vlan-id 3040"] = "mac table"

	device := model.DeviceLocation{Name: "mx-01", ManagementIP: "192.0.2.1", Vendor: model.VendorJuniper, Role: model.RolePOP, DeviceType: "MX480"}
	res := NewToolkit(exec, probes.DefaultPolicy(), nil).Troubleshoot(context.Background(), device, "SVC-3040")

	got := stages(res.Evidence)
	assert.Equal(t, []string{"system", "interface-description", "configuration", "classification", StageBgp, StageVlan}, got)
	assert.Equal(t, "bgp, vlan", res.Evidence[3].Outcome)
}

func TestJunosTroubleshootUnknownService(t *testing.T) {
	exec := newScripted()
	exec.replies["show configuration | match SVC-9 | display set"] = "set system host-name pe-01"

	device := model.DeviceLocation{Name: "mx-01", Vendor: model.VendorJuniper}
	res := NewToolkit(exec, probes.DefaultPolicy(), nil).Troubleshoot(context.Background(), device, "SVC-9")

	assert.Equal(t, []string{"system", "interface-description", "configuration", "classification"}, stages(res.Evidence))
	assert.Equal(t, "unknown", res.Evidence[3].Outcome)
}

func TestMikrotikPopTunnelProbe(t *testing.T) {
	exec := newScripted()
	exec.replies[`/interface eoip print where name~"SVC-42"`] = ` 0  R name="eoip-SVC-42" mtu=auto local-address=10.1.0.1 remote-address=10.2.0.1 tunnel-id=42`
	exec.prefixes["/ping 10.2.0.1 src-address=10.1.0.1 count=5"] = "sent=5 received=3 packet-loss=40%"
	exec.prefixes["/tool traceroute 10.2.0.1"] = " 1 10.1.0.254  0%  3  0.5ms"

	device := model.DeviceLocation{Name: "pop-mk", Vendor: model.VendorMikrotik, Role: model.RolePOP}
	res := NewToolkit(exec, probes.DefaultPolicy(), nil).Troubleshoot(context.Background(), device, "SVC-42")

	require.Len(t, res.Probes, 1)
	assert.Equal(t, model.HealthDegraded, res.Probes[0].Baseline.State)
	require.NotNil(t, res.Probes[0].Traceroute)
	assert.Contains(t, stages(res.Evidence), "eoip-probe")
	assert.True(t, exec.ran(`/interface bridge host print terse where bridge~"SVC-42" dynamic=yes local=no`))
}

func TestCiscoPopEthernetProbe(t *testing.T) {
	exec := newScripted()
	exec.replies["show interface status | include SVC-7"] = "Gi0/1.700  SVC-7  connected  700  a-full  a-1000"
	exec.replies["show run int Gi0/1.700"] = "interface GigabitEthernet0/1.700\n encapsulation dot1Q 700\n ip address 172.16.7.1 255.255.255.252\n"
	exec.prefixes["ping 172.16.7.2 size 1472 repeat 5"] = "Success rate is 100 percent (5/5)"
	exec.prefixes["ping 172.16.7.2 size 1472 repeat 1000"] = "Success rate is 99 percent (995/1000)"

	device := model.DeviceLocation{Name: "sw-01", Vendor: model.VendorCisco, Role: model.RolePOP}
	res := NewToolkit(exec, probes.DefaultPolicy(), nil).Troubleshoot(context.Background(), device, "SVC-7")

	require.Len(t, res.Probes, 1)
	assert.Equal(t, model.HealthClean, res.Probes[0].Extended.State)
	assert.True(t, exec.ran("show ip bgp summary | include 172.16.7.2"))
}

func TestDatacomVlanLookup(t *testing.T) {
	exec := newScripted()
	exec.replies["show vlan brief | include SVC-5"] = "2005  SVC-5  active  gi1/1/1"

	device := model.DeviceLocation{Name: "dm-01", Vendor: model.VendorDatacom, DeviceType: "DM4050"}
	NewToolkit(exec, probes.DefaultPolicy(), nil).Troubleshoot(context.Background(), device, "SVC-5")

	assert.True(t, exec.ran("show mac-address-table vlan 2005"))
}

func TestUnsupportedVendor(t *testing.T) {
	device := model.DeviceLocation{Name: "versa-01", Vendor: model.VendorVersa, Manufacturer: "Versa Networks"}
	res := NewToolkit(newScripted(), probes.DefaultPolicy(), nil).Troubleshoot(context.Background(), device, "SVC-1")

	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "unsupported", res.Evidence[0].Stage)
}
