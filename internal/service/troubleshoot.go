package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/session"
)

// Troubleshooter gathers live evidence for a service from one device.
type Troubleshooter interface {
	Troubleshoot(ctx context.Context, device model.DeviceLocation, serviceID string) Result
}

// Toolkit picks the troubleshooter for a device's vendor.
type Toolkit struct {
	exec     session.Executor
	policy   probes.Policy
	observer model.ProgressObserver

	byVendor map[model.Vendor]Troubleshooter
}

// NewToolkit creates a toolkit running commands through exec.
func NewToolkit(exec session.Executor, policy probes.Policy, observer model.ProgressObserver) *Toolkit {
	if observer == nil {
		observer = model.NopObserver{}
	}
	k := &Toolkit{exec: exec, policy: policy, observer: observer}
	k.byVendor = map[model.Vendor]Troubleshooter{
		model.VendorJuniper:  junos{k},
		model.VendorMikrotik: routerOS{k},
		model.VendorCisco:    ios{k},
		model.VendorDatacom:  datacom{k},
		model.VendorAccedian: accedian{k},
	}
	return k
}

// WithVersa enables the Versa troubleshooter. A nil client leaves
// Versa devices unsupported.
func (k *Toolkit) WithVersa(c *VersaClient) *Toolkit {
	if c != nil {
		k.byVendor[model.VendorVersa] = versa{k: k, client: c}
	}
	return k
}

// For returns the troubleshooter for v. Vendors without a playbook get
// one that only records that fact.
func (k *Toolkit) For(v model.Vendor) Troubleshooter {
	if t, ok := k.byVendor[v]; ok {
		return t
	}
	return unsupported{}
}

// Troubleshoot runs the vendor troubleshooter for device.
func (k *Toolkit) Troubleshoot(ctx context.Context, device model.DeviceLocation, serviceID string) Result {
	return k.For(device.Vendor).Troubleshoot(ctx, device, serviceID)
}

func (k *Toolkit) controller(rec *recorder) (*probes.Controller, error) {
	prober, err := probes.NewDeviceProber(k.exec, rec.target)
	if err != nil {
		return nil, err
	}
	return probes.NewController(prober, k.observer), nil
}

type unsupported struct{}

func (unsupported) Troubleshoot(_ context.Context, device model.DeviceLocation, _ string) Result {
	return Result{Evidence: []model.EvidenceRecord{{
		Device:  device.Name,
		Stage:   "unsupported",
		Outcome: fmt.Sprintf("no diagnostics available for vendor %s (%s)", device.Vendor, device.Manufacturer),
	}}}
}

// junos runs interface, configuration and per-service-type checks.
type junos struct{ k *Toolkit }

func (j junos) Troubleshoot(ctx context.Context, device model.DeviceLocation, serviceID string) Result {
	target := session.TargetFor(device)
	rec := newRecorder(j.k.exec, target)

	rec.run(ctx, "system", "show version | match Model")
	rec.run(ctx, "interface-description", "show interface descr | match "+serviceID)
	config, ok := rec.run(ctx, "configuration", fmt.Sprintf("show configuration | match %s | display set", serviceID))
	if !ok {
		return rec.Result
	}

	c := Classify(config, serviceID)
	rec.note("classification", joinTypes(c.Types()), "")

	rec.merge(NewDispatcher(j.k.exec, j.k.policy, j.k.observer).Run(ctx, target, serviceID, c))
	return rec.Result
}

func joinTypes(types []model.ServiceType) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = string(t)
	}
	return strings.Join(s, ", ")
}

var (
	localAddressRe  = regexp.MustCompile(`local-address=(\d+\.\d+\.\d+\.\d+)`)
	remoteAddressRe = regexp.MustCompile(`remote-address=(\d+\.\d+\.\d+\.\d+)`)
	anyIPv4Re       = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`)
)

// routerOS checks Mikrotik tunnels, L2TP clients and learned MACs.
type routerOS struct{ k *Toolkit }

func (m routerOS) Troubleshoot(ctx context.Context, device model.DeviceLocation, serviceID string) Result {
	rec := newRecorder(m.k.exec, session.TargetFor(device))
	rec.run(ctx, "system", "/system resource print")

	if device.Role == model.RoleCPE {
		rec.run(ctx, "interfaces", "/interface print")
		m.tunnel(ctx, rec, "eoip", "/interface eoip print")
		m.tunnel(ctx, rec, "gre", "/interface gre print")
		rec.run(ctx, "l2tp", "/interface l2tp-client print")
		rec.run(ctx, "customer-port", `/interface print where comment~"Customer"`)
		rec.run(ctx, "bridge-hosts", "/interface bridge host print terse where dynamic=yes local=no")
		rec.run(ctx, "traffic-wan", `/interface monitor-traffic [find comment~"WAN"] once`)
		rec.run(ctx, "traffic-customer", `/interface monitor-traffic [find comment~"Customer"] once`)
		return rec.Result
	}

	m.tunnel(ctx, rec, "eoip", fmt.Sprintf(`/interface eoip print where name~"%s"`, serviceID))
	m.tunnel(ctx, rec, "gre", fmt.Sprintf(`/interface gre print where name~"%s"`, serviceID))
	m.l2tp(ctx, rec, serviceID)
	rec.run(ctx, "bridge-hosts", fmt.Sprintf(`/interface bridge host print terse where bridge~"%s" dynamic=yes local=no`, serviceID))
	return rec.Result
}

// tunnel lists tunnels and probes from each local to remote endpoint.
func (m routerOS) tunnel(ctx context.Context, rec *recorder, stage, command string) {
	out, ok := rec.run(ctx, stage, command)
	if !ok {
		return
	}
	local := localAddressRe.FindStringSubmatch(out)
	remote := remoteAddressRe.FindStringSubmatch(out)
	if local == nil || remote == nil {
		rec.note(stage, "no tunnel endpoints found", "")
		return
	}
	controller, err := m.k.controller(rec)
	if err != nil {
		rec.fail(stage, err)
		return
	}
	rec.probe(stage+"-probe", controller.RunEscalatingProbe(ctx, local[1], remote[1], m.k.policy))
}

func (m routerOS) l2tp(ctx context.Context, rec *recorder, serviceID string) {
	out, ok := rec.run(ctx, "l2tp", fmt.Sprintf(`/interface l2tp-server print where name~"%s"`, serviceID))
	if !ok {
		return
	}
	client := anyIPv4Re.FindStringSubmatch(out)
	if client == nil {
		rec.note("l2tp", "no L2TP client address found", "")
		return
	}
	controller, err := m.k.controller(rec)
	if err != nil {
		rec.fail("l2tp", err)
		return
	}
	rec.probe("l2tp-probe", controller.RunEscalatingProbe(ctx, "", client[1], m.k.policy))
}

var (
	iosInterfaceRe = regexp.MustCompile(`(Gi\d+/\d+/\d+\.\d+|Gi\d+/\d+\.\d+|Gi\d+\.\d+|Tu\d+|Fa\d+/\d+\.\d+)`)
	iosIPRe        = regexp.MustCompile(`ip address (\d+\.\d+\.\d+\.\d+)`)
	tunnelDestRe   = regexp.MustCompile(`tunnel destination (\d+\.\d+\.\d+\.\d+)`)
	tunnelSourceRe = regexp.MustCompile(`tunnel source (\S+)`)
)

// ios checks Cisco POP sub-interfaces or collects CPE state.
type ios struct{ k *Toolkit }

func (c ios) Troubleshoot(ctx context.Context, device model.DeviceLocation, serviceID string) Result {
	rec := newRecorder(c.k.exec, session.TargetFor(device))
	rec.run(ctx, "system", "show version")

	if device.Role == model.RoleCPE {
		rec.run(ctx, "interfaces", "show interfaces | include base|line|Description|rate|address|error")
		rec.run(ctx, "logs", "show logging")
		rec.run(ctx, "routes", "show ip route")
		rec.run(ctx, "arp", "show arp")
		return rec.Result
	}

	status, ok := rec.run(ctx, "interface-status", "show interface status | include "+serviceID)
	if !ok {
		return rec.Result
	}
	ifaces := iosInterfaceRe.FindAllString(status, -1)
	if len(ifaces) == 0 {
		rec.note("interface-status", "no interfaces found matching the service", "")
		return rec.Result
	}
	for _, iface := range ifaces {
		c.checkInterface(ctx, rec, iface)
	}
	return rec.Result
}

func (c ios) checkInterface(ctx context.Context, rec *recorder, iface string) {
	config, ok := rec.run(ctx, "interface-config", "show run int "+iface)
	if !ok {
		return
	}

	switch {
	case strings.Contains(config, "xconnect"):
		rec.run(ctx, "xconnect", "show xconnect interface "+iface)
	case strings.HasPrefix(iface, "Tu"):
		dest := tunnelDestRe.FindStringSubmatch(config)
		src := tunnelSourceRe.FindStringSubmatch(config)
		if dest == nil || src == nil {
			rec.note("tunnel", "tunnel source or destination not configured", "")
			return
		}
		controller, err := c.k.controller(rec)
		if err != nil {
			rec.fail("tunnel", err)
			return
		}
		rec.probe("tunnel-probe", controller.RunEscalatingProbe(ctx, src[1], dest[1], c.k.policy))
	default:
		ip := iosIPRe.FindStringSubmatch(config)
		if ip == nil {
			return
		}
		next, err := NextAddress(ip[1])
		if err != nil {
			rec.fail("ethernet", err)
			return
		}
		controller, err := c.k.controller(rec)
		if err != nil {
			rec.fail("ethernet", err)
			return
		}
		rec.probe("ethernet-probe", controller.RunEscalatingProbe(ctx, "", next, c.k.policy))
		rec.run(ctx, StageBgp, "show ip bgp summary | include "+next)
	}
}

var (
	vlanHeaderRe = regexp.MustCompile(`VLAN:\s+(\d+)`)
	ethPortRe    = regexp.MustCompile(`Eth\s*(\d+/\d+)`)
)

// datacom checks VLAN membership and learned MACs per DmOS model.
type datacom struct{ k *Toolkit }

func (d datacom) Troubleshoot(ctx context.Context, device model.DeviceLocation, serviceID string) Result {
	rec := newRecorder(d.k.exec, session.TargetFor(device))
	dm := strings.ToUpper(device.DeviceType)

	switch {
	case strings.Contains(dm, "DM2301"), strings.Contains(dm, "DM4100"):
		out, ok := rec.run(ctx, "vlan", "show vlan name "+serviceID)
		if !ok {
			return rec.Result
		}
		for _, m := range ethPortRe.FindAllStringSubmatch(out, -1) {
			rec.run(ctx, "interface-status", fmt.Sprintf("show interfaces status Eth %s | include Name|admin|status", m[1]))
			rec.run(ctx, "interface-counters", "show interfaces counters Eth "+m[1])
		}
		if m := vlanHeaderRe.FindStringSubmatch(out); m != nil {
			rec.run(ctx, "mac-table", "show mac-address-table vlan "+m[1])
		}
	case strings.Contains(dm, "DM4170"):
		rec.run(ctx, "system", "show system uptime")
		out, ok := rec.run(ctx, "vlan", "show vlan | include "+serviceID)
		if !ok {
			return rec.Result
		}
		if vlan := leadingVlan(out, serviceID); vlan != "" {
			rec.run(ctx, "vlan-membership", "show vlan membership "+vlan)
			rec.run(ctx, "mac-table", "show mac-address-table vlan "+vlan)
		}
	default:
		rec.run(ctx, "system", "show system uptime")
		out, ok := rec.run(ctx, "vlan", "show vlan brief | include "+serviceID)
		if !ok {
			return rec.Result
		}
		if vlan := leadingVlan(out, serviceID); vlan != "" {
			rec.run(ctx, "mac-table", "show mac-address-table vlan "+vlan)
		} else {
			rec.note("vlan", "no VLAN found for service "+serviceID, "")
		}
	}
	return rec.Result
}

// leadingVlan returns the VLAN id at the start of the line naming serviceID.
func leadingVlan(output, serviceID string) string {
	re := regexp.MustCompile(`^(\d+)\s+` + regexp.QuoteMeta(serviceID))
	for _, line := range strings.Split(output, "\n") {
		if m := re.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return m[1]
		}
	}
	return ""
}

// accedianMACLearning runs in one interactive shell so the learning
// session survives between steps.
const accedianMACLearning = `mac-learning stop
mac-learning start port Client
mac-learning show results
mac-learning stop
mac-learning start port Network
mac-learning show results
mac-learning stop`

type accedian struct{ k *Toolkit }

func (a accedian) Troubleshoot(ctx context.Context, device model.DeviceLocation, _ string) Result {
	rec := newRecorder(a.k.exec, session.TargetFor(device))
	rec.run(ctx, "system", "board show uptime")
	rec.run(ctx, "logs", "syslog show log")
	rec.run(ctx, "mac-learning", accedianMACLearning)
	rec.run(ctx, "port-statistics", "port show statistics")
	return rec.Result
}
