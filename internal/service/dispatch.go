package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/session"
	"github.com/user/circuitdiag/internal/util"
)

// Stage names used in dispatcher evidence.
const (
	StageBgp       = "bgp"
	StageIrb       = "irb"
	StageL2Circuit = "l2circuit"
	StageVpls      = "vpls"
	StageVlan      = "vlan"
)

const (
	noL2CircuitMarker = "No L2 circuit connections"
	noVplsMarker      = "No VPLS connections"
)

// Dispatcher runs the Junos sub-procedure for every matched service
// type, in the fixed order Bgp, Irb, L2Circuit, Vpls, Vlan.
type Dispatcher struct {
	exec     session.Executor
	policy   probes.Policy
	observer model.ProgressObserver
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil observer discards progress.
func NewDispatcher(exec session.Executor, policy probes.Policy, observer model.ProgressObserver) *Dispatcher {
	if observer == nil {
		observer = model.NopObserver{}
	}
	return &Dispatcher{
		exec:     exec,
		policy:   policy,
		observer: observer,
		log:      util.Component("service"),
	}
}

// Run executes the sub-procedures for c on target. A failing
// sub-procedure is recorded and the next one still runs.
func (d *Dispatcher) Run(ctx context.Context, target session.Target, serviceID string, c Classification) Result {
	rec := newRecorder(d.exec, target)

	for _, t := range c.Types() {
		if ctx.Err() != nil {
			rec.fail(string(t), ctx.Err())
			continue
		}
		d.log.Debug("running sub-procedure", "service", serviceID, "type", t, "device", target.Name)
		switch t {
		case model.ServiceBgp:
			d.checkBgp(ctx, rec, c.BgpNeighbors)
		case model.ServiceIrb:
			d.checkIrb(ctx, rec, serviceID, c.IrbAddresses)
		case model.ServiceL2Circuit:
			d.checkL2Circuit(ctx, rec, c.L2CircuitNeighbors)
		case model.ServiceVpls:
			d.checkVpls(ctx, rec, c.VplsInstances)
		case model.ServiceVlan:
			d.checkVlan(ctx, rec, target, c.VlanUnits)
		}
	}
	return rec.Result
}

func (d *Dispatcher) checkBgp(ctx context.Context, rec *recorder, neighbors []string) {
	for _, n := range neighbors {
		rec.run(ctx, StageBgp, "show bgp summary | match "+n)
	}
}

func (d *Dispatcher) checkIrb(ctx context.Context, rec *recorder, serviceID string, known []string) {
	out, ok := rec.run(ctx, StageIrb, "show configuration interfaces irb | match "+serviceID)
	if !ok {
		return
	}

	addrs := known
	for _, m := range irbAddressRe.FindAllStringSubmatch(out, -1) {
		addrs = appendUnique(addrs, m[1])
	}
	if len(addrs) == 0 {
		rec.note(StageIrb, fmt.Sprintf("service %s not found in IRB configuration", serviceID), "")
		return
	}

	prober, err := probes.NewDeviceProber(d.exec, rec.target)
	if err != nil {
		rec.fail(StageIrb, err)
		return
	}
	controller := probes.NewController(prober, d.observer)
	for _, addr := range addrs {
		peer, err := NextAddress(addr)
		if err != nil {
			rec.fail(StageIrb, err)
			continue
		}
		rec.probe(StageIrb, controller.RunEscalatingProbe(ctx, addr, peer, d.policy))
	}
}

func (d *Dispatcher) checkL2Circuit(ctx context.Context, rec *recorder, neighbors []string) {
	for _, n := range neighbors {
		out, ok := rec.run(ctx, StageL2Circuit, fmt.Sprintf("show l2circuit connections neighbor %s summary", n))
		if ok && strings.Contains(out, noL2CircuitMarker) {
			rec.note(StageL2Circuit, fmt.Sprintf("neighbor %s not found in L2 circuit connections", n), "")
		}
	}
}

func (d *Dispatcher) checkVpls(ctx context.Context, rec *recorder, instances []string) {
	for _, inst := range instances {
		out, ok := rec.run(ctx, StageVpls, fmt.Sprintf("show vpls connections instance %s | last 13", inst))
		if ok && strings.Contains(out, noVplsMarker) {
			rec.note(StageVpls, fmt.Sprintf("VPLS instance %s not found", inst), "")
		}
	}
}

func (d *Dispatcher) checkVlan(ctx context.Context, rec *recorder, target session.Target, units []string) {
	for _, u := range units {
		if isEXSeries(target.DeviceType) {
			rec.run(ctx, StageVlan, "show ethernet-switching table | match "+u)
			continue
		}
		rec.run(ctx, StageVlan, "show bridge mac-table vlan-id "+u)
	}
}

// isEXSeries reports whether a Junos model is an EX switch, which uses
// ethernet-switching instead of bridge domains.
func isEXSeries(deviceType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(deviceType)), "ex")
}
