package probes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/session"
)

// commandSet renders ping and traceroute commands for one vendor CLI.
type commandSet interface {
	ping(req PingRequest) string
	trace(source, destination string) string
}

type routerOSCommands struct{}

func (routerOSCommands) ping(r PingRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "/ping %s", r.Destination)
	if r.Source != "" {
		fmt.Fprintf(&b, " src-address=%s", r.Source)
	}
	fmt.Fprintf(&b, " count=%d size=%d interval=%s", r.Count, r.Size, seconds(r.Interval.Seconds()))
	return b.String()
}

func (routerOSCommands) trace(source, destination string) string {
	if source == "" {
		return fmt.Sprintf("/tool traceroute %s max-hops=10 duration=2 timeout=2", destination)
	}
	return fmt.Sprintf("/tool traceroute %s src-address=%s max-hops=10 duration=2 timeout=2", destination, source)
}

type junosCommands struct{}

func (junosCommands) ping(r PingRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ping %s", r.Destination)
	if r.Source != "" {
		fmt.Fprintf(&b, " source %s", r.Source)
	}
	fmt.Fprintf(&b, " rapid count %d size %d do-not-fragment", r.Count, r.Size)
	return b.String()
}

func (junosCommands) trace(source, destination string) string {
	if source == "" {
		return fmt.Sprintf("traceroute %s no-resolve", destination)
	}
	return fmt.Sprintf("traceroute %s source %s no-resolve", destination, source)
}

type iosCommands struct{}

func (iosCommands) ping(r PingRequest) string {
	cmd := fmt.Sprintf("ping %s size %d repeat %d", r.Destination, r.Size, r.Count)
	if r.Source != "" {
		cmd += " source " + r.Source
	}
	return cmd
}

func (iosCommands) trace(source, destination string) string {
	if source == "" {
		return fmt.Sprintf("traceroute %s numeric", destination)
	}
	return fmt.Sprintf("traceroute %s source %s numeric", destination, source)
}

// genericCommands covers Datacom and Accedian CLIs, which take
// keyword arguments close to the Unix ping.
type genericCommands struct{}

func (genericCommands) ping(r PingRequest) string {
	cmd := fmt.Sprintf("ping %s count %d size %d", r.Destination, r.Count, r.Size)
	if r.Source != "" {
		cmd += " source " + r.Source
	}
	return cmd
}

func (genericCommands) trace(_, destination string) string {
	return "traceroute " + destination
}

func commandsFor(v model.Vendor) (commandSet, bool) {
	switch v {
	case model.VendorMikrotik:
		return routerOSCommands{}, true
	case model.VendorJuniper:
		return junosCommands{}, true
	case model.VendorCisco:
		return iosCommands{}, true
	case model.VendorDatacom, model.VendorAccedian:
		return genericCommands{}, true
	default:
		return nil, false
	}
}

// DeviceProber probes from a network device through a session executor.
type DeviceProber struct {
	exec     session.Executor
	target   session.Target
	commands commandSet
	parser   Parser
}

// NewDeviceProber returns a prober that runs on target. It fails for
// vendors without a ping CLI.
func NewDeviceProber(exec session.Executor, target session.Target) (*DeviceProber, error) {
	cmds, ok := commandsFor(target.Vendor)
	if !ok {
		return nil, fmt.Errorf("vendor %s does not support device probes", target.Vendor)
	}
	return &DeviceProber{
		exec:     exec,
		target:   target,
		commands: cmds,
		parser:   ParserFor(target.Vendor),
	}, nil
}

// PingCommand returns the command Ping would issue for req.
func (p *DeviceProber) PingCommand(req PingRequest) string {
	return p.commands.ping(req)
}

func (p *DeviceProber) Ping(ctx context.Context, req PingRequest) (model.PingOutcome, error) {
	out, err := p.exec.ExecuteCommand(ctx, p.target, p.commands.ping(req))
	if err != nil {
		return model.PingOutcome{}, err
	}
	return p.parser.Parse(out)
}

func (p *DeviceProber) Trace(ctx context.Context, source, destination string) (string, error) {
	return p.exec.ExecuteCommand(ctx, p.target, p.commands.trace(source, destination))
}

// seconds formats a fractional second count without trailing zeros.
func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// NewProber returns a DeviceProber for target, or a LocalProber when
// target has no host.
func NewProber(exec session.Executor, target session.Target, privileged bool) (Prober, error) {
	if target.Host == "" {
		return NewLocalProber(privileged), nil
	}
	if exec == nil {
		return nil, fmt.Errorf("no session executor configured for %s", target)
	}
	return NewDeviceProber(exec, target)
}
