// Package mcp exposes the diagnostic operations as MCP tools.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/circuitdiag/internal/diagnose"
	"github.com/user/circuitdiag/internal/inventory"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/service"
	"github.com/user/circuitdiag/internal/session"
	"github.com/user/circuitdiag/internal/util"
)

// Deps are the collaborators behind the tools. Engine is required;
// the rest may be nil, which disables the tools that need them.
type Deps struct {
	Engine     *diagnose.Engine
	Resolver   inventory.Resolver
	Finder     inventory.DeviceFinder
	Exec       session.Executor
	Policy     probes.Policy
	Privileged bool

	// Saver persists diagnoses produced by diagnose_service.
	Saver func(*model.Diagnosis) error
}

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	deps Deps
	log  *slog.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(version string, deps Deps) *Server {
	if deps.Policy == (probes.Policy{}) {
		deps.Policy = probes.DefaultPolicy()
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "circuitdiag", Version: version}, nil),
		deps:      deps,
		log:       util.Component("mcp"),
	}
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting MCP server over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

// Handler returns a streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return s.MCPServer }, nil)
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "diagnose_service",
		Description: "Diagnose a service: attribute the fault from monitoring history and gather live evidence from every device of the service.",
	}, s.handleDiagnoseService)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "history_analysis",
		Description: "Attribute a service fault from monitoring history only, without touching devices.",
	}, s.handleHistoryAnalysis)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_escalating_probe",
		Description: "Ping destination from a device (or this host); a clean baseline is followed by an extended ping, anything else by a traceroute.",
	}, s.handleEscalatingProbe)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "classify_service",
		Description: "Classify how a service is provisioned from device configuration text.",
	}, s.handleClassifyService)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "check_devices",
		Description: "List the inventory devices (CPEs, then the POPs they connect to) of a service.",
	}, s.handleCheckDevices)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "check_device",
		Description: "Check a service on one named NNI or POP device: interfaces, configuration and live probes of that device only.",
	}, s.handleCheckDevice)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "ping",
		Description: "Run one ping from a device (or this host) and classify the result.",
	}, s.handlePing)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "traceroute",
		Description: "Trace the path from a device (or this host) to a destination.",
	}, s.handleTraceroute)
}

// --- Tool input/output types ---

type serviceInput struct {
	ServiceID     string `json:"service_id" jsonschema:"service identifier as known to inventory and monitoring"`
	LookbackHours int    `json:"lookback_hours,omitempty" jsonschema:"history window in hours (default from config)"`
}

// deviceInput selects the vantage point. An empty DeviceIP probes from
// the server host.
type deviceInput struct {
	DeviceIP   string
	Vendor     string
	Role       string
	DeviceType string
}

type probeInput struct {
	DeviceIP    string `json:"device_ip,omitempty" jsonschema:"management address of the device to run on; empty probes from this host"`
	Vendor      string `json:"vendor,omitempty" jsonschema:"device vendor: mikrotik, cisco, juniper, datacom, accedian"`
	Role        string `json:"role,omitempty" jsonschema:"device role: cpe, pop or nni (default cpe)"`
	DeviceType  string `json:"device_type,omitempty" jsonschema:"device model, e.g. EX4300"`
	Source      string `json:"source,omitempty" jsonschema:"source address for the probe"`
	Destination string `json:"destination" jsonschema:"address to probe"`
}

func (in probeInput) device() deviceInput {
	return deviceInput{DeviceIP: in.DeviceIP, Vendor: in.Vendor, Role: in.Role, DeviceType: in.DeviceType}
}

type pingInput struct {
	DeviceIP    string `json:"device_ip,omitempty" jsonschema:"management address of the device to run on; empty probes from this host"`
	Vendor      string `json:"vendor,omitempty" jsonschema:"device vendor: mikrotik, cisco, juniper, datacom, accedian"`
	Role        string `json:"role,omitempty" jsonschema:"device role: cpe, pop or nni (default cpe)"`
	DeviceType  string `json:"device_type,omitempty" jsonschema:"device model, e.g. EX4300"`
	Source      string `json:"source,omitempty" jsonschema:"source address for the probe"`
	Destination string `json:"destination" jsonschema:"address to probe"`
	Count       int    `json:"count,omitempty" jsonschema:"number of packets (default 5)"`
	IntervalMs  int    `json:"interval_ms,omitempty" jsonschema:"interval between packets in milliseconds (default 1000)"`
	Size        int    `json:"size,omitempty" jsonschema:"packet size in bytes (default 1472)"`
}

func (in pingInput) device() deviceInput {
	return deviceInput{DeviceIP: in.DeviceIP, Vendor: in.Vendor, Role: in.Role, DeviceType: in.DeviceType}
}

type pingOutput struct {
	Outcome model.PingOutcome   `json:"outcome"`
	Verdict model.HealthVerdict `json:"verdict"`
}

type tracerouteOutput struct {
	Raw  string           `json:"raw"`
	Hops []model.TraceHop `json:"hops"`
}

type checkDeviceInput struct {
	ServiceID  string `json:"service_id" jsonschema:"service identifier to check on the device"`
	DeviceName string `json:"device_name" jsonschema:"inventory name or management address of the device"`
	Role       string `json:"role,omitempty" jsonschema:"nni or pop (default nni)"`
}

type checkDeviceOutput struct {
	Device model.DeviceLocation `json:"device"`
	service.Result
}

type classifyInput struct {
	ServiceID  string `json:"service_id" jsonschema:"service identifier to look for"`
	ConfigText string `json:"config_text" jsonschema:"device configuration in display set form"`
}

type classifyOutput struct {
	Types          []model.ServiceType    `json:"types"`
	Classification service.Classification `json:"classification"`
}

type devicesOutput struct {
	Devices []model.DeviceLocation `json:"devices"`
}

// --- Tool handlers ---

func (s *Server) handleDiagnoseService(ctx context.Context, req *sdkmcp.CallToolRequest, input serviceInput) (*sdkmcp.CallToolResult, any, error) {
	if input.ServiceID == "" {
		return nil, nil, errors.New("service_id is required")
	}
	observer, flush := s.progress(ctx, req)
	d, err := s.deps.Engine.Observe(observer).Diagnose(ctx, input.ServiceID, input.LookbackHours)
	flush()
	if err != nil {
		return nil, nil, err
	}
	if s.deps.Saver != nil {
		if err := s.deps.Saver(&d); err != nil {
			s.log.Warn("failed to store diagnosis", "service", d.ServiceID, "error", err)
		}
	}
	return nil, d, nil
}

func (s *Server) handleHistoryAnalysis(ctx context.Context, _ *sdkmcp.CallToolRequest, input serviceInput) (*sdkmcp.CallToolResult, any, error) {
	if input.ServiceID == "" {
		return nil, nil, errors.New("service_id is required")
	}
	d, err := s.deps.Engine.HistoryAnalysis(ctx, input.ServiceID, input.LookbackHours)
	if err != nil {
		return nil, nil, err
	}
	return nil, d, nil
}

func (s *Server) handleEscalatingProbe(ctx context.Context, req *sdkmcp.CallToolRequest, input probeInput) (*sdkmcp.CallToolResult, any, error) {
	prober, err := s.prober(input.device())
	if err != nil {
		return nil, nil, err
	}
	if input.Destination == "" {
		return nil, nil, errors.New("destination is required")
	}
	observer, flush := s.progress(ctx, req)
	defer flush()
	c := probes.NewController(prober, observer)
	return nil, c.RunEscalatingProbe(ctx, input.Source, input.Destination, s.deps.Policy), nil
}

func (s *Server) handleClassifyService(_ context.Context, _ *sdkmcp.CallToolRequest, input classifyInput) (*sdkmcp.CallToolResult, any, error) {
	if input.ServiceID == "" {
		return nil, nil, errors.New("service_id is required")
	}
	c := service.Classify(input.ConfigText, input.ServiceID)
	return nil, classifyOutput{Types: c.Types(), Classification: c}, nil
}

func (s *Server) handleCheckDevices(ctx context.Context, _ *sdkmcp.CallToolRequest, input serviceInput) (*sdkmcp.CallToolResult, any, error) {
	if s.deps.Resolver == nil {
		return nil, nil, errors.New("inventory is not configured")
	}
	if input.ServiceID == "" {
		return nil, nil, errors.New("service_id is required")
	}
	devices, err := s.deps.Resolver.ResolveServiceLocation(ctx, input.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	return nil, devicesOutput{Devices: devices}, nil
}

func (s *Server) handleCheckDevice(ctx context.Context, req *sdkmcp.CallToolRequest, input checkDeviceInput) (*sdkmcp.CallToolResult, any, error) {
	if s.deps.Finder == nil {
		return nil, nil, errors.New("inventory is not configured")
	}
	if input.ServiceID == "" || input.DeviceName == "" {
		return nil, nil, errors.New("service_id and device_name are required")
	}
	role, err := chainRole(input.Role)
	if err != nil {
		return nil, nil, err
	}
	device, err := s.deps.Finder.Device(ctx, input.DeviceName, role)
	if err != nil {
		return nil, nil, err
	}

	observer, flush := s.progress(ctx, req)
	res, err := s.deps.Engine.Observe(observer).CheckDevice(ctx, device, input.ServiceID)
	flush()
	if err != nil {
		return nil, nil, err
	}
	return nil, checkDeviceOutput{Device: device, Result: res}, nil
}

// chainRole parses the role of a named device; only NNI and POP
// devices are checked by name.
func chainRole(s string) (model.DeviceRole, error) {
	if s == "" {
		return model.RoleNNI, nil
	}
	role, err := model.ParseDeviceRole(s)
	if err != nil {
		return "", err
	}
	if role == model.RoleCPE {
		return "", errors.New("role must be nni or pop")
	}
	return role, nil
}

func (s *Server) handlePing(ctx context.Context, _ *sdkmcp.CallToolRequest, input pingInput) (*sdkmcp.CallToolResult, any, error) {
	prober, err := s.prober(input.device())
	if err != nil {
		return nil, nil, err
	}
	if input.Destination == "" {
		return nil, nil, errors.New("destination is required")
	}

	spec := s.deps.Policy.Baseline
	if input.Count > 0 {
		spec.Count = input.Count
	}
	if input.IntervalMs > 0 {
		spec.Interval = time.Duration(input.IntervalMs) * time.Millisecond
	}
	if input.Size > 0 {
		spec.Size = input.Size
	}

	outcome, err := prober.Ping(ctx, probes.PingRequest{Source: input.Source, Destination: input.Destination, ProbeSpec: spec})
	if err != nil {
		var perr *probes.ParseError
		if !errors.As(err, &perr) {
			return nil, nil, err
		}
		return nil, pingOutput{Outcome: outcome, Verdict: probes.ClassifyError(err)}, nil
	}
	return nil, pingOutput{Outcome: outcome, Verdict: probes.Classify(outcome)}, nil
}

func (s *Server) handleTraceroute(ctx context.Context, _ *sdkmcp.CallToolRequest, input probeInput) (*sdkmcp.CallToolResult, any, error) {
	prober, err := s.prober(input.device())
	if err != nil {
		return nil, nil, err
	}
	if input.Destination == "" {
		return nil, nil, errors.New("destination is required")
	}
	raw, err := prober.Trace(ctx, input.Source, input.Destination)
	if err != nil {
		return nil, nil, err
	}
	return nil, tracerouteOutput{Raw: raw, Hops: probes.ParseHops(raw)}, nil
}

func (s *Server) prober(in deviceInput) (probes.Prober, error) {
	target, err := session.ParseTarget(in.DeviceIP, in.Vendor, in.Role, in.DeviceType)
	if err != nil {
		return nil, err
	}
	return probes.NewProber(s.deps.Exec, target, s.deps.Privileged)
}

// progressBuffer bounds the notifications queued for one tool call.
const progressBuffer = 16

// progress forwards observer events as MCP progress notifications when
// the caller sent a progress token. The returned func flushes queued
// notifications and must be called before the tool returns.
func (s *Server) progress(ctx context.Context, req *sdkmcp.CallToolRequest) (model.ProgressObserver, func()) {
	if req == nil || req.Session == nil || req.Params == nil {
		return model.NopObserver{}, func() {}
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return model.NopObserver{}, func() {}
	}
	r := newProgressRelay(ctx, token, req.Session.NotifyProgress, s.log)
	return r, r.Close
}

// progressRelay queues notifications for a single sender goroutine so a
// slow client never stalls the caller. Events that find the queue full
// are dropped.
type progressRelay struct {
	token  any
	events chan *sdkmcp.ProgressNotificationParams
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func newProgressRelay(ctx context.Context, token any, notify func(context.Context, *sdkmcp.ProgressNotificationParams) error, log *slog.Logger) *progressRelay {
	r := &progressRelay{
		token:  token,
		events: make(chan *sdkmcp.ProgressNotificationParams, progressBuffer),
		done:   make(chan struct{}),
		log:    log,
	}
	go func() {
		defer close(r.done)
		for p := range r.events {
			if err := notify(ctx, p); err != nil {
				r.log.Debug("progress notification failed", "error", err)
			}
		}
	}()
	return r
}

func (r *progressRelay) ReportProgress(percent int, message string) {
	p := &sdkmcp.ProgressNotificationParams{
		ProgressToken: r.token,
		Progress:      float64(percent),
		Total:         100,
		Message:       message,
	}
	select {
	case r.events <- p:
	default:
		r.log.Debug("progress notification dropped", "percent", percent)
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (r *progressRelay) Close() {
	r.once.Do(func() {
		close(r.events)
		<-r.done
	})
}
