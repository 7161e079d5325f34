package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/session"
	"github.com/user/circuitdiag/internal/util"
)

// Versa WAN interfaces reported by the interface check.
var versaWANInterfaces = []string{"vni-0/0.0", "vni-0/1.0", "vni-0/2.0"}

// VersaAPIError is a non-2xx response from the Versa Director.
type VersaAPIError struct {
	StatusCode int
	Body       string
}

func (e *VersaAPIError) Error() string {
	return fmt.Sprintf("versa returned %d: %s", e.StatusCode, e.Body)
}

// VersaClient reads live appliance state through the Versa Director
// REST API with basic authentication.
type VersaClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	log      *slog.Logger
}

// NewVersaClient creates a client from configuration.
func NewVersaClient(cfg util.VersaConfig) (*VersaClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("versa url is not configured")
	}
	if cfg.Username == "" {
		return nil, errors.New("versa username is not configured")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &VersaClient{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		log:      util.Component("versa"),
	}, nil
}

// Live runs a live command against appliance and returns the JSON body.
func (c *VersaClient) Live(ctx context.Context, appliance, command string) (gjson.Result, error) {
	rawURL := fmt.Sprintf("%s/%s/live?%s", c.baseURL, url.PathEscape(appliance), url.Values{"command": {command}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.username, c.password)

	c.log.Debug("versa request", "appliance", appliance, "command", command)
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("versa request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read versa response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &VersaAPIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("versa returned invalid JSON")
	}
	return gjson.ParseBytes(body), nil
}

// VersaAppliance maps an inventory device name such as
// "PRM.5589.A007" to the appliance name "PRM-5589-A007" and its
// organization. TXB appliances belong to the PRM organization.
func VersaAppliance(name string) (appliance, org string) {
	appliance = strings.ReplaceAll(strings.TrimSpace(name), ".", "-")
	org, _, _ = strings.Cut(appliance, "-")
	if org == "TXB" {
		org = "PRM"
	}
	return appliance, org
}

// versa checks WAN interfaces, packet replication and SLA paths of an
// SD-WAN appliance.
type versa struct {
	k      *Toolkit
	client *VersaClient
}

func (v versa) Troubleshoot(ctx context.Context, device model.DeviceLocation, _ string) Result {
	rec := newRecorder(v.k.exec, session.TargetFor(device))
	appliance, org := VersaAppliance(device.Name)
	rec.note("system", fmt.Sprintf("appliance %s, organization %s", appliance, org), "")

	v.interfaces(ctx, rec, appliance)
	branches := v.replicationStats(ctx, rec, appliance, org)
	v.replicationConfig(ctx, rec, appliance, org)
	for _, branch := range branches {
		v.slaPaths(ctx, rec, appliance, org, branch)
	}
	return rec.Result
}

func (v versa) live(ctx context.Context, rec *recorder, stage, appliance, command string) (gjson.Result, bool) {
	doc, err := v.client.Live(ctx, appliance, command)
	if err != nil {
		rec.fail(stage, err)
		return gjson.Result{}, false
	}
	return doc, true
}

func (v versa) interfaces(ctx context.Context, rec *recorder, appliance string) {
	doc, ok := v.live(ctx, rec, "interfaces", appliance, "interfaces/brief/")
	if !ok {
		return
	}
	var lines []string
	for _, iface := range doc.Get("collection.interfaces:brief").Array() {
		name := iface.Get("name").String()
		if !containsString(versaWANInterfaces, name) {
			continue
		}
		var addrs []string
		for _, a := range iface.Get("address").Array() {
			addrs = append(addrs, a.Get("ip").String())
		}
		lines = append(lines, fmt.Sprintf("%s oper %s admin %s vrf %s %s",
			name, iface.Get("if-oper-status").String(), iface.Get("if-admin-status").String(),
			iface.Get("vrf").String(), strings.Join(addrs, ",")))
	}
	if len(lines) == 0 {
		rec.note("interfaces", "no WAN interfaces found", doc.Raw)
		return
	}
	rec.note("interfaces", strings.Join(lines, "; "), doc.Raw)
}

// replicationStats returns the remote branches packets are replicated to.
func (v versa) replicationStats(ctx context.Context, rec *recorder, appliance, org string) []string {
	command := fmt.Sprintf("orgs/org-services/%s/sd-wan/policies/sdwan-policy-group/Default-Policy/rules/statistics/extensive/stats-extensive/P2P_Packet_Replication_1/stats", org)
	doc, ok := v.live(ctx, rec, "replication-stats", appliance, command)
	if !ok {
		return nil
	}

	var (
		branches []string
		lines    []string
	)
	for _, row := range doc.Get("collection.sdwan:stats").Array() {
		local := row.Get("local-circuit").String()
		remote := row.Get("remote-branch").String()
		circuit := row.Get("remote-circuit").String()
		tx := row.Get("multi-link-total-tx").String()
		rx := row.Get("multi-link-total-rx").String()
		if local == "-" || remote == "-" || circuit == "-" || tx == "0" || rx == "0" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s -> %s/%s tx %s rx %s", local, remote, circuit, tx, rx))
		if !containsString(branches, remote) {
			branches = append(branches, remote)
		}
	}
	if len(lines) == 0 {
		rec.note("replication-stats", "no replicated traffic (replication idle or not configured)", doc.Raw)
		return nil
	}
	rec.note("replication-stats", strings.Join(lines, "; "), doc.Raw)
	return branches
}

func (v versa) replicationConfig(ctx context.Context, rec *recorder, appliance, org string) {
	command := fmt.Sprintf("orgs/org-services/%s/sd-wan/forwarding-profiles/forwarding-profile/Packet_Replication", org)
	doc, ok := v.live(ctx, rec, "replication-config", appliance, command)
	if !ok {
		return
	}
	profile := doc.Get("sdwan:forwarding-profile")
	rec.note("replication-config", fmt.Sprintf("replication %s, FEC %s",
		orDash(profile.Get("replication.mode").String()), orDash(profile.Get("fec.sender.mode").String())), doc.Raw)
}

func (v versa) slaPaths(ctx context.Context, rec *recorder, appliance, org, branch string) {
	command := fmt.Sprintf("orgs/org/%s/sd-wan/sla-monitor/status/%s/path-status", org, branch)
	doc, ok := v.live(ctx, rec, "sla-paths", appliance, command)
	if !ok {
		return
	}
	paths := doc.Get("collection.sdwan:path-status").Array()
	if len(paths) == 0 {
		rec.note("sla-paths", "branch "+branch+": no SLA paths", doc.Raw)
		return
	}
	var lines []string
	for _, p := range paths {
		lines = append(lines, fmt.Sprintf("%s->%s %s flaps %s",
			p.Get("local-wan-link").String(), p.Get("remote-wan-link").String(),
			p.Get("conn-state").String(), orDash(p.Get("flaps").String())))
	}
	rec.note("sla-paths", "branch "+branch+": "+strings.Join(lines, "; "), doc.Raw)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
