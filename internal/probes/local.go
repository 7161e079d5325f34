package probes

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/user/circuitdiag/internal/model"
)

// LocalProber probes from this host: ICMP via pro-bing and the system
// traceroute binary.
type LocalProber struct {
	privileged bool
	maxHops    int
}

// NewLocalProber creates a local prober. Privileged mode uses raw
// sockets and needs CAP_NET_RAW.
func NewLocalProber(privileged bool) *LocalProber {
	return &LocalProber{privileged: privileged, maxHops: 30}
}

func (p *LocalProber) Ping(ctx context.Context, req PingRequest) (model.PingOutcome, error) {
	pr := probing.New(req.Destination)
	pr.SetNetwork("ip4")

	if err := pr.Resolve(); err != nil {
		return model.PingOutcome{}, fmt.Errorf("DNS lookup '%s': %w", req.Destination, err)
	}

	pr.Source = req.Source
	pr.RecordRtts = false
	pr.Count = req.Count
	pr.Interval = req.Interval
	pr.Size = req.Size
	pr.Timeout = time.Duration(req.Count)*req.Interval + 5*time.Second
	pr.SetPrivileged(p.privileged)
	pr.SetLogger(nil)

	if err := pr.RunWithContext(ctx); err != nil {
		return model.PingOutcome{}, fmt.Errorf("pinging host '%s' (ip %s): %w", pr.Addr(), pr.IPAddr(), err)
	}

	stats := pr.Statistics()
	outcome := newOutcome(stats.PacketsSent, stats.PacketsRecv, formatStats(stats))
	if outcome.Sent == 0 {
		return model.PingOutcome{}, &ParseError{Format: "icmp", Raw: outcome.Raw}
	}
	return outcome, nil
}

// formatStats renders pro-bing statistics in the Unix summary format so
// local results read like device output in reports.
func formatStats(s *probing.Statistics) string {
	return fmt.Sprintf("--- %s ping statistics ---\n%d packets transmitted, %d packets received, %.1f%% packet loss\nround-trip min/avg/max/stddev = %s/%s/%s/%s\n",
		s.Addr, s.PacketsSent, s.PacketsRecv, s.PacketLoss,
		s.MinRtt, s.AvgRtt, s.MaxRtt, s.StdDevRtt)
}

// Trace runs the system traceroute. The source address is passed with
// -s when set; UDP probes are tried first, then ICMP.
func (p *LocalProber) Trace(ctx context.Context, source, destination string) (string, error) {
	args := []string{"-n", "-q", "1", "-w", "2", "-m", strconv.Itoa(p.maxHops)}
	if source != "" {
		args = append(args, "-s", source)
	}

	output, err := exec.CommandContext(ctx, "traceroute", append(args, destination)...).Output()
	if err != nil {
		output, err = exec.CommandContext(ctx, "traceroute", append(append(args, "-I"), destination)...).Output()
		if err != nil {
			return "", fmt.Errorf("traceroute failed: %w", err)
		}
	}
	return string(output), nil
}
