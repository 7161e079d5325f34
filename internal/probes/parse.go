package probes

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/circuitdiag/internal/model"
)

// ParseError reports ping output without any recognizable summary.
type ParseError struct {
	Format string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no %s ping summary found in output (%d bytes)", e.Format, len(e.Raw))
}

// Parser extracts a PingOutcome from one device family's ping output.
type Parser interface {
	Parse(raw string) (model.PingOutcome, error)
}

// ParserFor returns the parser for a vendor's ping output.
func ParserFor(v model.Vendor) Parser {
	switch v {
	case model.VendorMikrotik:
		return RouterOSParser{}
	case model.VendorCisco:
		return CiscoParser{}
	default:
		return UnixParser{}
	}
}

// newOutcome builds an outcome from counts, clamping received to sent.
func newOutcome(sent, received int, raw string) model.PingOutcome {
	if received > sent {
		received = sent
	}
	if received < 0 {
		received = 0
	}
	o := model.PingOutcome{Sent: sent, Received: received, Raw: raw}
	if sent > 0 {
		o.LossPercent = 100 * float64(sent-received) / float64(sent)
	}
	return o
}

var (
	unixCountsRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
	unixLossRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)% packet loss`)
)

// UnixParser reads the "packets transmitted / received" summary printed
// by Junos, Datacom and Unix hosts.
type UnixParser struct{}

func (UnixParser) Parse(raw string) (model.PingOutcome, error) {
	if m := lastSubmatch(unixCountsRe, raw); m != nil {
		sent, _ := strconv.Atoi(m[1])
		received, _ := strconv.Atoi(m[2])
		return newOutcome(sent, received, raw), nil
	}
	// Some builds only print the loss line.
	if m := lastSubmatch(unixLossRe, raw); m != nil {
		loss, err := strconv.ParseFloat(m[1], 64)
		if err == nil && loss >= 0 && loss <= 100 {
			return model.PingOutcome{LossPercent: loss, CountsUnknown: true, Raw: raw}, nil
		}
	}
	return model.PingOutcome{}, &ParseError{Format: "unix", Raw: raw}
}

var ciscoRateRe = regexp.MustCompile(`Success rate is (\d+) percent \((\d+)/(\d+)\)`)

// CiscoParser reads the IOS "Success rate is N percent (r/s)" line.
type CiscoParser struct{}

func (CiscoParser) Parse(raw string) (model.PingOutcome, error) {
	m := lastSubmatch(ciscoRateRe, raw)
	if m == nil {
		return model.PingOutcome{}, &ParseError{Format: "cisco", Raw: raw}
	}
	received, _ := strconv.Atoi(m[2])
	sent, _ := strconv.Atoi(m[3])
	return newOutcome(sent, received, raw), nil
}

// RouterOSParser reads the key=value summary printed by Mikrotik, e.g.
// "sent=5 received=5 packet-loss=0%". RouterOS reprints the summary as
// the ping progresses, so the last one wins.
type RouterOSParser struct{}

func (RouterOSParser) Parse(raw string) (model.PingOutcome, error) {
	var (
		found          bool
		sent, received int
		loss           float64
	)

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "sent=") || !strings.Contains(line, "received=") || !strings.Contains(line, "packet-loss=") {
			continue
		}
		fields := make(map[string]string)
		for _, part := range strings.Fields(line) {
			if k, v, ok := strings.Cut(part, "="); ok {
				fields[k] = v
			}
		}
		s, err1 := strconv.Atoi(fields["sent"])
		r, err2 := strconv.Atoi(fields["received"])
		if err1 != nil || err2 != nil {
			continue
		}
		found = true
		sent, received = s, r
		loss, _ = strconv.ParseFloat(strings.TrimSuffix(fields["packet-loss"], "%"), 64)
	}

	if !found {
		return model.PingOutcome{}, &ParseError{Format: "routeros", Raw: raw}
	}
	o := newOutcome(sent, received, raw)
	if sent == 0 {
		o.LossPercent = loss
	}
	return o, nil
}

func lastSubmatch(re *regexp.Regexp, s string) []string {
	all := re.FindAllStringSubmatch(s, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
