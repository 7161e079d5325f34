package probes

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/circuitdiag/internal/model"
)

var (
	// " 1  192.168.0.1  1.234 ms" or " 1  * * *" (Unix, Junos, IOS numeric)
	unixHopRe = regexp.MustCompile(`^\s*(\d+)\s+(?:(\d+\.\d+\.\d+\.\d+)\s+(\d+\.?\d*)\s*ms|\*(?:\s+\*)*)`)
	// " 1 10.0.0.1   0%  3  0.5ms  0.6  0.4  0.9  0.1" (RouterOS /tool traceroute)
	routerOSHopRe = regexp.MustCompile(`^\s*(\d+)\s+(\d+\.\d+\.\d+\.\d+)?\s*(\d+(?:\.\d+)?)%\s+\d+\s+(?:(\d+\.?\d*)ms)?`)
)

// ParseHops extracts hops from traceroute output. Lines that do not look
// like hops are skipped, so a failed or empty trace yields no hops.
func ParseHops(output string) []model.TraceHop {
	var hops []model.TraceHop
	seen := make(map[int]bool)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if m := routerOSHopRe.FindStringSubmatch(line); m != nil {
			hopNum, _ := strconv.Atoi(m[1])
			loss, _ := strconv.ParseFloat(m[3], 64)
			hop := model.TraceHop{HopNum: hopNum, IP: m[2], Lost: m[2] == "" || loss >= 100}
			if m[4] != "" {
				hop.LatencyMs, _ = strconv.ParseFloat(m[4], 64)
			}
			// RouterOS redraws the table; keep the latest row per hop.
			if seen[hopNum] {
				for i := range hops {
					if hops[i].HopNum == hopNum {
						hops[i] = hop
					}
				}
				continue
			}
			seen[hopNum] = true
			hops = append(hops, hop)
			continue
		}

		if m := unixHopRe.FindStringSubmatch(line); m != nil {
			hopNum, _ := strconv.Atoi(m[1])
			hop := model.TraceHop{HopNum: hopNum, Lost: true}
			if m[2] != "" {
				hop.IP = m[2]
				hop.Lost = false
				hop.LatencyMs, _ = strconv.ParseFloat(m[3], 64)
			}
			if !seen[hopNum] {
				seen[hopNum] = true
				hops = append(hops, hop)
			}
		}
	}

	return hops
}
