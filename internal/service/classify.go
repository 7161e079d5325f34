// Package service works out how a circuit is provisioned on a device
// and runs the matching vendor diagnostics.
package service

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/user/circuitdiag/internal/model"
)

var (
	bgpNeighborRe = regexp.MustCompile(`neighbor\s+(\d+\.\d+\.\d+\.\d+)`)
	irbUnitRe     = regexp.MustCompile(`irb unit (\d+)`)
	irbAddressRe  = regexp.MustCompile(`address (\d+\.\d+\.\d+\.\d+)`)
	l2circuitRe   = regexp.MustCompile(`l2circuit neighbor\s+(\d+\.\d+\.\d+\.\d+)`)
	vplsIDRe      = regexp.MustCompile(`vpls(?:-id)? (\d+)`)
	vplsNameRe    = regexp.MustCompile(`routing-instances (VPLS_[\w.-]+)`)
	unitRe        = regexp.MustCompile(`\bunit (\d+)`)
)

// Classification is the set of service types found in a device
// configuration, with the parameters each sub-procedure needs.
type Classification struct {
	BgpNeighbors       []string `json:"bgp_neighbors,omitempty"`
	IrbUnits           []string `json:"irb_units,omitempty"`
	IrbAddresses       []string `json:"irb_addresses,omitempty"`
	L2CircuitNeighbors []string `json:"l2circuit_neighbors,omitempty"`
	VplsInstances      []string `json:"vpls_instances,omitempty"`
	VlanUnits          []string `json:"vlan_units,omitempty"`
}

// Types returns the matched service types in dispatch order, or
// [ServiceUnknown] when nothing matched.
func (c Classification) Types() []model.ServiceType {
	var types []model.ServiceType
	if len(c.BgpNeighbors) > 0 {
		types = append(types, model.ServiceBgp)
	}
	if len(c.IrbUnits) > 0 {
		types = append(types, model.ServiceIrb)
	}
	if len(c.L2CircuitNeighbors) > 0 {
		types = append(types, model.ServiceL2Circuit)
	}
	if len(c.VplsInstances) > 0 {
		types = append(types, model.ServiceVpls)
	}
	if len(c.VlanUnits) > 0 {
		types = append(types, model.ServiceVlan)
	}
	if len(types) == 0 {
		return []model.ServiceType{model.ServiceUnknown}
	}
	return types
}

// Has reports whether t was matched.
func (c Classification) Has(t model.ServiceType) bool {
	for _, got := range c.Types() {
		if got == t {
			return true
		}
	}
	return false
}

// Classify extracts service types from configuration text in "display
// set" form. When any line mentions serviceID only those lines are
// considered. Types are not exclusive.
func Classify(configText, serviceID string) Classification {
	lines := relevantLines(configText, serviceID)

	var c Classification
	for _, line := range lines {
		isL2circuit := strings.Contains(line, "l2circuit")
		isIrb := strings.Contains(line, "irb unit")

		if m := l2circuitRe.FindStringSubmatch(line); m != nil {
			c.L2CircuitNeighbors = appendUnique(c.L2CircuitNeighbors, m[1])
		}
		if !isL2circuit {
			for _, m := range bgpNeighborRe.FindAllStringSubmatch(line, -1) {
				c.BgpNeighbors = appendUnique(c.BgpNeighbors, m[1])
			}
		}
		if m := irbUnitRe.FindStringSubmatch(line); m != nil {
			c.IrbUnits = appendUnique(c.IrbUnits, m[1])
			if a := irbAddressRe.FindStringSubmatch(line); a != nil {
				c.IrbAddresses = appendUnique(c.IrbAddresses, a[1])
			}
		}
		if m := vplsNameRe.FindStringSubmatch(line); m != nil {
			c.VplsInstances = appendUnique(c.VplsInstances, m[1])
		} else if m := vplsIDRe.FindStringSubmatch(line); m != nil {
			c.VplsInstances = appendUnique(c.VplsInstances, "VPLS_"+m[1])
		}
		if !isIrb {
			if m := unitRe.FindStringSubmatch(line); m != nil {
				c.VlanUnits = appendUnique(c.VlanUnits, m[1])
			}
		}
	}
	return c
}

// ClassifyService returns only the set of service types for configText.
func ClassifyService(configText, serviceID string) []model.ServiceType {
	return Classify(configText, serviceID).Types()
}

func relevantLines(text, serviceID string) []string {
	all := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if serviceID == "" {
		return all
	}
	var matched []string
	for _, l := range all {
		if strings.Contains(l, serviceID) {
			matched = append(matched, l)
		}
	}
	if len(matched) == 0 {
		return all
	}
	return matched
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// NextAddress returns the IPv4 address following addr. A prefix length
// suffix ("10.0.0.1/30") is ignored.
func NextAddress(addr string) (string, error) {
	addr, _, _ = strings.Cut(addr, "/")
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if !ip.Is4() {
		return "", fmt.Errorf("address %q is not IPv4", addr)
	}
	next := ip.Next()
	if !next.IsValid() || !next.Is4() {
		return "", fmt.Errorf("address %q has no successor", addr)
	}
	return next.String(), nil
}
