package report

import (
	"fmt"
	"strings"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
)

// GenerateMermaidDiagram creates a Mermaid flowchart of the traceroute
// in a probe report. It returns "" when the report has no traceroute.
func GenerateMermaidDiagram(p model.ProbeReport) string {
	if p.Traceroute == nil {
		return ""
	}
	hops := probes.ParseHops(*p.Traceroute)

	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString("flowchart LR\n")
	sb.WriteString("    style Source fill:#90EE90\n")
	sb.WriteString("    style Target fill:#87CEEB\n")
	sb.WriteString("\n")

	source := p.Source
	if source == "" {
		source = "device"
	}
	fmt.Fprintf(&sb, "    Source[%s]\n", source)

	prevNode := "Source"
	for _, hop := range hops {
		nodeID := fmt.Sprintf("H%d", hop.HopNum)
		if hop.Lost {
			fmt.Fprintf(&sb, "    %s[Hop %d\\n* * *]:::lost\n", nodeID, hop.HopNum)
		} else {
			fmt.Fprintf(&sb, "    %s[Hop %d\\n%s\\n%.1fms]\n", nodeID, hop.HopNum, hop.IP, hop.LatencyMs)
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", prevNode, nodeID)
		prevNode = nodeID
	}

	target := p.Destination
	if p.Baseline.State == model.HealthDown {
		target += " (down)"
		fmt.Fprintf(&sb, "    Target[%s]:::lost\n", target)
		fmt.Fprintf(&sb, "    %s -.-> Target\n", prevNode)
	} else {
		fmt.Fprintf(&sb, "    Target[%s]\n", target)
		fmt.Fprintf(&sb, "    %s --> Target\n", prevNode)
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef lost fill:#FFB6C1,stroke:#FF0000\n")
	sb.WriteString("```\n")

	return sb.String()
}

// GeneratePathComparison creates a Mermaid diagram comparing two paths,
// highlighting hops that are new in the later one.
func GeneratePathComparison(change PathChange) string {
	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString("flowchart TB\n")
	sb.WriteString("    subgraph Before\n")
	sb.WriteString("    direction LR\n")

	prevNode := "OldSrc"
	sb.WriteString("    OldSrc((Start))\n")
	for i, ip := range change.OldHops {
		nodeID := fmt.Sprintf("O%d", i+1)
		fmt.Fprintf(&sb, "    %s[%s]\n", nodeID, ip)
		fmt.Fprintf(&sb, "    %s --> %s\n", prevNode, nodeID)
		prevNode = nodeID
	}
	sb.WriteString("    end\n\n")

	sb.WriteString("    subgraph After\n")
	sb.WriteString("    direction LR\n")

	prevNode = "NewSrc"
	sb.WriteString("    NewSrc((Start))\n")
	for i, ip := range change.NewHops {
		nodeID := fmt.Sprintf("N%d", i+1)
		if containsString(change.Added, ip) {
			fmt.Fprintf(&sb, "    %s[%s]:::new\n", nodeID, ip)
		} else {
			fmt.Fprintf(&sb, "    %s[%s]\n", nodeID, ip)
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", prevNode, nodeID)
		prevNode = nodeID
	}
	sb.WriteString("    end\n\n")

	sb.WriteString("    classDef new fill:#90EE90,stroke:#228B22\n")
	sb.WriteString("```\n")

	return sb.String()
}

// GenerateServiceChain creates a Mermaid diagram of the devices that
// produced evidence, in order. Devices with a failed step are marked.
func GenerateServiceChain(serviceID string, evidence []model.EvidenceRecord) string {
	var (
		devices []string
		failed  = make(map[string]bool)
	)
	for _, e := range evidence {
		if e.Device == "" {
			continue
		}
		if !containsString(devices, e.Device) {
			devices = append(devices, e.Device)
		}
		if e.Err != "" {
			failed[e.Device] = true
		}
	}
	if len(devices) == 0 {
		return ""
	}

	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString("flowchart LR\n")
	fmt.Fprintf(&sb, "    Svc((%s)):::source\n", serviceID)

	prevNode := "Svc"
	for _, dev := range devices {
		nodeID := nodeID(dev)
		if failed[dev] {
			fmt.Fprintf(&sb, "    %s[%s]:::lost\n", nodeID, dev)
		} else {
			fmt.Fprintf(&sb, "    %s[%s]\n", nodeID, dev)
		}
		fmt.Fprintf(&sb, "    %s --- %s\n", prevNode, nodeID)
		prevNode = nodeID
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef source fill:#90EE90\n")
	sb.WriteString("    classDef lost fill:#FFB6C1,stroke:#FF0000\n")
	sb.WriteString("```\n")

	return sb.String()
}

// nodeID converts a device name or address to a valid Mermaid node ID.
func nodeID(name string) string {
	return "D_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
