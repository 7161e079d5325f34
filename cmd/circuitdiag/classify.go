package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/service"
)

var (
	classifyFile   string
	classifyOutput string
)

var classifyCmd = &cobra.Command{
	Use:   "classify SERVICE",
	Short: "Classify how a service is provisioned",
	Long: `Read device configuration in "display set" form and report the
service types (bgp, irb, l2circuit, vpls, vlan) found for SERVICE.

Examples:
  circuitdiag classify SVC-1001 --file cpe.conf
  ssh cpe 'show configuration | display set' | circuitdiag classify SVC-1001`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyFile, "file", "f", "-",
		"Configuration file, - for stdin")
	classifyCmd.Flags().StringVarP(&classifyOutput, "output", "o", "text",
		"Output format (text, json, yaml)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if classifyFile != "-" {
		f, err := os.Open(classifyFile)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	text, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	c := service.Classify(string(text), args[0])
	out := struct {
		Types          any `json:"types" yaml:"types"`
		Classification any `json:"classification" yaml:"classification"`
	}{c.Types(), c}

	w := cmd.OutOrStdout()
	switch classifyOutput {
	case "json":
		return writeJSON(w, out)
	case "yaml":
		return writeYAML(w, out)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", classifyOutput)
	}

	types := make([]string, 0, len(c.Types()))
	for _, t := range c.Types() {
		types = append(types, string(t))
	}
	fmt.Fprintf(w, "Types: %s\n", strings.Join(types, ", "))
	for _, row := range []struct {
		label  string
		values []string
	}{
		{"BGP neighbors", c.BgpNeighbors},
		{"IRB units", c.IrbUnits},
		{"IRB addresses", c.IrbAddresses},
		{"L2 circuits", c.L2CircuitNeighbors},
		{"VPLS", c.VplsInstances},
		{"VLAN units", c.VlanUnits},
	} {
		if len(row.values) > 0 {
			fmt.Fprintf(w, "  %-14s %s\n", row.label+":", strings.Join(row.values, ", "))
		}
	}
	return nil
}
