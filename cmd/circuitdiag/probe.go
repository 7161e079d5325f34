package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/report"
	"github.com/user/circuitdiag/internal/session"
)

var (
	probeDevice  string
	probeVendor  string
	probeRole    string
	probeType    string
	probeSource  string
	probeOutput  string
	probeMermaid bool
)

var probeCmd = &cobra.Command{
	Use:   "probe DESTINATION",
	Short: "Run an escalating probe",
	Long: `Ping DESTINATION from a device, or from this host when --device-ip is
not given. A clean baseline is followed by an extended ping; anything
else by a traceroute.

Examples:
  circuitdiag probe 10.20.30.2
  circuitdiag probe 10.20.30.2 --device-ip 10.0.0.1 --vendor juniper --source 10.20.30.1
  circuitdiag probe 8.8.8.8 --mermaid`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeDevice, "device-ip", "",
		"Management address of the device to probe from")
	probeCmd.Flags().StringVar(&probeVendor, "vendor", "",
		"Device vendor (juniper, mikrotik, cisco, datacom, accedian, versa)")
	probeCmd.Flags().StringVar(&probeRole, "role", "cpe",
		"Device role (cpe, pop, nni)")
	probeCmd.Flags().StringVar(&probeType, "device-type", "",
		"Device model, e.g. EX4300")
	probeCmd.Flags().StringVar(&probeSource, "source", "",
		"Source address on the device")
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "text",
		"Output format (text, json, yaml)")
	probeCmd.Flags().BoolVar(&probeMermaid, "mermaid", false,
		"Print the traceroute as a Mermaid diagram")
}

func runProbe(cmd *cobra.Command, args []string) error {
	target, err := session.ParseTarget(probeDevice, probeVendor, probeRole, probeType)
	if err != nil {
		return err
	}

	var exec session.Executor
	if target.Host != "" {
		if exec, err = session.NewSSHExecutor(cfg); err != nil {
			return err
		}
	}
	prober, err := probes.NewProber(exec, target, cfg.Probe.Privileged)
	if err != nil {
		return err
	}

	observer := model.ProgressFunc(func(percent int, message string) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%3d%% %s\n", percent, message)
	})
	ctrl := probes.NewController(prober, observer)
	r := ctrl.RunEscalatingProbe(cmd.Context(), probeSource, args[0], probes.PolicyFromConfig(cfg.Probe))

	w := cmd.OutOrStdout()
	switch probeOutput {
	case "json":
		return writeJSON(w, r)
	case "yaml":
		return writeYAML(w, r)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", probeOutput)
	}

	fmt.Fprintln(w, probes.Summary(r))
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimSpace(r.BaselineRaw))
	if r.ExtendedRaw != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.TrimSpace(r.ExtendedRaw))
	}
	if r.Traceroute != nil {
		fmt.Fprintln(w)
		if probeMermaid {
			fmt.Fprintln(w, report.GenerateMermaidDiagram(r))
		} else {
			fmt.Fprintln(w, strings.TrimSpace(*r.Traceroute))
		}
	}
	return nil
}
