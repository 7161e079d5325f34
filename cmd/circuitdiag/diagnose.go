package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/user/circuitdiag/internal/inventory"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/report"
)

var (
	diagConcurrency int
	diagOutput      string
	diagLookback    int
	diagSave        bool
	diagQuiet       bool
	diagNNI         []string
	diagPOP         []string
)

var outputFormats = []string{"text", "markdown", "md", "json", "yaml"}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose SERVICE [SERVICE...]",
	Short: "Diagnose one or more services",
	Long: `Attribute the fault of each service from monitoring history, then
gather live evidence from every device of the service.

Examples:
  circuitdiag diagnose SVC-1001
  circuitdiag diagnose SVC-1001 SVC-1002 --concurrency 2 --output json
  circuitdiag diagnose SVC-1001 --device 10.0.0.1,juniper,cpe --offline
  circuitdiag diagnose SVC-1001 --nni nni-ams-01 --pop pop-ams-02`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().IntVarP(&diagConcurrency, "concurrency", "c", 4,
		"Services diagnosed in parallel")
	diagnoseCmd.Flags().StringVarP(&diagOutput, "output", "o", "text",
		"Output format (text, markdown, json, yaml)")
	diagnoseCmd.Flags().IntVar(&diagLookback, "lookback", 0,
		"History window in hours (default from config)")
	diagnoseCmd.Flags().BoolVar(&diagSave, "save", true,
		"Store diagnoses in the local database")
	diagnoseCmd.Flags().BoolVarP(&diagQuiet, "quiet", "q", false,
		"Do not print progress")
	diagnoseCmd.Flags().StringArrayVar(&diagNNI, "nni", nil,
		"Also check this NNI device by inventory name (repeatable)")
	diagnoseCmd.Flags().StringArrayVar(&diagPOP, "pop", nil,
		"Also check this POP device by inventory name (repeatable)")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	if diagConcurrency < 1 {
		return fmt.Errorf("invalid concurrency %d", diagConcurrency)
	}
	if err := checkOutputFormat(diagOutput); err != nil {
		return err
	}

	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	extra, err := namedDevices(cmd.Context(), st.finder, diagNNI, diagPOP)
	if err != nil {
		return err
	}

	results := make([]*model.Diagnosis, len(args))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(diagConcurrency)
	for i, id := range args {
		g.Go(func() error {
			engine := st.engine.Include(extra...)
			if !diagQuiet {
				engine = engine.Observe(progressPrinter(cmd.ErrOrStderr(), id))
			}
			d, err := engine.Diagnose(ctx, id, diagLookback)
			if err != nil {
				return fmt.Errorf("diagnose %s: %w", id, err)
			}
			if diagSave {
				if err := st.save(&d); err != nil {
					return fmt.Errorf("failed to save diagnosis of %s: %w", id, err)
				}
			}
			results[i] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return writeDiagnoses(cmd.OutOrStdout(), results, diagOutput)
}

func checkOutputFormat(format string) error {
	if !slices.Contains(outputFormats, format) {
		return fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(outputFormats, ", "))
	}
	return nil
}

// namedDevices looks up the NNI and POP devices named on the command line.
func namedDevices(ctx context.Context, finder inventory.DeviceFinder, nni, pop []string) ([]model.DeviceLocation, error) {
	if len(nni)+len(pop) == 0 {
		return nil, nil
	}
	if finder == nil {
		return nil, errors.New("--nni and --pop need an inventory: configure netbox.url or pass --device")
	}
	var devices []model.DeviceLocation
	lookup := func(names []string, role model.DeviceRole) error {
		for _, name := range names {
			dev, err := finder.Device(ctx, name, role)
			if err != nil {
				return fmt.Errorf("failed to look up %s device %s: %w", role, name, err)
			}
			devices = append(devices, dev)
		}
		return nil
	}
	if err := lookup(nni, model.RoleNNI); err != nil {
		return nil, err
	}
	if err := lookup(pop, model.RolePOP); err != nil {
		return nil, err
	}
	return devices, nil
}

// progressPrinter writes progress lines prefixed by the service id.
func progressPrinter(w io.Writer, serviceID string) model.ProgressObserver {
	return model.ProgressFunc(func(percent int, message string) {
		fmt.Fprintf(w, "[%s] %3d%% %s\n", serviceID, percent, message)
	})
}

func writeDiagnoses(w io.Writer, results []*model.Diagnosis, format string) error {
	switch format {
	case "text":
		for _, d := range results {
			fmt.Fprintln(w, report.FormatText(d))
		}
	case "markdown", "md":
		for _, d := range results {
			fmt.Fprintln(w, report.FormatDiagnosis(d))
		}
	case "json":
		return writeJSON(w, unwrap(results))
	case "yaml":
		return writeYAML(w, unwrap(results))
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return nil
}

// unwrap returns the single element of a one-element slice so that a
// single diagnosis is rendered as an object.
func unwrap[T any](items []T) any {
	if len(items) == 1 {
		return items[0]
	}
	return items
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
