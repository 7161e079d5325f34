package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/report"
	"github.com/user/circuitdiag/internal/storage"
)

var (
	reportLast   string
	reportFormat string
	reportOutput string
	reportChart  string
)

var reportCmd = &cobra.Command{
	Use:   "report SERVICE",
	Short: "Generate a service report",
	Long: `Generate a report of the stored diagnoses and recorded history of a
service: uptime, outages, verdict and path changes.

Examples:
  circuitdiag report SVC-1001 --last 24h
  circuitdiag report SVC-1001 --last 7d --chart ./svc-1001.png
  circuitdiag report SVC-1001 --last 1w --output -`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportLast, "last", "24h",
		"Time range (e.g., 1h, 24h, 7d, 2w)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown",
		"Output format (markdown, text)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"Output file path, - for stdout (default: auto-generated)")
	reportCmd.Flags().StringVar(&reportChart, "chart", "",
		"Also write a PNG history chart to this path")
}

func runReport(cmd *cobra.Command, args []string) error {
	duration, err := parseDuration(reportLast)
	if err != nil {
		return fmt.Errorf("invalid time range: %w", err)
	}

	until := time.Now()
	since := until.Add(-duration)

	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	gen := report.NewGenerator(db, cfg)
	data, err := gen.Generate(model.ReportOptions{
		ServiceID: args[0],
		Since:     since,
		Until:     until,
		Format:    reportFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	w := cmd.OutOrStdout()
	switch reportFormat {
	case "markdown", "md":
		if err := outputMarkdown(cmd, data); err != nil {
			return err
		}
	case "text":
		if data.Latest == nil {
			return fmt.Errorf("no diagnoses of %s in the last %s", args[0], reportLast)
		}
		fmt.Fprintln(w, report.FormatText(data.Latest))
	default:
		return fmt.Errorf("unknown report format %q", reportFormat)
	}

	if reportChart != "" {
		err := report.WriteHistoryChart(data, reportChart)
		switch {
		case errors.Is(err, report.ErrNoChartData):
			fmt.Fprintln(cmd.ErrOrStderr(), "Not enough recorded history for a chart")
		case err != nil:
			return fmt.Errorf("failed to write chart: %w", err)
		default:
			fmt.Fprintf(cmd.ErrOrStderr(), "Chart saved to: %s\n", reportChart)
		}
	}

	if reportOutput != "-" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Report Summary:")
		fmt.Fprintf(w, "  Diagnoses: %d (vendor %d, customer %d, unknown %d)\n",
			len(data.Diagnoses), data.VendorCount, data.CustomerCount, data.UnknownCount)
		fmt.Fprintf(w, "  Uptime: %.2f%%\n", data.UptimePercent)
		fmt.Fprintf(w, "  Outages: %d\n", data.Availability.Interruptions)
		fmt.Fprintf(w, "  Verdict Changes: %d\n", len(data.VerdictChanges))
		fmt.Fprintf(w, "  Path Changes: %d\n", len(data.PathChanges))
	}
	return nil
}

func outputMarkdown(cmd *cobra.Command, data *report.ReportData) error {
	switch reportOutput {
	case "":
		outputPath, err := report.WriteMarkdownFile(data, cfg.ReportOutputDir)
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report saved to: %s\n", outputPath)
	case "-":
		fmt.Fprintln(cmd.OutOrStdout(), report.FormatMarkdown(data))
	default:
		if err := writeFile(reportOutput, report.FormatMarkdown(data)); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report saved to: %s\n", reportOutput)
	}
	return nil
}

// parseDuration extends time.ParseDuration with d (days) and w (weeks).
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 0 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}

	if len(s) > 0 && s[len(s)-1] == 'w' {
		var weeks int
		if _, err := fmt.Sscanf(s, "%dw", &weeks); err == nil && weeks > 0 {
			return time.Duration(weeks) * 7 * 24 * time.Hour, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
