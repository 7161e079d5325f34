package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/model"
)

var (
	historyLookback int
	historyOutput   string
)

var historyCmd = &cobra.Command{
	Use:   "history SERVICE",
	Short: "Attribute a fault from monitoring history only",
	Long: `Evaluate the responsibility decision on monitoring history without
connecting to any device. The result is not stored.

Examples:
  circuitdiag history SVC-1001
  circuitdiag history SVC-1001 --lookback 48 --output yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLookback, "lookback", 0,
		"History window in hours (default from config)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "text",
		"Output format (text, markdown, json, yaml)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	d, err := st.engine.HistoryAnalysis(cmd.Context(), args[0], historyLookback)
	if err != nil {
		return fmt.Errorf("history analysis failed: %w", err)
	}
	return writeDiagnoses(cmd.OutOrStdout(), []*model.Diagnosis{&d}, historyOutput)
}
