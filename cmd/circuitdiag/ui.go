package main

import (
	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui [SERVICE]",
	Short: "Launch the terminal dashboard",
	Long: `Launch an interactive terminal dashboard.

The dashboard shows:
- The watch daemon state
- The latest verdict of every diagnosed service
- With SERVICE, a live diagnosis of that service ('d' runs it again)

Press 'r' to refresh, 'q' to quit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	serviceID := ""
	if len(args) == 1 {
		serviceID = args[0]
	}

	app := tui.NewApp(st.db, cfg, st.engine, serviceID)
	return app.Run(cmd.Context())
}
