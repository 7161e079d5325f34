package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/web"
)

var webPort int

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Start the web dashboard",
	Long: `Start a lightweight web dashboard and JSON API for running and browsing
diagnoses.

The web server provides:
- A list of recent diagnoses and the watch daemon state
- On-demand diagnoses with live progress over a websocket
- Downloadable markdown reports and PNG history charts

Examples:
  circuitdiag web
  circuitdiag web --port 8080`,
	RunE: runWeb,
}

func init() {
	webCmd.Flags().IntVarP(&webPort, "port", "p", 0, "Web server port (default from config)")
}

func runWeb(cmd *cobra.Command, args []string) error {
	port := cfg.WebPort
	if webPort != 0 {
		port = webPort
	}

	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Printf("Starting web server on http://localhost:%d\n", port)
	fmt.Println("Press Ctrl+C to stop")

	srv := web.NewServer(st.db, cfg, st.engine, port)
	return srv.Start(cmd.Context())
}
