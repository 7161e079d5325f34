package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/mcp"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/util"
)

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the diagnostics as MCP tools",
	Long: `Expose diagnose_service, history_analysis, run_escalating_probe,
classify_service, check_devices, ping and traceroute as Model Context
Protocol tools, over stdio or streamable HTTP.

Examples:
  circuitdiag serve
  circuitdiag serve --transport http --addr 127.0.0.1:8090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "",
		"Transport (stdio, http; default from config)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address for the http transport (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	transport := cfg.MCP.Transport
	if serveTransport != "" {
		transport = serveTransport
	}
	addr := cfg.MCP.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	srv := mcp.NewServer(version, mcp.Deps{
		Engine:     st.engine,
		Resolver:   st.resolver,
		Finder:     st.finder,
		Exec:       st.exec,
		Policy:     probes.PolicyFromConfig(cfg.Probe),
		Privileged: cfg.Probe.Privileged,
		Saver:      st.save,
	})

	ctx := cmd.Context()
	switch transport {
	case "stdio":
		util.Info("MCP server running on stdio")
		return srv.Run(ctx)
	case "http":
		return serveHTTP(ctx, addr, srv.Handler())
	default:
		return fmt.Errorf("invalid transport %q: must be stdio or http", transport)
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()

	util.Info("MCP server listening on http://%s", addr)
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
