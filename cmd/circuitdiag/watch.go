package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/user/circuitdiag/internal/daemon"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
	"github.com/user/circuitdiag/internal/web"
)

var (
	foreground   bool
	withWeb      bool
	startWebPort int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Diagnose a list of services periodically",
	Long: `Run the watch daemon, which diagnoses every service in watch.services
each watch.interval and stores the results.`,
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the watch daemon",
	Long:  "Start the watch daemon in the background.",
	RunE:  runStart,
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the watch daemon",
	Long:  "Stop the running watch daemon gracefully.",
	RunE:  runStop,
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show watch daemon status",
	Long:  "Show the state of the watch daemon, its jobs and the latest verdicts.",
	RunE:  runStatus,
}

func init() {
	watchStartCmd.Flags().BoolVarP(&foreground, "foreground", "f", false,
		"Run in foreground instead of daemonizing")
	watchStartCmd.Flags().BoolVar(&withWeb, "with-web", false,
		"Also start the web dashboard server")
	watchStartCmd.Flags().IntVar(&startWebPort, "web-port", 0,
		"Port for web server (when using --with-web; default from config)")

	watchCmd.AddCommand(watchStartCmd, watchStopCmd, watchStatusCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)
	if running {
		fmt.Printf("Daemon is already running (PID %d)\n", pid)
		return nil
	}
	if len(cfg.Watch.Services) == 0 {
		return fmt.Errorf("no services to watch: set watch.services in the config")
	}

	if foreground {
		return runForeground(cmd)
	}
	return runDaemon()
}

func runForeground(cmd *cobra.Command) error {
	fmt.Println("Starting circuitdiag watch in foreground mode...")

	st, err := openStack()
	if err != nil {
		return err
	}
	defer st.Close()

	d, err := daemon.New(cfg, st.db, st.engine)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if withWeb {
		port := cfg.WebPort
		if startWebPort != 0 {
			port = startWebPort
		}
		go func() {
			srv := web.NewServer(st.db, cfg, st.engine, port)
			fmt.Printf("Web dashboard: http://localhost:%d\n", port)
			if err := srv.Start(cmd.Context()); err != nil {
				util.Error("Web server error: %v", err)
			}
		}()
	}

	fmt.Printf("Watching %d services every %s. Press Ctrl+C to stop.\n",
		len(cfg.Watch.Services), cfg.Watch.Interval)

	d.Wait()
	return nil
}

func runDaemon() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"watch", "start", "--foreground"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if offline {
		args = append(args, "--offline")
	}
	for _, dev := range devices {
		args = append(args, "--device", dev)
	}
	if withWeb {
		args = append(args, "--with-web")
		if startWebPort != 0 {
			args = append(args, "--web-port", fmt.Sprintf("%d", startWebPort))
		}
	}

	if err := util.EnsureDir(cfg.DataDir); err != nil {
		return err
	}
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	procAttr := &os.ProcAttr{
		Dir:   "/",
		Env:   os.Environ(),
		Files: []*os.File{nil, logFile, logFile},
		Sys: &syscall.SysProcAttr{
			Setsid: true,
		},
	}

	proc, err := os.StartProcess(executable, append([]string{executable}, args...), procAttr)
	if err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if err := proc.Release(); err != nil {
		util.Warn("Failed to release process: %v", err)
	}

	fmt.Printf("Watch daemon started (PID %d)\n", proc.Pid)
	fmt.Printf("Logs: %s\n", cfg.LogFile)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	fmt.Printf("Stopping daemon (PID %d)...\n", pid)

	if err := daemon.SendStop(cfg.DataDir); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(time.Second)
		if running, _ := daemon.CheckRunning(cfg.DataDir); !running {
			fmt.Println("Daemon stopped")
			return nil
		}
	}

	fmt.Println("Warning: Daemon may not have stopped completely")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("86"))

	runningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	stoppedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	running, pid := daemon.CheckRunning(cfg.DataDir)

	fmt.Println(titleStyle.Render("circuitdiag watch"))

	fmt.Print(labelStyle.Render("Daemon: "))
	if running {
		fmt.Println(runningStyle.Render(fmt.Sprintf("Running (PID %d)", pid)))
	} else {
		fmt.Println(stoppedStyle.Render("Stopped"))
	}

	if sf, err := daemon.ReadStatusFile(cfg.DataDir); err == nil {
		fmt.Print(labelStyle.Render("Started: "))
		fmt.Println(valueStyle.Render(sf.StartTime.Format("2006-01-02 15:04:05")))

		if running {
			fmt.Print(labelStyle.Render("Uptime: "))
			fmt.Println(valueStyle.Render(sf.Uptime))
		}

		fmt.Print(labelStyle.Render("Watching: "))
		fmt.Println(valueStyle.Render(fmt.Sprintf("%d services", len(sf.Watched))))

		if len(sf.Jobs) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Jobs"))

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Job", "Last Run", "Next Run", "Errors", "Result"})
			for _, job := range sf.Jobs {
				t.AppendRow(table.Row{job.Name, clock(job.LastRun), clock(job.NextRun), job.ErrorCount, job.LastResult})
			}
			fmt.Println(t.Render())
		}
	}

	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil
	}
	defer db.Close()

	store := storage.NewDiagnosisStorage(db)
	services, err := store.Services()
	if err != nil || len(services) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Latest Verdicts"))
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Service", "Status", "Responsibility", "Reason", "Evaluated"})
	for _, id := range services {
		d, err := store.Latest(id)
		if err != nil || d == nil {
			continue
		}
		t.AppendRow(table.Row{id, d.Status, d.Responsibility, d.Reason, d.EvaluatedAt.Format("2006-01-02 15:04")})
	}
	fmt.Println(t.Render())
	return nil
}

func clock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}
