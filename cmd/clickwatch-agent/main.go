// Command clickwatch-agent is the host process: it owns the Supervisor's
// Host client, the observable AppState, and a thin cobra command tree
// (`run`, `validate-config`, `list-monitors`). It never touches a Capture
// Backend or Clicker Dispatcher itself — those live only in the spawned
// clickwatch-worker process (§4.4).
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clickwatch/agent/internal/appstate"
	"github.com/clickwatch/agent/internal/capture"
	"github.com/clickwatch/agent/internal/config"
	"github.com/clickwatch/agent/internal/dpi"
	"github.com/clickwatch/agent/internal/health"
	"github.com/clickwatch/agent/internal/logging"
	"github.com/clickwatch/agent/internal/supervisor"
	"github.com/clickwatch/agent/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "clickwatch-agent",
	Short: "ClickWatch Agent",
	Long:  `ClickWatch Agent - watches a screen region and auto-approves matching AI-IDE prompts.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent host loop",
	Run: func(cmd *cobra.Command, args []string) {
		runHost()
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration without starting a scan",
	Run: func(cmd *cobra.Command, args []string) {
		validateConfig()
	},
}

var listMonitorsCmd = &cobra.Command{
	Use:   "list-monitors",
	Short: "List connected displays and their 0-based monitor index",
	Run: func(cmd *cobra.Command, args []string) {
		listMonitors()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ClickWatch Agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is platform config dir)/clickwatch.yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(listMonitorsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")
}

func validateConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config OK")
	fmt.Printf("capture_mode=%s scan_mode=%s click_method=%s templates=%d\n",
		cfg.CaptureMode, cfg.ScanMode, cfg.ClickMethod, len(cfg.TemplatePaths))
}

func listMonitors() {
	if err := dpi.SetPerMonitorV2(); err != nil {
		fmt.Fprintf(os.Stderr, "per-monitor-v2 DPI awareness unavailable, continuing: %v\n", err)
	}
	monitors, err := capture.ListMonitors()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list monitors: %v\n", err)
		os.Exit(1)
	}
	for _, m := range monitors {
		primary := ""
		if m.IsPrimary {
			primary = " (primary)"
		}
		fmt.Printf("%d: %s %dx%d at (%d,%d)%s\n", m.Index, m.Name, m.Width, m.Height, m.X, m.Y, primary)
	}
}

// hostComponents holds the running host-side state so run's shutdown path
// has a single place to tear everything down.
type hostComponents struct {
	sup    *supervisor.Host
	health *health.Monitor
	state  *appstate.Store
	io     *workerpool.Pool
}

func runHost() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	if err := dpi.SetPerMonitorV2(); err != nil {
		log.Warn("per-monitor-v2 DPI awareness unavailable, continuing", "error", err)
	}

	selfExe, err := os.Executable()
	if err != nil {
		log.Error("failed to resolve own executable path", "error", err)
		os.Exit(1)
	}
	workerExe := siblingWorkerPath(selfExe)

	comps := &hostComponents{
		sup:    supervisor.NewHost(workerExe, nil),
		health: health.NewMonitor(),
		state:  appstate.NewStore(appstate.State{TrayStatus: "starting"}),
		io:     workerpool.New(2, 8),
	}

	log.Info("starting agent", "version", version, "worker", workerExe)

	if err := comps.sup.Start(*cfg); err != nil {
		log.Error("failed to start scan loop", "error", err)
		os.Exit(1)
	}
	comps.state.Update(func(s *appstate.State) { s.ScannerRunning = true; s.TrayStatus = "running" })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		comps.sup.RunWatchdog(gctx.Done())
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				comps.sup.MarkPolled(now)
				pollEvents(comps)
			}
		}
	})

	<-ctx.Done()
	log.Info("shutting down agent")

	comps.state.Update(func(s *appstate.State) { s.ScannerRunning = false; s.TrayStatus = "stopping" })

	// Exit's grace-then-kill escalation can take several seconds (§4.4); run
	// it on the bounded I/O pool rather than blocking this goroutine, so
	// Drain's own timeout is the single place that bounds total shutdown
	// time.
	comps.io.Submit(func() {
		if err := comps.sup.Exit(); err != nil {
			log.Warn("worker did not exit cleanly", "error", err)
		}
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	comps.io.Shutdown(shutdownCtx)

	_ = g.Wait()
	log.Info("agent stopped")
}

// pollEvents drains the Supervisor's queued Hit/Log events and folds the
// latest Status into the health monitor; a real tray/notification UI would
// subscribe to comps.state instead of logging directly.
func pollEvents(comps *hostComponents) {
	st := comps.sup.PollStatus()
	status := health.Healthy
	if st.Error != "" {
		status = health.Unhealthy
	}
	comps.health.Update("worker", status, st.Error)

	for _, hit := range comps.sup.DrainHits() {
		log.Info("template matched, click dispatched", "score", hit.Score, "x", hit.X, "y", hit.Y, "template", hit.Template)
	}
	for _, line := range comps.sup.DrainLogs() {
		log.Info("worker log", "level", line.Level, "message", line.Message)
	}
}

// siblingWorkerPath resolves clickwatch-worker's path relative to the
// running agent binary, falling back to PATH lookup for dev builds where
// the two binaries aren't installed side-by-side.
func siblingWorkerPath(selfExe string) string {
	ext := ""
	if len(selfExe) > 4 && selfExe[len(selfExe)-4:] == ".exe" {
		ext = ".exe"
	}
	dir := selfExe[:len(selfExe)-len(basename(selfExe))]
	candidate := dir + "clickwatch-worker" + ext

	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	if path, err := exec.LookPath("clickwatch-worker"); err == nil {
		return path
	}
	return candidate
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
