package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/host"
	"github.com/teranos/cadence/server"
	"github.com/teranos/cadence/sym"
)

// RunCmd runs a scheduler node in the foreground
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Pulse + " Run a scheduler node",
	Long: sym.Pulse + ` Run a scheduler node in the foreground.

The node will:
- Register every configured job (invalid definitions are logged and skipped)
- Fire due triggers, at most once per tick across the cluster
- Serve /healthz, /status and /metrics when server.addr is set
- Register jobs added to the config file while running
- Stop on SIGINT/SIGTERM, letting running jobs finish within the shutdown grace`,
	Args: cobra.NoArgs,
	RunE: runNode,
}

var noWatch bool

func init() {
	RunCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the config file for new jobs")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	out := cmd.OutOrStdout()
	log := logger.Logger.Named("cadence")

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := host.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Warnw("Failed to close host", "error", err)
		}
	}()

	fmt.Fprintf(out, "%s Starting cadence node %s\n", sym.PulseOpen, h.HolderID())
	if err := h.Start(ctx); err != nil {
		return err
	}
	for _, jobType := range h.FailedJobTypes() {
		fmt.Fprintf(out, "  %s %s not registered: %v\n", sym.Failed, jobType, h.RegistrationErrors()[jobType])
	}

	var srv *server.Server
	if cfg.Server.Addr != "" {
		srv = server.New(cfg.Server.Addr, h, cfg.Server.Metrics, log.Named("http"))
		if err := srv.Start(); err != nil {
			_ = h.Stop(context.Background())
			return err
		}
		fmt.Fprintf(out, "  Listening on %s\n", cfg.Server.Addr)
	}

	if path := activeConfigFile(); path != "" && !noWatch {
		if err := h.WatchConfig(path); err != nil {
			log.Warnw("Config watch disabled", "path", path, "error", err)
		}
	}

	fmt.Fprintf(out, "  Namespace: %s\n", cfg.Scheduler.Namespace)
	fmt.Fprintf(out, "  Jobs: %d registered\n", len(h.Registry().Definitions()))
	fmt.Fprintf(out, "  Tick interval: %v\n", cfg.Scheduler.TickInterval)
	fmt.Fprintf(out, "  Workers: %d\n", cfg.Scheduler.Workers)
	fmt.Fprintf(out, "\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	<-ctx.Done()
	fmt.Fprintf(out, "\n%s Shutting down...\n", sym.PulseClose)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownGrace+server.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if srv != nil {
		shutdownErr = srv.Shutdown(stopCtx)
	}
	shutdownErr = errors.CombineErrors(shutdownErr, h.Stop(stopCtx))

	fmt.Fprintf(out, "%s Node stopped\n", sym.PulseClose)
	return shutdownErr
}
