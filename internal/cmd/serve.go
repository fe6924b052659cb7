package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/runveil/codeq/internal/config"
	"github.com/runveil/codeq/internal/observability"
	httpserver "github.com/runveil/codeq/internal/server"
	"github.com/runveil/codeq/internal/server/handlers"
	"github.com/runveil/codeq/pkg/gate"
	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/server"
	"github.com/runveil/codeq/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the owner-side queue server",
	Long: `Run the queue server for this datasite identity.

The server polls the store for jobs addressed to this identity, applies
the approval gate, and executes approved jobs under the configured
policy. An HTTP API on the configured port exposes job review, health,
and version endpoints.

Examples:
  codeq serve
  codeq serve --port 9000
  codeq serve --auto-approve-from alice@example.com`,
	RunE: runServe,
}

var (
	serveHost            string
	servePort            int
	serveAutoApproveFrom []string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().StringSliceVar(&serveAutoApproveFrom, "auto-approve-from", nil,
		"Requester identity whose jobs are approved without review (repeatable)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := ensureWritable("run the queue server"); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if cfg.Identity == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing identity",
			fmt.Errorf("set identity in config, %s_IDENTITY, or --identity", config.EnvPrefix))
	}

	log, err := observability.NewLogger(observability.LogConfig{
		Level:   cfg.Logging.Level,
		Profile: cfg.Logging.Profile,
		File:    cfg.Logging.File,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := buildStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	var g gate.Gate
	if len(serveAutoApproveFrom) > 0 {
		trusted := make(map[string]struct{}, len(serveAutoApproveFrom))
		for _, id := range serveAutoApproveFrom {
			trusted[id] = struct{}{}
		}
		g = autoApproveGate{trusted: trusted}
	}

	engine, err := server.New(server.Config{
		Store:    st,
		Gate:     g,
		Queue:    cfg.QueueSettings(),
		Identity: cfg.Identity,
		DataRoot: cfg.ResolveDataRoot(),
		Logger:   log,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid server configuration", err)
	}

	handlers.SetVersionInfo(config.AppName, versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	if cfg.Health.Enabled {
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal", signalHealthChecker{})
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: config.AppName,
			envPrefix:  config.EnvPrefix,
			configName: config.AppName,
		})
		hm.RegisterChecker("store", storeHealthChecker{store: st})
	}

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	adminCh := make(chan string, 1)
	httpSrv := httpserver.New(cfg.Server.Host, cfg.Server.Port).
		WithLogger(log).
		WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout).
		MountJobs(handlers.NewJobsHandler(engine, nil)).
		WithSignal(func(sig string) error {
			switch sig {
			case "shutdown", "stop", "kill":
				select {
				case adminCh <- sig:
				default:
				}
				return nil
			default:
				return fmt.Errorf("unknown signal %q", sig)
			}
		})

	if err := engine.Start(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to start scheduler", err)
	}

	log.Info("server started",
		zap.String("identity", cfg.Identity),
		zap.String("addr", httpSrv.Addr()),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("data_root", cfg.ResolveDataRoot()),
		zap.String("queue", cfg.Queue.Name),
		zap.Int("max_concurrent_jobs", cfg.QueueSettings().MaxConcurrentJobs))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve()
	}()

	abort := false
	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case sig := <-adminCh:
		log.Info("admin signal received", zap.String("signal", sig))
		abort = sig == "kill"
	case err := <-errCh:
		if err != nil {
			engine.Kill()
			return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
	}

	sdCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sdCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}

	if abort {
		log.Info("aborting running jobs")
		engine.Kill()
	} else {
		drainDone := make(chan struct{})
		go func() {
			engine.Stop()
			close(drainDone)
		}()
		select {
		case <-drainDone:
		case <-time.After(drainGrace(cfg)):
			log.Warn("drain timeout exceeded, aborting running jobs")
			engine.Kill()
			<-drainDone
		}
	}

	log.Info("server stopped")
	return nil
}

// drainGrace bounds how long Stop may wait for running jobs: the job
// timeout plus slack for finalization.
func drainGrace(cfg *config.Config) time.Duration {
	return cfg.QueueSettings().JobTimeout + 30*time.Second
}

// autoApproveGate approves jobs from trusted requesters and abstains on
// everyone else, leaving them pending for manual review.
type autoApproveGate struct {
	trusted map[string]struct{}
}

func (g autoApproveGate) Decide(_ context.Context, job queue.Job) (gate.Decision, bool) {
	if _, ok := g.trusted[job.RequesterIdentity]; ok {
		return gate.Decision{Approve: true}, true
	}
	return gate.Decision{}, false
}

// signalHealthChecker reports healthy while the process handles signals;
// it exists so the health payload names the signal subsystem.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(_ context.Context) error {
	return nil
}

// identityHealthChecker verifies the application identity resolved at
// startup.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(_ context.Context) error {
	if c.binaryName == "" {
		return fmt.Errorf("identity not initialized: missing binary name")
	}
	if c.envPrefix == "" {
		return fmt.Errorf("identity not initialized: missing env prefix")
	}
	if c.configName == "" {
		return fmt.Errorf("identity not initialized: missing config name")
	}
	return nil
}

// storeHealthChecker verifies the job record backend answers reads.
type storeHealthChecker struct {
	store store.Store
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("store not configured")
	}
	_, err := c.store.List(ctx, store.Filter{Limit: 1})
	return err
}

// buildEngine constructs the owner-side facade for one-shot commands. The
// scheduler inside is never started; approve and reject act directly on
// the store.
func buildEngine(cfg *config.Config, st store.Store) (*server.Server, error) {
	if cfg.Identity == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "Missing identity",
			fmt.Errorf("set identity in config, %s_IDENTITY, or --identity", config.EnvPrefix))
	}
	engine, err := server.New(server.Config{
		Store:    st,
		Queue:    cfg.QueueSettings(),
		Identity: cfg.Identity,
		DataRoot: cfg.ResolveDataRoot(),
		Logger:   observability.CLILogger,
	})
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid server configuration", err)
	}
	return engine, nil
}
