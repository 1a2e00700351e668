// Command azslurmd is the elastic-fleet control-plane daemon: a CLI
// surface for the scheduler's resume/suspend/resume-fail hooks plus a
// long-running reconciler daemon. One cobra root command, flat
// subcommand var blocks per file, and shared construction helpers for
// the clients every subcommand needs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyclecloud/azslurmd/pkg/clock"
	"github.com/cyclecloud/azslurmd/pkg/command"
	"github.com/cyclecloud/azslurmd/pkg/config"
	"github.com/cyclecloud/azslurmd/pkg/events"
	"github.com/cyclecloud/azslurmd/pkg/httpx"
	"github.com/cyclecloud/azslurmd/pkg/keepalive"
	"github.com/cyclecloud/azslurmd/pkg/log"
	"github.com/cyclecloud/azslurmd/pkg/metrics"
	"github.com/cyclecloud/azslurmd/pkg/pidlock"
	"github.com/cyclecloud/azslurmd/pkg/provider"
	"github.com/cyclecloud/azslurmd/pkg/reconciler"
	"github.com/cyclecloud/azslurmd/pkg/scheduler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// errInterrupted is returned by RunE implementations that stopped
// because of SIGINT, so main can map it to exit code 130 instead of
// the generic 1 every other core error uses.
var errInterrupted = fmt.Errorf("interrupted")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if err == errInterrupted {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "azslurmd",
	Short: "azslurmd - elastic fleet control plane for a batch scheduler",
	Long: `azslurmd keeps a batch scheduler's node table in sync with an
elastic cloud fleet: it answers the scheduler's resume/suspend hooks,
reconciles node state against the provider on a timer, and serializes
the scheduler's keep-alive list across reconfigures.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"azslurmd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "/opt/azslurm/azslurmd.json", "Path to the azslurmd JSON config file")

	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(resumeFailCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(daemonCmd)
}

// clients bundles every shared dependency a subcommand needs, built
// once from the config file each invocation loads.
type clients struct {
	cfg       *config.Config
	runner    *command.ExecRunner
	scheduler *scheduler.Adapter
	provider  *provider.Client
}

func buildClients(cfg *config.Config) *clients {
	runner := command.NewExecRunner()
	if cfg.AzureSlurmChaosMode {
		runner.Chaos = command.ChaosProbability(cfg.ChaosModeFailureChance)
	}
	// pkg/scheduler.New reads MAX_NODES_IN_LIST from the environment at
	// construction; config.max_nodes_in_list overrides it by exporting
	// the same variable before building the Adapter.
	os.Setenv("AZSLURM_MAX_NODES_IN_LIST", strconv.Itoa(cfg.MaxNodesInList))
	transport := httpx.New(cfg.WebServer, cfg.Username, cfg.Password)
	return &clients{
		cfg:       cfg,
		runner:    runner,
		scheduler: scheduler.New(runner),
		provider:  provider.New(transport),
	}
}

func loadClients(cmd *cobra.Command) (*clients, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	return buildClients(cfg), nil
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the reconciler loop in the foreground",
	Long: `daemon acquires the PID lock, opens the keep-alive store, and
runs one reconciliation pass per reconcile_interval_seconds until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClients(cmd)
		if err != nil {
			return err
		}

		lock, err := pidlock.Acquire(c.cfg.PIDLockPath)
		if err != nil {
			return err
		}
		defer lock.Release()

		store, err := keepalive.OpenStore(c.cfg.KeepAliveDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		refresher := keepalive.NewRefresher(c.scheduler, store, keepAliveFilePath(c.cfg))
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		rec := reconciler.New(c.provider, c.scheduler, refresher, broker, clock.New())

		metrics.SetVersion(Version)
		metrics.RegisterComponent("scheduler", false, "initializing")
		metrics.RegisterComponent("provider", false, "initializing")
		metrics.RegisterComponent("reconciler", false, "initializing")

		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(c.cfg.MetricsAddr, nil); err != nil {
				log.Error(fmt.Sprintf("metrics server stopped: %v", err))
			}
		}()

		ctx, cancel := context.WithCancel(cmd.Context())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		interruptedCh := make(chan bool, 1)
		go func() {
			sig := <-sigCh
			interruptedCh <- sig == os.Interrupt
			log.Info("received shutdown signal, stopping reconciler")
			cancel()
		}()

		if c.scheduler.Ping(ctx) {
			metrics.RegisterComponent("scheduler", true, "ready")
		} else {
			metrics.RegisterComponent("scheduler", false, "scontrol unreachable")
		}
		if _, err := c.provider.ListNodes(ctx); err != nil {
			metrics.RegisterComponent("provider", false, err.Error())
		} else {
			metrics.RegisterComponent("provider", true, "ready")
		}
		metrics.RegisterComponent("reconciler", true, "running")

		log.Info(fmt.Sprintf("azslurmd daemon starting, reconciling every %s", c.cfg.ReconcileInterval()))
		rec.Run(ctx, c.cfg.ReconcileInterval())

		select {
		case interrupted := <-interruptedCh:
			if interrupted {
				return errInterrupted
			}
		default:
		}
		return nil
	},
}

// keepAliveFilePath derives the managed SuspendExcNodes snapshot path
// from the keep-alive database's directory, matching the convention
// that both persisted files live alongside each other under the same
// spool directory.
func keepAliveFilePath(cfg *config.Config) string {
	return cfg.KeepAliveDBPath + ".suspend_exc_nodes"
}
