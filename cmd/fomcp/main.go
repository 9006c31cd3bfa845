package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/auth"
	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/core"
	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/profile"
	"github.com/dynamicsmcp/fomcp/internal/telemetry"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

var (
	profileFlag string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	registry *profile.Registry

	coreOnce sync.Once
	coreInst *core.Core
	coreErr  error

	// progressHandler is swapped in by commands that follow a sync live.
	progressHandler atomic.Value // func(types.SyncProgress)
)

var rootCmd = &cobra.Command{
	Use:   "fomcp",
	Short: "Dynamics 365 F&O metadata cache and MCP server",
	Long: `fomcp maintains a local, version-aware cache of D365 Finance &
Operations metadata (entities, schemas, enumerations, actions, labels)
and serves it to tools over the Model Context Protocol.

Environments with identical module fingerprints share one metadata set;
syncing a second sandbox of the same build costs no metadata requests.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		if err := telemetry.Init(rootCtx, "fomcp", Version); err != nil {
			debug.Logf("telemetry init: %v", err)
		}
		var err error
		registry, err = profile.Load("")
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (default: FOMCP_PROFILE env, then the registry default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")

	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(enumCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	closeCore()
	if err != nil {
		fail(err)
	}
}

// activeConfig resolves the effective environment config: the selected
// profile layered with FOMCP_* env overrides, or a pure-env config when
// no profile exists but FOMCP_BASE_URL is set.
func activeConfig() (*config.Config, error) {
	name := registry.ResolveName(profileFlag)
	cfg, err := registry.Get(name)
	if err != nil {
		envCfg := config.DefaultConfig()
		envCfg.ApplyEnvOverrides()
		if envCfg.BaseURL != "" {
			envCfg.Normalize()
			return envCfg, nil
		}
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	return cfg, nil
}

// openCore lazily builds the Core for the active profile. Commands that
// never touch an environment (profile management, version) skip this.
func openCore(ctx context.Context) (*core.Core, error) {
	coreOnce.Do(func() {
		cfg, err := activeConfig()
		if err != nil {
			coreErr = err
			return
		}
		client, err := buildClient(cfg)
		if err != nil {
			coreErr = err
			return
		}
		settings, err := config.LoadSettings("")
		if err != nil {
			coreErr = err
			return
		}
		coreInst, coreErr = core.New(ctx, cfg, core.Options{
			Client:          client,
			Progress:        progressSink(),
			SyncConcurrency: settings.Workers,
		})
	})
	return coreInst, coreErr
}

func closeCore() {
	if coreInst != nil {
		if err := coreInst.Close(); err != nil {
			debug.Logf("close core: %v", err)
		}
	}
}

func buildClient(cfg *config.Config) (odata.Client, error) {
	tokens, err := auth.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	client := odata.NewHTTPClient(cfg.BaseURL, tokens, odata.Options{
		TimeoutSeconds:     cfg.TimeoutSeconds,
		InsecureSkipVerify: !cfg.VerifySSL,
	})
	return telemetry.WrapClient(client), nil
}

// progressSink fans sync progress into telemetry and whatever handler the
// current command installed.
func progressSink() func(types.SyncProgress) {
	return telemetry.ObserveSync(func(p types.SyncProgress) {
		if h, ok := progressHandler.Load().(func(types.SyncProgress)); ok && h != nil {
			h(p)
		}
	})
}

func setProgressHandler(h func(types.SyncProgress)) {
	progressHandler.Store(h)
}
