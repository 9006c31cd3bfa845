package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/core"
	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/lockfile"
	"github.com/dynamicsmcp/fomcp/internal/mcp"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Run the MCP server over stdio or HTTP.

stdio is the transport MCP clients spawn the binary with; HTTP adds
health endpoints, an SSE stream of sync progress, and optional bearer
token auth.

Examples:
  fomcp serve
  fomcp serve --transport http --addr :7824 --token sekrit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		token, _ := cmd.Flags().GetString("token")

		if !cmd.Flags().Changed("addr") {
			settings, err := config.LoadSettings("")
			if err != nil {
				return err
			}
			addr = settings.Addr()
		}

		cfg, err := activeConfig()
		if err != nil {
			return err
		}
		lock, err := acquireServeLock(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if rerr := lock.Release(); rerr != nil {
				debug.Logf("mcp: release serve lock: %v", rerr)
			}
		}()

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}

		mcp.ServerVersion = Version
		server := mcp.NewServer(c, registry)
		setProgressHandler(server.PublishProgress)
		defer setProgressHandler((func(types.SyncProgress))(nil))

		switch transport {
		case "stdio":
			// stdout carries the protocol; anything human goes to stderr.
			debug.Logf("mcp: serving stdio")
			return mcp.ServeStdio(rootCtx, server, os.Stdin, os.Stdout)

		case "http":
			go func() {
				if err := registry.Watch(rootCtx, nil); err != nil {
					debug.Logf("mcp: profile watch: %v", err)
				}
			}()
			h := mcp.NewHTTPServer(server, addr, token)
			if !quietFlag {
				fmt.Fprintf(os.Stderr, "fomcp %s serving MCP on %s\n", Version, addr)
			}
			return h.Start(rootCtx)

		default:
			return fmt.Errorf("invalid --transport %q (want stdio or http)", transport)
		}
	},
}

// acquireServeLock enforces one server per cache directory. The flock is
// released by the kernel when the holder dies, so a leftover lock file from
// a crashed server is taken over automatically; a live holder is reported
// with its pid.
func acquireServeLock(cfg *config.Config) (*lockfile.Lock, error) {
	lock, err := lockfile.Acquire(cfg.CacheDir, &lockfile.LockInfo{
		ParentPID: os.Getppid(),
		Database:  filepath.Join(cfg.CacheDir, core.DatabaseFile),
		Version:   Version,
	})
	if err == nil {
		return lock, nil
	}
	if !errors.Is(err, lockfile.ErrLockBusy) {
		return nil, err
	}
	if info, rerr := lockfile.ReadLockInfo(cfg.CacheDir); rerr == nil && !info.IsStale() {
		return nil, fmt.Errorf("another fomcp server (pid %d, started %s) is already serving %s",
			info.PID, info.StartedAt.Format(time.RFC3339), cfg.CacheDir)
	}
	return nil, fmt.Errorf("cache directory %s is locked by another process", cfg.CacheDir)
}

func init() {
	serveCmd.Flags().String("transport", "stdio", "transport: stdio or http")
	serveCmd.Flags().String("addr", "", "listen address for --transport http (default from settings.yaml)")
	serveCmd.Flags().String("token", "", "bearer token required on HTTP requests (health endpoints exempt)")
}
