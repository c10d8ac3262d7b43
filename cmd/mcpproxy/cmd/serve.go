package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpproxy/mcpproxy/internal/config"
	"github.com/mcpproxy/mcpproxy/internal/downstream"
	"github.com/mcpproxy/mcpproxy/internal/registry"
	"github.com/mcpproxy/mcpproxy/internal/router"
	"github.com/mcpproxy/mcpproxy/internal/upstream"
)

// ServeConfig holds serve command configuration, folded over the loaded
// AppConfig as CLI overrides (spec.md §6).
type ServeConfig struct {
	Host   string
	Port   int
	Config string
	NoCORS bool
}

func newServeCmd() *cobra.Command {
	cfg := &ServeConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aggregating proxy",
		Long: `Start mcpproxy: connect to every configured upstream MCP server, fuse their
tools, resources, and prompts into one prefixed namespace, and serve the union
over Streamable HTTP.

Examples:
  mcpproxy serve --config=mcpproxy.json
  mcpproxy serve --port=3000 --no-cors`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Host, "host", "", "Host to bind the downstream HTTP listener")
	cmd.Flags().IntVarP(&cfg.Port, "port", "p", 0, "Port for the downstream HTTP listener")
	cmd.Flags().StringVarP(&cfg.Config, "config", "c", "", "Path to config file")
	cmd.Flags().BoolVar(&cfg.NoCORS, "no-cors", false, "Disable permissive CORS headers on the downstream listener")

	applyServeEnvDefaults(cmd, cfg)

	return cmd
}

func applyServeEnvDefaults(cmd *cobra.Command, cfg *ServeConfig) {
	if !cmd.Flags().Changed("host") {
		if v := os.Getenv("MCPPROXY_SERVER_HOST"); v != "" {
			_ = cmd.Flags().Set("host", v)
			cfg.Host = v
		}
	}
	if !cmd.Flags().Changed("port") {
		if v := os.Getenv("MCPPROXY_SERVER_PORT"); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				_ = cmd.Flags().Set("port", v)
				cfg.Port = port
			}
		}
	}
	if !cmd.Flags().Changed("config") {
		if v := os.Getenv("MCPPROXY_CONFIG"); v != "" {
			_ = cmd.Flags().Set("config", v)
			cfg.Config = v
		}
	}
}

// loadServeConfig loads the AppConfig, layering the serve command's CLI
// flags over it as the highest-precedence overrides.
func loadServeConfig(configPath string, cli *ServeConfig) (config.AppConfig, error) {
	overrides := map[string]any{}
	if cli.Host != "" {
		overrides["server.host"] = cli.Host
	}
	if cli.Port != 0 {
		overrides["server.port"] = cli.Port
	}
	if cli.NoCORS {
		overrides["server.no_cors"] = true
	}
	return config.LoadWithOverrides(configPath, overrides)
}

func runServe(ctx context.Context, cfg *ServeConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	appCfg, err := loadServeConfig(cfg.Config, cfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.New()
	mgr := upstream.NewManager(reg, appCfg.Request, appCfg.Reconnect)
	mgr.InitializeConnections(ctx, appCfg.Upstreams)
	defer mgr.Shutdown()

	rtr := router.New(reg, mgr)
	downstreamSrv := downstream.NewServer(downstream.Config{
		Host:          appCfg.Server.Host,
		Port:          appCfg.Server.Port,
		NoCORS:        appCfg.Server.NoCORS,
		SessionTTL:    appCfg.Session.Timeout,
		SweepInterval: appCfg.Session.SweepInterval,
	}, reg, rtr, mgr)

	slog.Info("mcpproxy starting",
		"upstreams", len(appCfg.Upstreams),
		"addr", fmt.Sprintf("%s:%d", appCfg.Server.Host, appCfg.Server.Port))

	if err := downstreamSrv.Serve(ctx); err != nil {
		return fmt.Errorf("downstream server: %w", err)
	}
	slog.Info("mcpproxy stopped")
	return nil
}
