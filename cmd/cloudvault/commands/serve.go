package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault/internal/config"
	"github.com/cloudvault/cloudvault/internal/discovery"
	"github.com/cloudvault/cloudvault/internal/logging"
	"github.com/cloudvault/cloudvault/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CloudVault server",
	Long: `Start the CloudVault server with the specified configuration.

Examples:
  # Start with the default config location
  cloudvault serve

  # Start with a custom config file
  cloudvault serve --config /etc/cloudvault/cloudvault.yaml

  # Override settings via environment variables
  CLOUDVAULT_PORT=9100 cloudvault serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	// -v overrides the configured level.
	if verbosity > 0 {
		logging.SetLevel(verbosity)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := server.ServeMetrics(ctx, cfg.MetricsAddr); err != nil {
				logging.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	if cfg.Discovery {
		adv, err := discovery.Advertise(cfg.InstanceName, Version, cfg.Port)
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Close()
		}
	}

	return srv.ListenAndServe(ctx)
}
