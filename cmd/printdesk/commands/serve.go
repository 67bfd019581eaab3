package commands

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/app"
)

// GetServeCmd returns the serve command
func GetServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduler and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				a.Stop()
				return err
			}

			err = a.Serve(ctx)
			logger.Info("shutting down")
			a.Stop()
			if err != nil {
				logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
