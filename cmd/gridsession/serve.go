package main

import (
	"context"

	"github.com/aretw0/gridsession/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session server",
	Long: `Starts an HTTP server whose requests carry sessions stored in the configured
store, with the admin API under http.admin_prefix and Prometheus metrics under
http.metrics_path. Expired sessions are swept while the server runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Address = addr
		}

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		app, err := cli.Connect(sigCtx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Serve(sigCtx); err != nil {
			return err
		}
		if sig := sigCtx.Signal(); sig != nil {
			logger.Info("gridsession server stopped", "signal", sig.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides http.address)")
}
