package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/doxa-graph/doxa/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Doxa HTTP server",
	Long: `Start the HTTP server exposing the graph builders:

  GET  /health        liveness check
  POST /graph         non-streaming market graph build
  POST /graph/stream  claim graph build with SSE progress events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr := viper.GetString("server.addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		logger, err := newLogger()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		deps, err := buildDeps(cfg)
		if err != nil {
			return err
		}

		return server.New(cfg, deps, logger).Run()
	},
}

// newLogger creates a production logger, or a development one in
// verbose mode.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	rootCmd.AddCommand(serveCmd)
}
