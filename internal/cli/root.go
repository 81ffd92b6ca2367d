package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"coinpulse/pkg/cfg"
)

var (
	configPath string
	appEnv     string
)

var rootCmd = &cobra.Command{
	Use:   "coinpulse",
	Short: "Resilient market-data gateway for crypto dashboards.",
	Long: `coinpulse sits between dashboard clients and the CoinGecko and
alternative.me APIs. It caches responses, spaces outbound calls to stay under
the upstream rate limit and degrades to stale or canned data instead of
failing, so a dashboard always has something to render.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", cfg.String("APP_CONFIG", "config.yaml"), "config file path or inline YAML")
	rootCmd.PersistentFlags().StringVar(&appEnv, "env", cfg.Env(), "runtime environment (dev or prod)")

	rootCmd.AddCommand(newServeCmd(), newFetchCmd())
}

// ResetFlags restores flag defaults between tests.
func ResetFlags() {
	configPath = cfg.String("APP_CONFIG", "config.yaml")
	appEnv = cfg.Env()
}
