package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pagesplit/pagesplit/internal/config"
	"github.com/pagesplit/pagesplit/internal/logging"
)

var (
	v      = config.New()
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pagesplit",
	Short: "pagesplit - self-hosted A/B testing for pages",
	Long: `pagesplit runs two-arm A/B tests on content pages.
Single Go binary, embedded SQLite.

Settings come from flags, PAGESPLIT_* environment variables or an
optional pagesplit.yaml in . or ./config.

Running without a subcommand starts the server (same as 'pagesplit serve').`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe, // Default action is to start server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("db", "./pagesplit.db", "database path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human readable logs instead of JSON")
	flags.String("upsert-mode", "atomic", "hourly stat increment strategy (atomic or fallback)")

	bindFlag(v, "db", flags.Lookup("db"))
	bindFlag(v, "log_level", flags.Lookup("log-level"))
	bindFlag(v, "log_pretty", flags.Lookup("log-pretty"))
	bindFlag(v, "upsert_mode", flags.Lookup("upsert-mode"))
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = logging.New(cfg.LogLevel, cfg.LogPretty)
	return nil
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	// BindPFlag only fails on a nil flag.
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
