package command

// root.go defines the root command for the syncCLI application.
// Global flags and configuration live here.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"possync/internal/config"
	"possync/internal/logging"
)

var (
	cfg       *config.Config // loaded once in PersistentPreRunE
	adminAddr string         // global flag for the admin API address
	logLevel  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "syncCLI",
	Short: "syncCLI - position sync client",
	Long: `syncCLI talks to a position sync server. It can:
- Join as a UDP client and print every position update
- List the server's live sessions through the admin API
- Follow broadcast ticks mirrored to Redis

Settings come from .env / environment variables; flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		cfg = loaded
		if !cmd.Flags().Changed("admin") {
			adminAddr = cfg.AdminAddr
		}
		if !cmd.Flags().Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", "127.0.0.1:8085", "admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(watchCmd)
}

// newLogger builds the CLI logger; the CLI always logs to stderr so stdout stays clean.
func newLogger() (*zap.Logger, error) {
	return logging.New(logging.Options{Level: logLevel, Format: cfg.LogFormat})
}
