package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/screenary/config"
	"github.com/cyberinferno/screenary/logger"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "screenary",
		Short: "Real-time screen sharing sessions over a multiplexed TCP connection",
		Long: `Screenary shares a screen with the participants of a session.

Run "screenary serve" to start a session server, "screenary create" to open a
session as its owner, and "screenary join" to take part in one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(flags),
		createCmd(flags),
		joinCmd(flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("screenary %s (%s)\n", version, commit)
		},
	}
}

// load reads the config file named by --config, or the defaults, and
// applies --log-level.
func (f *globalFlags) load() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}

	if f.logLevel != "" {
		level, ok := logger.ParseLevel(f.logLevel)
		if !ok {
			return config.Config{}, fmt.Errorf("unknown log level %q", f.logLevel)
		}
		cfg.Log.Level = level
	}

	return cfg, nil
}

func newLogger(cfg config.Config, service string) (logger.Logger, error) {
	if cfg.Log.Dir != "" {
		return logger.NewZerologFileLogger(service, cfg.Log.Dir, cfg.Log.Level)
	}

	return logger.NewConsoleLogger(service, cfg.Log.Level), nil
}
