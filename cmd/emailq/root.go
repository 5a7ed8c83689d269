package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/djshoppre/emailq/internal/config"
	"github.com/djshoppre/emailq/internal/logging"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	flush      func()
}

func newRootCmd() *cobra.Command {
	a := &app{flush: func() {}}

	root := &cobra.Command{
		Use:   "emailq",
		Short: "SES-compatible email submission API",
		Long: `emailq accepts SendEmail, SendTemplatedEmail, SendBulkTemplatedEmail
and SendRawEmail requests in the SES Query API format and delivers them
through a configurable transport.

Example:
  emailq                          # serve on :8080
  emailq serve -c emailq.yaml     # serve with a config file
  emailq migrate                  # create the template tables
  emailq template list`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		PersistentPostRun: func(*cobra.Command, []string) { a.flush() },
		RunE:              a.runServe,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML configuration file (optional)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API (default)",
			Args:  cobra.NoArgs,
			RunE:  a.runServe,
		},
		newMigrateCmd(a),
		newTemplateCmd(a),
	)
	return root
}

// init loads configuration and installs the logger.
func (a *app) init(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.flush = logging.Setup(os.Stdout, logging.Config{
		Level:             cfg.Logging.Level,
		Format:            cfg.Logging.Format,
		SentryDSN:         cfg.Sentry.DSN,
		SentryEnvironment: cfg.Sentry.Environment,
	})
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
