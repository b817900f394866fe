package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/envsense/envsense/internal/conf"
	"github.com/envsense/envsense/internal/logger"
)

// runtime carries what every subcommand needs once the root has loaded
// settings.
type runtime struct {
	configPath string
	logLevel   string

	settings *conf.Settings
	log      logger.Logger
	closer   io.Closer
}

// NewRootCmd builds the envsense command tree.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}

	cmd := &cobra.Command{
		Use:           "envsense",
		Short:         "Environmental sensor ingestion and alerting service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.closer != nil {
				return rt.closer.Close()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&rt.configPath, "config", "", "config file (default ./config.yaml or /etc/envsense/config.yaml)")
	flags.StringVar(&rt.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(rt),
		newMigrateCmd(rt),
		newCleanupCmd(rt),
		newUserCmd(rt),
		newDeviceCmd(rt),
	)
	return cmd
}

func (rt *runtime) load() error {
	settings, err := conf.Load(rt.configPath)
	if err != nil {
		return err
	}
	if rt.logLevel != "" {
		settings.Log.Level = rt.logLevel
	}

	log, closer, err := logger.New(logger.Config{
		Level:    settings.Log.Level,
		Format:   settings.Log.Format,
		Timezone: settings.Main.Timezone,
		File: logger.FileConfig{
			Enabled:    settings.Log.File != "",
			Path:       settings.Log.File,
			MaxSizeMB:  settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			MaxAgeDays: settings.Log.MaxAgeDays,
			Compress:   settings.Log.Compress,
		},
	})
	if err != nil {
		return err
	}

	rt.settings = settings
	rt.log = log.With(logger.String("service", settings.Main.Name))
	rt.closer = closer
	return nil
}
