package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/isometry/dirsync/internal/config"
	"github.com/isometry/dirsync/internal/identity"
	"github.com/isometry/dirsync/internal/logging"
)

// passwordEnv supplies the user password to commands that accept one,
// so it never has to appear in shell history.
const passwordEnv = "DIRSYNC_PASSWORD"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dirsync",
		Short:         "Directory-backed identity and authorization synchronization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "dirsync.yaml", "configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newResolveCmd(opts),
		newAttrsCmd(opts),
		newGroupsCmd(opts),
		newDeltaCmd(opts),
		newSyncCmd(opts),
		newEncryptCmd(),
		newVersionCmd(),
	)

	return cmd
}

func (o *rootOptions) logger() logging.Logger {
	return logging.New(logging.Options{
		Level:  o.logLevel,
		Format: o.logFormat,
		Output: os.Stderr,
	})
}

func (o *rootOptions) store() (*config.FileStore, error) {
	v := viper.New()
	v.SetConfigFile(o.configPath)
	v.SetEnvPrefix("DIRSYNC")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", o.configPath, err)
	}
	return config.FromViper(v)
}

func (o *rootOptions) resolver() (*identity.Resolver, *config.FileStore, error) {
	store, err := o.store()
	if err != nil {
		return nil, nil, err
	}
	return identity.NewResolver(store, identity.WithLogger(o.logger())), store, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func passwordFrom(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(passwordEnv)
}
