package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/pipelab/internal/config"
)

type rootOptions struct {
	cfgFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "pipelab",
		Short:         "Interactive tabular ML pipeline service",
		Long:          "pipelab loads a CSV or Excel dataset, preprocesses it, splits it and trains a classifier, one HTTP call per stage.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./pipelab.yaml or ~/.pipelab/pipelab.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts), newConfigCmd(opts), newVersionCmd())
	return cmd
}

// load resolves the configuration and applies global flag overrides.
func (o *rootOptions) load() (*config.Config, error) {
	c, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		c.Log.Level = o.logLevel
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return c, nil
}
