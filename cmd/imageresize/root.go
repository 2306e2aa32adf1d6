package main

import (
	"strings"

	"github.com/leeforge/imageresize/config"
	"github.com/leeforge/imageresize/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configDir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "imageresize",
		Short: "Generate fixed-size variants of uploaded images",
		Long: strings.TrimSpace(`
Watches the originals/ folder of every image category and writes one resized
copy per configured size tag next to it, e.g. groupimages/100x100/photo.jpg.
`),
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configDir, "config-dir", "c", "", "directory holding config.yaml (default $CONFIG_PATH or ./config)")

	cmd.AddCommand(
		newRunCmd(opts),
		newProcessCmd(opts),
		newEnqueueCmd(opts),
		newSizesCmd(opts),
	)
	return cmd
}

// load reads the configuration and installs the global logger.
func (o *rootOptions) load() (*config.AppConfig, logging.Logger, error) {
	copts := config.DefaultConfigOptions()
	if o.configDir != "" {
		copts.BasePath = o.configDir
	}
	cfg, _, err := config.Load(copts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Init(cfg.Log), nil
}
