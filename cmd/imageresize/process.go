package main

import (
	"fmt"
	"os"

	"github.com/leeforge/imageresize/app"
	"github.com/spf13/cobra"
)

func newProcessCmd(root *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "process <category>/originals/<filename>...",
		Short: "Resize originals once and exit",
		Long: `Resize the named originals synchronously. Without --file the original is
read from the configured store; with --file the local file is used as the
body of the single named original.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
				return err
			}
			if file != "" && len(args) != 1 {
				return fmt.Errorf("--file takes exactly one original path, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			// one-shot: no background sources or ops server
			disabled := false
			cfg.Scan.Enabled = &disabled
			cfg.HTTP.Enabled = &disabled
			cfg.Watch.Enabled = false
			cfg.Redis.Enabled = false

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			var data []byte
			if file != "" {
				if data, err = os.ReadFile(file); err != nil {
					return err
				}
			}

			failed := 0
			for _, path := range args {
				if err := a.Process(cmd.Context(), path, data); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d originals failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "local file to use as the original body")
	return cmd
}
