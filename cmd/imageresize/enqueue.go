package main

import (
	"fmt"

	"github.com/leeforge/imageresize/media/source"
	"github.com/leeforge/imageresize/redis_client"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <category>/originals/<filename>...",
		Short: "Push upload notifications onto the Redis stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			client, err := redis_client.NewRedis(cmd.Context(), cfg.Redis.Config, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			for _, path := range args {
				id, err := source.Enqueue(cmd.Context(), client, cfg.Redis.Stream, path)
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, path)
			}
			return nil
		},
	}
}
