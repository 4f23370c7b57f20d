package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background queue worker",
	Long:  "Claims queued initiation jobs and submits them to the provider, rate-limited and with durable retry. Stops cleanly on SIGINT/SIGTERM.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		err = env.Worker.Run(ctx)
		zap.L().Info("worker stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
