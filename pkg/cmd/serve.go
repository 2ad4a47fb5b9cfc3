package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yeisme/dedupvault/pkg/app"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API, optionally with in-process workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app.ModeServe)
		},
	}

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "run deduplication workers and cron jobs without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app.ModeWorker)
		},
	}
)

func run(ctx context.Context, mode app.Mode) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, mode)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}

// registerServeCommands 注册服务启动命令.
func registerServeCommands() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}
