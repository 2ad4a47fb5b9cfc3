package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/storage/db"
	"github.com/yeisme/dedupvault/pkg/internal/storage/kv"
	"github.com/yeisme/dedupvault/pkg/internal/storage/mq"
)

// checkTimeout 单个后端连通性检查的超时.
const checkTimeout = 10 * time.Second

// prober 可做健康检查并释放的后端客户端.
type prober interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// newListCmd 输出某类后端已注册的驱动.
func newListCmd[T ~string](kind string, registered func() []T) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "list registered " + kind + " drivers",
		Aliases: []string{"ls", "l"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Registered %s drivers:\n", kind)

			for _, t := range registered() {
				fmt.Fprintln(out, "   - "+string(t))
			}
		},
	}
}

// newCheckCmd 按当前配置连接后端并执行一次健康检查.
func newCheckCmd(kind string, open func(ctx context.Context, cfg *configs.AppConfig) (prober, string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "connect to the configured " + kind + " backend and run a health check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()

			client, driver, err := open(ctx, configs.GetConfig())
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			defer client.Close()

			start := time.Now()
			if err := client.HealthCheck(ctx); err != nil {
				return fmt.Errorf("%s (%s) unhealthy: %w", kind, driver, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) ok in %s\n", kind, driver, time.Since(start).Round(time.Millisecond))

			return nil
		},
	}
}

// newBackendCmd 组装 list 与 check 子命令.
func newBackendCmd(use, short string, extra ...*cobra.Command) *cobra.Command {
	c := &cobra.Command{Use: use, Short: short}
	c.AddCommand(extra...)

	return c
}

func openDB(ctx context.Context, cfg *configs.AppConfig) (prober, string, error) {
	client, err := db.New(ctx, cfg.DB, false)
	if err != nil {
		return nil, "", err
	}

	return client, client.Dialect(), nil
}

func openKV(ctx context.Context, cfg *configs.AppConfig) (prober, string, error) {
	client, err := kv.NewKVClient(ctx, cfg.KV)
	if err != nil {
		return nil, "", err
	}

	return client, cfg.KV.Type, nil
}

func openMQ(ctx context.Context, cfg *configs.AppConfig) (prober, string, error) {
	client, err := mq.New(ctx, cfg.MQ, nil)
	if err != nil {
		return nil, "", err
	}

	return client, string(client.Type()), nil
}

// registerBackendCommands 注册 db、kv、mq 命令.
func registerBackendCommands() {
	rootCmd.AddCommand(
		newBackendCmd("db", "Metadata database commands",
			newListCmd("database", db.GetRegisteredDBTypes),
			newCheckCmd("database", openDB),
			dbMigrateCmd,
		),
		newBackendCmd("kv", "Upload session store commands",
			newListCmd("kv", kv.GetRegisteredKVTypes),
			newCheckCmd("kv", openKV),
		),
		newBackendCmd("mq", "Job event bus commands",
			newListCmd("mq", mq.GetRegisteredMQTypes),
			newCheckCmd("mq", openMQ),
		),
	)
}
