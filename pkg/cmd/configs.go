package cmd

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/yeisme/dedupvault/pkg/configs"
)

var (
	// showViper 额外输出 viper 的内部状态.
	showViper bool
	// showSecrets 不隐藏密码与密钥.
	showSecrets bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "inspect the loaded configuration",
	}

	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "print the config file in use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			file := configs.GetViper().ConfigFileUsed()
			if file == "" {
				file = "(defaults and DEDUPVAULT_* environment only)"
			}

			fmt.Fprintln(cmd.OutOrStdout(), file)
		},
	}

	configShowCmd = &cobra.Command{
		Use:     "show",
		Short:   "print the effective configuration as JSON",
		Aliases: []string{"debug"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showViper {
				configs.GetViper().Debug()
			}

			cfg := *configs.GetConfig()
			if !showSecrets {
				cfg = cfg.Redacted()
			}

			b, err := sonic.ConfigStd.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			return nil
		},
	}

	// 加载本身已经执行了校验，走到这里说明配置合法.
	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "load and validate the configuration, then exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := configs.GetConfig()

			fmt.Fprintf(cmd.OutOrStdout(), "config ok: db=%s kv=%s mq=%s queue=%s index=%s\n",
				cfg.DB.Type, cfg.KV.Type, cfg.MQ.Type, cfg.Queue.Type, cfg.Index.Type)
		},
	}
)

func registerConfigsCommands() {
	configShowCmd.Flags().BoolVar(&showViper, "viper", false, "also dump viper internals")
	configShowCmd.Flags().BoolVar(&showSecrets, "secrets", false, "print passwords and API keys in clear text")

	configCmd.AddCommand(configPathCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
