package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/storage/db"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
)

// dbMigrateCmd 建表，serve 启动时也会执行同样的迁移.
var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or update metadata tables and the similarity index table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := configs.GetConfig()
		ctx := cmd.Context()

		client, err := db.New(ctx, cfg.DB, false)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := store.Migrate(ctx, client.DB); err != nil {
			return err
		}

		idx, err := vectorindex.New(ctx, cfg.Index, client.DB)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s (index: %s)\n", client.Dialect(), idx.Name())

		return nil
	},
}
