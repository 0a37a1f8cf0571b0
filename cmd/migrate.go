package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sunbk201/rulesync/internal/model"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move a legacy flat rule list into a default group",
	RunE:  runMigrate,
}

var migrateDryRun bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Report what would change without writing")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadToolConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	snapshot, err := model.Load(ctx, st)
	if err != nil {
		return err
	}
	if !model.MigrateLegacy(snapshot) {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to migrate.")
		return nil
	}
	if migrateDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Would move %d legacy rules into group %q.\n", len(snapshot.Groups[0].Rules), snapshot.Groups[0].Name)
		return nil
	}

	if err := model.Save(ctx, st, snapshot); err != nil {
		return err
	}
	if err := st.Delete(ctx, model.KeyRules); err != nil {
		return fmt.Errorf("delete legacy rules: %w", err)
	}
	slog.Info("Migration saved", slog.Any("snapshot", snapshot))
	fmt.Fprintf(cmd.OutOrStdout(), "Moved %d legacy rules into group %q.\n", len(snapshot.Groups[0].Rules), snapshot.Groups[0].Name)
	return nil
}
