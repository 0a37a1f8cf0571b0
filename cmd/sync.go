package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sunbk201/rulesync/internal/metrics"
	"github.com/sunbk201/rulesync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the engine with the stored rule model",
	Long:  "Synchronize the engine with the stored rule model. With --once a single pass runs and its status is printed; otherwise the command follows store changes until interrupted.",
	RunE:  runSync,
}

var syncOnce bool

func init() {
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "Run one pass and exit")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadToolConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}

	ctrl := syncer.NewController(syncer.Options{
		Store:  st,
		Engine: eng,
		State: syncer.NewState(syncer.StateOptions{
			NotifyTTL:  cfg.Notify.TTL,
			NotifySize: cfg.Notify.Size,
		}),
		Metrics:     metrics.New(nil),
		Limits:      limitsFromConfig(cfg),
		SettleDelay: cfg.Sync.SettleDelay,
	})

	if !syncOnce {
		slog.Info("Following store changes")
		return syncer.NewRunner(ctrl, st, cfg.Sync.ResyncSchedule).Run(ctx)
	}

	if err := ctrl.State().RefreshVariables(ctx, st); err != nil {
		return err
	}
	syncErr := ctrl.Synchronize(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ctrl.Status()); err != nil {
		return err
	}
	return syncErr
}
