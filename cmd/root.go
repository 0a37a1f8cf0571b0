package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunbk201/rulesync/internal/api"
	"github.com/sunbk201/rulesync/internal/config"
	"github.com/sunbk201/rulesync/internal/log"
	"github.com/sunbk201/rulesync/internal/metrics"
	"github.com/sunbk201/rulesync/internal/statistics"
	"github.com/sunbk201/rulesync/internal/syncer"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "rulesync",
	Short: "rulesync keeps an engine's rule table in sync with a rule model",
	Long:  "rulesync compiles URL rewrite and header rules from a key-value store into a declarative rule table and keeps the installed table synchronized as the store changes.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	rootCmd.PersistentFlags().String("store", "", "Store driver: memory, file, redis")
	rootCmd.PersistentFlags().String("store-path", "", "Store file path")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address")
	rootCmd.PersistentFlags().String("engine", "", "Engine driver: memory, file")
	rootCmd.PersistentFlags().String("engine-path", "", "Engine rules file path")
	rootCmd.Flags().String("listen", "", "API listen address")
	rootCmd.Flags().String("resync", "", "Cron schedule of full resyncs")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store-path"))
	_ = viper.BindPFlag("store.redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	_ = viper.BindPFlag("engine.driver", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("engine.path", rootCmd.PersistentFlags().Lookup("engine-path"))
	_ = viper.BindPFlag("api.listen", rootCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("sync.resync-schedule", rootCmd.Flags().Lookup("resync"))

	viper.SetEnvPrefix("RULESYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(compileCmd, syncCmd, migrateCmd)
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("godotenv.Load", slog.Any("error", err))
	}

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}

	config.SetDefaults(viper.GetViper())
}

func runRoot(cmd *cobra.Command, args []string) error {
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("rulesync version %s\n", AppVersion)
		return nil
	}

	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		_, err := config.GenerateTemplateConfig(true)
		if err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Printf("Template config file '%s' generated successfully.\n", config.TemplateFile)
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logs := log.NewBroadcaster()
	log.SetLogConf(cfg.LogLevel, cfg.LogFile, logs)
	log.LogHeader(AppVersion, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("openStore", slog.Any("error", err))
		return err
	}
	addShutdown("store.Close", st.Close)

	eng, err := openEngine(cfg)
	if err != nil {
		slog.Error("openEngine", slog.Any("error", err))
		shutdown()
		return err
	}

	dumpFile := cfg.Notify.DumpFile
	if dumpFile == "" {
		dumpFile = log.GetAppliedFilePath()
	}
	records := statistics.NewAppliedRecordList(dumpFile)
	records.Run(ctx)

	m := metrics.New(nil)
	ctrl := syncer.NewController(syncer.Options{
		Store:  st,
		Engine: eng,
		State: syncer.NewState(syncer.StateOptions{
			NotifyTTL:  cfg.Notify.TTL,
			NotifySize: cfg.Notify.Size,
			Records:    records,
			Metrics:    m,
		}),
		Metrics:     m,
		Limits:      limitsFromConfig(cfg),
		SettleDelay: cfg.Sync.SettleDelay,
	})

	runner := syncer.NewRunner(ctrl, st, cfg.Sync.ResyncSchedule)
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()
	addShutdown("runner.Stop", func() error {
		cancel()
		return <-runnerDone
	})

	if cfg.API.Listen != "" {
		srv := api.New(api.Options{
			Addr:       cfg.API.Listen,
			Version:    AppVersion,
			Config:     cfg,
			Controller: ctrl,
			Engine:     eng,
			Store:      st,
			Records:    records,
			Metrics:    m,
			Logs:       logs,
		})
		if err := srv.Start(); err != nil {
			slog.Error("srv.Start", slog.Any("error", err))
			shutdown()
			return err
		}
		addShutdown("srv.Close", srv.Close)
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case err := <-runnerDone:
			slog.Error("runner.Run", slog.Any("error", err))
			runnerDone <- err
			shutdown()
			return err
		case s := <-cleanup:
			slog.Info("Received signal", slog.String("signal", s.String()))
			switch s {
			case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
				shutdown()
				return nil
			case syscall.SIGHUP:
				runner.Trigger(ctx, "signal")
			}
		}
	}
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	shutdownChain = nil
	slog.Info("rulesync exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
