package cmd

import (
	"context"
	"fmt"

	"github.com/sunbk201/rulesync/internal/config"
	"github.com/sunbk201/rulesync/internal/engine"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/store"
)

func limitsFromConfig(cfg *config.Config) common.Limits {
	return common.Limits{MaxRules: cfg.Engine.MaxRules, MaxPriority: cfg.Engine.MaxPriority}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		return store.NewMemory(), nil
	case config.StoreDriverFile:
		return store.NewFile(cfg.Store.Path, cfg.Sync.Debounce)
	case config.StoreDriverRedis:
		return store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openEngine(cfg *config.Config) (engine.Engine, error) {
	limits := limitsFromConfig(cfg)
	switch cfg.Engine.Driver {
	case config.EngineDriverMemory:
		return engine.NewMemory(limits), nil
	case config.EngineDriverFile:
		return engine.NewFile(cfg.Engine.Path, limits)
	default:
		return nil, fmt.Errorf("unknown engine driver %q", cfg.Engine.Driver)
	}
}
