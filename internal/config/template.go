package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

const TemplateFile = "config.yaml"

type templateSync struct {
	SettleDelay    string `yaml:"settle-delay"`
	Debounce       string `yaml:"debounce"`
	ResyncSchedule string `yaml:"resync-schedule"`
}

type templateNotify struct {
	TTL      string `yaml:"ttl"`
	Size     int    `yaml:"size"`
	DumpFile string `yaml:"dump-file"`
}

// template mirrors Config with durations written the way they are read back.
type template struct {
	LogLevel string         `yaml:"log-level"`
	LogFile  string         `yaml:"log-file"`
	API      APIConfig      `yaml:"api"`
	Store    StoreConfig    `yaml:"store"`
	Engine   EngineConfig   `yaml:"engine"`
	Sync     templateSync   `yaml:"sync"`
	Notify   templateNotify `yaml:"notify"`
}

func TemplateConfig() Config {
	return Config{
		LogLevel: "info",
		LogFile:  "/var/log/rulesync/rulesync.log",
		API:      APIConfig{Listen: "127.0.0.1:9090"},
		Store: StoreConfig{
			Driver: StoreDriverFile,
			Path:   "/var/lib/rulesync/store.yaml",
			Redis:  RedisConfig{Addr: "127.0.0.1:6379", Prefix: "rulesync:"},
		},
		Engine: EngineConfig{
			Driver:      EngineDriverFile,
			Path:        "/var/lib/rulesync/rules.json",
			MaxRules:    5000,
			MaxPriority: 2147483647,
		},
		Sync: SyncConfig{
			SettleDelay:    100 * time.Millisecond,
			Debounce:       100 * time.Millisecond,
			ResyncSchedule: "*/30 * * * *",
		},
		Notify: NotifyConfig{
			TTL:      30 * time.Minute,
			Size:     1024,
			DumpFile: "/var/log/rulesync/applied",
		},
	}
}

func GenerateTemplateConfig(writeToFile bool) ([]byte, error) {
	cfg := TemplateConfig()
	data, err := yaml.Marshal(&template{
		LogLevel: cfg.LogLevel,
		LogFile:  cfg.LogFile,
		API:      cfg.API,
		Store:    cfg.Store,
		Engine:   cfg.Engine,
		Sync: templateSync{
			SettleDelay:    cfg.Sync.SettleDelay.String(),
			Debounce:       cfg.Sync.Debounce.String(),
			ResyncSchedule: cfg.Sync.ResyncSchedule,
		},
		Notify: templateNotify{
			TTL:      cfg.Notify.TTL.String(),
			Size:     cfg.Notify.Size,
			DumpFile: cfg.Notify.DumpFile,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template config to YAML: %w", err)
	}

	if writeToFile {
		if err := os.WriteFile(TemplateFile, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return data, nil
}
