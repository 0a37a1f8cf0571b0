package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// resetViper resets viper global state and sets the defaults the root
// command registers.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults(viper.GetViper())
}

// writeConfigFile writes YAML content to a temp file and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// loadConfigFile merges a YAML config file into viper.
func loadConfigFile(t *testing.T, path string) {
	t.Helper()
	viper.SetConfigFile(path)
	if err := viper.MergeInConfig(); err != nil {
		t.Fatalf("failed to merge config file: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	resetViper(t)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"LogLevel", cfg.LogLevel, "info"},
		{"API.Listen", cfg.API.Listen, "127.0.0.1:9090"},
		{"API.Secret", cfg.API.Secret, ""},
		{"Store.Driver", cfg.Store.Driver, StoreDriverFile},
		{"Store.Path", cfg.Store.Path, "rulesync-store.yaml"},
		{"Store.Redis.Addr", cfg.Store.Redis.Addr, "127.0.0.1:6379"},
		{"Store.Redis.Prefix", cfg.Store.Redis.Prefix, "rulesync:"},
		{"Engine.Driver", cfg.Engine.Driver, EngineDriverFile},
		{"Engine.MaxRules", cfg.Engine.MaxRules, 5000},
		{"Engine.MaxPriority", cfg.Engine.MaxPriority, 2147483647},
		{"Sync.SettleDelay", cfg.Sync.SettleDelay, 100 * time.Millisecond},
		{"Sync.Debounce", cfg.Sync.Debounce, 100 * time.Millisecond},
		{"Sync.ResyncSchedule", cfg.Sync.ResyncSchedule, ""},
		{"Notify.TTL", cfg.Notify.TTL, 30 * time.Minute},
		{"Notify.Size", cfg.Notify.Size, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestConfigFromFile(t *testing.T) {
	resetViper(t)

	yaml := `
log-level: DEBUG
log-file: /tmp/rulesync.log
api:
  listen: 0.0.0.0:8080
  secret: s3cret
store:
  driver: redis
  redis:
    addr: redis.local:6380
    password: pw
    db: 2
    prefix: "team:"
engine:
  driver: memory
  max-rules: 100
  max-priority: 100000
sync:
  settle-delay: 250ms
  debounce: 1s
  resync-schedule: "*/10 * * * *"
notify:
  ttl: 5m
  size: 64
  dump-file: /tmp/applied
`
	path := writeConfigFile(t, yaml)
	loadConfigFile(t, path)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.API.Listen != "0.0.0.0:8080" || cfg.API.Secret != "s3cret" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.Store.Driver != StoreDriverRedis {
		t.Errorf("Store.Driver = %v, want redis", cfg.Store.Driver)
	}
	want := RedisConfig{Addr: "redis.local:6380", Password: "pw", DB: 2, Prefix: "team:"}
	if cfg.Store.Redis != want {
		t.Errorf("Store.Redis = %+v, want %+v", cfg.Store.Redis, want)
	}
	if cfg.Engine.Driver != EngineDriverMemory || cfg.Engine.MaxRules != 100 || cfg.Engine.MaxPriority != 100000 {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Sync.SettleDelay != 250*time.Millisecond {
		t.Errorf("Sync.SettleDelay = %v, want 250ms", cfg.Sync.SettleDelay)
	}
	if cfg.Sync.Debounce != time.Second {
		t.Errorf("Sync.Debounce = %v, want 1s", cfg.Sync.Debounce)
	}
	if cfg.Sync.ResyncSchedule != "*/10 * * * *" {
		t.Errorf("Sync.ResyncSchedule = %q", cfg.Sync.ResyncSchedule)
	}
	if cfg.Notify.TTL != 5*time.Minute || cfg.Notify.Size != 64 || cfg.Notify.DumpFile != "/tmp/applied" {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"log level", "log-level", "TRACE"},
		{"store driver", "store.driver", "sqlite"},
		{"file store without path", "store.path", ""},
		{"engine driver", "engine.driver", "chrome"},
		{"file engine without path", "engine.path", ""},
		{"max rules", "engine.max-rules", 0},
		{"max priority", "engine.max-priority", 2},
		{"api listen", "api.listen", "not-an-address"},
		{"redis db", "store.redis.db", 16},
		{"negative settle delay", "sync.settle-delay", "-1s"},
		{"cron schedule", "sync.resync-schedule", "every minute"},
		{"notify ttl", "notify.ttl", "0s"},
		{"notify size", "notify.size", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			viper.Set(tt.key, tt.value)

			_, err := BuildConfigFromViper()
			if err == nil {
				t.Fatalf("expected validation error for %s=%v, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestMemoryDriversNeedNoPath(t *testing.T) {
	resetViper(t)
	viper.Set("store.driver", "MEMORY")
	viper.Set("store.path", "")
	viper.Set("engine.driver", "memory")
	viper.Set("engine.path", "")

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("Store.Driver = %v, want memory", cfg.Store.Driver)
	}
}

func TestViperSetOverridesConfigFile(t *testing.T) {
	resetViper(t)

	path := writeConfigFile(t, "log-level: warn\nengine:\n  max-rules: 10\n")
	loadConfigFile(t, path)
	viper.Set("engine.max-rules", 20)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.MaxRules != 20 {
		t.Errorf("Engine.MaxRules = %d, want 20 (override)", cfg.Engine.MaxRules)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %v, want warn (from file)", cfg.LogLevel)
	}
}

func TestEnvVarOverridesDefault(t *testing.T) {
	resetViper(t)

	viper.SetEnvPrefix("RULESYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	t.Setenv("RULESYNC_STORE_DRIVER", "memory")
	t.Setenv("RULESYNC_ENGINE_MAX_RULES", "42")

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("Store.Driver = %v, want memory (from env)", cfg.Store.Driver)
	}
	if cfg.Engine.MaxRules != 42 {
		t.Errorf("Engine.MaxRules = %d, want 42 (from env)", cfg.Engine.MaxRules)
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	data, err := GenerateTemplateConfig(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resetViper(t)
	loadConfigFile(t, writeConfigFile(t, string(data)))

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("template does not validate: %v", err)
	}
	want := TemplateConfig()
	if cfg.Sync != want.Sync {
		t.Errorf("Sync = %+v, want %+v", cfg.Sync, want.Sync)
	}
	if cfg.Notify != want.Notify {
		t.Errorf("Notify = %+v, want %+v", cfg.Notify, want.Notify)
	}
	if cfg.Engine != want.Engine {
		t.Errorf("Engine = %+v, want %+v", cfg.Engine, want.Engine)
	}
}

func TestLogValue(t *testing.T) {
	resetViper(t)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val := cfg.LogValue()
	if val.Kind() != slog.KindGroup {
		t.Errorf("LogValue().Kind() = %v, want Group", val.Kind())
	}
	for _, a := range val.Group() {
		if a.Key == "API Secret" && a.Value.Bool() {
			t.Error("secret reported as set")
		}
	}
}
