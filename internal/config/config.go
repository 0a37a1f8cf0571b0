package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type StoreDriver string

const (
	StoreDriverMemory StoreDriver = "memory"
	StoreDriverFile   StoreDriver = "file"
	StoreDriverRedis  StoreDriver = "redis"
)

type EngineDriver string

const (
	EngineDriverMemory EngineDriver = "memory"
	EngineDriverFile   EngineDriver = "file"
)

type Config struct {
	LogLevel string    `yaml:"log-level" validate:"oneof=debug info warn error"`
	LogFile  string    `yaml:"log-file,omitempty"`
	API      APIConfig `yaml:"api"`

	Store  StoreConfig  `yaml:"store"`
	Engine EngineConfig `yaml:"engine"`
	Sync   SyncConfig   `yaml:"sync"`
	Notify NotifyConfig `yaml:"notify"`
}

type APIConfig struct {
	Listen string `yaml:"listen,omitempty" validate:"omitempty,hostname_port"`
	Secret string `yaml:"secret,omitempty"`
}

type StoreConfig struct {
	Driver StoreDriver `yaml:"driver" validate:"oneof=memory file redis"`
	Path   string      `yaml:"path,omitempty" validate:"required_if=Driver file"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db" validate:"gte=0,lte=15"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type EngineConfig struct {
	Driver      EngineDriver `yaml:"driver" validate:"oneof=memory file"`
	Path        string       `yaml:"path,omitempty" validate:"required_if=Driver file"`
	MaxRules    int          `yaml:"max-rules" validate:"gte=1"`
	MaxPriority int          `yaml:"max-priority" validate:"gte=3"`
}

type SyncConfig struct {
	SettleDelay    time.Duration `yaml:"settle-delay" validate:"gte=0"`
	Debounce       time.Duration `yaml:"debounce" validate:"gte=0"`
	ResyncSchedule string        `yaml:"resync-schedule,omitempty" validate:"omitempty,cron"`
}

type NotifyConfig struct {
	TTL      time.Duration `yaml:"ttl" validate:"gt=0"`
	Size     int           `yaml:"size" validate:"gte=1"`
	DumpFile string        `yaml:"dump-file,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("api.listen", "127.0.0.1:9090")
	v.SetDefault("store.driver", string(StoreDriverFile))
	v.SetDefault("store.path", "rulesync-store.yaml")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "rulesync:")
	v.SetDefault("engine.driver", string(EngineDriverFile))
	v.SetDefault("engine.path", "rulesync-rules.json")
	v.SetDefault("engine.max-rules", 5000)
	v.SetDefault("engine.max-priority", 2147483647)
	v.SetDefault("sync.settle-delay", "100ms")
	v.SetDefault("sync.debounce", "100ms")
	v.SetDefault("notify.ttl", "30m")
	v.SetDefault("notify.size", 1024)
}

func BuildConfigFromViper() (*Config, error) {
	return BuildConfig(viper.GetViper())
}

// BuildConfig decodes and validates the configuration held by v.
func BuildConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Store.Driver = StoreDriver(strings.ToLower(string(cfg.Store.Driver)))
	cfg.Engine.Driver = EngineDriver(strings.ToLower(string(cfg.Engine.Driver)))

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("Log Level", c.LogLevel),
		slog.String("API Listen", c.API.Listen),
		slog.Bool("API Secret", c.API.Secret != ""),
		slog.String("Store Driver", string(c.Store.Driver)),
		slog.String("Engine Driver", string(c.Engine.Driver)),
		slog.Int("Max Rules", c.Engine.MaxRules),
		slog.Int("Max Priority", c.Engine.MaxPriority),
		slog.Duration("Settle Delay", c.Sync.SettleDelay),
	}
	switch c.Store.Driver {
	case StoreDriverFile:
		attrs = append(attrs, slog.String("Store Path", c.Store.Path))
	case StoreDriverRedis:
		attrs = append(attrs, slog.String("Redis Address", c.Store.Redis.Addr), slog.Int("Redis DB", c.Store.Redis.DB))
	}
	if c.Engine.Driver == EngineDriverFile {
		attrs = append(attrs, slog.String("Engine Path", c.Engine.Path))
	}
	if c.Sync.ResyncSchedule != "" {
		attrs = append(attrs, slog.String("Resync Schedule", c.Sync.ResyncSchedule))
	}
	return slog.GroupValue(attrs...)
}
