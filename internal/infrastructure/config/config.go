package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		ListenAddr      string        `toml:"listen_addr"`
		RefreshInterval time.Duration `toml:"refresh_interval"`
		MaxConcurrency  int           `toml:"max_concurrency"`
		ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
		// Console 在终端实时显示各网络价格
		Console bool `toml:"console"`
	} `toml:"app"`

	Log LogConfig `toml:"log"`

	Auth struct {
		JWTSecret string        `toml:"jwt_secret"`
		Issuer    string        `toml:"issuer"`
		Leeway    time.Duration `toml:"leeway"`
	} `toml:"auth"`

	Cache struct {
		DefaultTTL time.Duration            `toml:"default_ttl"`
		TTL        map[string]time.Duration `toml:"ttl"` // per network
		Mirror     bool                     `toml:"mirror"`
	} `toml:"cache"`

	WS WSConfig `toml:"ws"`

	Adjustment struct {
		Mode           string             `toml:"mode"`
		WeightDivisor  float64            `toml:"weight_divisor"`
		ActivityFactor float64            `toml:"activity_factor"`
		Categories     map[string]float64 `toml:"categories"`
		Weights        map[string]float64 `toml:"weights"`
	} `toml:"adjustment"`

	Networks []NetworkConfig `toml:"networks"`

	// Subjects 静态对象特征，例如 [subjects.pet-1] breed = "labrador"
	Subjects map[string]map[string]any `toml:"subjects"`

	Storage StorageConfig `toml:"storage"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // console | json
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type WSConfig struct {
	SendBuffer      int           `toml:"send_buffer"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	PongTimeout     time.Duration `toml:"pong_timeout"`
	PingInterval    time.Duration `toml:"ping_interval"`
	MaxMessageBytes int64         `toml:"max_message_bytes"`
	MessageRate     float64       `toml:"message_rate"` // per second
	MessageBurst    int           `toml:"message_burst"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
}

type NetworkConfig struct {
	Name      string           `toml:"name"`
	Providers []ProviderConfig `toml:"providers"`
}

type ProviderConfig struct {
	Name    string        `toml:"name"`
	Kind    string        `toml:"kind"`
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`

	Preset       string `toml:"preset"`
	BasePath     string `toml:"base_path"`
	PriorityPath string `toml:"priority_path"`
	MaxPath      string `toml:"max_path"`
	BlockPath    string `toml:"block_path"`
	StatusPath   string `toml:"status_path"`
	StatusOK     string `toml:"status_ok"`
	Unit         string `toml:"unit"`

	APIKey      string            `toml:"api_key"`
	APIKeyParam string            `toml:"api_key_param"`
	Headers     map[string]string `toml:"headers"`

	Base     string `toml:"base"`
	Priority string `toml:"priority"`
	Max      string `toml:"max"`
}

type StorageConfig struct {
	// Primary 查询所用的后端：memory | sqlite | postgres | redis
	Primary   string        `toml:"primary"`
	Retention time.Duration `toml:"retention"`
	QueueSize int           `toml:"queue_size"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
		// Pets 从同库 pets 表读取对象特征
		Pets bool `toml:"pets"`
	} `toml:"postgres"`

	Redis struct {
		Enabled  bool          `toml:"enabled"`
		Addr     string        `toml:"addr"`
		Password string        `toml:"password"`
		DB       int           `toml:"db"`
		Prefix   string        `toml:"prefix"`
		TTL      time.Duration `toml:"ttl"`
		Channel  string        `toml:"channel"`
	} `toml:"redis"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	overrideWithEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse 从字符串解析（测试用）
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	overrideWithEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.ListenAddr == "" {
		cfg.App.ListenAddr = ":8080"
	}
	if cfg.App.RefreshInterval <= 0 {
		cfg.App.RefreshInterval = time.Minute
	}
	if cfg.App.MaxConcurrency <= 0 {
		cfg.App.MaxConcurrency = 4
	}
	if cfg.App.ShutdownTimeout <= 0 {
		cfg.App.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.Cache.DefaultTTL <= 0 {
		cfg.Cache.DefaultTTL = 30 * time.Second
	}
	if len(cfg.Cache.TTL) > 0 {
		ttls := make(map[string]time.Duration, len(cfg.Cache.TTL))
		for network, ttl := range cfg.Cache.TTL {
			ttls[strings.ToLower(strings.TrimSpace(network))] = ttl
		}
		cfg.Cache.TTL = ttls
	}

	if cfg.WS.SendBuffer <= 0 {
		cfg.WS.SendBuffer = 64
	}
	if cfg.WS.WriteTimeout <= 0 {
		cfg.WS.WriteTimeout = 10 * time.Second
	}
	if cfg.WS.PongTimeout <= 0 {
		cfg.WS.PongTimeout = 60 * time.Second
	}
	if cfg.WS.PingInterval <= 0 {
		cfg.WS.PingInterval = cfg.WS.PongTimeout * 9 / 10
	}
	if cfg.WS.MaxMessageBytes <= 0 {
		cfg.WS.MaxMessageBytes = 4096
	}
	if cfg.WS.MessageRate <= 0 {
		cfg.WS.MessageRate = 5
	}
	if cfg.WS.MessageBurst <= 0 {
		cfg.WS.MessageBurst = 10
	}

	if cfg.Adjustment.Mode == "" {
		cfg.Adjustment.Mode = "hybrid"
	}

	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		n.Name = strings.ToLower(strings.TrimSpace(n.Name))
		for j := range n.Providers {
			p := &n.Providers[j]
			if p.Kind == "" {
				p.Kind = "json"
			}
			if p.Name == "" {
				p.Name = fmt.Sprintf("%s-%d", p.Kind, j+1)
			}
			if p.Timeout <= 0 {
				p.Timeout = 5 * time.Second
			}
		}
	}

	if cfg.Storage.Primary == "" {
		cfg.Storage.Primary = "memory"
	}
	if cfg.Storage.QueueSize <= 0 {
		cfg.Storage.QueueSize = 256
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/gasfeed.db"
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "gasfeed"
	}
}

// overrideWithEnv 密钥类配置允许由环境变量覆盖
func overrideWithEnv(cfg *Config) {
	if secret := os.Getenv("GASFEED_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if dsn := os.Getenv("GASFEED_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Postgres.DSN = dsn
	}
	if pass := os.Getenv("GASFEED_REDIS_PASSWORD"); pass != "" {
		cfg.Storage.Redis.Password = pass
	}
	for i := range cfg.Networks {
		for j := range cfg.Networks[i].Providers {
			p := &cfg.Networks[i].Providers[j]
			if key := os.Getenv(ProviderKeyEnv(p.Name)); key != "" {
				p.APIKey = key
			}
		}
	}
}

// ProviderKeyEnv 例如 "etherscan-main" -> GASFEED_ETHERSCAN_MAIN_API_KEY
func ProviderKeyEnv(provider string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(provider) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return "GASFEED_" + b.String() + "_API_KEY"
}

func validate(cfg *Config) error {
	if len(cfg.Networks) == 0 {
		return errors.New("networks is empty")
	}
	seen := map[string]struct{}{}
	for _, n := range cfg.Networks {
		if n.Name == "" {
			return errors.New("networks.name is empty")
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("network %q configured twice", n.Name)
		}
		seen[n.Name] = struct{}{}
		if len(n.Providers) == 0 {
			return fmt.Errorf("network %q has no providers", n.Name)
		}
		for _, p := range n.Providers {
			if p.Kind != "static" && strings.TrimSpace(p.URL) == "" {
				return fmt.Errorf("network %q provider %q: url is empty", n.Name, p.Name)
			}
		}
	}
	for network := range cfg.Cache.TTL {
		if _, ok := seen[network]; !ok {
			return fmt.Errorf("cache.ttl references unknown network %q", network)
		}
	}

	switch cfg.Adjustment.Mode {
	case "hybrid", "weight", "category", "activity":
	default:
		return fmt.Errorf("adjustment.mode %q is not one of hybrid, weight, category, activity", cfg.Adjustment.Mode)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is empty (set GASFEED_JWT_SECRET)")
	}

	switch cfg.Storage.Primary {
	case "memory":
	case "sqlite":
		if !cfg.Storage.SQLite.Enabled {
			return errors.New("storage.primary is sqlite but storage.sqlite is disabled")
		}
	case "postgres":
		if !cfg.Storage.Postgres.Enabled {
			return errors.New("storage.primary is postgres but storage.postgres is disabled")
		}
	case "redis":
		if !cfg.Storage.Redis.Enabled {
			return errors.New("storage.primary is redis but storage.redis is disabled")
		}
	default:
		return fmt.Errorf("storage.primary %q is not one of memory, sqlite, postgres, redis", cfg.Storage.Primary)
	}
	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	if cfg.Storage.Postgres.Pets && !cfg.Storage.Postgres.Enabled {
		return errors.New("storage.postgres.pets requires storage.postgres.enabled")
	}
	if cfg.Cache.Mirror && !cfg.Storage.Redis.Enabled {
		return errors.New("cache.mirror requires storage.redis.enabled")
	}
	return nil
}

// NetworkNames 返回配置顺序的网络名
func (c *Config) NetworkNames() []string {
	out := make([]string, 0, len(c.Networks))
	for _, n := range c.Networks {
		out = append(out, n.Name)
	}
	return out
}
