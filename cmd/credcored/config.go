package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/internal/rate"
	"github.com/credcore/credcore/notify"
)

// envPrefix marks environment variables that override config keys. A double
// underscore separates levels: CREDCORE_ENGINE__TOKENS__ACCESS_SECRET sets
// engine.tokens.access_secret.
const envPrefix = "CREDCORE_"

// appConfig is everything credcored reads from file, environment and flags.
type appConfig struct {
	Server    serverConfig    `koanf:"server"`
	Log       logConfig       `koanf:"log"`
	Store     storeConfig     `koanf:"store"`
	Notifier  notifierConfig  `koanf:"notifier"`
	RateLimit rateLimitConfig `koanf:"rate_limit"`
	Engine    credcore.Config `koanf:"engine"`
}

type serverConfig struct {
	Addr            string        `koanf:"addr"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	TrustProxy      bool          `koanf:"trust_proxy"`
}

type logConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	// Audit writes audit events to the log.
	Audit bool `koanf:"audit"`
}

type storeConfig struct {
	Driver        string `koanf:"driver"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
	PostgresURL   string `koanf:"postgres_url"`
	AutoMigrate   bool   `koanf:"auto_migrate"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
}

type notifierConfig struct {
	Driver        string            `koanf:"driver"`
	SMTP          notify.SMTPConfig `koanf:"smtp"`
	TemplateCache int               `koanf:"template_cache"`
}

// rateLimitConfig throttles the API per user or client IP. Counters share
// the Redis store when the redis driver is used.
type rateLimitConfig struct {
	Enabled bool          `koanf:"enabled"`
	Windows []rate.Window `koanf:"windows"`
}

const (
	driverMemory   = "memory"
	driverRedis    = "redis"
	driverPostgres = "postgres"
	driverMongo    = "mongo"

	notifierLog  = "log"
	notifierSMTP = "smtp"
)

func defaultAppConfig() appConfig {
	return appConfig{
		Server: serverConfig{
			Addr:            ":8080",
			MetricsAddr:     "127.0.0.1:9100",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: logConfig{Format: "json", Level: "info"},
		Store: storeConfig{
			Driver:        driverMemory,
			RedisAddr:     "localhost:6379",
			RedisPrefix:   "credcore",
			MongoDatabase: "credcore",
		},
		Notifier:  notifierConfig{Driver: notifierLog, TemplateCache: 16},
		RateLimit: rateLimitConfig{Enabled: true, Windows: rate.DefaultWindows()},
		Engine:    credcore.DefaultConfig(),
	}
}

// Validate checks the parts of the configuration the engine does not.
func (c *appConfig) Validate() error {
	switch c.Store.Driver {
	case driverMemory, driverRedis:
	case driverPostgres:
		if c.Store.PostgresURL == "" {
			return errors.New("store.postgres_url is required for the postgres driver")
		}
	case driverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("store.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory, redis, postgres or mongo, got %q", c.Store.Driver)
	}
	switch c.Notifier.Driver {
	case notifierLog, notifierSMTP:
	default:
		return fmt.Errorf("notifier.driver must be log or smtp, got %q", c.Notifier.Driver)
	}
	for _, w := range c.RateLimit.Windows {
		if w.Name == "" || w.Period <= 0 || w.Limit <= 0 {
			return fmt.Errorf("rate_limit.windows: %q needs a name, a positive period and a positive limit", w.Name)
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "server.metrics_addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store.driver",
	"notifier":     "notifier.driver",
	"postgres-url": "store.postgres_url",
	"redis-addr":   "store.redis_addr",
	"mongo-uri":    "store.mongo_uri",
}

// loadConfig layers defaults, the YAML file, the environment (after the
// dotenv file) and changed flags, in that order.
func loadConfig(g *globalFlags, flags *pflag.FlagSet) (appConfig, error) {
	if err := loadDotenv(g.envFile); err != nil {
		return appConfig{}, err
	}

	k := koanf.New(".")
	if g.configFile != "" {
		if err := k.Load(file.Provider(g.configFile), yaml.Parser()); err != nil {
			return appConfig{}, oops.Code("CONFIG_READ_FAILED").With("file", g.configFile).Wrap(err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(name, value string) (string, any) {
			return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, envPrefix), "__", ".")), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return appConfig{}, oops.Code("CONFIG_ENV_FAILED").With("prefix", envPrefix).Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, known := flagKeys[f.Name]
			if !known || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return appConfig{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	// Decoding a list onto a longer default keeps the default's tail, so
	// lists that are configured start empty.
	cfg := defaultAppConfig()
	if k.Exists("rate_limit.windows") {
		cfg.RateLimit.Windows = nil
	}
	if k.Exists("engine.second_factor.allowlist") {
		cfg.Engine.SecondFactor.Allowlist = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return appConfig{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return appConfig{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

// loadDotenv loads path, or .env when path is empty and the file exists.
// Variables already set in the environment win.
func loadDotenv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return oops.Code("CONFIG_DOTENV_FAILED").With("file", path).Wrap(err)
	}
	return nil
}

// addServerFlags registers the flags serve understands.
func addServerFlags(flags *pflag.FlagSet) {
	def := defaultAppConfig()
	flags.String("addr", def.Server.Addr, "HTTP API listen address")
	flags.String("metrics-addr", def.Server.MetricsAddr, "metrics and health listen address (empty = serve on the API address)")
	flags.String("log-format", def.Log.Format, "log format (json or text)")
	flags.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	addStoreFlags(flags)
	flags.String("notifier", def.Notifier.Driver, "notifier: log or smtp")
}

func addStoreFlags(flags *pflag.FlagSet) {
	def := defaultAppConfig()
	flags.String("store", def.Store.Driver, "store driver: memory, redis, postgres or mongo")
	flags.String("postgres-url", "", "PostgreSQL URL (postgres driver)")
	flags.String("redis-addr", def.Store.RedisAddr, "Redis address (redis driver)")
	flags.String("mongo-uri", "", "MongoDB URI (mongo driver)")
}
