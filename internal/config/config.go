package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const defaultMaxRequestBodySize = "100KB"

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port               int    `json:"port" yaml:"port" validate:"required"`
		MaxRequestBodySize string `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
		Timeouts           struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	GRPC struct {
		Port int `json:"port" yaml:"port"`
	} `json:"grpc" yaml:"grpc"`

	Database Database `json:"database" yaml:"database"`

	Redis struct {
		Addr           string        `json:"addr" yaml:"addr"`
		Password       string        `json:"password" yaml:"password"`
		DB             int           `json:"db" yaml:"db"`
		PoolSize       int           `json:"poolSize" yaml:"poolSize"`
		IdempotencyTTL time.Duration `json:"idempotencyTTL" yaml:"idempotencyTTL"`
	} `json:"redis" yaml:"redis"`

	NATS struct {
		// Empty disables event publishing.
		URL string `json:"url" yaml:"url"`
	} `json:"nats" yaml:"nats"`

	Auth struct {
		JWTSecret string        `json:"jwtSecret" yaml:"jwtSecret" validate:"required"`
		Issuer    string        `json:"issuer" yaml:"issuer"`
		TokenTTL  time.Duration `json:"tokenTTL" yaml:"tokenTTL"`
	} `json:"auth" yaml:"auth"`

	Commission struct {
		// DefaultPercent applies when no commission settings row exists.
		DefaultPercent float64 `json:"defaultPercent" yaml:"defaultPercent" validate:"gte=0,lte=100"`
	} `json:"commission" yaml:"commission"`

	Dispatcher struct {
		Workers   int `json:"workers" yaml:"workers" validate:"gte=0"`
		QueueSize int `json:"queueSize" yaml:"queueSize" validate:"gte=0"`
	} `json:"dispatcher" yaml:"dispatcher"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

type Database struct {
	Driver          string        `json:"driver" yaml:"driver" validate:"required,oneof=mysql postgres"`
	DSN             string        `json:"dsn" yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	AutoMigrate     bool          `json:"autoMigrate" yaml:"autoMigrate"`
}

// configDirs are tried in order for config.yaml, relative to the working
// directory.
var configDirs = []string{".", "config", "../config", "../../config"}

// New reads .env, then config.yaml from the first of configDirs holding one,
// then overlays the environment.
func New() (*Config, error) {
	_ = godotenv.Load()

	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func findConfigFile() (string, error) {
	for _, dir := range configDirs {
		candidate := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Errorf("config.yaml not found in %v", configDirs)
}

// load reads the yaml file at path. An environment variable overrides a key
// already present in the file when it spells that key with dots as
// underscores, case-insensitively: DATABASE_DSN sets database.dsn and
// AUTH_JWTSECRET sets auth.jwtSecret. Other variables are ignored.
func load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	envKeys := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		envKeys[envName(key)] = key
	}
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(name, value string) (string, any) {
			return envKeys[strings.ToUpper(name)], value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables")
	}

	cfg := new(Config)
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", path)
	}
	return cfg, nil
}

// envName maps a koanf key to its environment variable, database.maxOpenConns
// to DATABASE_MAXOPENCONNS.
func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.HTTP.MaxRequestBodySize) == "" {
		c.HTTP.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if c.Dispatcher.Workers == 0 {
		c.Dispatcher.Workers = 10
	}
	if c.Dispatcher.QueueSize == 0 {
		c.Dispatcher.QueueSize = 10000
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
}
