// Package config loads service configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConf struct {
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

type MongoConf struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConf configures session tokens. Keys uses the "kid:secret,kid2:secret2"
// format so secrets can be rotated; Secret is the single-key fallback.
type JWTConf struct {
	Secret    string        `mapstructure:"secret"`
	Keys      string        `mapstructure:"keys"`
	ActiveKID string        `mapstructure:"active_kid"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type RateLimitConf struct {
	RPM     int           `mapstructure:"rpm"`
	Burst   int           `mapstructure:"burst"`
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

type TLSConf struct {
	Cert    string `mapstructure:"cert"`
	Key     string `mapstructure:"key"`
	Require bool   `mapstructure:"require"`
}

// ProviderConf describes a federated identity provider whose ID tokens are
// verified with an RSA public key.
type ProviderConf struct {
	Enabled       bool   `mapstructure:"enabled"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

type AuthConf struct {
	PasswordEnabled bool                    `mapstructure:"password_enabled"`
	Providers       map[string]ProviderConf `mapstructure:"providers"`
}

type S3Conf struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	PublicURL       string `mapstructure:"public_url"`
}

type UploadConf struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type LogConf struct {
	Level string `mapstructure:"level"`
}

type PresenceConf struct {
	MirrorOffline bool `mapstructure:"mirror_offline"`
}

// Config holds all configuration values.
type Config struct {
	App       AppConf       `mapstructure:"app"`
	Mongo     MongoConf     `mapstructure:"mongo"`
	Redis     RedisConf     `mapstructure:"redis"`
	JWT       JWTConf       `mapstructure:"jwt"`
	RateLimit RateLimitConf `mapstructure:"rate_limit"`
	TLS       TLSConf       `mapstructure:"tls"`
	Auth      AuthConf      `mapstructure:"auth"`
	S3        S3Conf        `mapstructure:"s3"`
	Upload    UploadConf    `mapstructure:"upload"`
	Log       LogConf       `mapstructure:"log"`
	Presence  PresenceConf  `mapstructure:"presence"`

	// derived
	ShutdownTimeout time.Duration `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.port", 50051)
	v.SetDefault("app.shutdown_seconds", 15)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "chat_db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.keys", "")
	v.SetDefault("jwt.active_kid", "")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("rate_limit.rpm", 10)
	v.SetDefault("rate_limit.burst", 3)
	v.SetDefault("rate_limit.idle_ttl", "10m")
	v.SetDefault("tls.cert", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("tls.require", false)
	v.SetDefault("auth.password_enabled", true)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("s3.public_url", "")
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("presence.mirror_offline", true)
}

// Load reads the YAML file at path (a missing file is not an error) and
// applies environment overrides, e.g. MONGO_URI for mongo.uri.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownSeconds) * time.Second
	return &cfg, nil
}

// Validate checks the settings the API server cannot start without.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return errors.New("mongo.uri (MONGO_URI) must be set")
	}
	if c.JWT.Keys == "" && c.JWT.Secret == "" {
		return errors.New("either jwt.secret (JWT_SECRET) or jwt.keys (JWT_KEYS) must be set")
	}
	if c.TLS.Require && (c.TLS.Cert == "" || c.TLS.Key == "") {
		return errors.New("tls.require is true but tls.cert/tls.key are not configured")
	}
	return nil
}

// ParseKeys parses "kid:secret,kid2:secret2" into a map.
func ParseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid jwt key entry: %q", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}
