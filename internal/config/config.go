package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   Server
	DB       DB
	Redis    Redis
	Storage  Storage
	JWT      JWT
	Resolver Resolver
	Logger   Logger
}

type Server struct {
	Addr        string
	Environment string
}

type DB struct {
	DSN string
}

type Redis struct {
	Addr     string
	Password string
}

type Storage struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type JWT struct {
	Secret string
}

type Resolver struct {
	// SignedURLTTL is the validity requested for each signed URL.
	SignedURLTTL time.Duration
	// CacheFreshness is how long a cached URL is reused before reissue.
	// Must be shorter than SignedURLTTL.
	CacheFreshness time.Duration
}

type Logger struct {
	Development bool
	Level       string
}

func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("storage.bucket", "shared-photos")
	v.SetDefault("resolver.signedurlttl", time.Hour)
	v.SetDefault("resolver.cachefreshness", 50*time.Minute)
	v.SetDefault("logger.development", true)
	v.SetDefault("logger.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Environment-only configuration is fine in containers.
			return v, nil
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if c.DB.DSN == "" {
		c.DB.DSN = v.GetString("DB_DSN")
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = v.GetString("JWT_SECRET")
	}
	if c.DB.DSN == "" {
		return nil, errors.New("db dsn is not set")
	}
	if c.JWT.Secret == "" {
		return nil, errors.New("jwt secret is not set")
	}
	if c.Resolver.CacheFreshness >= c.Resolver.SignedURLTTL {
		return nil, errors.New("resolver cache freshness must be shorter than the signed url ttl")
	}
	return &c, nil
}
