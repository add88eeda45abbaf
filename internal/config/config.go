// Package config loads poller and origin settings from a yaml file with
// environment overrides. Command-line flags are applied on top by cmd/.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/technosupport/cta-poller/internal/binding"
	"github.com/technosupport/cta-poller/internal/ratelimit"
	"github.com/technosupport/cta-poller/internal/worker"
	"gopkg.in/yaml.v3"
)

// DefaultKey works with the public checker at https://cta-token.net/.
const DefaultKey = "403697de87af64611c1d32a05dab0fe1fcb715a86ab435f1ec99192d79569388"

const MaxConfigSizeBytes = 64 * 1024

type Config struct {
	Poller  PollerConfig  `yaml:"poller"`
	Origin  OriginConfig  `yaml:"origin"`
	Report  ReportConfig  `yaml:"report"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type PollerConfig struct {
	Key                 string            `yaml:"key"`
	URL                 string            `yaml:"url"`
	TTL                 uint64            `yaml:"ttl"`
	TokenType           binding.Transport `yaml:"token_type"`
	Issuer              string            `yaml:"issuer"`
	MaxIterations       int               `yaml:"max_iterations"`
	SleepMs             int64             `yaml:"sleep_ms"`
	UserAgent           string            `yaml:"user_agent"`
	QueryParam          string            `yaml:"query_param"`
	StrictContentLength bool              `yaml:"strict_content_length"`
	RequestTimeout      time.Duration     `yaml:"request_timeout"`
}

type OriginConfig struct {
	Port             string                `yaml:"port"`
	Root             string                `yaml:"root"`
	Key              string                `yaml:"key"`
	Issuer           string                `yaml:"issuer"`
	TTL              uint64                `yaml:"ttl"`
	Renew            bool                  `yaml:"renew"`
	PlaylistWindow   int                   `yaml:"playlist_window"`
	TargetDuration   int                   `yaml:"target_duration"`
	SegmentCacheSize int                   `yaml:"segment_cache_size"`
	RedisAddr        string                `yaml:"redis_addr"`
	RateLimit        ratelimit.LimitConfig `yaml:"rate_limit"`
}

type ReportConfig struct {
	NatsURL     string `yaml:"nats_url"`
	NatsSubject string `yaml:"nats_subject"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default mirrors the long-standing CLI defaults.
func Default() *Config {
	return &Config{
		Poller: PollerConfig{
			Key:            DefaultKey,
			TTL:            20,
			TokenType:      binding.Cookie,
			Issuer:         "eyevinn",
			MaxIterations:  5,
			SleepMs:        4000,
			UserAgent:      worker.DefaultUserAgent,
			QueryParam:     worker.DefaultQueryParam,
			RequestTimeout: 30 * time.Second,
		},
		Origin: OriginConfig{
			Port:             "8090",
			Key:              DefaultKey,
			Issuer:           "cta-origin",
			TTL:              20,
			Renew:            true,
			PlaylistWindow:   6,
			TargetDuration:   2,
			SegmentCacheSize: 64,
		},
	}
}

// ResolvePath picks the config file: explicit path, then CTA_CONFIG, then
// config/default.yaml relative to the working directory.
func ResolvePath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	if p := os.Getenv("CTA_CONFIG"); p != "" {
		return p
	}
	return filepath.Join("config", "default.yaml")
}

// Load reads defaults, then the yaml file, then the environment. A missing
// file is only an error when customPath names it explicitly.
func Load(customPath string) (*Config, error) {
	cfg := Default()
	path := ResolvePath(customPath)

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && customPath == "":
		log.Printf("[INFO] No config file at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	case info.Size() > MaxConfigSizeBytes:
		return nil, fmt.Errorf("config %s too large", path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides values from the environment.
func ApplyEnv(cfg *Config) error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.Poller.Key, "CTA_KEY")
	setString(&cfg.Poller.URL, "CTA_URL")
	setString(&cfg.Poller.Issuer, "CTA_ISSUER")
	setString(&cfg.Report.NatsURL, "NATS_URL")
	setString(&cfg.Metrics.Addr, "METRICS_ADDR")
	setString(&cfg.Origin.Port, "ORIGIN_PORT")
	setString(&cfg.Origin.Root, "HLS_ROOT_DIR")
	setString(&cfg.Origin.Key, "ORIGIN_KEY")
	setString(&cfg.Origin.RedisAddr, "REDIS_ADDR")

	if v := os.Getenv("CTA_TOKEN_TYPE"); v != "" {
		if err := cfg.Poller.TokenType.Set(v); err != nil {
			return fmt.Errorf("CTA_TOKEN_TYPE: %w", err)
		}
	}
	if v := os.Getenv("CTA_TTL"); v != "" {
		ttl, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CTA_TTL: %w", err)
		}
		cfg.Poller.TTL = ttl
	}
	return nil
}

// Worker converts the poller section into a worker.Config.
func (p PollerConfig) Worker() worker.Config {
	return worker.Config{
		Key:                 p.Key,
		URL:                 p.URL,
		TTL:                 p.TTL,
		Transport:           p.TokenType,
		Issuer:              p.Issuer,
		MaxIterations:       p.MaxIterations,
		Delay:               time.Duration(p.SleepMs) * time.Millisecond,
		UserAgent:           p.UserAgent,
		QueryParam:          p.QueryParam,
		StrictContentLength: p.StrictContentLength,
		RequestTimeout:      p.RequestTimeout,
	}
}
