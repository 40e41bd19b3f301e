// Package config loads bucketview configuration from defaults, a YAML file,
// BUCKETVIEW_* environment variables and runtime overrides, in increasing
// order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendS3     = "s3"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config is the effective configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Health  HealthConfig  `mapstructure:"health" yaml:"health"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Batch   BatchConfig   `mapstructure:"batch" yaml:"batch"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxUploadBytes caps request bodies on the upload route. Zero disables
	// the cap.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Profile         string `mapstructure:"profile" yaml:"profile,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	MaxKeys         int    `mapstructure:"max_keys" yaml:"max_keys"`
	// Path is the database file of the sqlite backend.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
	// Buckets pre-created by the memory and sqlite backends.
	Buckets []string `mapstructure:"buckets" yaml:"buckets,omitempty"`
}

type BatchConfig struct {
	Concurrency int     `mapstructure:"concurrency" yaml:"concurrency"`
	RateLimit   float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst       int     `mapstructure:"burst" yaml:"burst"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// identity names the application for file and environment lookup.
type identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var defaultIdentity = identity{BinaryName: "bucketview", EnvPrefix: "BUCKETVIEW", ConfigName: "bucketview"}

var (
	configMu    sync.RWMutex
	appIdentity *identity
	appConfig   *Config
)

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// Load builds the configuration and makes it available through GetConfig.
// Each override map is nested like the YAML file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	id := defaultIdentity
	appIdentity = &id
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}
	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	switch c.Storage.Backend {
	case BackendS3, BackendMinIO, BackendMemory, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: %q is not one of s3, minio, memory, sqlite", c.Storage.Backend))
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path: required for the sqlite backend"))
	}
	if c.Storage.Backend == BackendMinIO && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint: required for the minio backend"))
	}
	if c.Storage.MaxKeys < 0 || c.Storage.MaxKeys > 1000 {
		errs = append(errs, fmt.Errorf("storage.max_keys: %d out of range 0..1000", c.Storage.MaxKeys))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency: must be >= 1, got %d", c.Batch.Concurrency))
	}
	if c.Batch.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("batch.rate_limit: must be >= 0, got %v", c.Batch.RateLimit))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl: must be >= 0, got %s", c.Cache.TTL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with credentials masked.
func (c Config) Redacted() Config {
	if c.Storage.SecretAccessKey != "" {
		c.Storage.SecretAccessKey = "********"
	}
	return c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", int64(5<<30))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("health.enabled", true)

	v.SetDefault("storage.backend", BackendS3)
	v.SetDefault("storage.path_style", false)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.max_keys", 1000)

	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("batch.rate_limit", 0.0)
	v.SetDefault("batch.burst", 0)

	v.SetDefault("cache.ttl", "30s")
}

func readConfigFile(v *viper.Viper) error {
	if explicit := os.Getenv(envName("CONFIG")); explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(defaultIdentity.ConfigName)
	v.SetConfigType("yaml")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(root)
		v.AddConfigPath(filepath.Join(root, "config"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths returns per-user config directories, most specific first.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, id.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", id.ConfigName))
	}
	return paths
}

// getEnvSpecs lists every supported environment variable.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}

	pairs := []struct{ suffix, path string }{
		{"HOST", "server.host"},
		{"PORT", "server.port"},
		{"READ_TIMEOUT", "server.read_timeout"},
		{"WRITE_TIMEOUT", "server.write_timeout"},
		{"IDLE_TIMEOUT", "server.idle_timeout"},
		{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"MAX_UPLOAD_BYTES", "server.max_upload_bytes"},
		{"LOG_LEVEL", "logging.level"},
		{"LOG_PROFILE", "logging.profile"},
		{"METRICS_ENABLED", "metrics.enabled"},
		{"HEALTH_ENABLED", "health.enabled"},
		{"STORAGE_BACKEND", "storage.backend"},
		{"REGION", "storage.region"},
		{"ENDPOINT", "storage.endpoint"},
		{"PROFILE", "storage.profile"},
		{"ACCESS_KEY_ID", "storage.access_key_id"},
		{"SECRET_ACCESS_KEY", "storage.secret_access_key"},
		{"PATH_STYLE", "storage.path_style"},
		{"USE_SSL", "storage.use_ssl"},
		{"MAX_KEYS", "storage.max_keys"},
		{"STORAGE_PATH", "storage.path"},
		{"BUCKETS", "storage.buckets"},
		{"BATCH_CONCURRENCY", "batch.concurrency"},
		{"BATCH_RATE_LIMIT", "batch.rate_limit"},
		{"BATCH_BURST", "batch.burst"},
		{"CACHE_TTL", "cache.ttl"},
	}
	specs := make([]EnvSpec, 0, len(pairs))
	for _, p := range pairs {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + "_" + p.suffix, Path: p.path})
	}
	return specs
}

func envName(suffix string) string {
	return defaultIdentity.EnvPrefix + "_" + suffix
}

// findProjectRoot walks up from the working directory to the nearest
// directory holding go.mod or a config file. In CI the walk stops at the
// workspace boundary when one is advertised. Without a marker the working
// directory is returned.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	boundary := ciBoundary(cwd)

	dir := cwd
	for {
		for _, marker := range []string{"go.mod", defaultIdentity.ConfigName + ".yaml"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		if dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

// ciBoundary returns the workspace root advertised by a CI system when it is
// an absolute, existing ancestor of cwd.
func ciBoundary(cwd string) string {
	if os.Getenv("CI") != "true" && os.Getenv("GITHUB_ACTIONS") != "true" {
		return ""
	}
	for _, name := range []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
		b := os.Getenv(name)
		if b == "" || !filepath.IsAbs(b) {
			continue
		}
		if info, err := os.Stat(b); err != nil || !info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(b, cwd)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return filepath.Clean(b)
	}
	return ""
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		rv := reflect.ValueOf(val)
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
			nested := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				nested[iter.Key().String()] = iter.Value().Interface()
			}
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
