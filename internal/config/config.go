package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"flipview/internal/cache"
	"flipview/internal/store"
)

type Config struct {
	Port          int    `mapstructure:"PORT"`
	DataDir       string `mapstructure:"DATA_DIR"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	Warmup        bool   `mapstructure:"WARMUP"`
	WarmupWorkers int    `mapstructure:"WARMUP_WORKERS"`

	// --- render cache ---
	MemoryEntries        int           `mapstructure:"MEMORY_ENTRIES"`
	PersistentEntries    int           `mapstructure:"PERSISTENT_ENTRIES"`
	CompressionThreshold int           `mapstructure:"COMPRESSION_THRESHOLD"`
	CompressionRatio     float64       `mapstructure:"COMPRESSION_RATIO"`
	SessionExpiry        time.Duration `mapstructure:"SESSION_EXPIRY"`
	PersistTimeout       time.Duration `mapstructure:"PERSIST_TIMEOUT"`
	RenderTimeout        time.Duration `mapstructure:"RENDER_TIMEOUT"`

	// --- persistent store ---
	StoreType     string `mapstructure:"STORE_TYPE"`
	StoreFileDir  string `mapstructure:"STORE_FILE_DIR"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`
	S3Endpoint    string `mapstructure:"S3_ENDPOINT"`
	S3Region      string `mapstructure:"S3_REGION"`
	S3Bucket      string `mapstructure:"S3_BUCKET"`
	S3AccessKey   string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey   string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL      bool   `mapstructure:"S3_USE_SSL"`
	S3Prefix      string `mapstructure:"S3_PREFIX"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`

	// --- rendering ---
	RenderScale     float64 `mapstructure:"RENDER_SCALE"`
	RenderQuality   float64 `mapstructure:"RENDER_QUALITY"`
	ThumbnailScale  float64 `mapstructure:"THUMBNAIL_SCALE"`
	MaxPages        int     `mapstructure:"MAX_PAGES"`
	VipsMaxCacheMB  int     `mapstructure:"VIPS_MAX_CACHE_MB"`
	VipsConcurrency int     `mapstructure:"VIPS_CONCURRENCY"`

	// --- http ---
	UploadToken   string `mapstructure:"UPLOAD_TOKEN"`
	MaxUploadSize int64  `mapstructure:"MAX_UPLOAD_SIZE"`
	AllowedOrigin string `mapstructure:"ALLOWED_ORIGIN"`
}

var defaults = map[string]interface{}{
	"PORT":                  8080,
	"DATA_DIR":              "/data",
	"LOG_LEVEL":             "info",
	"WARMUP":                false,
	"WARMUP_WORKERS":        1,
	"MEMORY_ENTRIES":        cache.DefaultMemoryCapacity,
	"PERSISTENT_ENTRIES":    cache.DefaultPersistentCapacity,
	"COMPRESSION_THRESHOLD": cache.DefaultCompressionThreshold,
	"COMPRESSION_RATIO":     cache.DefaultCompressionRatio,
	"SESSION_EXPIRY":        cache.DefaultSessionExpiry,
	"PERSIST_TIMEOUT":       cache.DefaultPersistTimeout,
	"RENDER_TIMEOUT":        cache.DefaultRenderTimeout,
	"STORE_TYPE":            "file",
	"STORE_FILE_DIR":        "",
	"REDIS_ADDR":            "localhost:6379",
	"REDIS_DB":              0,
	"REDIS_PASSWORD":        "",
	"REDIS_PREFIX":          "flipview",
	"S3_ENDPOINT":           "",
	"S3_REGION":             "",
	"S3_BUCKET":             "flipview-cache",
	"S3_ACCESS_KEY":         "",
	"S3_SECRET_KEY":         "",
	"S3_USE_SSL":            false,
	"S3_PREFIX":             "flipview",
	"DATABASE_URL":          "",
	"RENDER_SCALE":          cache.DefaultScale,
	"RENDER_QUALITY":        cache.DefaultQuality,
	"THUMBNAIL_SCALE":       0.0,
	"MAX_PAGES":             0,
	"VIPS_MAX_CACHE_MB":     256,
	"VIPS_CONCURRENCY":      1,
	"UPLOAD_TOKEN":          "",
	"MAX_UPLOAD_SIZE":       int64(1 << 30), // 1GB
	"ALLOWED_ORIGIN":        "",
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment variables
// win over it.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.StoreFileDir == "" {
		cfg.StoreFileDir = filepath.Join(cfg.DataDir, "cache")
	}
	if cfg.WarmupWorkers <= 0 {
		cfg.WarmupWorkers = 1
	}
	return &cfg, nil
}

func (c *Config) IsUploadPublic() bool {
	return strings.TrimSpace(c.UploadToken) == ""
}

func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Type:    c.StoreType,
		FileDir: c.StoreFileDir,
		Redis: store.RedisConfig{
			Addr:     c.RedisAddr,
			DB:       c.RedisDB,
			Password: c.RedisPassword,
			Prefix:   c.RedisPrefix,
		},
		S3: store.S3Config{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			UseSSL:    c.S3UseSSL,
			Prefix:    c.S3Prefix,
		},
		DatabaseURL: c.DatabaseURL,
	}
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		MemoryCapacity:       c.MemoryEntries,
		PersistentCapacity:   c.PersistentEntries,
		CompressionThreshold: c.CompressionThreshold,
		CompressionRatio:     c.CompressionRatio,
		SessionExpiry:        c.SessionExpiry,
		PersistTimeout:       c.PersistTimeout,
		RenderTimeout:        c.RenderTimeout,
	}
}

// RenderOptions returns the configured default render options.
func (c *Config) RenderOptions() cache.RenderOptions {
	return cache.RenderOptions{
		Scale:          c.RenderScale,
		Quality:        c.RenderQuality,
		ThumbnailScale: c.ThumbnailScale,
		MaxPages:       c.MaxPages,
	}.WithDefaults()
}

// String prints the configuration with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Port: %d\n", c.Port))
	sb.WriteString(fmt.Sprintf("  DataDir: %s\n", c.DataDir))
	sb.WriteString(fmt.Sprintf("  StoreType: %s\n", c.StoreType))
	sb.WriteString(fmt.Sprintf("  MemoryEntries: %d\n", c.MemoryEntries))
	sb.WriteString(fmt.Sprintf("  PersistentEntries: %d\n", c.PersistentEntries))
	sb.WriteString(fmt.Sprintf("  SessionExpiry: %s\n", c.SessionExpiry))
	sb.WriteString(fmt.Sprintf("  RedisPassword: %s\n", mask(c.RedisPassword)))
	sb.WriteString(fmt.Sprintf("  S3SecretKey: %s\n", mask(c.S3SecretKey)))
	sb.WriteString(fmt.Sprintf("  DatabaseURL: %s\n", mask(c.DatabaseURL)))
	sb.WriteString(fmt.Sprintf("  UploadToken: %s\n", mask(c.UploadToken)))
	return sb.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "********"
}
