package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the font search system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ProvidersConfig contains LLM provider configurations
type ProvidersConfig struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig configures the generation and enrichment model
type GeminiConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig configures the embedding producers. The multimodal endpoint
// is primary; the text endpoint is the fallback.
type EmbeddingConfig struct {
	MultimodalEndpoint string        `mapstructure:"multimodal_endpoint"`
	MultimodalAPIKey   string        `mapstructure:"multimodal_api_key"`
	TextBaseURL        string        `mapstructure:"text_base_url"`
	TextAPIKey         string        `mapstructure:"text_api_key"`
	TextModel          string        `mapstructure:"text_model"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// StorageConfig groups the persistence backends
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string from the configured pieces.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + p.Port,
		Path:   "/" + p.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("storage.redis.addr required")
	}
	return nil
}

// RetrievalConfig tunes vector search and the re-ranking strategy
type RetrievalConfig struct {
	Strategy       string  `mapstructure:"strategy"` // baseline or intervention
	TopK           int     `mapstructure:"top_k"`
	Threshold      float64 `mapstructure:"threshold"`
	VintagePenalty float64 `mapstructure:"vintage_penalty"`
	StrictPenalty  float64 `mapstructure:"strict_penalty"`
}

// Normalize applies sensible defaults when values are omitted.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.TopK <= 0 {
		r.TopK = 20
	}
	if r.Threshold <= 0 {
		r.Threshold = 0.5
	}
	return r
}

// CacheConfig tunes the semantic query cache
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold float64       `mapstructure:"threshold"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Normalize applies sensible defaults when values are omitted.
func (c CacheConfig) Normalize() CacheConfig {
	if c.Threshold <= 0 {
		c.Threshold = 0.95
	}
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	return c
}

// QueueConfig tunes the enrichment queue and its workers
type QueueConfig struct {
	WorkerEnabled bool          `mapstructure:"worker_enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	StallAfter    time.Duration `mapstructure:"stall_after"`
}

// Normalize applies sensible defaults when values are omitted.
func (q QueueConfig) Normalize() QueueConfig {
	if q.PollInterval <= 0 {
		q.PollInterval = 5 * time.Second
	}
	if q.BackoffBase <= 0 {
		q.BackoffBase = 30 * time.Second
	}
	if q.StallAfter <= 0 {
		q.StallAfter = 10 * time.Minute
	}
	return q
}

// SeedConfig tunes catalog backfill seeding
type SeedConfig struct {
	WebfontsAPIKey string `mapstructure:"webfonts_api_key"`
	Schedule       string `mapstructure:"schedule"`
	Limit          int    `mapstructure:"limit"`
}

// Normalize applies sensible defaults when values are omitted.
func (s SeedConfig) Normalize() SeedConfig {
	if s.Schedule == "" {
		s.Schedule = "@daily"
	}
	return s
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("retrieval.strategy", "baseline")
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("queue.worker_enabled", true)

	if path == "" {
		viper.AddConfigPath("./config") // path to look for the config file in
		viper.AddConfigPath(".")        // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("FONTDEX")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (FONTDEX_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Retrieval = config.Retrieval.Normalize()
	config.Cache = config.Cache.Normalize()
	config.Queue = config.Queue.Normalize()
	config.Seed = config.Seed.Normalize()

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}

	return &config
}
