package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the vidmatch server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Embed    EmbedConfig
	Pipeline PipelineConfig
	Search   SearchConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	Region       string
	VideoBucket  string
	PresignTTL   time.Duration
	UploadTTL    time.Duration
	CheckRetries int
	CheckDelay   time.Duration
}

type QueueConfig struct {
	URL            string
	StreamName     string
	UploadSubject  string
	TrackSubject   string
	BatchSize      int
	FetchWait      time.Duration
	VisibilityTime time.Duration
}

type EmbedConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	ClipLength int
	Scopes     []string
	Timeout    time.Duration
	CacheDays  int
}

type PipelineConfig struct {
	MaxAttempts int
}

type SearchConfig struct {
	PageLimit     int
	MinSimilarity float64
}

var validProviders = map[string]bool{
	"twelvelabs": true,
	"mock":       true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VIDMATCH_PORT", 8080),
			Env:  envString("VIDMATCH_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectAttempts: envInt("DATABASE_CONNECT_ATTEMPTS", 3),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:     envString("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:    os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:    os.Getenv("STORAGE_SECRET_KEY"),
			UseSSL:       envBool("STORAGE_USE_SSL", false),
			Region:       os.Getenv("STORAGE_REGION"),
			VideoBucket:  envString("STORAGE_VIDEO_BUCKET", "videos"),
			PresignTTL:   envDurationSecs("PRESIGNED_URL_TTL_SECS", 600*time.Second),
			UploadTTL:    envDurationSecs("UPLOAD_URL_TTL_SECS", 3600*time.Second),
			CheckRetries: envInt("FILE_CHECK_RETRIES", 3),
			CheckDelay:   envDurationSecs("FILE_CHECK_DELAY_SECS", 2*time.Second),
		},
		Queue: QueueConfig{
			URL:            envString("NATS_URL", "nats://localhost:4222"),
			StreamName:     envString("QUEUE_STREAM", "VIDEOS"),
			UploadSubject:  envString("QUEUE_UPLOAD_SUBJECT", "videos.uploaded"),
			TrackSubject:   envString("QUEUE_TRACK_SUBJECT", "videos.tracking"),
			BatchSize:      envInt("QUEUE_BATCH_SIZE", 10),
			FetchWait:      envDurationSecs("QUEUE_FETCH_WAIT_SECS", 5*time.Second),
			VisibilityTime: envDurationSecs("QUEUE_VISIBILITY_TIMEOUT_SECS", 25*time.Second),
		},
		Embed: EmbedConfig{
			Provider:   envString("EMBED_PROVIDER", "twelvelabs"),
			BaseURL:    envString("EMBED_BASE_URL", "https://api.twelvelabs.io/v1.3"),
			APIKey:     os.Getenv("EMBED_API_KEY"),
			Model:      envString("EMBED_MODEL", "Marengo-retrieval-2.7"),
			ClipLength: envInt("EMBED_CLIP_LENGTH", 6),
			Scopes:     envList("EMBED_SCOPES", []string{"clip", "video"}),
			Timeout:    envDurationSecs("EMBED_TIMEOUT_SECS", 30*time.Second),
			CacheDays:  envInt("EMBED_CACHE_TTL_DAYS", 30),
		},
		Pipeline: PipelineConfig{
			MaxAttempts: envInt("TASK_MAX_ATTEMPTS", 120),
		},
		Search: SearchConfig{
			PageLimit:     envInt("SEARCH_PAGE_LIMIT", 10),
			MinSimilarity: envFloat("SEARCH_MIN_SIMILARITY", 0.2),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required")
	}

	if !validProviders[c.Embed.Provider] {
		return fmt.Errorf("EMBED_PROVIDER must be one of twelvelabs, mock; got %q", c.Embed.Provider)
	}
	if c.Embed.Provider == "twelvelabs" && c.Embed.APIKey == "" {
		return fmt.Errorf("EMBED_API_KEY is required when EMBED_PROVIDER is twelvelabs")
	}
	if c.Embed.ClipLength <= 0 {
		return fmt.Errorf("EMBED_CLIP_LENGTH must be positive, got %d", c.Embed.ClipLength)
	}

	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity >= 1 {
		return fmt.Errorf("SEARCH_MIN_SIMILARITY must be in [0, 1), got %v", c.Search.MinSimilarity)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
