package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Fetch     FetchConfig
	Feeds     map[string]FeedConfig
	DB        DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Email     EmailConfig
	Retention RetentionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	APIToken     string
	RateLimitRPS float64
}

type WorkerConfig struct {
	Count           int
	FeedConcurrency int
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type FetchConfig struct {
	Timeout   time.Duration
	UserAgent string
}

type FeedConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type DatabaseConfig struct {
	Driver string
	Path   string
	URL    string
}

// DSN is what the selected driver opens.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.Path
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type EmailConfig struct {
	AllowedSenders []string
}

type RetentionConfig struct {
	Window          time.Duration
	ClusterLookback time.Duration
}

type LoggingConfig struct {
	Level string
}

// FetchedFeeds lists the feeds that download a payload, in run order.
var FetchedFeeds = []string{
	models.FeedGDACS,
	models.FeedReliefWeb,
	models.FeedUSGS,
	models.FeedNOAACAP,
	models.FeedNASAFIRMS,
	models.FeedCyclones,
}

var defaultFeedURLs = map[string]string{
	models.FeedGDACS:     "https://www.gdacs.org/xml/rss.xml",
	models.FeedReliefWeb: "https://reliefweb.int/disasters/rss.xml",
	models.FeedUSGS:      "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/2.5_day.atom",
	models.FeedNOAACAP:   "https://api.weather.gov/alerts/active.atom",
	models.FeedNASAFIRMS: "https://firms.modaps.eosdis.nasa.gov/data/active_fire/suomi-npp-viirs-c2/csv/SUOMI_VIIRS_C2_Global_24h.csv",
	models.FeedCyclones:  "https://www.nhc.noaa.gov/CurrentStorms.json",
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			APIToken:     getEnv("INGEST_API_TOKEN", ""),
			RateLimitRPS: getEnvFloat("RATE_LIMIT_RPS", 5),
		},
		Worker: WorkerConfig{
			Count:           getEnvInt("WORKER_COUNT", 3),
			FeedConcurrency: getEnvInt("FEED_CONCURRENCY", 2),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getEnvBool("SCHEDULER_ENABLED", true),
			Interval: getEnvDuration("SCHEDULE_INTERVAL", 10*time.Minute),
		},
		Fetch: FetchConfig{
			Timeout:   getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
			UserAgent: getEnv("FETCH_USER_AGENT", "go-disaster-ingest/1.0"),
		},
		Feeds: make(map[string]FeedConfig, len(FetchedFeeds)),
		DB: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			Path:   getEnv("DB_PATH", "./data/disasters.db"),
			URL:    getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "disaster-events"),
		},
		Email: EmailConfig{
			AllowedSenders: getEnvList("EMAIL_ALLOWED_SENDERS"),
		},
		Retention: RetentionConfig{
			Window:          getEnvDuration("RETENTION_WINDOW", 24*time.Hour),
			ClusterLookback: getEnvDuration("CLUSTER_LOOKBACK", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if path := os.Getenv("FEEDS_FILE"); path != "" {
		if err := cfg.loadFeedsFile(path); err != nil {
			return nil, err
		}
	}
	for _, name := range FetchedFeeds {
		prefix := envPrefix(name)
		fc, ok := cfg.Feeds[name]
		if !ok {
			fc = FeedConfig{URL: defaultFeedURLs[name], Enabled: true}
		}
		fc.URL = getEnv(prefix+"_URL", fc.URL)
		fc.Enabled = getEnvBool(prefix+"_ENABLED", fc.Enabled)
		cfg.Feeds[name] = fc
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type feedsFile struct {
	Feeds map[string]FeedConfig `yaml:"feeds"`
}

// loadFeedsFile seeds per-feed settings from YAML. Environment variables
// still win over anything set here.
func (c *Config) loadFeedsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading feeds file: %w", err)
	}
	var f feedsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("error parsing feeds file: %w", err)
	}
	for name, fc := range f.Feeds {
		if _, ok := defaultFeedURLs[name]; !ok {
			return fmt.Errorf("feeds file: unknown feed %q", name)
		}
		if fc.URL == "" {
			fc.URL = defaultFeedURLs[name]
		}
		c.Feeds[name] = fc
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Worker.FeedConcurrency < 1 {
		return fmt.Errorf("feed concurrency must be at least 1")
	}
	if c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("schedule interval must be at least 1 minute")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}

	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH is required for sqlite")
		}
	case "postgres":
		if c.DB.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("invalid db driver: %s", c.DB.Driver)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.Retention.Window <= 0 || c.Retention.ClusterLookback <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}

	for name, fc := range c.Feeds {
		if fc.Enabled && fc.URL == "" {
			return fmt.Errorf("feed %s is enabled but has no URL", name)
		}
	}

	return nil
}

// envPrefix turns "noaa-cap" into "NOAA_CAP".
func envPrefix(feed string) string {
	return strings.ToUpper(strings.ReplaceAll(feed, "-", "_"))
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
