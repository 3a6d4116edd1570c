package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	FanOut       FanOutConfig
	ChangeFeed   ChangeFeedConfig
	Live         LiveConfig
	Hub          HubConfig
	Reconcile    ReconcileConfig
	Notification NotificationConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// DSN renders the libpq keyword/value connection string understood by both lib/pq and pgx.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig only covers verification; tokens are issued by the identity subsystem.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// FanOutConfig tunes the notification dispatcher.
type FanOutConfig struct {
	Workers         int
	WriteTimeout    time.Duration
	ResolveAttempts int
	ResolveBackoff  time.Duration
	QueueWorkers    int
	QueueBuffer     int
	QueueRetries    int
	QueueRetryDelay time.Duration
}

// ChangeFeedConfig controls the per-table content subscribers.
type ChangeFeedConfig struct {
	Enabled         bool
	Channel         string
	Tables          []string
	PageSize        int
	ReconnectDelay  time.Duration
	DispatchTimeout time.Duration
}

// LiveConfig governs dashboard live sessions.
type LiveConfig struct {
	QueueSize    int
	PingInterval time.Duration
	WriteTimeout time.Duration
	RelayEnabled bool
	RelayChannel string
}

// HubConfig sets hub digest stream sizes and caching.
type HubConfig struct {
	AssignmentsLimit   int
	AnnouncementsLimit int
	StudyGroupsLimit   int
	EventsLimit        int
	NotificationsLimit int
	SubmissionsLimit   int
	CandidateLimit     int
	CacheEnabled       bool
	CacheTTL           time.Duration
}

// ReconcileConfig drives the periodic fan-out reconciliation sweep.
type ReconcileConfig struct {
	Enabled  bool
	Interval time.Duration
	Window   time.Duration
}

// NotificationConfig governs list defaults and retention.
type NotificationConfig struct {
	DefaultLimit    int
	MaxLimit        int
	Retention       time.Duration
	CleanupInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.FanOut = FanOutConfig{
		Workers:         v.GetInt("FANOUT_WORKERS"),
		WriteTimeout:    parseDuration(v.GetString("FANOUT_WRITE_TIMEOUT"), 3*time.Second),
		ResolveAttempts: v.GetInt("FANOUT_RESOLVE_ATTEMPTS"),
		ResolveBackoff:  parseDuration(v.GetString("FANOUT_RESOLVE_BACKOFF"), 200*time.Millisecond),
		QueueWorkers:    v.GetInt("FANOUT_QUEUE_WORKERS"),
		QueueBuffer:     v.GetInt("FANOUT_QUEUE_BUFFER"),
		QueueRetries:    v.GetInt("FANOUT_QUEUE_RETRIES"),
		QueueRetryDelay: parseDuration(v.GetString("FANOUT_QUEUE_RETRY_DELAY"), 5*time.Second),
	}

	cfg.ChangeFeed = ChangeFeedConfig{
		Enabled:         v.GetBool("CHANGEFEED_ENABLED"),
		Channel:         v.GetString("CHANGEFEED_CHANNEL"),
		Tables:          splitAndTrim(v.GetString("CHANGEFEED_TABLES")),
		PageSize:        v.GetInt("CHANGEFEED_PAGE_SIZE"),
		ReconnectDelay:  parseDuration(v.GetString("CHANGEFEED_RECONNECT_DELAY"), 5*time.Second),
		DispatchTimeout: parseDuration(v.GetString("CHANGEFEED_DISPATCH_TIMEOUT"), 30*time.Second),
	}

	cfg.Live = LiveConfig{
		QueueSize:    v.GetInt("LIVE_QUEUE_SIZE"),
		PingInterval: parseDuration(v.GetString("LIVE_PING_INTERVAL"), 30*time.Second),
		WriteTimeout: parseDuration(v.GetString("LIVE_WRITE_TIMEOUT"), 10*time.Second),
		RelayEnabled: v.GetBool("LIVE_RELAY_ENABLED"),
		RelayChannel: v.GetString("LIVE_RELAY_CHANNEL"),
	}

	cfg.Hub = HubConfig{
		AssignmentsLimit:   v.GetInt("HUB_ASSIGNMENTS_LIMIT"),
		AnnouncementsLimit: v.GetInt("HUB_ANNOUNCEMENTS_LIMIT"),
		StudyGroupsLimit:   v.GetInt("HUB_STUDY_GROUPS_LIMIT"),
		EventsLimit:        v.GetInt("HUB_EVENTS_LIMIT"),
		NotificationsLimit: v.GetInt("HUB_NOTIFICATIONS_LIMIT"),
		SubmissionsLimit:   v.GetInt("HUB_SUBMISSIONS_LIMIT"),
		CandidateLimit:     v.GetInt("HUB_CANDIDATE_LIMIT"),
		CacheEnabled:       v.GetBool("HUB_CACHE_ENABLED"),
		CacheTTL:           parseDuration(v.GetString("HUB_CACHE_TTL"), time.Minute),
	}

	cfg.Reconcile = ReconcileConfig{
		Enabled:  v.GetBool("RECONCILE_ENABLED"),
		Interval: parseDuration(v.GetString("RECONCILE_INTERVAL"), 10*time.Minute),
		Window:   parseDuration(v.GetString("RECONCILE_WINDOW"), 24*time.Hour),
	}

	cfg.Notification = NotificationConfig{
		DefaultLimit:    v.GetInt("NOTIFICATIONS_DEFAULT_LIMIT"),
		MaxLimit:        v.GetInt("NOTIFICATIONS_MAX_LIMIT"),
		Retention:       parseDuration(v.GetString("NOTIFICATION_RETENTION"), 30*24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("NOTIFICATION_CLEANUP_INTERVAL"), time.Hour),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_feed")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("FANOUT_WORKERS", 8)
	v.SetDefault("FANOUT_WRITE_TIMEOUT", "3s")
	v.SetDefault("FANOUT_RESOLVE_ATTEMPTS", 3)
	v.SetDefault("FANOUT_RESOLVE_BACKOFF", "200ms")
	v.SetDefault("FANOUT_QUEUE_WORKERS", 2)
	v.SetDefault("FANOUT_QUEUE_BUFFER", 256)
	v.SetDefault("FANOUT_QUEUE_RETRIES", 5)
	v.SetDefault("FANOUT_QUEUE_RETRY_DELAY", "5s")

	v.SetDefault("CHANGEFEED_ENABLED", true)
	v.SetDefault("CHANGEFEED_CHANNEL", "content_changes")
	v.SetDefault("CHANGEFEED_TABLES", "assignments,announcements,study_groups,events,submissions,grades")
	v.SetDefault("CHANGEFEED_PAGE_SIZE", 200)
	v.SetDefault("CHANGEFEED_RECONNECT_DELAY", "5s")
	v.SetDefault("CHANGEFEED_DISPATCH_TIMEOUT", "30s")

	v.SetDefault("LIVE_QUEUE_SIZE", 32)
	v.SetDefault("LIVE_PING_INTERVAL", "30s")
	v.SetDefault("LIVE_WRITE_TIMEOUT", "10s")
	v.SetDefault("LIVE_RELAY_ENABLED", false)
	v.SetDefault("LIVE_RELAY_CHANNEL", "campus_feed:live")

	v.SetDefault("HUB_ASSIGNMENTS_LIMIT", 5)
	v.SetDefault("HUB_ANNOUNCEMENTS_LIMIT", 3)
	v.SetDefault("HUB_STUDY_GROUPS_LIMIT", 3)
	v.SetDefault("HUB_EVENTS_LIMIT", 3)
	v.SetDefault("HUB_NOTIFICATIONS_LIMIT", 5)
	v.SetDefault("HUB_SUBMISSIONS_LIMIT", 5)
	v.SetDefault("HUB_CANDIDATE_LIMIT", 200)
	v.SetDefault("HUB_CACHE_ENABLED", false)
	v.SetDefault("HUB_CACHE_TTL", "1m")

	v.SetDefault("RECONCILE_ENABLED", true)
	v.SetDefault("RECONCILE_INTERVAL", "10m")
	v.SetDefault("RECONCILE_WINDOW", "24h")

	v.SetDefault("NOTIFICATIONS_DEFAULT_LIMIT", 50)
	v.SetDefault("NOTIFICATIONS_MAX_LIMIT", 200)
	v.SetDefault("NOTIFICATION_RETENTION", "720h")
	v.SetDefault("NOTIFICATION_CLEANUP_INTERVAL", "1h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
