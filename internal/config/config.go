package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	GitHub       GitHubConfig       `mapstructure:"github"`
	Tracker      TrackerConfig      `mapstructure:"tracker"`
	Notification NotificationConfig `mapstructure:"notification"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns URL if set, otherwise a key/value connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// MigrateURL returns a URL form usable by golang-migrate.
func (c DatabaseConfig) MigrateURL() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" validate:"required"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	QueueKey     string        `mapstructure:"queue_key" validate:"required"`
	DeadLetter   string        `mapstructure:"dead_letter_key" validate:"required"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

type GitHubConfig struct {
	Token             string        `mapstructure:"token"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=1"`
	PerPage           int           `mapstructure:"per_page" validate:"min=1,max=100"`
	MaxBranches       int           `mapstructure:"max_branches" validate:"gte=0"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type TrackerConfig struct {
	JobName        string        `mapstructure:"job_name" validate:"required"`
	BatchSize      int           `mapstructure:"batch_size" validate:"gte=1"`
	BatchDelay     time.Duration `mapstructure:"batch_delay" validate:"gte=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Lookback       time.Duration `mapstructure:"lookback" validate:"gtefield=PollInterval"`
	SnapshotTTL    time.Duration `mapstructure:"snapshot_ttl" validate:"gtfield=PollInterval"`
	ErrorThreshold int           `mapstructure:"error_threshold" validate:"gte=1"`
	LockTTL        time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
}

type NotificationConfig struct {
	JobName       string        `mapstructure:"job_name" validate:"required"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	InterJobDelay time.Duration `mapstructure:"inter_job_delay" validate:"gte=0"`
	MaxJobs       int           `mapstructure:"max_jobs" validate:"gte=0"`
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"gte=0"`
	LockTTL       time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required_if=Enabled true"`
	BaseURL  string `mapstructure:"base_url"`
}

type AuthConfig struct {
	CronSecret string `mapstructure:"cron_secret"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Secrets are read from the unprefixed environment and override the file.
type Secrets struct {
	CronSecret       string `envconfig:"CRON_SECRET"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	GitHubToken      string `envconfig:"GITHUB_TOKEN"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	RedisURL         string `envconfig:"REDIS_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 75*time.Second)
	v.SetDefault("server.requests_per_second", 20)
	v.SetDefault("server.burst", 40)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "repo_tracker")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.queue_key", "email-queue")
	v.SetDefault("redis.dead_letter_key", "email-queue:dead")
	v.SetDefault("redis.key_prefix", "activity:")

	v.SetDefault("github.base_url", "")
	v.SetDefault("github.requests_per_second", 10)
	v.SetDefault("github.burst", 10)
	v.SetDefault("github.per_page", 30)
	v.SetDefault("github.max_branches", 30)
	v.SetDefault("github.timeout", 20*time.Second)

	v.SetDefault("tracker.job_name", "check-trackers-job")
	v.SetDefault("tracker.batch_size", 5)
	v.SetDefault("tracker.batch_delay", 2*time.Second)
	v.SetDefault("tracker.poll_interval", 5*time.Minute)
	v.SetDefault("tracker.lookback", 60*time.Minute)
	v.SetDefault("tracker.snapshot_ttl", 10*time.Minute)
	v.SetDefault("tracker.error_threshold", 10)
	v.SetDefault("tracker.lock_ttl", 5*time.Minute)

	v.SetDefault("notification.job_name", "send-email-job")
	v.SetDefault("notification.poll_interval", time.Minute)
	v.SetDefault("notification.inter_job_delay", 100*time.Millisecond)
	v.SetDefault("notification.max_jobs", 100)
	v.SetDefault("notification.max_attempts", 0)
	v.SetDefault("notification.lock_ttl", 5*time.Minute)

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.port", 587)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// LoadConfig reads config.yml (optional), TRACKER_* environment variables and
// unprefixed secrets, then validates the result.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process("", &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	cfg.applySecrets(secrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	override := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	override(&c.Auth.CronSecret, s.CronSecret)
	override(&c.Auth.JWTSecret, s.JWTSecret)
	override(&c.GitHub.Token, s.GitHubToken)
	override(&c.SMTP.Password, s.SMTPPassword)
	override(&c.Database.Password, s.DatabasePassword)
	override(&c.Database.URL, s.DatabaseURL)
	override(&c.Redis.URL, s.RedisURL)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
