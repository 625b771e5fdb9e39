package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName string `yaml:"service_name"`
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"db_dsn"`
	StoreDriver string `yaml:"store_driver"`
	LogLevel    string `yaml:"log_level"`
	FrontendURL string `yaml:"frontend_url"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	NotifyMode        string        `yaml:"notify_mode"`
	NotifyWorkers     int           `yaml:"notify_workers"`
	NotifyBuffer      int           `yaml:"notify_buffer"`
	NotifySendTimeout time.Duration `yaml:"notify_send_timeout"`
	NotifyQueue       string        `yaml:"notify_queue"`
	ApproachWindow    int           `yaml:"approach_window"`
	ApproachThreshold int           `yaml:"approach_threshold"`

	EmailProvider     string `yaml:"email_provider"`
	EmailFrom         string `yaml:"email_from"`
	EmailWebhookURL   string `yaml:"email_webhook_url"`
	EmailWebhookToken string `yaml:"email_webhook_token"`

	PushProvider       string `yaml:"push_provider"`
	PubNubPublishKey   string `yaml:"pubnub_publish_key"`
	PubNubSubscribeKey string `yaml:"pubnub_subscribe_key"`
	PubNubUUID         string `yaml:"pubnub_uuid"`
	VAPIDPublicKey     string `yaml:"vapid_public_key"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	NoShowGrace     time.Duration `yaml:"no_show_grace"`
	NoShowInterval  time.Duration `yaml:"no_show_interval"`
	NoShowBatchSize int           `yaml:"no_show_batch_size"`
	SweepCron       string        `yaml:"sweep_cron"`

	RateLimitPerMinute      int `yaml:"rate_limit_per_min"`
	RateLimitBurst          int `yaml:"rate_limit_burst"`
	QueueRateLimitPerMinute int `yaml:"queue_rate_limit_per_min"`
	QueueRateLimitBurst     int `yaml:"queue_rate_limit_burst"`

	WorkerConcurrency int `yaml:"worker_concurrency"`

	// DevSessions maps session tokens to user ids. Only the memory store reads
	// it, since it has no session table of its own.
	DevSessions map[string]string `yaml:"dev_sessions"`
}

func defaults() Config {
	return Config{
		ServiceName:             "queue-service",
		Port:                    "8080",
		StoreDriver:             "postgres",
		LogLevel:                "info",
		FrontendURL:             "http://localhost:3000",
		RedisAddr:               "localhost:6379",
		NotifyMode:              "inline",
		NotifyWorkers:           2,
		NotifyBuffer:            256,
		NotifySendTimeout:       10 * time.Second,
		NotifyQueue:             "notifications",
		ApproachWindow:          3,
		ApproachThreshold:       2,
		EmailProvider:           "log",
		EmailFrom:               "SkipLine <no-reply@skipline.local>",
		PushProvider:            "log",
		AMQPExchange:            "queue_events",
		NoShowInterval:          30 * time.Second,
		NoShowBatchSize:         100,
		SweepCron:               "@every 30s",
		RateLimitPerMinute:      120,
		RateLimitBurst:          30,
		QueueRateLimitPerMinute: 600,
		QueueRateLimitBurst:     120,
		WorkerConcurrency:       10,
	}
}

// Load reads defaults, then the optional YAML file named by CONFIG_FILE, then
// environment variables. Later sources win.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServiceName = readString("OTEL_SERVICE_NAME", c.ServiceName)
	c.Port = readString("PORT", c.Port)
	c.DatabaseURL = readString("DB_DSN", c.DatabaseURL)
	c.StoreDriver = readString("STORE_DRIVER", c.StoreDriver)
	c.LogLevel = readString("LOG_LEVEL", c.LogLevel)
	c.FrontendURL = readString("FRONTEND_URL", c.FrontendURL)

	c.RedisAddr = readString("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = readString("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = readInt("REDIS_DB", c.RedisDB)

	c.NotifyMode = readString("NOTIFY_MODE", c.NotifyMode)
	c.NotifyWorkers = readInt("NOTIFY_WORKERS", c.NotifyWorkers)
	c.NotifyBuffer = readInt("NOTIFY_BUFFER", c.NotifyBuffer)
	c.NotifySendTimeout = readDurationSeconds("NOTIFY_SEND_TIMEOUT_SECONDS", c.NotifySendTimeout)
	c.NotifyQueue = readString("NOTIFY_QUEUE", c.NotifyQueue)
	c.ApproachWindow = readInt("APPROACH_WINDOW", c.ApproachWindow)
	c.ApproachThreshold = readInt("APPROACH_THRESHOLD", c.ApproachThreshold)

	c.EmailProvider = readString("EMAIL_PROVIDER", c.EmailProvider)
	c.EmailFrom = readString("EMAIL_FROM", c.EmailFrom)
	c.EmailWebhookURL = readString("EMAIL_WEBHOOK_URL", c.EmailWebhookURL)
	c.EmailWebhookToken = readString("EMAIL_WEBHOOK_TOKEN", c.EmailWebhookToken)

	c.PushProvider = readString("PUSH_PROVIDER", c.PushProvider)
	c.PubNubPublishKey = readString("PUBNUB_PUBLISH_KEY", c.PubNubPublishKey)
	c.PubNubSubscribeKey = readString("PUBNUB_SUBSCRIBE_KEY", c.PubNubSubscribeKey)
	c.PubNubUUID = readString("PUBNUB_UUID", c.PubNubUUID)
	c.VAPIDPublicKey = readString("VAPID_PUBLIC_KEY", c.VAPIDPublicKey)

	c.AMQPURL = readString("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = readString("AMQP_EXCHANGE", c.AMQPExchange)

	c.NoShowGrace = readDurationSeconds("NO_SHOW_GRACE_SECONDS", c.NoShowGrace)
	c.NoShowInterval = readDurationSeconds("NO_SHOW_SCAN_INTERVAL_SECONDS", c.NoShowInterval)
	c.NoShowBatchSize = readInt("NO_SHOW_BATCH_SIZE", c.NoShowBatchSize)
	c.SweepCron = readString("SWEEP_CRON", c.SweepCron)

	c.RateLimitPerMinute = readInt("RATE_LIMIT_PER_MIN", c.RateLimitPerMinute)
	c.RateLimitBurst = readInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.QueueRateLimitPerMinute = readInt("QUEUE_RATE_LIMIT_PER_MIN", c.QueueRateLimitPerMinute)
	c.QueueRateLimitBurst = readInt("QUEUE_RATE_LIMIT_BURST", c.QueueRateLimitBurst)

	c.WorkerConcurrency = readInt("WORKER_CONCURRENCY", c.WorkerConcurrency)

	c.DevSessions = readPairs("DEV_SESSIONS", c.DevSessions)
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DB_DSN is required when STORE_DRIVER=postgres")
	}
	switch c.NotifyMode {
	case "inline", "asynq", "off":
	default:
		return fmt.Errorf("unknown NOTIFY_MODE %q", c.NotifyMode)
	}
	return nil
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// readDurationSeconds reads a whole number of seconds. Zero or negative
// values disable the feature the duration controls.
func readDurationSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// readPairs reads a comma separated list of key=value pairs. A malformed list
// leaves the fallback in place.
func readPairs(key string, fallback map[string]string) map[string]string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return fallback
		}
		out[k] = v
	}
	return out
}
