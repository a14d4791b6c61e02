package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Inbound  InboundConfig  `mapstructure:"inbound"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Dedup    struct {
		Prefix string        `mapstructure:"prefix"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"dedup"`
}

// InboundConfig drives the reply-ingestion pipeline: how replies are routed
// back to their notification, which messages are rejected as automated, and
// which directives replies may carry.
type InboundConfig struct {
	// ReplyAddress is the outbound template, e.g. "reply+%{key}@example.com".
	// Sub-addressing is enabled when the template contains the key marker.
	ReplyAddress string `mapstructure:"reply_address"`
	// KeyDelimiter separates the mailbox from the reply key in the
	// local-part ("+" for reply+KEY@host).
	KeyDelimiter string `mapstructure:"key_delimiter"`
	// AutoReplyHeaders overrides the built-in auto-submitted indicator set.
	AutoReplyHeaders []string `mapstructure:"auto_reply_headers"`
	// Commands restricts the recognized directive vocabulary; empty means
	// the full built-in vocabulary.
	Commands []string `mapstructure:"commands"`
	// BodyLimit caps how many body bytes a single part may contribute.
	BodyLimit int64 `mapstructure:"body_limit"`
	// AttachmentLimit caps the bytes buffered per attachment.
	AttachmentLimit int64 `mapstructure:"attachment_limit"`
	// MaxMessageSize caps how large a fetched message may be before the
	// connectors skip it without dispatching.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// Accounts lists the mailboxes the dispatcher polls.
	Accounts []AccountConfig `mapstructure:"accounts"`
	// PollSchedule is the cron expression for mailbox polling.
	PollSchedule string `mapstructure:"poll_schedule"`
}

type AccountConfig struct {
	Type     string `mapstructure:"type"` // pop3, pop3s, imap, imaps
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"`
}

type StorageConfig struct {
	Type    string `mapstructure:"type"` // fs, db
	Path    string `mapstructure:"path"`
	BaseURL string `mapstructure:"base_url"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load initializes the configuration once for the process.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := newViper()
		v.SetConfigName("config")
		v.AddConfigPath(configPath)
		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config: %w", readErr)
				return
			}
		}
		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}
		cfg = loaded
	})
	return err
}

// LoadFromFile loads configuration from a specific file (useful for testing)
func LoadFromFile(configFile string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return loaded, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REPLYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "replyflow")
	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.dedup.prefix", "replyflow:seen:")
	v.SetDefault("redis.dedup.ttl", 72*time.Hour)
	v.SetDefault("inbound.reply_address", "reply+%{key}@localhost")
	v.SetDefault("inbound.key_delimiter", "+")
	v.SetDefault("inbound.body_limit", int64(128*1024))
	v.SetDefault("inbound.attachment_limit", int64(25*1024*1024))
	v.SetDefault("inbound.max_message_size", int64(50*1024*1024))
	v.SetDefault("inbound.poll_schedule", "0 * * * * *")
	v.SetDefault("storage.type", "fs")
	v.SetDefault("storage.path", "storage/attachments")
	v.SetDefault("storage.base_url", "/uploads")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// GetDSN returns the database connection string for the active driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
		)
	case "sqlite3", "sqlite":
		return c.Name
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Name)
	}
}

// GetRedisAddr returns the Redis server address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetServerAddr returns the server listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SubAddressingEnabled reports whether reply keys ride in the local-part
// of the recipient address.
func (c *InboundConfig) SubAddressingEnabled() bool {
	return strings.Contains(c.ReplyAddress, "%{key}")
}

// ReplyAddressFor renders the outbound reply address for a key.
func (c *InboundConfig) ReplyAddressFor(key string) string {
	return strings.ReplaceAll(c.ReplyAddress, "%{key}", key)
}
