// Package config loads petchat.yaml plus PETCHAT_* environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"PetChat/tools/errs"
)

type Server struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	WSPort        int    `mapstructure:"ws_port"`
	AdminPort     int    `mapstructure:"admin_port"`
	FanoutWorkers int    `mapstructure:"fanout_workers"`
	FanoutQueue   int    `mapstructure:"fanout_queue"`
	AIWorkers     int    `mapstructure:"ai_workers"`
	AIQueue       int    `mapstructure:"ai_queue"`
}

type Relay struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	StatusPort    int           `mapstructure:"status_port"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	MonitorPeriod time.Duration `mapstructure:"monitor_period"`
}

type Client struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	UserID            string        `mapstructure:"user_id"`
	UserName          string        `mapstructure:"user_name"`
	Avatar            string        `mapstructure:"avatar"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
}

type AI struct {
	Provider    string        `mapstructure:"provider"` // openai / gemini / mock
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`

	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

type Storage struct {
	Backend string `mapstructure:"backend"` // none / sqlite / redis
	Path    string `mapstructure:"path"`    // sqlite file

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type NATS struct {
	URL    string `mapstructure:"url"` // empty disables the bridge
	Prefix string `mapstructure:"prefix"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Config struct {
	Server  Server  `mapstructure:"server"`
	Relay   Relay   `mapstructure:"relay"`
	Client  Client  `mapstructure:"client"`
	AI      AI      `mapstructure:"ai"`
	Storage Storage `mapstructure:"storage"`
	NATS    NATS    `mapstructure:"nats"`
	Log     Log     `mapstructure:"log"`
}

// Load reads the named config file. An empty path falls back to petchat.yaml
// in the working directory; a missing file is not an error, environment
// variables and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("petchat")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("PETCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && path != "" {
			return nil, errs.Wrap(err, "read config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errs.Wrap(err, "unmarshal config")
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8888)
	v.SetDefault("server.ws_port", 0)
	v.SetDefault("server.admin_port", 0)

	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 9999)
	v.SetDefault("relay.status_port", 0)
	v.SetDefault("relay.stale_after", "5m")
	v.SetDefault("relay.monitor_period", "30s")

	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.port", 8888)
	v.SetDefault("client.connect_timeout", "10s")
	v.SetDefault("client.heartbeat_interval", "15s")
	v.SetDefault("client.heartbeat_timeout", "45s")
	v.SetDefault("client.reconnect_base", "1s")
	v.SetDefault("client.reconnect_max", "30s")

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.model", "qwen3-4b-instruct-2507")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.max_tokens", 500)
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.retry_base_delay", "1s")
	v.SetDefault("ai.retry_max_delay", "30s")
	v.SetDefault("ai.failure_threshold", 5)
	v.SetDefault("ai.recovery_timeout", "30s")

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.path", "petchat.db")
	v.SetDefault("storage.redis_addr", "127.0.0.1:6379")

	v.SetDefault("nats.prefix", "petchat")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}
