package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eleven-am/voice-bridge/internal/audio"
	"github.com/eleven-am/voice-bridge/internal/gateway"
	"github.com/eleven-am/voice-bridge/internal/live"
	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr  string `mapstructure:"server_addr"`
	LogLevel    string `mapstructure:"log_level"`
	AccessToken string `mapstructure:"access_token"`

	DatabaseDSN string `mapstructure:"database_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	GeminiAPIKey   string `mapstructure:"gemini_api_key"`
	GeminiBackend  string `mapstructure:"gemini_backend"`
	GeminiProject  string `mapstructure:"gemini_project"`
	GeminiLocation string `mapstructure:"gemini_location"`

	Model             string `mapstructure:"gemini_model"`
	Voice             string `mapstructure:"gemini_voice"`
	SystemInstruction string `mapstructure:"system_instruction"`
	FrameSize         int    `mapstructure:"frame_size"`
	SendQueueSize     int    `mapstructure:"send_queue_size"`
	RestartPolicy     string `mapstructure:"restart_policy"`

	MetricsFlushInterval time.Duration `mapstructure:"metrics_flush_interval"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("access_token", "")

	v.SetDefault("database_dsn", "")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_backend", "gemini")
	v.SetDefault("gemini_project", "")
	v.SetDefault("gemini_location", "")

	v.SetDefault("gemini_model", live.DefaultModel)
	v.SetDefault("gemini_voice", live.DefaultVoice)
	v.SetDefault("system_instruction", "")
	v.SetDefault("frame_size", live.DefaultFrameSize)
	v.SetDefault("send_queue_size", live.DefaultSendQueueSize)
	v.SetDefault("restart_policy", string(live.RestartReject))

	v.SetDefault("metrics_flush_interval", 30*time.Second)
	v.SetDefault("rate_limit_rps", gateway.DefaultRateLimiterConfig().RequestsPerSecond)
	v.SetDefault("rate_limit_burst", gateway.DefaultRateLimiterConfig().Burst)
}

// LoadConfig reads defaults, then the optional file named by CONFIG_FILE,
// then the environment. Keys map to upper-case environment variables
// (gemini_api_key -> GEMINI_API_KEY).
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch live.RestartPolicy(c.RestartPolicy) {
	case live.RestartReject, live.RestartReplace:
	default:
		return fmt.Errorf("invalid restart_policy %q: want %q or %q", c.RestartPolicy, live.RestartReject, live.RestartReplace)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", c.FrameSize)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send_queue_size must be positive, got %d", c.SendQueueSize)
	}
	if c.MetricsFlushInterval <= 0 {
		return fmt.Errorf("metrics_flush_interval must be positive, got %s", c.MetricsFlushInterval)
	}
	return nil
}

func (c *Config) LiveConfig() live.Config {
	return live.Config{
		Model:             c.Model,
		Voice:             c.Voice,
		SystemInstruction: c.SystemInstruction,
		InputSampleRate:   audio.InputSampleRate,
		OutputSampleRate:  audio.OutputSampleRate,
		Channels:          audio.Channels,
		FrameSize:         c.FrameSize,
		SendQueueSize:     c.SendQueueSize,
		RestartPolicy:     live.ParseRestartPolicy(c.RestartPolicy),
	}
}

func (c *Config) RateLimiterConfig() gateway.RateLimiterConfig {
	cfg := gateway.DefaultRateLimiterConfig()
	if c.RateLimitRPS > 0 {
		cfg.RequestsPerSecond = c.RateLimitRPS
	}
	if c.RateLimitBurst > 0 {
		cfg.Burst = c.RateLimitBurst
	}
	return cfg
}
