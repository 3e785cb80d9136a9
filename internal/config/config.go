package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "AVATAR"

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	API     APIConfig     `mapstructure:"api"`
	Media   MediaConfig   `mapstructure:"media"`
	Socket  SocketConfig  `mapstructure:"socket"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Codec   CodecConfig   `mapstructure:"codec"`
	Session SessionConfig `mapstructure:"session"`
}

type APIConfig struct {
	Token    string `mapstructure:"token"`
	BasePath string `mapstructure:"base_path"`
	// SocketURL overrides the control socket endpoint derived from BasePath.
	SocketURL string        `mapstructure:"socket_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type MediaConfig struct {
	ICEServers     []string      `mapstructure:"ice_servers"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type SocketConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type AudioConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	SampleRate       int           `mapstructure:"sample_rate"`
	Channels         int           `mapstructure:"channels"`
	BlockSize        int           `mapstructure:"block_size"`
	Warmup           time.Duration `mapstructure:"warmup"`
	EchoCancellation bool          `mapstructure:"echo_cancellation"`
	NoiseSuppression bool          `mapstructure:"noise_suppression"`
	AutoGainControl  bool          `mapstructure:"auto_gain_control"`
}

type CodecConfig struct {
	SchemaPath  string `mapstructure:"schema_path"`
	MessageName string `mapstructure:"message_name"`
}

// SessionConfig holds the defaults applied to start requests that leave
// the corresponding field empty.
type SessionConfig struct {
	AvatarName          string `mapstructure:"avatar_name"`
	Quality             string `mapstructure:"quality"`
	Language            string `mapstructure:"language"`
	VoiceID             string `mapstructure:"voice_id"`
	ActivityIdleTimeout int    `mapstructure:"activity_idle_timeout"`
	DisableIdleTimeout  bool   `mapstructure:"disable_idle_timeout"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName on top of the defaults. A missing file is not an
// error. AVATAR_* environment variables override both, e.g. AVATAR_API_TOKEN.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("api", cfg.API.BasePath).Msg("config")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("api.token", "")
	v.SetDefault("api.base_path", "https://api.heygen.com")
	v.SetDefault("api.socket_url", "")
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.connect_timeout", "20s")

	v.SetDefault("socket.read_limit", 32768)
	v.SetDefault("socket.ping_period", "54s")
	v.SetDefault("socket.write_timeout", "5s")
	v.SetDefault("socket.send_buffer", 64)

	v.SetDefault("audio.enabled", true)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.block_size", 4096)
	v.SetDefault("audio.warmup", "2s")
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.auto_gain_control", true)

	v.SetDefault("codec.schema_path", "")
	v.SetDefault("codec.message_name", "")

	v.SetDefault("session.avatar_name", "")
	v.SetDefault("session.quality", "high")
	v.SetDefault("session.language", "")
	v.SetDefault("session.voice_id", "")
	v.SetDefault("session.activity_idle_timeout", 0)
	v.SetDefault("session.disable_idle_timeout", false)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.API.Token == "" {
		errs = append(errs, errors.New("api.token is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 1 {
		errs = append(errs, fmt.Errorf("audio.channels must be at least 1, got %d", c.Audio.Channels))
	}
	if c.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", c.Audio.BlockSize))
	}
	switch c.Session.Quality {
	case "", "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("session.quality %q is not one of low, medium, high", c.Session.Quality))
	}
	return errors.Join(errs...)
}

// SocketBase is the control socket endpoint: the configured override, or
// the API host with a websocket scheme.
func (c *Config) SocketBase(path string) string {
	if c.API.SocketURL != "" {
		return c.API.SocketURL
	}
	base := strings.TrimRight(c.API.BasePath, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}
