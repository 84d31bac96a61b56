package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Dial/internal/app/billing"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DIAL"

// Config is the server configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Signal SignalConfig  `mapstructure:"signal"`
	Calls  CallsConfig   `mapstructure:"calls"`
	Users  []domain.User `mapstructure:"users"`
}

// SignalConfig bounds each WebSocket connection.
type SignalConfig struct {
	SendQueue int `mapstructure:"send_queue"`
	// Rate is the sustained inbound envelopes per second; Burst the bucket size.
	Rate  float64 `mapstructure:"rate"`
	Burst int64   `mapstructure:"burst"`
}

type CallsConfig struct {
	Tariff       billing.Tariff `mapstructure:"tariff"`
	DefaultPrice float64        `mapstructure:"default_price"`
	// At most InitiateLimit initiations per user within InitiateWindow.
	InitiateLimit  int           `mapstructure:"initiate_limit"`
	InitiateWindow time.Duration `mapstructure:"initiate_window"`
}

// ClientConfig is the call agent configuration.
type ClientConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	UserID             string        `mapstructure:"user_id"`
	LogLevel           string        `mapstructure:"log_level"`
	Media              string        `mapstructure:"media"`
	STUN               []string      `mapstructure:"stun"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	APITimeout         time.Duration `mapstructure:"api_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	ICERestartGrace    time.Duration `mapstructure:"ice_restart_grace"`
	SaveDir            string        `mapstructure:"save_dir"`
}

// DefaultSTUN is used when no STUN servers are configured. There is no TURN.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func newViper(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/%s.%s.yaml", name, env))
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(v *viper.Viper) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
}

// Load reads the server configuration from config/config.<CONFIG_ENV>.yaml
// and DIAL_* environment variables.
func Load() (*Config, error) {
	v := newViper("config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 8<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "dial-dev-secret")
	v.SetDefault("signal.send_queue", 64)
	v.SetDefault("signal.rate", 50)
	v.SetDefault("signal.burst", 200)
	tariff := billing.DefaultTariff()
	v.SetDefault("calls.tariff.min_cost", tariff.MinCost)
	v.SetDefault("calls.tariff.min_balance", tariff.MinBalance)
	v.SetDefault("calls.tariff.platform_fee", tariff.PlatformFee)
	v.SetDefault("calls.default_price", 1.0)
	v.SetDefault("calls.initiate_limit", 5)
	v.SetDefault("calls.initiate_window", "1m")

	read(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("users", len(cfg.Users)).Msg("server config")
	return &cfg, nil
}

// ClientFlags declares the command-line flags LoadClient understands.
func ClientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	fs.String("server_url", "http://localhost:8080", "base URL of the signaling server")
	fs.String("user_id", "", "identity to connect as")
	fs.String("log_level", "info", "zerolog level")
	fs.String("media", "static", "media source: static or device")
	fs.StringSlice("stun", DefaultSTUN, "STUN server URLs")
	fs.String("save_dir", "", "directory for received files (empty: do not save)")
	return fs
}

// LoadClient reads the agent configuration from config/client.<CONFIG_ENV>.yaml,
// DIAL_* environment variables and fs, in increasing precedence. fs must be
// parsed already.
func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	v := newViper("client")

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("media", "static")
	v.SetDefault("stun", DefaultSTUN)
	v.SetDefault("dial_timeout", "10s")
	v.SetDefault("api_timeout", "10s")
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("ice_restart_grace", "10s")

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	read(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := domain.ValidateUserID(domain.UserID(cfg.UserID)); err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	if len(cfg.STUN) == 0 {
		cfg.STUN = DefaultSTUN
	}
	return &cfg, nil
}
