package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var validate = validator.New()

type Config struct {
	Server struct {
		// Name is the display name of the selected server.
		Name string `validate:"required"`
		// URL is the server's HTTP base URL; the websocket endpoint is
		// derived from it.
		URL string `validate:"required,url"`
	}
	// PageSize is the message history page size. The default is 20.
	PageSize int `validate:"required,min=1,max=100"`
	// ReconnectDelay is the fixed pause before a reconnect attempt.
	ReconnectDelay time.Duration `validate:"required"`
	// ConnectTimeout bounds a connection attempt.
	ConnectTimeout time.Duration `validate:"required"`
	// DataDir holds the local client database.
	DataDir string `validate:"required"`
}

// LoadConfig reads configuration from ./config.yaml, the user config dir,
// and THIRDCHAT_-prefixed environment variables, in ascending precedence.
// A missing config file is fine; defaults cover everything.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".thirdchat"))
	}
	viper.SetEnvPrefix("thirdchat")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.name", "local")
	viper.SetDefault("server.url", "http://localhost:8080")
	viper.SetDefault("pagesize", 20)
	viper.SetDefault("reconnectdelay", 5*time.Second)
	viper.SetDefault("connecttimeout", 10*time.Second)
	if home, err := os.UserHomeDir(); err == nil {
		viper.SetDefault("datadir", filepath.Join(home, ".thirdchat"))
	} else {
		viper.SetDefault("datadir", ".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		)),
	); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// WebSocketURL derives the realtime endpoint from the server's HTTP base
// URL: scheme swapped to ws/wss, path /ws-chat.
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws-chat"
	return u.String(), nil
}
