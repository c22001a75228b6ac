package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lisuiheng/natsclient-go/pkg/interfaces"
	"github.com/lisuiheng/natsclient-go/protocols/tcp"
	"github.com/lisuiheng/natsclient-go/protocols/websocket"
)

const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 4222
	DefaultReadTimeout = 10 * time.Second
	DefaultDialTimeout = 5 * time.Second
	DefaultBufferSize  = 4 * 1024
)

// Config 是客户端配置结构（与YAML文件的结构对应）
type Config struct {
	Server      ServerConfig   `mapstructure:"server"`
	Connect     ConnectOptions `mapstructure:"connect"`
	ManualFlush bool           `mapstructure:"manual_flush"`
	ReadTimeout time.Duration  `mapstructure:"read_timeout"`
	BufferSize  int            `mapstructure:"buffer_size"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Format  string   `mapstructure:"format"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string           `mapstructure:"host"`
	Port         int              `mapstructure:"port"`
	Transport    string           `mapstructure:"transport"`
	Websocket    *WebsocketConfig `mapstructure:"websocket"`
	DialTimeout  time.Duration    `mapstructure:"dial_timeout"`
	DialAttempts int              `mapstructure:"dial_attempts"`
}

type WebsocketConfig struct {
	URL string `mapstructure:"url"`
}

// DefaultConfig returns a configuration for a plain TCP connection to a
// local server.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server = ServerConfig{
		Host:         DefaultHost,
		Port:         DefaultPort,
		Transport:    "tcp",
		DialTimeout:  DefaultDialTimeout,
		DialAttempts: 1,
	}
	cfg.Connect = DefaultConnectOptions()
	cfg.ReadTimeout = DefaultReadTimeout
	cfg.BufferSize = DefaultBufferSize
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.Outputs = []string{"stdout"}
	return cfg
}

func (c Config) withDefaults() Config {
	if c.Server.Transport == "" {
		c.Server.Transport = "tcp"
	}
	if c.Server.DialAttempts < 1 {
		c.Server.DialAttempts = 1
	}
	if c.Server.DialTimeout <= 0 {
		c.Server.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	c.Connect = c.Connect.withDefaults()
	return c
}

// Validate reports configuration errors that would make Dial fail.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Server.Transport) {
	case "", "tcp":
		if c.Server.Host == "" {
			errs = append(errs, errors.New("server.host is required"))
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
		}
	case "websocket":
		if c.Server.Websocket == nil || c.Server.Websocket.URL == "" {
			errs = append(errs, errors.New("server.websocket.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, c.Server.Transport))
	}
	return errors.Join(errs...)
}

// NewProtocol 根据配置创建对应的协议实例
func NewProtocol(config Config) (interfaces.Transport, error) {
	switch strings.ToLower(config.Server.Transport) {
	case "", "tcp":
		return tcp.NewTCPProtocol(tcp.Config{
			Host:        config.Server.Host,
			Port:        config.Server.Port,
			DialTimeout: config.Server.DialTimeout,
		})
	case "websocket":
		if config.Server.Websocket == nil {
			return nil, errors.New("websocket config missing")
		}
		return websocket.NewWebSocketProtocol(websocket.Config{
			URL:              config.Server.Websocket.URL,
			HandshakeTimeout: config.Server.DialTimeout,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, config.Server.Transport)
	}
}
