package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lisuiheng/natsclient-go/core"
	"github.com/lisuiheng/natsclient-go/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"transport":    "server.transport",
	"ws-url":       "server.websocket.url",
	"read-timeout": "read_timeout",
	"manual-flush": "manual_flush",
	"verbose":      "connect.verbose",
	"metrics-addr": "metrics.addr",
	"debug":        "debug",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func setDefaults(v *viper.Viper) {
	d := core.DefaultConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.transport", d.Server.Transport)
	v.SetDefault("server.websocket.url", "")
	v.SetDefault("server.dial_timeout", d.Server.DialTimeout)
	v.SetDefault("server.dial_attempts", d.Server.DialAttempts)
	v.SetDefault("connect.verbose", d.Connect.Verbose)
	v.SetDefault("connect.pedantic", d.Connect.Pedantic)
	v.SetDefault("connect.auth_token", "")
	v.SetDefault("connect.user", "")
	v.SetDefault("connect.pass", "")
	v.SetDefault("connect.name", "natsclient")
	v.SetDefault("connect.lang", d.Connect.Lang)
	v.SetDefault("connect.version", d.Connect.Version)
	v.SetDefault("connect.protocol", d.Connect.Protocol)
	v.SetDefault("manual_flush", d.ManualFlush)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("buffer_size", d.BufferSize)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.outputs", d.Logging.Outputs)
	v.SetDefault("metrics.addr", "")
}

// loadConfig 加载配置文件
func loadConfig(v *viper.Viper, configPath string) (core.Config, error) {
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NATSCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/natsclient")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg core.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Server.Websocket != nil && cfg.Server.Websocket.URL == "" {
		cfg.Server.Websocket = nil
	}
	return cfg, nil
}

// initLogger 初始化日志系统
func initLogger(v *viper.Viper, cfg core.Config) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}

	// 调试模式覆盖配置
	if v.GetBool("debug") {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stderr"}
	}

	return logger.Init(logCfg)
}
