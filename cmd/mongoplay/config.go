package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultConfig = `
[server]
listen = "127.0.0.1:27080"
data = ""
checkpoint-interval = "1m"
sync-every-change = false
max-journal-size = 4194304
max-body-size = 16777216

[log]
# debug, info, warn, error
level = "info"
# text or json
format = "text"
verbose = false
`

type ServerConfig struct {
	Listen             string        `toml:"listen"`
	Data               string        `toml:"data"`
	CheckpointInterval time.Duration `toml:"checkpoint-interval"`
	SyncEveryChange    bool          `toml:"sync-every-change"`
	MaxJournalSize     int64         `toml:"max-journal-size"`
	MaxBodySize        int64         `toml:"max-body-size"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Verbose bool   `toml:"verbose"`
}

type Config struct {
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`
}

// LoadConfig returns the defaults overlaid with fileName, if given.
func LoadConfig(fileName string) (*Config, error) {
	config := &Config{}
	if _, err := toml.Decode(defaultConfig, config); err != nil {
		panic(fmt.Errorf("decoding default config: %w", err))
	}
	if fileName != "" {
		md, err := toml.DecodeFile(fileName, config)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fileName, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("%s: unknown keys %v", fileName, undec)
		}
	}
	return config, config.validate()
}

func (config *Config) validate() error {
	if config.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if config.Server.CheckpointInterval < 0 {
		return fmt.Errorf("server.checkpoint-interval must not be negative")
	}
	if _, err := config.level(); err != nil {
		return err
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", config.Log.Format)
	}
	return nil
}

func (config *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Logger builds the process logger.
func (config *Config) Logger(w io.Writer) *slog.Logger {
	level, err := config.level()
	if err != nil {
		panic(err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if config.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
