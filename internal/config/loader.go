package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath   string
	EnvFile      string
	AdminID      string
	LogLevel     string
	Interval     string
	Transport    string
	RegistryPath string
	HTTPAddress  string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}
	flag.StringVar(&f.ConfigPath, "config", "./relayd.toml", "Path to configuration file")
	flag.StringVar(&f.EnvFile, "env-file", ".env", "Path to an optional dotenv file")
	flag.StringVar(&f.AdminID, "admin", "", "Admin identity")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Interval, "interval", "", "Minimum spacing between sends (e.g. 1s)")
	flag.StringVar(&f.Transport, "transport", "", "Outbound transport type")
	flag.StringVar(&f.RegistryPath, "registry", "", "Registry file or database path")
	flag.StringVar(&f.HTTPAddress, "http", "", "HTTP listen address")
	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
// Keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	fileConfig := FileConfig{Relayd: Default()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig.Relayd, nil
		}
		return fileConfig.Relayd, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return Default(), fmt.Errorf("parsing config file: %w", err)
	}
	return fileConfig.Relayd, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-empty flag values override config file and environment values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.AdminID != "" {
		cfg.AdminID = f.AdminID
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Interval != "" {
		cfg.Dispatch.Interval = f.Interval
	}
	if f.Transport != "" {
		cfg.Transport.Type = f.Transport
	}
	if f.RegistryPath != "" {
		cfg.Registry.Path = f.RegistryPath
	}
	if f.HTTPAddress != "" {
		cfg.HTTP.Address = f.HTTPAddress
	}
	return cfg
}

// LoadWithFlags loads the dotenv file and configuration from the paths in
// flags, then applies environment and flag overrides in that order.
func LoadWithFlags(f *Flags) (Config, error) {
	if err := LoadDotEnv(f.EnvFile); err != nil {
		return Default(), err
	}
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg, err = ApplyEnv(cfg)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}
