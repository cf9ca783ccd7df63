package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configName = "wabridge"

// Config holds every runtime option.
type Config struct {
	Home          string         `mapstructure:"home"`
	Relay         string         `mapstructure:"relay"`
	Passphrase    string         `mapstructure:"passphrase"`
	DebugLevel    string         `mapstructure:"debuglevel"`
	LogFile       string         `mapstructure:"log-file"`
	MetricsAddr   string         `mapstructure:"metrics-addr"`
	Browser       string         `mapstructure:"browser"`
	ScanTimeout   time.Duration  `mapstructure:"scan-timeout"`
	Keepalive     time.Duration  `mapstructure:"keepalive"`
	ReadTimeout   time.Duration  `mapstructure:"read-timeout"`
	CompressAbove int            `mapstructure:"compress-above"`
	Backoff       BackoffConfig  `mapstructure:"backoff"`
	Dispatch      DispatchConfig `mapstructure:"dispatch"`
}

type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
	Retries    int           `mapstructure:"retries"`
}

type DispatchConfig struct {
	AckTimeout    time.Duration `mapstructure:"ack-timeout"`
	RetryCeiling  int           `mapstructure:"retry-ceiling"`
	DedupWindow   int           `mapstructure:"dedup-window"`
	ReorderWindow int           `mapstructure:"reorder-window"`
	GapTimeout    time.Duration `mapstructure:"gap-timeout"`
	MaxQueue      int           `mapstructure:"max-queue"`
}

// Defaults returns the default value of every key.
func Defaults() map[string]any {
	return map[string]any{
		"home":                    "~/.wabridge",
		"relay":                   "ws://127.0.0.1:8080/ws",
		"passphrase":              "",
		"debuglevel":              "info",
		"log-file":                "",
		"metrics-addr":            "",
		"browser":                 "Chrome",
		"scan-timeout":            "60s",
		"keepalive":               "20s",
		"read-timeout":            "45s",
		"compress-above":          1024,
		"backoff.initial":         "1s",
		"backoff.max":             "30s",
		"backoff.multiplier":      2.0,
		"backoff.jitter":          0.2,
		"backoff.retries":         8,
		"dispatch.ack-timeout":    "15s",
		"dispatch.retry-ceiling":  5,
		"dispatch.dedup-window":   512,
		"dispatch.reorder-window": 32,
		"dispatch.gap-timeout":    "5s",
		"dispatch.max-queue":      1024,
	}
}

// ConfigPath returns where the user or system config file lives.
func ConfigPath(system bool) (string, error) {
	var dir string
	if system {
		switch runtime.GOOS {
		case "windows":
			dir = filepath.Join(os.Getenv("ProgramData"), "wabridge")
		default:
			dir = "/etc/wabridge"
		}
	} else {
		userDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		dir = filepath.Join(userDir, "wabridge")
	}
	return filepath.Join(dir, configName+".yaml"), nil
}

// LoadConfig reads the configuration. cfgFile, when set, is read instead
// of searching the standard locations. Flags of cmd named after config
// keys override everything else.
func LoadConfig(cmd *cobra.Command, cfgFile string) (Config, error) {
	var c Config
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	if p, err := ConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	if p, err := ConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(configName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}

	var err error
	if c.Home, err = homedir.Expand(c.Home); err != nil {
		return c, fmt.Errorf("home: %w", err)
	}
	if c.LogFile, err = homedir.Expand(c.LogFile); err != nil {
		return c, fmt.Errorf("log-file: %w", err)
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch {
	case c.Home == "":
		return errors.New("home must be set")
	case c.Relay == "":
		return errors.New("relay must be set")
	case c.Backoff.Multiplier < 1:
		return fmt.Errorf("backoff.multiplier %.2f is below 1", c.Backoff.Multiplier)
	case c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1:
		return fmt.Errorf("backoff.jitter %.2f is outside [0, 1)", c.Backoff.Jitter)
	}
	return nil
}

// nestedDefaults turns the dotted default keys into the nested maps a
// YAML file holds.
func nestedDefaults() map[string]any {
	out := make(map[string]any)
	for key, value := range Defaults() {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			sub, ok := m[p].(map[string]any)
			if !ok {
				sub = make(map[string]any)
				m[p] = sub
			}
			m = sub
		}
		m[parts[len(parts)-1]] = value
	}
	return out
}

// WriteConfigFile writes the defaults to path. An existing file is only
// replaced when force is set.
func WriteConfigFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := yaml.Marshal(nestedDefaults())
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return os.WriteFile(path, data, 0o600)
}
