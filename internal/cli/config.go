package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/shelfmate/internal/client"
)

// Config はshelfmatectlの設定。ファイルと SHELFMATE_ 接頭辞の環境変数から読み込む。
type Config struct {
	APIURL  string        `mapstructure:"api_url" yaml:"api_url"`
	Token   string        `mapstructure:"token" yaml:"token,omitempty"`
	UserID  string        `mapstructure:"user_id" yaml:"user_id,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	path string
}

// Path は設定ファイルのパスを返す。
func (c *Config) Path() string {
	return c.path
}

// DefaultConfigPath は既定の設定ファイルのパスを返す。
// $XDG_CONFIG_HOME/shelfmate/config.yaml、未設定なら ~/.config/shelfmate/config.yaml。
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "shelfmate", "config.yaml")
}

// LoadConfig は設定を読み込む。ファイルがなければ既定値と環境変数のみを使う。
// pathが空の場合は SHELFMATE_CONFIG、それもなければDefaultConfigPathを使う。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_url", client.DefaultBaseURL)
	v.SetDefault("token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("timeout", "15s")

	v.SetEnvPrefix("SHELFMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("SHELFMATE_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.path = path
	return &cfg, nil
}

// SaveConfig は設定をファイルに書き込む。トークンを含むため所有者のみ読み書きできる。
func SaveConfig(cfg *Config) error {
	if cfg.path == "" {
		cfg.path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(cfg.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return enc.Close()
}
