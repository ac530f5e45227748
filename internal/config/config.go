package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shouni/go-link-harvester/pkg/downloader"
	"github.com/shouni/go-link-harvester/pkg/httpclient"
	"github.com/shouni/go-link-harvester/pkg/pool"
	"github.com/shouni/go-link-harvester/pkg/retry"
)

// EnvPrefix は環境変数で設定を上書きする際の接頭辞です (例: HARVEST_POOL_SIZE)。
const EnvPrefix = "HARVEST"

// 設定キー
const (
	KeyUserAgent     = "user_agent"
	KeyTimeoutMS     = "timeout_ms"
	KeyPoolSize      = "pool_size"
	KeyMaxRetries    = "max_retries"
	KeyBufferSize    = "buffer_size"
	KeyShutdownGrace = "shutdown_grace"
	KeyLogLevel      = "log.level"
	KeyLogFile       = "log.file"
	KeyHistoryPath   = "history.path"
)

// Config はアプリケーション全体の設定です。
type Config struct {
	UserAgent     string        `mapstructure:"user_agent"`
	TimeoutMS     int           `mapstructure:"timeout_ms"`
	PoolSize      int           `mapstructure:"pool_size"`
	MaxRetries    uint64        `mapstructure:"max_retries"`
	BufferSize    int           `mapstructure:"buffer_size"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	Log           LogConfig     `mapstructure:"log"`
	History       HistoryConfig `mapstructure:"history"`
}

// LogConfig はログ出力の設定です。
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // 空の場合はファイルに出力しない
}

// HistoryConfig はダウンロード履歴の保存先です。空の場合は履歴を記録しません。
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// Timeout は TimeoutMS を time.Duration に変換します。
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Loader は viper を使って設定を読み込みます。
// 優先順位はフラグ > 環境変数 > 設定ファイル > デフォルト値です。
type Loader struct {
	v *viper.Viper
}

// NewLoader はデフォルト値と環境変数の設定を済ませた Loader を生成します。
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyUserAgent, httpclient.DefaultUserAgent)
	v.SetDefault(KeyTimeoutMS, int(httpclient.DefaultTimeout/time.Millisecond))
	v.SetDefault(KeyPoolSize, pool.DefaultSize)
	v.SetDefault(KeyMaxRetries, retry.DefaultMaxRetries)
	v.SetDefault(KeyBufferSize, downloader.DefaultBufferSize)
	v.SetDefault(KeyShutdownGrace, pool.DefaultShutdownGrace)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyHistoryPath, "")
}

// BindFlag は key にコマンドラインフラグを関連付けます。フラグが明示的に指定された場合のみ優先されます。
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("フラグが見つかりません: %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load は path の YAML ファイル (空なら探索しない) を読み込み、Config を返します。
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("設定ファイルが見つかりません (%s): %w", filepath.Clean(path), err)
			}
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗しました: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の範囲を検証します。
func (c *Config) Validate() error {
	var errs []error
	if c.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("timeout_ms は正の値である必要があります: %d", c.TimeoutMS))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool_size は正の値である必要があります: %d", c.PoolSize))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size は正の値である必要があります: %d", c.BufferSize))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace は0以上である必要があります: %s", c.ShutdownGrace))
	}
	if len(errs) > 0 {
		return fmt.Errorf("設定値が不正です: %w", errors.Join(errs...))
	}
	return nil
}
