package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// Options はロガーの構築に使う設定です。
type Options struct {
	Level   string    // trace, debug, info, warn, error
	File    string    // 空でなければ JSON 形式で追記する
	Verbose bool      // true の場合 Level に関わらず debug 以上を出力する
	Output  io.Writer // nil の場合は os.Stderr
}

// New は Options から *logrus.Logger を構築します。
// コンソールはテキスト形式、ファイルは lfshook 経由の JSON 形式で出力します。
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("ログレベルが不正です: %w", err)
		}
		level = parsed
	}
	if opts.Verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("ログディレクトリの作成に失敗しました: %w", err)
		}
		logger.AddHook(lfshook.NewHook(opts.File, &logrus.JSONFormatter{}))
	}
	return logger, nil
}
