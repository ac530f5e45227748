package cmd

import (
	"fmt"
	"os"

	clibase "github.com/shouni/go-cli-base"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shouni/go-link-harvester/internal/config"
	"github.com/shouni/go-link-harvester/internal/logging"
	"github.com/shouni/go-link-harvester/internal/pipeline"
)

// --- グローバル定数 ---

const appName = "link-harvester"

// --- グローバル変数 ---

// 共通の --config (-C) と --verbose (-V) は clibase.Flags に格納されます。
var (
	appConfig  *config.Config
	appLogger  *logrus.Logger
	appRuntime *pipeline.Runtime
)

// flagBindings は設定キーと、それを上書きするフラグ名の対応です。
// サブコマンド固有のフラグも含み、実行中のコマンドに存在するものだけを関連付けます。
var flagBindings = map[string]string{
	config.KeyUserAgent:     "user-agent",
	config.KeyTimeoutMS:     "timeout",
	config.KeyPoolSize:      "pool-size",
	config.KeyMaxRetries:    "max-retries",
	config.KeyShutdownGrace: "shutdown-grace",
	config.KeyLogLevel:      "log-level",
	config.KeyLogFile:       "log-file",
	config.KeyHistoryPath:   "history",
}

var rootCmd = newRootCmd()

// newRootCmd は clibase のルートコマンドにアプリケーション固有の説明とサブコマンドを設定します。
func newRootCmd() *cobra.Command {
	cmd := clibase.NewRootCmd(appName, addAppPersistentFlags, initApp)
	cmd.Short = "Webページから指定した拡張子のリンクを収集し、並列でダウンロードします"
	cmd.Long = `指定されたページを取得し、suffix を含むリンクを抽出して、
固定サイズのワーカープールで並列にダウンロードします（download）。
ダウンロード履歴の一覧表示（history）もできます。`
	cmd.SilenceUsage = true
	cmd.AddCommand(downloadCmd, historyCmd)
	return cmd
}

// --- 初期化とロジック (clibaseへのコールバックとして利用) ---

// addAppPersistentFlags は、アプリケーション固有の永続フラグをルートコマンドに追加します。
// 値は initApp で viper に関連付けて読み出すため、変数には束縛しません。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	pf := rootCmd.PersistentFlags()
	pf.String("user-agent", "", "全リクエストに付与する User-Agent")
	pf.Int("timeout", 0, "接続と読み込みそれぞれのタイムアウト（ミリ秒）")
	pf.Int("pool-size", 0, "同時ダウンロード数")
	pf.Uint64("max-retries", 0, "5xx / 429 / 通信エラー時のリトライ回数")
	pf.Duration("shutdown-grace", 0, "終了時に実行中のダウンロードを待つ猶予時間")
	pf.String("log-level", "", "ログレベル (trace, debug, info, warn, error)")
	pf.String("log-file", "", "JSON 形式でログを追記するファイル")
}

// initApp は、clibase共通処理の後に実行される PersistentPreRunE です。
// 設定を読み込み、ロガーを初期化します。
func initApp(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	for key, name := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := loader.BindFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := loader.Load(clibase.Flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みエラー: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Verbose: clibase.Flags.Verbose,
	})
	if err != nil {
		return fmt.Errorf("ロガーの初期化エラー: %w", err)
	}

	appConfig = cfg
	appLogger = logger
	return nil
}

// runtimeFor は共有ランタイムを初回だけ生成して返します。
func runtimeFor() (*pipeline.Runtime, error) {
	if appRuntime != nil {
		return appRuntime, nil
	}
	rt, err := pipeline.New(appConfig, appLogger)
	if err != nil {
		return nil, fmt.Errorf("ランタイムの初期化エラー: %w", err)
	}
	appRuntime = rt
	return rt, nil
}

// --- エントリポイント ---

// Execute は rootCmd を実行し、終了前にワーカープールを停止します。
// clibase.Execute は失敗時にすぐ os.Exit するため、rootCmd.Execute を直接呼び出します。
// 起動・設定のエラーでは終了コード 1 で終了します。個々のダウンロードの失敗は終了コードに影響しません。
func Execute() {
	err := rootCmd.Execute()
	if appRuntime != nil {
		// 強制停止はログに記録済み
		_ = appRuntime.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
