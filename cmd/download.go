package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/shouni/go-link-harvester/internal/history"
	"github.com/shouni/go-link-harvester/pkg/batch"
	"github.com/shouni/go-link-harvester/pkg/extract"
	"github.com/shouni/go-link-harvester/pkg/types"
)

// download コマンドのフラグ
var (
	pageURLs    []string
	suffix      string
	downloadDir string
	mode        string
	strict      bool
	quiet       bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "ページから suffix を含むリンクを抽出し、すべてダウンロードします",
	Long: `-u で指定したページ（複数可）を順番に取得し、suffix を含むリンクを抽出して
-d のディレクトリに並列でダウンロードします。-u を省略した場合は標準入力から1行ずつURLを読み込みます。`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	f := downloadCmd.Flags()
	f.StringArrayVarP(&pageURLs, "url", "u", nil, "リンクを抽出するページのURL（複数指定可）")
	f.StringVarP(&suffix, "suffix", "s", "", "ダウンロード対象のリンクに含まれる文字列（例: .zip）")
	f.StringVarP(&downloadDir, "dir", "d", "", "ダウンロード先ディレクトリ")
	f.StringVar(&mode, "mode", string(extract.ModePattern), "リンクの抽出方式 (pattern, document, feed)")
	f.BoolVar(&strict, "strict", false, "URLのパスが suffix で終わるリンクのみを対象にします")
	f.BoolVarP(&quiet, "quiet", "q", false, "進捗バーを表示しません")
	f.String("history", "", "ダウンロード履歴を記録するデータベースのパス")

	downloadCmd.MarkFlagRequired("suffix")
	downloadCmd.MarkFlagRequired("dir")
}

func runDownload(cmd *cobra.Command, args []string) error {
	urls, err := collectPageURLs(pageURLs, cmd.InOrStdin())
	if err != nil {
		return err
	}

	rt, err := runtimeFor()
	if err != nil {
		return err
	}

	var observers batch.Observers
	if !quiet {
		observers = append(observers, newProgressObserver(cmd.ErrOrStderr()))
	}
	if path := appConfig.History.Path; path != "" {
		store, err := history.Open(path)
		if err != nil {
			return fmt.Errorf("履歴の初期化エラー: %w", err)
		}
		defer store.Close()
		observers = append(observers, history.NewRecorder(store, appLogger))
	}

	coordinator, err := rt.Coordinator(extract.Mode(mode), extract.Options{Strict: strict}, observers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	count := coordinator.DownloadFromPages(ctx, urls, suffix, downloadDir)

	fmt.Fprintf(cmd.OutOrStdout(), "完了: %d 件のファイルを %s にダウンロードしました (ページ数: %d, 経過時間: %s)\n",
		count, downloadDir, len(urls), time.Since(start).Round(time.Millisecond))
	return nil
}

// collectPageURLs はフラグのURLを正規化して返します。フラグが空の場合は r から1行ずつ読み込みます。
func collectPageURLs(fromFlags []string, r io.Reader) ([]string, error) {
	raw := fromFlags
	if len(raw) == 0 {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
				raw = append(raw, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("標準入力の読み取りエラー: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("処理するURLがありません。-u または標準入力で指定してください")
	}

	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		normalized, err := normalizePageURL(u)
		if err != nil {
			return nil, err
		}
		urls = append(urls, normalized)
	}
	return urls, nil
}

// progressObserver はバッチごとに進捗バーを表示する batch.Observer です。
type progressObserver struct {
	out io.Writer

	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func newProgressObserver(out io.Writer) *progressObserver {
	return &progressObserver{out: out, bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *progressObserver) OnBatchStart(batchID, pageURL string, total int) {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(pageURL),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.out) }),
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[batchID] = bar
}

func (p *progressObserver) OnOutcome(batchID string, outcome types.DownloadOutcome) {
	p.mu.Lock()
	bar := p.bars[batchID]
	p.mu.Unlock()
	if bar != nil {
		_ = bar.Add(1)
	}
}
