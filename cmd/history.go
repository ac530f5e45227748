package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shouni/go-link-harvester/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "ダウンロード履歴を新しい順に表示します",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := appConfig.History.Path
		if path == "" {
			return fmt.Errorf("履歴のパスが指定されていません。--history または設定ファイルの history.path を指定してください")
		}

		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.List(historyLimit)
		if err != nil {
			return fmt.Errorf("履歴の読み込みエラー: %w", err)
		}
		return printHistory(cmd.OutOrStdout(), records)
	},
}

func init() {
	historyCmd.Flags().String("history", "", "ダウンロード履歴のデータベースのパス")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "表示する最大件数 (0 は全件)")
}

func printHistory(out io.Writer, records []history.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "履歴はありません")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "日時\t結果\tバイト数\tURL\t保存先\tエラー")
	for _, r := range records {
		status := "成功"
		if !r.Success {
			status = "失敗"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"), status, r.Bytes, r.URL, r.Path, r.Error)
	}
	return w.Flush()
}
