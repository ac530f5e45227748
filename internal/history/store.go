package history

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"

	"github.com/shouni/go-link-harvester/pkg/types"
)

var bucketDownloads = []byte("downloads")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record は1件のダウンロード結果の履歴です。
type Record struct {
	BatchID    string    `json:"batch_id"`
	PageURL    string    `json:"page_url"`
	URL        string    `json:"url"`
	Path       string    `json:"path"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Bytes      int64     `json:"bytes"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewRecord は DownloadOutcome から Record を生成します。
func NewRecord(batchID, pageURL string, o types.DownloadOutcome, finishedAt time.Time) Record {
	r := Record{
		BatchID:    batchID,
		PageURL:    pageURL,
		URL:        o.Task.SourceURL,
		Path:       o.Task.DestinationPath,
		Success:    o.Success,
		Bytes:      o.Bytes,
		ElapsedMS:  o.Elapsed.Milliseconds(),
		FinishedAt: finishedAt,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// Store は BoltDB にダウンロード履歴を追記します。複数のゴルーチンから利用できます。
type Store struct {
	db *bolt.DB
}

// Open は path のデータベースを開きます。存在しない場合は作成します。
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("履歴ディレクトリの作成に失敗しました: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("履歴データベースを開けませんでした: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDownloads)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("履歴バケットの作成に失敗しました: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はデータベースを閉じます。
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append は Record を追記します。キーは追記順の連番です。
func (s *Store) Append(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("履歴のエンコードに失敗しました: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloads)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
}

// List は新しい順に最大 limit 件の Record を返します。limit が 0 以下の場合はすべて返します。
func (s *Store) List(limit int) ([]Record, error) {
	records := []Record{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDownloads).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("履歴のデコードに失敗しました (key=%d): %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
