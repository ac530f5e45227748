package history

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shouni/go-link-harvester/pkg/types"
)

// Recorder はバッチの結果を Store に書き込む batch.Observer です。
// 書き込みに失敗してもダウンロードは止めず、警告を記録するだけです。
type Recorder struct {
	store  *Store
	logger logrus.FieldLogger
	now    func() time.Time

	mu    sync.Mutex
	pages map[string]string // batchID -> pageURL
}

// NewRecorder は Recorder を生成します。
func NewRecorder(store *Store, logger logrus.FieldLogger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
		now:    time.Now,
		pages:  make(map[string]string),
	}
}

func (r *Recorder) OnBatchStart(batchID, pageURL string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[batchID] = pageURL
}

func (r *Recorder) OnOutcome(batchID string, outcome types.DownloadOutcome) {
	r.mu.Lock()
	pageURL := r.pages[batchID]
	r.mu.Unlock()

	if err := r.store.Append(NewRecord(batchID, pageURL, outcome, r.now())); err != nil {
		r.logger.WithError(err).WithField("url", outcome.Task.SourceURL).Warn("履歴の記録に失敗しました")
	}
}
