package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
)

// Recorder 把查询事件异步写入历史存储
//
// ObserveQuery 只入队不阻塞，队列满时丢弃并记录警告；Run 负责写入。
type Recorder struct {
	store Store
	queue chan *domain.QueryRecord
	log   *zap.Logger
}

// NewRecorder 创建记录器
func NewRecorder(store Store, queueSize int, log *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		store: store,
		queue: make(chan *domain.QueryRecord, queueSize),
		log:   log.Named("recorder"),
	}
}

// ObserveQuery 入队一条历史记录
func (r *Recorder) ObserveQuery(_ context.Context, event domain.QueryEvent) {
	record := domain.NewQueryRecord(uuid.New().String(), event)
	select {
	case r.queue <- record:
	default:
		r.log.Warn("history queue full, dropping record", zap.String("query", event.Query))
	}
}

// Run 持续写入，ctx 结束后在限定时间内写完剩余记录
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case record := <-r.queue:
			r.save(ctx, record)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case record := <-r.queue:
			r.save(ctx, record)
		default:
			return
		}
	}
}

func (r *Recorder) save(ctx context.Context, record *domain.QueryRecord) {
	if err := r.store.Save(ctx, record); err != nil {
		r.log.Error("failed to save query history",
			zap.String("id", record.ID),
			zap.Error(err),
		)
	}
}
