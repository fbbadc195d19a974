package audit

/*
Файл recorder.go — асинхронный журнал действий операторов удалённого доступа.

- Record никогда не блокирует вызывающего: событие кладётся в буферизованный канал,
  при переполнении событие сбрасывается в лог (Load Shedding).
- Воркер копит пачку и пишет её одним INSERT по таймеру или при заполнении.
- Stop закрывает вход и дожидается финального flush (Drain Pattern).
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/assetdesk/internal/metrics"
	"go.uber.org/zap"
)

const batchSize = 100

// Storage определяет, куда физически будут сохраняться события
type Storage interface {
	WriteBatch(ctx context.Context, events []Event) error
}

type Config struct {
	BufferSize    int
	FlushInterval time.Duration
}

type Recorder struct {
	ch       chan Event
	repo     Storage
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	wg       sync.WaitGroup
	isClosed int32 // 0 - открыт, 1 - закрыт
	mu       sync.RWMutex
}

func NewRecorder(repo Storage, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Recorder{
		ch:       make(chan Event, cfg.BufferSize),
		repo:     repo,
		interval: cfg.FlushInterval,
		metrics:  m,
		logger:   logger.Named("audit"),
		now:      time.Now,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !atomic.CompareAndSwapInt32(&r.isClosed, 0, 1) {
		r.mu.Unlock()
		return
	}
	close(r.ch)
	r.mu.Unlock()

	r.logger.Info("stopping audit recorder: flushing buffer")
	r.wg.Wait()
	r.logger.Info("audit recorder stopped gracefully")
}

// Record ставит событие в очередь. ctx не используется для записи: журнал переживает запрос.
func (r *Recorder) Record(_ context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}

	// RLock исключает гонку с close(r.ch) в Stop
	r.mu.RLock()
	defer r.mu.RUnlock()
	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("audit event dropped: recorder is stopping", zap.String("action", event.Action))
		return
	}

	select {
	case r.ch <- event:
		r.metrics.AuditBufferFill.Set(float64(len(r.ch)))
	default:
		r.logger.Error("audit_buffer_overflow",
			zap.String("action", event.Action),
			zap.String("actor", event.Actor),
			zap.String("target_id", event.TargetID))
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту уже закрыт
		if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
			r.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		r.metrics.AuditBufferFill.Set(float64(len(r.ch)))
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
