package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/logger"
)

// Определение пользовательских ошибок.
var (
	ErrJobQueueIsFull = errors.New("очередь заданий заполнена")
	ErrJobQueueClosed = errors.New("очередь заданий закрыта")
)

// Job представляет собой функцию, выполняющуюся в очереди заданий.
type Job func(ctx context.Context) error

// JobQueueService выполняет побочные действия вне запроса (например, очистку корзины после заказа).
// Ошибки заданий только логируются.
type JobQueueService struct {
	jobs    chan namedJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closing int32
}

type namedJob struct {
	name string
	job  Job
}

// NewJobQueueService создает новый экземпляр JobQueueService.
// Параметры:
// - ctx: контекст для управления временем жизни сервиса.
// - capacity: емкость очереди заданий.
// - workers: количество воркеров, обрабатывающих задания.
func NewJobQueueService(ctx context.Context, capacity, workers int) *JobQueueService {
	service := &JobQueueService{
		jobs: make(chan namedJob, capacity),
	}
	service.start(ctx, workers)

	return service
}

func (jqs *JobQueueService) start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		jqs.wg.Add(1)

		go func(workerID int) {
			defer jqs.wg.Done()

			for {
				select {
				case job, ok := <-jqs.jobs:
					if !ok {
						return
					}
					jqs.run(ctx, workerID, job)
				case <-ctx.Done():
					return
				}
			}
		}(i + 1)
	}
}

func (jqs *JobQueueService) run(ctx context.Context, workerID int, job namedJob) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("job panicked", zap.String("job", job.name), zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()

	if err := job.job(ctx); err != nil {
		logger.Log.Error("job failed", zap.String("job", job.name), zap.Int("worker", workerID), zap.Error(err))
		return
	}

	logger.Log.Debug("job done", zap.String("job", job.name), zap.Int("worker", workerID))
}

// Enqueue добавляет новое задание в очередь.
// Возвращает ошибку, если очередь заполнена или закрыта.
func (jqs *JobQueueService) Enqueue(name string, job Job) error {
	jqs.mu.RLock()
	defer jqs.mu.RUnlock()

	if atomic.LoadInt32(&jqs.closing) == 1 {
		return ErrJobQueueClosed
	}

	select {
	case jqs.jobs <- namedJob{name: name, job: job}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrJobQueueIsFull, name)
	}
}

// Shutdown закрывает очередь и ожидает, пока воркеры выполнят уже принятые задания.
func (jqs *JobQueueService) Shutdown() {
	jqs.mu.Lock()
	if !atomic.CompareAndSwapInt32(&jqs.closing, 0, 1) {
		jqs.mu.Unlock()
		return
	}
	close(jqs.jobs)
	jqs.mu.Unlock()

	jqs.wg.Wait()
}
