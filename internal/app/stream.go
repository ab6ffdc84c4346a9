package router

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/logger"
	"github.com/rezwanahammad/Therapeia/internal/middlewares"
	"github.com/rezwanahammad/Therapeia/internal/models"
)

const defaultStreamBuffer = 16

// StreamOrderStatus держит text/event-stream соединение: первым событием отправляет текущий
// снимок {status, statusHistory}, затем каждое опубликованное изменение заказа.
// Подписка снимается при отключении клиента, остановке сервера или переполнении буфера клиента.
// Событие удаления заказа отправляется клиенту последним, после него поток закрывается.
func (router *Router) StreamOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	statusFeed := middlewares.GetServiceFromContext[models.StatusFeed](w, r, middlewares.StatusFeedKey)
	if statusFeed == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	// Проверка доступа до открытия потока.
	order, err := (*orderService).GetOrder(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeServiceError(w, err, "подключении к потоку статусов")
		return
	}
	// Тема и лимит считаются по каноническому идентификатору, а не по написанию в URL.
	orderID := order.ID

	if !router.streams.acquire(orderID) {
		router.metrics.StreamRejected()
		http.Error(w, "Слишком много подключений к потоку заказа", http.StatusServiceUnavailable)
		return
	}
	defer router.streams.release(orderID)

	events := make(chan models.StatusEvent, router.config.StreamBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	// Подписка оформляется до чтения снимка, чтобы не потерять изменения между ними.
	unsubscribe := (*statusFeed).SubscribeOrder(orderID, func(event models.StatusEvent) {
		select {
		case events <- event:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	router.metrics.StreamOpened()
	defer router.metrics.StreamClosed()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	log := logger.Log.With(zap.String("orderID", orderID), zap.String("actorID", actor.ID))

	// Версия снимка: события из очереди с версией не выше уже учтены в нем.
	var seen int64
	snapshot, err := (*orderService).GetStatus(r.Context(), orderID, actor)
	if err != nil {
		log.Warn("status snapshot unavailable, streaming updates only", zap.Error(err))
	} else {
		seen = snapshot.Version
		if err := writeEvent(w, snapshot); err != nil {
			log.Debug("status stream write failed", zap.Error(err))
			return
		}
	}

	if err := rc.Flush(); err != nil {
		log.Error("status stream flush failed", zap.Error(err))
		return
	}

	log.Debug("status stream opened")
	defer log.Debug("status stream closed")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-overflow:
			log.Warn("status stream client is too slow, closing stream")
			return
		case event := <-events:
			if event.Version <= seen {
				continue
			}
			seen = event.Version
			if err := writeEvent(w, &event); err != nil {
				log.Debug("status stream write failed", zap.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				log.Debug("status stream flush failed", zap.Error(err))
				return
			}
			if event.Deleted {
				log.Debug("order deleted, closing status stream")
				return
			}
		}
	}
}

// writeEvent пишет одно событие в формате "data: <json>\n\n".
func writeEvent(w io.Writer, event *models.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка при кодировании события: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// streamLimiter ограничивает число одновременных потоков на один заказ.
type streamLimiter struct {
	mu    sync.Mutex
	limit int
	open  map[string]int
}

func newStreamLimiter(limit int) *streamLimiter {
	return &streamLimiter{limit: limit, open: make(map[string]int)}
}

func (l *streamLimiter) acquire(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit > 0 && l.open[orderID] >= l.limit {
		return false
	}
	l.open[orderID]++
	return true
}

func (l *streamLimiter) release(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open[orderID] <= 1 {
		delete(l.open, orderID)
		return
	}
	l.open[orderID]--
}

func (l *streamLimiter) count(orderID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.open[orderID]
}
