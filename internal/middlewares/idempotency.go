package middlewares

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/idempotency"
	"github.com/rezwanahammad/Therapeia/internal/logger"
	"github.com/rezwanahammad/Therapeia/internal/models"
)

// statusCapture запоминает код ответа обработчика.
type statusCapture struct {
	http.ResponseWriter
	status int
}

func (c *statusCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *statusCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.ResponseWriter.Write(b)
}

func (c *statusCapture) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

func (c *statusCapture) succeeded() bool {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return status >= 200 && status < 300
}

// IdempotencyMiddleware отклоняет повтор запроса с уже использованным заголовком Idempotency-Key.
// Ключ остается занятым только после успешного ответа, иначе он освобождается для повтора.
// Запросы без заголовка, а также запросы при недоступном хранилище проходят без проверки.
func IdempotencyMiddleware(store models.IdempotencyStore, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := idempotency.FromRequest(r)
			if store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			actor, ok := GetActorFromContext(w, r)
			if !ok {
				return
			}

			key := idempotency.Key(scope, actor.ID, clientKey)
			seen, err := store.Seen(r.Context(), key)
			if err != nil {
				logger.Log.Warn("idempotency store unavailable", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if seen {
				http.Error(w, "Запрос с таким Idempotency-Key уже выполнялся", http.StatusConflict)
				return
			}

			capture := &statusCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if capture.succeeded() {
				return
			}

			// Клиент мог уже отключиться, а ключ все равно нужно освободить.
			if err := store.Release(context.WithoutCancel(r.Context()), key); err != nil {
				logger.Log.Warn("failed to release idempotency key",
					zap.String("scope", scope),
					zap.Int("status", capture.status),
					zap.Error(err),
				)
			}
		})
	}
}
