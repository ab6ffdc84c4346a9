package router

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/logger"
	"github.com/rezwanahammad/Therapeia/internal/metrics"
	"github.com/rezwanahammad/Therapeia/internal/middlewares"
	"github.com/rezwanahammad/Therapeia/internal/models"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	// Endpoint адрес и порт, на которых сервер будет слушать входящие запросы.
	Endpoint string
	// StreamLimit максимальное число одновременных потоков статуса на один заказ, 0 - без ограничения.
	StreamLimit int
	// StreamBuffer сколько событий может ждать отправки медленному клиенту, прежде чем поток будет закрыт.
	StreamBuffer int
}

type Router struct {
	config           Config
	jwtService       models.JWTService
	orderService     models.OrderService
	statusFeed       models.StatusFeed
	idempotencyStore models.IdempotencyStore
	metrics          *metrics.Metrics
	streams          *streamLimiter
}

// New создает новый экземпляр Router с заданными зависимостями.
// idempotencyStore и metrics могут быть nil.
func New(
	config Config,
	jwtService models.JWTService,
	orderService models.OrderService,
	statusFeed models.StatusFeed,
	idempotencyStore models.IdempotencyStore,
	metrics *metrics.Metrics,
) *Router {
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = defaultStreamBuffer
	}

	return &Router{
		config:           config,
		jwtService:       jwtService,
		orderService:     orderService,
		statusFeed:       statusFeed,
		idempotencyStore: idempotencyStore,
		metrics:          metrics,
		streams:          newStreamLimiter(config.StreamLimit),
	}
}

// get возвращает настроенный роутер.
func (router *Router) get() chi.Router {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		// Метрики по шаблону маршрута.
		router.metrics.Middleware,
		// Инжектор сервисов для предоставления сервисов в обработчиках.
		middlewares.ServiceInjectorMiddleware(
			router.jwtService,
			router.orderService,
			router.statusFeed,
		),
		// Логгер для регистрации запросов.
		logger.RequestLogger,
		// Middleware для проверки аутентификации, исключая указанные пути.
		middlewares.AuthMiddleware().WithExcludedPaths(
			"/metrics",
		).Middleware,
	)

	if router.metrics != nil {
		r.Method(http.MethodGet, "/metrics", router.metrics.Handler())
	}

	// Заказы текущего пользователя.
	r.Route("/api/orders", func(r chi.Router) {
		// Оформление заказа из переданных позиций или из корзины.
		r.With(
			middlewares.JSONMiddleware[models.CreateOrderRequest],
			middlewares.IdempotencyMiddleware(router.idempotencyStore, "create_order"),
		).Post("/", CreateOrder)
		// Получение списка заказов.
		r.Get("/", GetOrders)

		r.Get("/{id}", GetOrder)
		r.Get("/{id}/status", GetOrderStatus)
		// Поток изменений статуса (text/event-stream).
		r.Get("/{id}/stream", router.StreamOrderStatus)
	})

	// Управление заказами, только для администраторов.
	r.Route("/api/admin/orders", func(r chi.Router) {
		r.Use(middlewares.RequireAdmin)

		r.Get("/", GetAllOrders)
		r.With(middlewares.JSONMiddleware[models.ChangeStatusRequest]).Put("/{id}/status", ChangeOrderStatus)
		r.With(middlewares.JSONMiddleware[models.TrackingUpdate]).Put("/{id}/tracking", UpdateOrderTracking)
		r.With(middlewares.JSONMiddleware[models.CancelOrderRequest]).Post("/{id}/cancel", CancelOrder)
		r.Delete("/{id}", DeleteOrder)
		r.Get("/{id}/audit", GetOrderAudit)
	})

	return r
}

// Run запускает HTTP сервер и блокируется до отмены ctx, после чего корректно останавливает его.
// Контекст запросов наследуется от ctx, поэтому открытые потоки статусов завершаются вместе с сервером.
func (router *Router) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              router.config.Endpoint,
		Handler:           router.get(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("server started", zap.String("endpoint", router.config.Endpoint))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Log.Info("server stopped")
	return nil
}
