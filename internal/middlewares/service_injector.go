package middlewares

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rezwanahammad/Therapeia/internal/models"
)

type key int

const (
	JwtServiceKey key = iota
	OrderServiceKey
	StatusFeedKey
)

func ServiceInjectorMiddleware(
	jwtService models.JWTService,
	orderService models.OrderService,
	statusFeed models.StatusFeed,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), JwtServiceKey, jwtService)
			ctx = context.WithValue(ctx, OrderServiceKey, orderService)
			ctx = context.WithValue(ctx, StatusFeedKey, statusFeed)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetServiceFromContext[Service interface{}](w http.ResponseWriter, r *http.Request, serviceKey key) *Service {
	foundService, ok := r.Context().Value(serviceKey).(Service)

	if !ok {
		http.Error(w, fmt.Sprintf("Сервис не найден в контексте по ключу %v", serviceKey), http.StatusInternalServerError)
		return nil
	}

	return &foundService
}
