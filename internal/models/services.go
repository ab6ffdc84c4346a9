package models

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

//go:generate mockgen -destination=mocks/mock_jwt.go . JWTService
type JWTService interface {
	GenerateJWT(actor Actor) (string, error)

	ValidateToken(token string) (*jwt.Token, error)
}

//go:generate mockgen -destination=mocks/mock_order.go . OrderService
type OrderService interface {
	CreateOrder(ctx context.Context, request CreateOrderRequest) (*Order, error)

	GetOrders(ctx context.Context, ownerID string) ([]Order, error)

	GetAllOrders(ctx context.Context) ([]Order, error)

	GetOrder(ctx context.Context, orderID string, actor Actor) (*Order, error)

	GetStatus(ctx context.Context, orderID string, actor Actor) (*StatusEvent, error)

	ChangeStatus(ctx context.Context, orderID string, target OrderStatus, note string, actor Actor) (*Order, error)

	UpdateTracking(ctx context.Context, orderID string, update TrackingUpdate, actor Actor) (*Order, error)

	CancelOrder(ctx context.Context, orderID, reason string, actor Actor) (*Order, error)

	DeleteOrder(ctx context.Context, orderID string) error

	GetAudit(ctx context.Context, orderID string) (*AuditTrail, error)
}

// StatusFeed источник событий об изменении заказов для потоковой выдачи статусов.
type StatusFeed interface {
	SubscribeOrder(orderID string, handler func(StatusEvent)) (unsubscribe func())
}

//go:generate mockgen -destination=mocks/mock_idempotency.go . IdempotencyStore
type IdempotencyStore interface {
	// Seen атомарно помечает ключ и сообщает, встречался ли он раньше.
	Seen(ctx context.Context, key string) (bool, error)
	// Release снимает пометку с ключа после неудавшегося запроса.
	Release(ctx context.Context, key string) error
}
