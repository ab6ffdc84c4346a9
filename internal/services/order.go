package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/database"
	"github.com/rezwanahammad/Therapeia/internal/logger"
	"github.com/rezwanahammad/Therapeia/internal/models"
)

// Определяем ошибки, связанные с заказами
var (
	ErrOrderNotFound         = errors.New("заказ не найден")
	ErrProductNotFound       = errors.New("товар не найден")
	ErrEmptyCart             = errors.New("корзина пуста")
	ErrForbidden             = errors.New("нет доступа к заказу")
	ErrIllegalDelete         = errors.New("удалять можно только доставленные или отмененные заказы")
	ErrCannotCancelDelivered = errors.New("нельзя отменить доставленный заказ")
	ErrCancelReasonRequired  = errors.New("не указана причина отмены")
	ErrTrackingIsEmpty       = errors.New("не передано ни одного поля трекинга")
	ErrConcurrentUpdate      = errors.New("заказ был изменен параллельно, повторите запрос")
)

const defaultCreateNote = "Order placed"

// orderStorage хранилище заказов как целых документов с номером ревизии.
type orderStorage interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	// FindOrder возвращает nil без ошибки, если заказа нет.
	FindOrder(ctx context.Context, orderID string) (*models.Order, error)
	FindOrdersByOwner(ctx context.Context, ownerID string) ([]models.Order, error)
	FindAllOrders(ctx context.Context) ([]models.Order, error)
	// UpdateOrder записывает заказ, только если в хранилище все еще expectedVersion.
	UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error
	DeleteOrder(ctx context.Context, orderID string, expectedVersion int64) error
}

// orderCatalog доступ к товарам и корзинам, которыми владеют другие сервисы.
type orderCatalog interface {
	FindProducts(ctx context.Context, productIDs []string) ([]models.Product, error)
	FindCart(ctx context.Context, userID string) ([]models.CartLine, error)
	ClearCart(ctx context.Context, userID string) error
}

type statusPublisher interface {
	PublishOrder(event models.StatusEvent) int
}

type orderJobQueue interface {
	Enqueue(name string, job Job) error
}

type orderMetrics interface {
	ObserveTransition(from, to models.OrderStatus)
}

// OrderService единственная точка изменения заказов: проверяет переходы по таблице,
// дописывает историю и аудит вместе со статусом и публикует событие после записи.
type OrderService struct {
	storage   orderStorage
	catalog   orderCatalog
	publisher statusPublisher
	jobs      orderJobQueue
	metrics   orderMetrics
	locks     orderLocks
	now       func() time.Time
}

// NewOrderService создает сервис заказов. jobs может быть nil - тогда корзина очищается синхронно.
func NewOrderService(
	storage orderStorage,
	catalog orderCatalog,
	publisher statusPublisher,
	jobs orderJobQueue,
	metrics orderMetrics,
) *OrderService {
	return &OrderService{
		storage:   storage,
		catalog:   catalog,
		publisher: publisher,
		jobs:      jobs,
		metrics:   metrics,
		now:       time.Now,
	}
}

// CreateOrder оформляет заказ из явно переданных позиций или, если их нет, из корзины владельца.
func (o *OrderService) CreateOrder(ctx context.Context, request models.CreateOrderRequest) (*models.Order, error) {
	if request.OwnerID == "" {
		return nil, models.ErrOwnerRequired
	}

	method, err := models.ParsePaymentMethod(request.PaymentMethod)
	if err != nil {
		return nil, err
	}

	items, fromCart, err := o.resolveItems(ctx, request)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	note := strings.TrimSpace(request.Note)
	if note == "" {
		note = defaultCreateNote
	}

	now := o.now().UTC()
	total := models.CalculateTotal(items)

	order := &models.Order{
		ID:            uuid.NewString(),
		OwnerID:       request.OwnerID,
		Items:         items,
		TotalAmount:   total,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
		PaymentMethod: method,
		StatusHistory: []models.StatusHistoryEntry{{
			Status:    models.StatusPending,
			At:        now,
			Note:      note,
			ActorType: models.ActorUser,
			ActorID:   request.OwnerID,
		}},
		Audit: []models.AuditEntry{{
			Type:    models.AuditOrderCreated,
			At:      now,
			ActorID: request.OwnerID,
			Details: map[string]any{
				"paymentMethod": string(method),
				"totalAmount":   total.String(),
			},
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if request.ShippingAddress != nil {
		address := *request.ShippingAddress
		order.ShippingAddress = &address
	}

	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("заказ нарушает инварианты: %w", err)
	}

	if err := o.storage.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("не удалось сохранить заказ: %w", err)
	}

	logger.Log.Info("order created",
		zap.String("orderID", order.ID),
		zap.String("ownerID", order.OwnerID),
		zap.String("total", total.String()),
		zap.Int("items", len(items)),
	)

	if fromCart {
		o.clearCart(ctx, request.OwnerID)
	}

	o.publish(order)

	return order, nil
}

func (o *OrderService) resolveItems(ctx context.Context, request models.CreateOrderRequest) ([]models.OrderItem, bool, error) {
	if len(request.Items) == 0 {
		lines, err := o.catalog.FindCart(ctx, request.OwnerID)
		if err != nil {
			return nil, false, fmt.Errorf("не удалось получить корзину: %w", err)
		}

		items := make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			items = append(items, models.NewOrderItem(line.Product.ID, line.Product.Name, line.Product.Price, clampQuantity(line.Quantity)))
		}
		return items, true, nil
	}

	ids := make([]string, 0, len(request.Items))
	for _, item := range request.Items {
		id, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}
		ids = append(ids, id.String())
	}

	products, err := o.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("не удалось получить товары: %w", err)
	}

	byID := make(map[string]models.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	items := make([]models.OrderItem, 0, len(request.Items))
	for i, item := range request.Items {
		product, ok := byID[ids[i]]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}
		items = append(items, models.NewOrderItem(product.ID, product.Name, product.Price, clampQuantity(item.Quantity)))
	}

	return items, false, nil
}

func clampQuantity(quantity int) int {
	if quantity < 1 {
		return 1
	}
	return quantity
}

// clearCart очищает корзину после оформления. Заказ уже сохранен, поэтому ошибка только логируется.
func (o *OrderService) clearCart(ctx context.Context, ownerID string) {
	job := func(ctx context.Context) error {
		return o.catalog.ClearCart(ctx, ownerID)
	}

	if o.jobs == nil {
		if err := job(ctx); err != nil {
			logger.Log.Error("failed to clear cart", zap.String("ownerID", ownerID), zap.Error(err))
		}
		return
	}

	if err := o.jobs.Enqueue("clear_cart:"+ownerID, job); err != nil {
		logger.Log.Error("failed to enqueue cart cleanup", zap.String("ownerID", ownerID), zap.Error(err))
	}
}

// ChangeStatus переводит заказ в target, если это разрешено таблицей переходов.
func (o *OrderService) ChangeStatus(ctx context.Context, orderID string, target models.OrderStatus, note string, actor models.Actor) (*models.Order, error) {
	target = target.Canonical()

	var from models.OrderStatus
	order, err := o.mutate(ctx, orderID, func(order *models.Order, now time.Time) error {
		from = order.Status
		if err := models.CheckTransition(from, target); err != nil {
			return err
		}

		if note == "" {
			note = fmt.Sprintf("Set to %s", target)
		}

		appendStatus(order, target, note, actor, now)
		order.Audit = append(order.Audit, models.AuditEntry{
			Type:    models.AuditStatusChange,
			At:      now,
			ActorID: actor.ID,
			Details: map[string]any{"from": string(from), "to": string(target), "note": note},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.observeTransition(from, target)

	return order, nil
}

// UpdateTracking сливает переданные поля трекинга с текущими. Статус не меняется.
func (o *OrderService) UpdateTracking(ctx context.Context, orderID string, update models.TrackingUpdate, actor models.Actor) (*models.Order, error) {
	if update.IsEmpty() {
		return nil, ErrTrackingIsEmpty
	}

	return o.mutate(ctx, orderID, func(order *models.Order, now time.Time) error {
		order.Tracking = update.Apply(order.Tracking)
		order.Audit = append(order.Audit, models.AuditEntry{
			Type:    models.AuditUpdateTracking,
			At:      now,
			ActorID: actor.ID,
			Details: trackingDetails(order.Tracking),
		})
		return nil
	})
}

func trackingDetails(tracking *models.Tracking) map[string]any {
	details := map[string]any{
		"carrier":        tracking.Carrier,
		"trackingNumber": tracking.TrackingNumber,
		"url":            tracking.URL,
	}
	if tracking.ShippedAt != nil {
		details["shippedAt"] = tracking.ShippedAt.Time
	}
	if tracking.DeliveredAt != nil {
		details["deliveredAt"] = tracking.DeliveredAt.Time
	}
	return details
}

// CancelOrder отменяет заказ с указанием причины. Доставленный заказ отменить нельзя.
func (o *OrderService) CancelOrder(ctx context.Context, orderID, reason string, actor models.Actor) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrCancelReasonRequired
	}

	var from models.OrderStatus
	order, err := o.mutate(ctx, orderID, func(order *models.Order, now time.Time) error {
		from = order.Status
		if from == models.StatusDelivered {
			return ErrCannotCancelDelivered
		}
		if err := models.CheckTransition(from, models.StatusCanceled); err != nil {
			return err
		}

		order.CanceledReason = reason
		appendStatus(order, models.StatusCanceled, reason, actor, now)
		order.Audit = append(order.Audit, models.AuditEntry{
			Type:    models.AuditCancel,
			At:      now,
			ActorID: actor.ID,
			Details: map[string]any{"from": string(from), "to": string(models.StatusCanceled), "reason": reason},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.observeTransition(from, models.StatusCanceled)

	return order, nil
}

// DeleteOrder удаляет заказ в конечном статусе. Это административная чистка вне таблицы переходов.
// После удаления публикуется последнее событие с Deleted, по которому открытые потоки закрываются.
func (o *OrderService) DeleteOrder(ctx context.Context, orderID string) error {
	orderID, ok := normalizeOrderID(orderID)
	if !ok {
		return ErrOrderNotFound
	}

	unlock := o.locks.lock(orderID)
	defer unlock()

	order, err := o.findOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if !order.Status.IsTerminal() {
		return fmt.Errorf("%w: статус %s", ErrIllegalDelete, order.Status)
	}

	if err := o.storage.DeleteOrder(ctx, orderID, order.Version); err != nil {
		if errors.Is(err, database.ErrVersionConflict) {
			return ErrConcurrentUpdate
		}
		return fmt.Errorf("не удалось удалить заказ: %w", err)
	}

	logger.Log.Info("order deleted", zap.String("orderID", orderID), zap.String("status", string(order.Status)))

	event := order.StatusEvent()
	event.Version = order.Version + 1
	event.Deleted = true
	o.publisher.PublishOrder(event)

	return nil
}

// GetOrders возвращает заказы владельца, новые первыми.
func (o *OrderService) GetOrders(ctx context.Context, ownerID string) ([]models.Order, error) {
	orders, err := o.storage.FindOrdersByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить заказы: %w", err)
	}
	if orders == nil {
		return []models.Order{}, nil
	}
	return orders, nil
}

// GetAllOrders возвращает все заказы, новые первыми.
func (o *OrderService) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := o.storage.FindAllOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить заказы: %w", err)
	}
	if orders == nil {
		return []models.Order{}, nil
	}
	return orders, nil
}

// GetOrder возвращает заказ, если actor - его владелец или администратор.
func (o *OrderService) GetOrder(ctx context.Context, orderID string, actor models.Actor) (*models.Order, error) {
	orderID, ok := normalizeOrderID(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}

	order, err := o.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !actor.CanAccess(order.OwnerID) {
		return nil, ErrForbidden
	}

	return order, nil
}

// GetStatus возвращает снимок {status, statusHistory} заказа.
func (o *OrderService) GetStatus(ctx context.Context, orderID string, actor models.Actor) (*models.StatusEvent, error) {
	order, err := o.GetOrder(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}

	event := order.StatusEvent()
	return &event, nil
}

// GetAudit возвращает журнал аудита и историю статусов заказа.
func (o *OrderService) GetAudit(ctx context.Context, orderID string) (*models.AuditTrail, error) {
	orderID, ok := normalizeOrderID(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}

	order, err := o.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &models.AuditTrail{Audit: order.Audit, StatusHistory: order.StatusHistory}, nil
}

func (o *OrderService) findOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := o.storage.FindOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить заказ: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// mutate применяет apply к копии заказа под блокировкой заказа и сохраняет результат
// условной записью по версии. Событие публикуется под той же блокировкой,
// поэтому подписчики видят события в порядке применения изменений.
// Если apply вернул ошибку, в хранилище ничего не пишется.
func (o *OrderService) mutate(ctx context.Context, orderID string, apply func(order *models.Order, now time.Time) error) (*models.Order, error) {
	orderID, ok := normalizeOrderID(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}

	unlock := o.locks.lock(orderID)
	defer unlock()

	current, err := o.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	now := o.timestamp(current)

	if err := apply(next, now); err != nil {
		return nil, err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = now

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("заказ нарушает инварианты: %w", err)
	}

	if err := o.storage.UpdateOrder(ctx, next, current.Version); err != nil {
		if errors.Is(err, database.ErrVersionConflict) {
			return nil, ErrConcurrentUpdate
		}
		return nil, fmt.Errorf("не удалось сохранить заказ: %w", err)
	}

	o.publish(next)

	return next, nil
}

// timestamp не дает времени аудита уйти назад, даже если часы узла отстают.
func (o *OrderService) timestamp(order *models.Order) time.Time {
	now := o.now().UTC()
	if n := len(order.Audit); n > 0 && order.Audit[n-1].At.After(now) {
		return order.Audit[n-1].At
	}
	return now
}

func (o *OrderService) publish(order *models.Order) {
	delivered := o.publisher.PublishOrder(order.StatusEvent())
	logger.Log.Debug("order event published",
		zap.String("orderID", order.ID),
		zap.String("status", string(order.Status)),
		zap.Int("subscribers", delivered),
	)
}

func (o *OrderService) observeTransition(from, to models.OrderStatus) {
	if o.metrics != nil {
		o.metrics.ObserveTransition(from, to)
	}
}

func appendStatus(order *models.Order, status models.OrderStatus, note string, actor models.Actor, now time.Time) {
	order.Status = status
	order.StatusHistory = append(order.StatusHistory, models.StatusHistoryEntry{
		Status:    status,
		At:        now,
		Note:      note,
		ActorType: actor.Type,
		ActorID:   actor.ID,
	})
}

// normalizeOrderID приводит идентификатор к каноническому виду UUID.
// Формы вроде urn:uuid: и верхний регистр сводятся к одному ключу хранилища и блокировки.
func normalizeOrderID(orderID string) (string, bool) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

const lockStripes = 64

// orderLocks сериализует изменения одного заказа внутри процесса.
// Между процессами порядок обеспечивает условная запись по версии.
type orderLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *orderLocks) lock(orderID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
