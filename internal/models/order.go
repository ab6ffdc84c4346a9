package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"

	"github.com/rezwanahammad/Therapeia/internal/utils"
)

func init() {
	// Клиенты ожидают денежные суммы числами, а не строками.
	decimal.MarshalJSONWithoutQuotes = true
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

type PaymentMethod string

const (
	PaymentBank    PaymentMethod = "Bank"
	PaymentBkash   PaymentMethod = "Bkash"
	PaymentNagad   PaymentMethod = "Nagad"
	PaymentUnknown PaymentMethod = "Unknown"
)

// ErrUnknownPaymentMethod возвращается для способа оплаты вне списка.
var ErrUnknownPaymentMethod = errors.New("неизвестный способ оплаты")

// ParsePaymentMethod разбирает способ оплаты. Пустое значение означает Unknown.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	switch method := PaymentMethod(value); method {
	case "":
		return PaymentUnknown, nil
	case PaymentBank, PaymentBkash, PaymentNagad, PaymentUnknown:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, value)
	}
}

// AuditType классифицирует записи журнала аудита.
type AuditType string

const (
	AuditOrderCreated   AuditType = "order_created"
	AuditStatusChange   AuditType = "status_change"
	AuditUpdateTracking AuditType = "update_tracking"
	AuditCancel         AuditType = "cancel"
)

// OrderItem снимок позиции на момент оформления заказа.
type OrderItem struct {
	ProductID string          `json:"product"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// NewOrderItem создает позицию и вычисляет ее сумму.
func NewOrderItem(productID, name string, unitPrice decimal.Decimal, quantity int) OrderItem {
	return OrderItem{
		ProductID: productID,
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  quantity,
		LineTotal: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

type Address struct {
	Label      string `json:"label,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type Tracking struct {
	Carrier        string             `json:"carrier,omitempty"`
	TrackingNumber string             `json:"trackingNumber,omitempty"`
	URL            string             `json:"url,omitempty"`
	ShippedAt      *utils.RFC3339Date `json:"shippedAt,omitempty"`
	DeliveredAt    *utils.RFC3339Date `json:"deliveredAt,omitempty"`
}

// TrackingUpdate частичное обновление трекинга: nil-поля сохраняют прежние значения.
type TrackingUpdate struct {
	Carrier        *string            `json:"carrier"`
	TrackingNumber *string            `json:"trackingNumber"`
	URL            *string            `json:"url"`
	ShippedAt      *utils.RFC3339Date `json:"shippedAt"`
	DeliveredAt    *utils.RFC3339Date `json:"deliveredAt"`
}

// IsEmpty сообщает, что в обновлении нет ни одного непустого поля.
func (u TrackingUpdate) IsEmpty() bool {
	return isBlank(u.Carrier) && isBlank(u.TrackingNumber) && isBlank(u.URL) &&
		u.ShippedAt == nil && u.DeliveredAt == nil
}

// Apply возвращает новый трекинг, полученный слиянием current и обновления.
func (u TrackingUpdate) Apply(current *Tracking) *Tracking {
	merged := Tracking{}
	if current != nil {
		merged = *current
	}
	if !isBlank(u.Carrier) {
		merged.Carrier = *u.Carrier
	}
	if !isBlank(u.TrackingNumber) {
		merged.TrackingNumber = *u.TrackingNumber
	}
	if !isBlank(u.URL) {
		merged.URL = *u.URL
	}
	if u.ShippedAt != nil {
		merged.ShippedAt = u.ShippedAt
	}
	if u.DeliveredAt != nil {
		merged.DeliveredAt = u.DeliveredAt
	}
	return &merged
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}

type StatusHistoryEntry struct {
	Status    OrderStatus    `json:"status"`
	At        time.Time      `json:"at"`
	Note      string         `json:"note,omitempty"`
	ActorType ActorType      `json:"actorType"`
	ActorID   string         `json:"actorId,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type AuditEntry struct {
	Type    AuditType      `json:"type"`
	At      time.Time      `json:"at"`
	ActorID string         `json:"actorId,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type Order struct {
	ID              string               `json:"id"`
	OwnerID         string               `json:"user"`
	Items           []OrderItem          `json:"items"`
	TotalAmount     decimal.Decimal      `json:"totalAmount"`
	Status          OrderStatus          `json:"status"`
	PaymentStatus   PaymentStatus        `json:"paymentStatus"`
	PaymentMethod   PaymentMethod        `json:"paymentMethod"`
	ShippingAddress *Address             `json:"shippingAddress,omitempty"`
	Tracking        *Tracking            `json:"tracking,omitempty"`
	CanceledReason  string               `json:"canceledReason,omitempty"`
	StatusHistory   []StatusHistoryEntry `json:"statusHistory"`
	Audit           []AuditEntry         `json:"audit"`
	Version         int64                `json:"version"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// Инварианты заказа.
var (
	ErrOwnerRequired     = errors.New("не указан владелец заказа")
	ErrInvalidQuantity   = errors.New("количество должно быть не меньше 1")
	ErrLineTotalMismatch = errors.New("сумма позиции не равна цене, умноженной на количество")
	ErrTotalMismatch     = errors.New("сумма заказа не равна сумме позиций")
	ErrNegativeTotal     = errors.New("сумма заказа отрицательна")
	ErrHistoryMismatch   = errors.New("последняя запись истории не совпадает с текущим статусом")
	ErrAuditOutOfOrder   = errors.New("записи аудита нарушают порядок времени")
)

// CalculateTotal возвращает сумму всех позиций.
func CalculateTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}

// Validate проверяет инварианты заказа и возвращает все найденные нарушения.
func (o *Order) Validate() error {
	var result *multierror.Error

	if o.OwnerID == "" {
		result = multierror.Append(result, ErrOwnerRequired)
	}

	for i, item := range o.Items {
		if item.Quantity < 1 {
			result = multierror.Append(result, fmt.Errorf("позиция %d: %w", i, ErrInvalidQuantity))
		}
		if !item.LineTotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))) {
			result = multierror.Append(result, fmt.Errorf("позиция %d: %w", i, ErrLineTotalMismatch))
		}
	}

	if !o.TotalAmount.Equal(CalculateTotal(o.Items)) {
		result = multierror.Append(result, ErrTotalMismatch)
	}
	if o.TotalAmount.IsNegative() {
		result = multierror.Append(result, ErrNegativeTotal)
	}

	if n := len(o.StatusHistory); n == 0 || o.StatusHistory[n-1].Status != o.Status {
		result = multierror.Append(result, ErrHistoryMismatch)
	}

	for i := 1; i < len(o.Audit); i++ {
		if o.Audit[i].At.Before(o.Audit[i-1].At) {
			result = multierror.Append(result, fmt.Errorf("запись %d: %w", i, ErrAuditOutOfOrder))
			break
		}
	}

	return result.ErrorOrNil()
}

// Clone возвращает копию заказа, изменение которой не затрагивает исходные срезы.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	c.Audit = append([]AuditEntry(nil), o.Audit...)
	if o.Tracking != nil {
		t := *o.Tracking
		c.Tracking = &t
	}
	if o.ShippingAddress != nil {
		a := *o.ShippingAddress
		c.ShippingAddress = &a
	}
	return &c
}

// StatusEvent публикуется при каждом изменении заказа и служит снимком для потока статусов.
// Version совпадает с версией заказа после изменения. Deleted помечает последнее событие удаленного заказа.
type StatusEvent struct {
	OrderID       string               `json:"orderId"`
	Status        OrderStatus          `json:"status"`
	StatusHistory []StatusHistoryEntry `json:"statusHistory"`
	Version       int64                `json:"version"`
	Deleted       bool                 `json:"deleted,omitempty"`
}

// StatusEvent строит событие из текущего состояния заказа.
func (o *Order) StatusEvent() StatusEvent {
	return StatusEvent{
		OrderID:       o.ID,
		Status:        o.Status,
		StatusHistory: append([]StatusHistoryEntry(nil), o.StatusHistory...),
		Version:       o.Version,
	}
}

// AuditTrail ответ на запрос журнала аудита.
type AuditTrail struct {
	Audit         []AuditEntry         `json:"audit"`
	StatusHistory []StatusHistoryEntry `json:"statusHistory"`
}

// ItemRequest позиция, переданная клиентом явно.
type ItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest тело запроса на создание заказа.
type CreateOrderRequest struct {
	OwnerID         string        `json:"-"`
	Items           []ItemRequest `json:"items"`
	PaymentMethod   string        `json:"paymentMethod"`
	ShippingAddress *Address      `json:"shippingAddress"`
	Note            string        `json:"note"`
}

// ChangeStatusRequest тело запроса администратора на смену статуса.
type ChangeStatusRequest struct {
	Status *string `json:"status"`
	Note   string  `json:"note"`
}

// CancelOrderRequest тело запроса на отмену заказа.
type CancelOrderRequest struct {
	Reason *string `json:"reason"`
}
