package models

import (
	"errors"
	"fmt"
)

// OrderStatus описывает текущий этап жизненного цикла заказа.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCanceled   OrderStatus = "canceled"

	// StatusPlaced устаревший синоним StatusPending, принимается только на входе.
	StatusPlaced OrderStatus = "placed"
)

// ErrInvalidTransition возвращается при попытке недопустимой смены статуса.
var ErrInvalidTransition = errors.New("недопустимая смена статуса")

// ErrUnknownStatus возвращается при разборе неизвестного статуса.
var ErrUnknownStatus = errors.New("неизвестный статус заказа")

// transitions задает допустимые переходы: из статуса -> в статусы.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusProcessing, StatusCanceled},
	StatusProcessing: {StatusShipped, StatusCanceled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  nil,
	StatusCanceled:   nil,
}

// TransitionError содержит пару статусов отклоненного перехода.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("невозможно перевести заказ из статуса %s в статус %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ParseOrderStatus разбирает строку в статус. Синоним placed приводится к pending.
func ParseOrderStatus(value string) (OrderStatus, error) {
	status := OrderStatus(value).Canonical()
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, value)
	}
	return status, nil
}

// Canonical приводит синонимы к каноническому имени статуса.
func (s OrderStatus) Canonical() OrderStatus {
	if s == StatusPlaced {
		return StatusPending
	}
	return s
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	next, ok := transitions[s.Canonical()]
	return ok && len(next) == 0
}

// AllowedTransitions возвращает копию списка статусов, в которые можно перейти из s.
func (s OrderStatus) AllowedTransitions() []OrderStatus {
	return append([]OrderStatus(nil), transitions[s.Canonical()]...)
}

// CanTransition сообщает, разрешен ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range transitions[from.Canonical()] {
		if allowed == to.Canonical() {
			return true
		}
	}
	return false
}

// CheckTransition возвращает *TransitionError, если переход from -> to запрещен.
func CheckTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from.Canonical(), To: to.Canonical()}
	}
	return nil
}

// Statuses возвращает все канонические статусы.
func Statuses() []OrderStatus {
	return []OrderStatus{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCanceled}
}
