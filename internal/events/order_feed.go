package events

import "github.com/rezwanahammad/Therapeia/internal/models"

// OrderStatusTopic топик событий одного заказа.
func OrderStatusTopic(orderID string) string {
	return "order:" + orderID + ":status"
}

// OrderFeed привязывает шину к событиям статуса заказов.
type OrderFeed struct {
	bus *Bus[models.StatusEvent]
}

func NewOrderFeed(bus *Bus[models.StatusEvent]) *OrderFeed {
	return &OrderFeed{bus: bus}
}

// PublishOrder публикует событие в топик заказа event.OrderID.
func (f *OrderFeed) PublishOrder(event models.StatusEvent) int {
	return f.bus.Publish(OrderStatusTopic(event.OrderID), event)
}

// SubscribeOrder подписывает handler на события заказа и возвращает идемпотентную функцию отписки.
func (f *OrderFeed) SubscribeOrder(orderID string, handler func(models.StatusEvent)) func() {
	return f.bus.Subscribe(OrderStatusTopic(orderID), handler).Unsubscribe
}

// Subscribers возвращает число активных подписчиков заказа.
func (f *OrderFeed) Subscribers(orderID string) int {
	return f.bus.SubscriberCount(OrderStatusTopic(orderID))
}
