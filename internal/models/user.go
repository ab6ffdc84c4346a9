package models

import "github.com/shopspring/decimal"

// ActorType роль того, кто выполняет действие над заказом.
type ActorType string

const (
	ActorUser  ActorType = "user"
	ActorAdmin ActorType = "admin"
)

// Actor аутентифицированный пользователь или администратор.
// Токены проверяются до сервисного слоя, сюда попадает уже готовая пара (ID, роль).
type Actor struct {
	ID   string
	Type ActorType
}

func (a Actor) IsAdmin() bool {
	return a.Type == ActorAdmin
}

// CanAccess сообщает, может ли actor читать заказ владельца ownerID.
func (a Actor) CanAccess(ownerID string) bool {
	return a.IsAdmin() || (a.ID != "" && a.ID == ownerID)
}

// Product снимок товара из каталога, нужный для оформления заказа.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// CartLine позиция корзины пользователя вместе с товаром.
type CartLine struct {
	Product  Product
	Quantity int
}
