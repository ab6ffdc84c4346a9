package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rezwanahammad/Therapeia/internal/middlewares"
	"github.com/rezwanahammad/Therapeia/internal/models"
)

type orderResponse struct {
	Order *models.Order `json:"order"`
}

type ordersResponse struct {
	Orders []models.Order `json:"orders"`
}

// CreateOrder обрабатывает HTTP-запрос на оформление заказа.
// Если позиции не переданы, заказ собирается из корзины пользователя.
func CreateOrder(w http.ResponseWriter, r *http.Request) {
	request := middlewares.GetParsedJSONData[models.CreateOrderRequest](w, r)

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	// Владелец всегда берется из токена, а не из тела запроса.
	request.OwnerID = actor.ID

	order, err := (*orderService).CreateOrder(r.Context(), request)
	if err != nil {
		writeServiceError(w, err, "создании заказа")
		return
	}

	middlewares.EncodeJSONResponseWithStatus(w, http.StatusCreated, orderResponse{Order: order})
}

// GetOrders обрабатывает HTTP-запрос на получение списка заказов пользователя.
func GetOrders(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	orders, err := (*orderService).GetOrders(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, err, "получении заказов")
		return
	}

	middlewares.EncodeJSONResponse(w, ordersResponse{Orders: orders})
}

// GetOrder возвращает заказ владельцу или администратору.
func GetOrder(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	order, err := (*orderService).GetOrder(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeServiceError(w, err, "получении заказа")
		return
	}

	middlewares.EncodeJSONResponse(w, orderResponse{Order: order})
}

// GetOrderStatus возвращает текущий статус заказа вместе с историей.
func GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	status, err := (*orderService).GetStatus(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeServiceError(w, err, "получении статуса заказа")
		return
	}

	middlewares.EncodeJSONResponse(w, status)
}
