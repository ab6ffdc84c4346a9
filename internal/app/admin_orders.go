package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rezwanahammad/Therapeia/internal/middlewares"
	"github.com/rezwanahammad/Therapeia/internal/models"
)

// GetAllOrders возвращает все заказы, новые первыми.
func GetAllOrders(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	orders, err := (*orderService).GetAllOrders(r.Context())
	if err != nil {
		writeServiceError(w, err, "получении заказов")
		return
	}

	middlewares.EncodeJSONResponse(w, ordersResponse{Orders: orders})
}

// ChangeOrderStatus переводит заказ в новый статус по таблице переходов.
func ChangeOrderStatus(w http.ResponseWriter, r *http.Request) {
	request := middlewares.GetParsedJSONData[models.ChangeStatusRequest](w, r)

	if request.Status == nil || *request.Status == "" {
		http.Error(w, "Не указан статус", http.StatusBadRequest)
		return
	}

	target, err := models.ParseOrderStatus(*request.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	order, err := (*orderService).ChangeStatus(r.Context(), chi.URLParam(r, "id"), target, request.Note, actor)
	if err != nil {
		writeServiceError(w, err, "смене статуса заказа")
		return
	}

	middlewares.EncodeJSONResponse(w, orderResponse{Order: order})
}

// UpdateOrderTracking обновляет переданные поля трекинга, остальные сохраняются.
func UpdateOrderTracking(w http.ResponseWriter, r *http.Request) {
	update := middlewares.GetParsedJSONData[models.TrackingUpdate](w, r)

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	order, err := (*orderService).UpdateTracking(r.Context(), chi.URLParam(r, "id"), update, actor)
	if err != nil {
		writeServiceError(w, err, "обновлении трекинга")
		return
	}

	middlewares.EncodeJSONResponse(w, orderResponse{Order: order})
}

// CancelOrder отменяет заказ с указанием причины.
func CancelOrder(w http.ResponseWriter, r *http.Request) {
	request := middlewares.GetParsedJSONData[models.CancelOrderRequest](w, r)

	var reason string
	if request.Reason != nil {
		reason = *request.Reason
	}

	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	actor, ok := middlewares.GetActorFromContext(w, r)
	if !ok {
		return
	}

	order, err := (*orderService).CancelOrder(r.Context(), chi.URLParam(r, "id"), reason, actor)
	if err != nil {
		writeServiceError(w, err, "отмене заказа")
		return
	}

	middlewares.EncodeJSONResponse(w, orderResponse{Order: order})
}

// DeleteOrder удаляет доставленный или отмененный заказ.
func DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	if err := (*orderService).DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, "удалении заказа")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetOrderAudit возвращает журнал аудита и историю статусов.
func GetOrderAudit(w http.ResponseWriter, r *http.Request) {
	orderService := middlewares.GetServiceFromContext[models.OrderService](w, r, middlewares.OrderServiceKey)
	if orderService == nil {
		return
	}

	trail, err := (*orderService).GetAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "получении журнала заказа")
		return
	}

	middlewares.EncodeJSONResponse(w, trail)
}
