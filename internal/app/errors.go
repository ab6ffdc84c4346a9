package router

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/logger"
	"github.com/rezwanahammad/Therapeia/internal/models"
	"github.com/rezwanahammad/Therapeia/internal/services"
)

// writeServiceError переводит ошибку сервиса заказов в HTTP-ответ.
// action описывает операцию для сообщения о внутренней ошибке.
func writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		http.Error(w, "Заказ не найден", http.StatusNotFound)
	case errors.Is(err, services.ErrProductNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrForbidden):
		http.Error(w, "Нет доступа к заказу", http.StatusForbidden)
	case errors.Is(err, services.ErrConcurrentUpdate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, models.ErrUnknownPaymentMethod),
		errors.Is(err, services.ErrEmptyCart),
		errors.Is(err, services.ErrIllegalDelete),
		errors.Is(err, services.ErrCannotCancelDelivered),
		errors.Is(err, services.ErrCancelReasonRequired),
		errors.Is(err, services.ErrTrackingIsEmpty):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Log.Error("request failed", zap.String("action", action), zap.Error(err))
		http.Error(w, fmt.Sprintf("Произошла ошибка при %s: %s", action, err.Error()), http.StatusInternalServerError)
	}
}
