package middlewares

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rezwanahammad/Therapeia/internal/models"
	"github.com/rezwanahammad/Therapeia/internal/services"
)

// actorFieldType определяет тип для ключа, используемого для хранения данных пользователя в контексте.
type actorFieldType string

// actorField является ключом для хранения информации о пользователе в контексте запроса.
const actorField actorFieldType = "actorField"

// AuthMiddlewareConfig представляет конфигурацию middleware для аутентификации.
type AuthMiddlewareConfig struct {
	excludePaths []string // Пути, которые будут исключены из проверки аутентификации.
}

// AuthMiddleware создает новую конфигурацию middleware для аутентификации.
func AuthMiddleware() *AuthMiddlewareConfig {
	return &AuthMiddlewareConfig{}
}

// WithExcludedPaths устанавливает пути, которые будут исключены из проверки аутентификации.
func (a *AuthMiddlewareConfig) WithExcludedPaths(paths ...string) *AuthMiddlewareConfig {
	a.excludePaths = paths
	return a
}

// Middleware возвращает middleware для аутентификации, используя установленную конфигурацию.
// Токены выпускает внешний сервис; здесь проверяется подпись и из claims sub и role собирается models.Actor.
func (a *AuthMiddlewareConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Проверяем, является ли текущий путь исключенным из проверки аутентификации.
		for _, path := range a.excludePaths {
			if strings.HasPrefix(r.URL.Path, path) {
				next.ServeHTTP(w, r)
				return
			}
		}

		jwtService := GetServiceFromContext[models.JWTService](w, r, JwtServiceKey)
		if jwtService == nil {
			return
		}

		// Получаем заголовок Authorization.
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Требуется заголовок Authorization", http.StatusUnauthorized)
			return
		}

		// Извлекаем токен из заголовка Authorization.
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			http.Error(w, "Токен Bearer пуст", http.StatusUnauthorized)
			return
		}

		// Валидируем токен с помощью JWT-сервиса.
		token, err := (*jwtService).ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, services.ErrTokenIsInvalid) {
				http.Error(w, "Неверный токен", http.StatusUnauthorized)
				return
			}

			if errors.Is(err, services.ErrTokenIsExpired) {
				http.Error(w, "Токен истёк", http.StatusUnauthorized)
				return
			}

			http.Error(w, fmt.Sprintf("Произошла ошибка при проверке токена: %s", err.Error()), http.StatusUnauthorized)
			return
		}

		actor, err := services.ActorFromToken(token)
		if err != nil {
			http.Error(w, fmt.Sprintf("Произошла ошибка при чтении поля sub: %s", err.Error()), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorField, actor)))
	})
}

// RequireAdmin пропускает дальше только администраторов.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActorFromContext(w, r)
		if !ok {
			return
		}

		if !actor.IsAdmin() {
			http.Error(w, "Доступ только для администраторов", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetActorFromContext извлекает информацию о пользователе из контекста запроса.
// В случае ошибки отвечает HTTP 500 и возвращает false.
func GetActorFromContext(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := r.Context().Value(actorField).(models.Actor)

	if !ok {
		http.Error(w, "Не удалось получить пользователя из контекста", http.StatusInternalServerError)
		return models.Actor{}, false
	}

	return actor, true
}
