package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rezwanahammad/Therapeia/internal/models"
)

// Определяем пользовательские ошибки для обработки JWT.
var (
	ErrTokenIsInvalid = errors.New("токен недействителен")
	ErrTokenIsExpired = errors.New("токен истёк")
)

// RoleClaim имя claim, в котором хранится роль пользователя.
const RoleClaim = "role"

// JWTService проверяет токены, выпущенные сервисом аутентификации, с общим секретом.
type JWTService struct {
	authSecretKey string
	ttl           time.Duration
}

// NewJWTService создает новый экземпляр JWTService с заданным секретным ключом.
func NewJWTService(authSecretKey string) *JWTService {
	return &JWTService{authSecretKey: authSecretKey, ttl: 24 * time.Hour}
}

// GenerateJWT выпускает токен для actor: sub - идентификатор, role - роль.
// Используется для служебных токенов и в тестах; пользовательские токены выпускает сервис аутентификации.
func (j *JWTService) GenerateJWT(actor models.Actor) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     actor.ID,
		RoleClaim: string(actor.Type),
		"iat":     now.Unix(),
		"exp":     now.Add(j.ttl).Unix(),
	})

	tokenString, err := token.SignedString([]byte(j.authSecretKey))
	if err != nil {
		return "", fmt.Errorf("error while generating token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken проверяет подпись и срок действия JWT токена.
func (j *JWTService) ValidateToken(tokenString string) (*jwt.Token, error) {
	parsedToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.authSecretKey), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenIsExpired
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrTokenIsInvalid
		}

		return nil, fmt.Errorf("error while validating token: %w", err)
	}

	if !parsedToken.Valid {
		return nil, ErrTokenIsInvalid
	}

	return parsedToken, nil
}

// ActorFromToken извлекает идентификатор и роль из проверенного токена.
// Отсутствующая или неизвестная роль трактуется как обычный пользователь.
func ActorFromToken(token *jwt.Token) (models.Actor, error) {
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return models.Actor{}, fmt.Errorf("не удалось прочитать поле sub: %w", err)
	}
	if subject == "" {
		return models.Actor{}, ErrTokenIsInvalid
	}

	actor := models.Actor{ID: subject, Type: models.ActorUser}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if role, _ := claims[RoleClaim].(string); role == string(models.ActorAdmin) {
			actor.Type = models.ActorAdmin
		}
	}

	return actor, nil
}
