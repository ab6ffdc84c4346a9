package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Header заголовок, в котором клиент передает ключ идемпотентности.
const Header = "Idempotency-Key"

// DefaultTTL время, в течение которого повтор запроса с тем же ключом отклоняется.
const DefaultTTL = 24 * time.Hour

// Store хранит использованные ключи в Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Key собирает ключ Redis из пространства имен, пользователя и клиентского ключа.
func Key(scope, actorID, clientKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s", scope, actorID, clientKey)
}

// FromRequest возвращает клиентский ключ из заголовка или пустую строку.
func FromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Seen атомарно помечает ключ и возвращает true, если ключ уже был помечен.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ключа идемпотентности: %w", err)
	}

	return !ok, nil
}

// Release снимает пометку с ключа, чтобы клиент мог повторить неудавшийся запрос.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ошибка освобождения ключа идемпотентности: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (s *Store) Close() error {
	return s.rdb.Close()
}
