// Package events реализует внутрипроцессную шину публикации/подписки по строковым топикам.
// Шина не хранит событий: подписчик получает только то, что опубликовано после подписки.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rezwanahammad/Therapeia/internal/logger"
)

// Handler обработчик событий топика.
type Handler[T any] func(payload T)

type entry[T any] struct {
	id      uint64
	handler Handler[T]
}

// Bus реестр топик -> обработчики. Безопасен для конкурентного использования.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]entry[T]
}

// NewBus создает пустую шину.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{topics: make(map[string][]entry[T])}
}

// Subscription описывает одну регистрацию обработчика.
type Subscription[T any] struct {
	bus   *Bus[T]
	topic string
	id    uint64
	once  sync.Once
}

// Topic возвращает топик подписки.
func (s *Subscription[T]) Topic() string {
	return s.topic
}

// Unsubscribe удаляет обработчик. Повторные вызовы ничего не делают.
func (s *Subscription[T]) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
	})
}

// Subscribe регистрирует handler для всех будущих публикаций в topic.
func (b *Bus[T]) Subscribe(topic string, handler Handler[T]) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.topics[topic] = append(b.topics[topic], entry[T]{id: b.nextID, handler: handler})

	return &Subscription[T]{bus: b, topic: topic, id: b.nextID}
}

// Unsubscribe эквивалентен sub.Unsubscribe().
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	sub.Unsubscribe()
}

func (b *Bus[T]) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.topics[topic]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		// Новый срез, чтобы не портить снимок, который сейчас обходит Publish.
		rest := make([]entry[T], 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		if len(rest) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = rest
		}
		return
	}
}

// Publish синхронно доставляет payload всем текущим подписчикам topic в порядке подписки
// и возвращает число успешно отработавших обработчиков.
// Паника обработчика логируется и не мешает остальным.
func (b *Bus[T]) Publish(topic string, payload T) int {
	b.mu.RLock()
	entries := b.topics[topic]
	b.mu.RUnlock()

	delivered := 0
	for _, e := range entries {
		if err := safeCall(e.handler, payload); err != nil {
			logger.Log.Error("event handler failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		delivered++
	}

	return delivered
}

// SubscriberCount возвращает число обработчиков topic.
func (b *Bus[T]) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Topics возвращает число топиков, у которых есть хотя бы один обработчик.
func (b *Bus[T]) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

func safeCall[T any](handler Handler[T], payload T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	handler(payload)
	return nil
}
