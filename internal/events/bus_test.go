package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezwanahammad/Therapeia/internal/models"
)

func TestBusPublishDeliversToCurrentSubscribers(t *testing.T) {
	bus := NewBus[int]()

	var first, second []int
	bus.Subscribe("a", func(v int) { first = append(first, v) })
	bus.Subscribe("a", func(v int) { second = append(second, v) })
	bus.Subscribe("b", func(v int) { t.Fatalf("чужой топик получил %d", v) })

	assert.Equal(t, 2, bus.Publish("a", 1))
	assert.Equal(t, 2, bus.Publish("a", 2))

	assert.Equal(t, []int{1, 2}, first)
	assert.Equal(t, []int{1, 2}, second)
}

func TestBusHasNoReplay(t *testing.T) {
	bus := NewBus[string]()

	assert.Equal(t, 0, bus.Publish("topic", "lost"))

	var got []string
	bus.Subscribe("topic", func(v string) { got = append(got, v) })
	bus.Publish("topic", "seen")

	assert.Equal(t, []string{"seen"}, got)
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus[int]()

	calls := 0
	sub := bus.Subscribe("topic", func(int) { calls++ })
	other := bus.Subscribe("topic", func(int) {})

	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Unsubscribe(sub)

	bus.Publish("topic", 1)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, bus.SubscriberCount("topic"))

	other.Unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount("topic"))
	assert.Equal(t, 0, bus.Topics(), "пустой топик должен удаляться")

	// отписка после того, как топик исчез
	other.Unsubscribe()
	var nilSub *Subscription[int]
	nilSub.Unsubscribe()
}

func TestBusHandlerPanicDoesNotStopFanOut(t *testing.T) {
	bus := NewBus[int]()

	var got []int
	bus.Subscribe("topic", func(int) { panic("boom") })
	bus.Subscribe("topic", func(v int) { got = append(got, v) })

	require.NotPanics(t, func() {
		assert.Equal(t, 1, bus.Publish("topic", 7))
	})
	assert.Equal(t, []int{7}, got)
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus[int]()

	var sub *Subscription[int]
	var got []int
	sub = bus.Subscribe("topic", func(int) { sub.Unsubscribe() })
	bus.Subscribe("topic", func(v int) { got = append(got, v) })

	bus.Publish("topic", 1)
	bus.Publish("topic", 2)

	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 1, bus.SubscriberCount("topic"))
}

func TestBusConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus[int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe("topic", func(int) {})
			sub.Unsubscribe()
		}()
		go func(v int) {
			defer wg.Done()
			bus.Publish("topic", v)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, bus.SubscriberCount("topic"))
}

func TestOrderFeedFanOut(t *testing.T) {
	feed := NewOrderFeed(NewBus[models.StatusEvent]())

	var first, second []models.StatusEvent
	unsubscribeFirst := feed.SubscribeOrder("order-1", func(e models.StatusEvent) { first = append(first, e) })
	unsubscribeSecond := feed.SubscribeOrder("order-1", func(e models.StatusEvent) { second = append(second, e) })
	feed.SubscribeOrder("order-2", func(models.StatusEvent) { t.Fatal("событие попало в чужой заказ") })

	event := models.StatusEvent{OrderID: "order-1", Status: models.StatusProcessing}
	assert.Equal(t, 2, feed.PublishOrder(event))

	assert.Equal(t, []models.StatusEvent{event}, first)
	assert.Equal(t, first, second)

	unsubscribeFirst()
	unsubscribeSecond()
	unsubscribeSecond()
	assert.Equal(t, 0, feed.Subscribers("order-1"))
	assert.Equal(t, "order:order-1:status", OrderStatusTopic("order-1"))
}
