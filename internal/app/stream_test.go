package router

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezwanahammad/Therapeia/internal/events"
	"github.com/rezwanahammad/Therapeia/internal/models"
	mock_models "github.com/rezwanahammad/Therapeia/internal/models/mocks"
	"github.com/rezwanahammad/Therapeia/internal/services"
	"github.com/rezwanahammad/Therapeia/internal/utils"
)

type streamFixture struct {
	router       *Router
	server       *httptest.Server
	feed         *events.OrderFeed
	orderService *mock_models.MockOrderService
}

func newStreamFixture(t *testing.T, config Config) *streamFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	jwtServiceMock := mock_models.NewMockJWTService(ctrl)
	jwtServiceMock.EXPECT().ValidateToken("token").Return(tokenFor(testUser), nil).AnyTimes()

	orderServiceMock := mock_models.NewMockOrderService(ctrl)
	feed := events.NewOrderFeed(events.NewBus[models.StatusEvent]())

	router := New(config, jwtServiceMock, orderServiceMock, feed, nil, nil)
	server := httptest.NewServer(router.get())
	t.Cleanup(server.Close)

	return &streamFixture{router: router, server: server, feed: feed, orderService: orderServiceMock}
}

// open открывает поток и возвращает читатель событий. Поток закрывается при завершении теста.
func (f *streamFixture) open(t *testing.T) (*http.Response, *bufio.Reader, context.CancelFunc) {
	t.Helper()

	return f.openPath(t, "/api/orders/"+testOrderID+"/stream")
}

func (f *streamFixture) openPath(t *testing.T, path string) (*http.Response, *bufio.Reader, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token")

	res, err := f.server.Client().Do(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		res.Body.Close()
	})

	return res, bufio.NewReader(res.Body), cancel
}

// readEvent читает одно событие "data: <json>" с таймаутом.
func readEvent(t *testing.T, reader *bufio.Reader) models.StatusEvent {
	t.Helper()

	type result struct {
		event models.StatusEvent
		err   error
	}
	done := make(chan result, 1)

	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				done <- result{err: err}
				return
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event models.StatusEvent
			err = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event)
			done <- result{event: event, err: err}
			return
		}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.event
	case <-time.After(2 * time.Second):
		t.Fatal("событие не получено")
		return models.StatusEvent{}
	}
}

func withHistory(order *models.Order, statuses ...models.OrderStatus) models.StatusEvent {
	event := order.StatusEvent()
	for _, status := range statuses {
		event.Version++
		event.Status = status
		event.StatusHistory = append(event.StatusHistory, models.StatusHistoryEntry{
			Status:    status,
			At:        time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
			ActorType: models.ActorAdmin,
			ActorID:   testAdmin.ID,
		})
	}
	return event
}

func TestStreamRejectsBeforeOpening(t *testing.T) {
	f := newStreamFixture(t, Config{})

	testCases := []struct {
		testName        string
		err             error
		expectedCode    int
		expectedMessage string
	}{
		{
			testName:        "Должен вернуть 404 для несуществующего заказа",
			err:             services.ErrOrderNotFound,
			expectedCode:    http.StatusNotFound,
			expectedMessage: "Заказ не найден\n",
		},
		{
			testName:        "Должен запретить поток чужого заказа",
			err:             services.ErrForbidden,
			expectedCode:    http.StatusForbidden,
			expectedMessage: "Нет доступа к заказу\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			f.orderService.EXPECT().GetOrder(gomock.Any(), testOrderID, testUser).Return(nil, tc.err)

			res, mes := utils.TestRequest(t, f.server, "GET", "/api/orders/"+testOrderID+"/stream",
				map[string]string{"Authorization": "Bearer token"}, nil)
			res.Body.Close()

			assert.Equal(t, tc.expectedCode, res.StatusCode)
			assert.Equal(t, tc.expectedMessage, mes)
			assert.Equal(t, 0, f.feed.Subscribers(testOrderID))
		})
	}
}

func TestStreamSnapshotThenEventsInOrder(t *testing.T) {
	f := newStreamFixture(t, Config{})

	order := testOrder(models.StatusPending)
	snapshot := order.StatusEvent()

	f.orderService.EXPECT().GetOrder(gomock.Any(), testOrderID, testUser).Return(order, nil)
	f.orderService.EXPECT().GetStatus(gomock.Any(), testOrderID, testUser).Return(&snapshot, nil)

	res, reader, cancel := f.open(t)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", res.Header.Get("Cache-Control"))

	first := readEvent(t, reader)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Len(t, first.StatusHistory, 1)
	assert.Equal(t, 1, f.feed.Subscribers(testOrderID))

	f.feed.PublishOrder(withHistory(order, models.StatusProcessing))
	f.feed.PublishOrder(withHistory(order, models.StatusProcessing, models.StatusShipped))

	second := readEvent(t, reader)
	assert.Equal(t, models.StatusProcessing, second.Status)
	assert.Len(t, second.StatusHistory, 2)

	third := readEvent(t, reader)
	assert.Equal(t, models.StatusShipped, third.Status)
	assert.Len(t, third.StatusHistory, 3)

	// После отключения клиента подписка должна быть снята.
	cancel()
	assert.Eventually(t, func() bool {
		return f.feed.Subscribers(testOrderID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamSkipsEventsCoveredBySnapshot(t *testing.T) {
	f := newStreamFixture(t, Config{})

	order := testOrder(models.StatusPending)
	processing := withHistory(order, models.StatusProcessing)

	f.orderService.EXPECT().GetOrder(gomock.Any(), testOrderID, testUser).Return(order, nil)
	// Изменение успевает опубликоваться между подпиской и чтением снимка.
	f.orderService.EXPECT().GetStatus(gomock.Any(), testOrderID, testUser).DoAndReturn(
		func(context.Context, string, models.Actor) (*models.StatusEvent, error) {
			f.feed.PublishOrder(processing)
			snapshot := processing
			return &snapshot, nil
		})

	_, reader, _ := f.open(t)

	first := readEvent(t, reader)
	assert.Equal(t, models.StatusProcessing, first.Status)
	assert.Equal(t, int64(2), first.Version)

	f.feed.PublishOrder(withHistory(order, models.StatusProcessing, models.StatusShipped))

	second := readEvent(t, reader)
	assert.Equal(t, models.StatusShipped, second.Status)
	assert.Equal(t, int64(3), second.Version)
}

func TestStreamClosesAfterOrderDeleted(t *testing.T) {
	f := newStreamFixture(t, Config{})

	order := testOrder(models.StatusPending)
	snapshot := order.StatusEvent()

	f.orderService.EXPECT().GetOrder(gomock.Any(), testOrderID, testUser).Return(order, nil)
	f.orderService.EXPECT().GetStatus(gomock.Any(), testOrderID, testUser).Return(&snapshot, nil)

	_, reader, _ := f.open(t)
	readEvent(t, reader)

	deleted := withHistory(order, models.StatusCanceled)
	deleted.Version++
	deleted.Deleted = true
	f.feed.PublishOrder(deleted)

	event := readEvent(t, reader)
	assert.True(t, event.Deleted)
	assert.Equal(t, models.StatusCanceled, event.Status)

	_, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Eventually(t, func() bool {
		return f.feed.Subscribers(testOrderID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamUsesCanonicalOrderID(t *testing.T) {
	f := newStreamFixture(t, Config{})

	order := testOrder(models.StatusPending)
	snapshot := order.StatusEvent()
	spelling := strings.ToUpper(testOrderID)

	f.orderService.EXPECT().GetOrder(gomock.Any(), spelling, testUser).Return(order, nil)
	f.orderService.EXPECT().GetStatus(gomock.Any(), testOrderID, testUser).Return(&snapshot, nil)

	_, reader, _ := f.openPath(t, "/api/orders/"+spelling+"/stream")
	readEvent(t, reader)

	assert.Equal(t, 1, f.feed.Subscribers(testOrderID))

	f.feed.PublishOrder(withHistory(order, models.StatusProcessing))
	assert.Equal(t, models.StatusProcessing, readEvent(t, reader).Status)
}

func TestStreamWithoutSnapshotStillForwardsEvents(t *testing.T) {
	f := newStreamFixture(t, Config{})

	order := testOrder(models.StatusPending)

	f.orderService.EXPECT().GetOrder(gomock.Any(), testOrderID, testUser).Return(order, nil)
	f.orderService.EXPECT().GetStatus(gomock.Any(), testOrderID, testUser).Return(nil, errors.New("заказ удален"))

	res, reader, _ := f.open(t)
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.Eventually(t, func() bool {
		return f.feed.Subscribers(testOrderID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.feed.PublishOrder(withHistory(order, models.StatusCanceled))

	event := readEvent(t, reader)
	assert.Equal(t, models.StatusCanceled, event.Status)
}

func TestStreamFanOutToEverySubscriber(t *testing.T) {
	f := newStreamFixture(t, Config{})

	order := testOrder(models.StatusPending)
	snapshot := order.StatusEvent()

	f.orderService.EXPECT().GetOrder(gomock.Any(), testOrderID, testUser).Return(order, nil).Times(2)
	f.orderService.EXPECT().GetStatus(gomock.Any(), testOrderID, testUser).Return(&snapshot, nil).Times(2)

	_, firstReader, _ := f.open(t)
	_, secondReader, _ := f.open(t)
	readEvent(t, firstReader)
	readEvent(t, secondReader)

	require.Equal(t, 2, f.feed.Subscribers(testOrderID))
	assert.Equal(t, 2, f.feed.PublishOrder(withHistory(order, models.StatusProcessing)))

	assert.Equal(t, models.StatusProcessing, readEvent(t, firstReader).Status)
	assert.Equal(t, models.StatusProcessing, readEvent(t, secondReader).Status)
}

func TestStreamLimitPerOrder(t *testing.T) {
	f := newStreamFixture(t, Config{StreamLimit: 1})

	order := testOrder(models.StatusPending)
	snapshot := order.StatusEvent()

	f.orderService.EXPECT().GetOrder(gomock.Any(), testOrderID, testUser).Return(order, nil).Times(3)
	f.orderService.EXPECT().GetStatus(gomock.Any(), testOrderID, testUser).Return(&snapshot, nil).Times(2)

	_, reader, cancel := f.open(t)
	readEvent(t, reader)

	res, mes := utils.TestRequest(t, f.server, "GET", "/api/orders/"+testOrderID+"/stream",
		map[string]string{"Authorization": "Bearer token"}, nil)
	res.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "Слишком много подключений к потоку заказа\n", mes)

	// Слот освобождается после отключения первого клиента.
	cancel()
	require.Eventually(t, func() bool {
		return f.router.streams.count(testOrderID) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, reader, _ = f.open(t)
	assert.Equal(t, models.StatusPending, readEvent(t, reader).Status)
}

func TestStreamLimiter(t *testing.T) {
	limiter := newStreamLimiter(2)

	assert.True(t, limiter.acquire("a"))
	assert.True(t, limiter.acquire("a"))
	assert.False(t, limiter.acquire("a"))
	assert.True(t, limiter.acquire("b"))

	limiter.release("a")
	assert.True(t, limiter.acquire("a"))

	limiter.release("a")
	limiter.release("a")
	limiter.release("b")
	assert.Empty(t, limiter.open)

	unlimited := newStreamLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.acquire("a"))
	}
}
