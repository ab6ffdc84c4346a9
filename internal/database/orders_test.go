package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezwanahammad/Therapeia/internal/models"
)

type execCall struct {
	sql  string
	args []interface{}
}

// fakeExecutor отвечает заранее заданным тегом команды и строкой.
type fakeExecutor struct {
	tag   pgconn.CommandTag
	err   error
	row   fakeRow
	execs []execCall
}

func (f *fakeExecutor) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.tag, f.err
}

func (f *fakeExecutor) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, pgx.ErrTxClosed
}

func (f *fakeExecutor) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return f.row
}

type fakeRow struct {
	version  int64
	document []byte
	err      error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.version
	*dest[1].(*[]byte) = r.document
	return nil
}

func testOrder(t *testing.T) *models.Order {
	t.Helper()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	item := models.NewOrderItem("9b2f7a52-3c1e-4d0f-8a7c-1f7b2d6e4c10", "Аспирин", decimal.RequireFromString("50"), 2)
	return &models.Order{
		ID:            "5f0c3d6a-0e9b-4c55-9a62-3b0d7c2a1e11",
		OwnerID:       "user-1",
		Items:         []models.OrderItem{item},
		TotalAmount:   models.CalculateTotal([]models.OrderItem{item}),
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
		PaymentMethod: models.PaymentBkash,
		StatusHistory: []models.StatusHistoryEntry{{Status: models.StatusPending, At: now, ActorType: models.ActorUser, ActorID: "user-1"}},
		Audit:         []models.AuditEntry{{Type: models.AuditOrderCreated, At: now, ActorID: "user-1"}},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestFindOrder(t *testing.T) {
	order := testOrder(t)
	document, err := json.Marshal(order)
	require.NoError(t, err)

	t.Run("missing order", func(t *testing.T) {
		db := NewWithExecutor(&fakeExecutor{row: fakeRow{err: pgx.ErrNoRows}})

		found, err := db.FindOrder(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("version column wins over document", func(t *testing.T) {
		db := NewWithExecutor(&fakeExecutor{row: fakeRow{version: 7, document: document}})

		found, err := db.FindOrder(context.Background(), order.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, int64(7), found.Version)
		assert.Equal(t, order.ID, found.ID)
		assert.True(t, order.TotalAmount.Equal(found.TotalAmount))
		assert.Len(t, found.StatusHistory, 1)
	})

	t.Run("legacy placed status is normalized", func(t *testing.T) {
		legacy := order.Clone()
		legacy.Status = models.StatusPlaced
		raw, err := json.Marshal(legacy)
		require.NoError(t, err)

		db := NewWithExecutor(&fakeExecutor{row: fakeRow{version: 1, document: raw}})

		found, err := db.FindOrder(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, found.Status)
	})
}

func TestUpdateOrder(t *testing.T) {
	order := testOrder(t)

	t.Run("stale version", func(t *testing.T) {
		db := NewWithExecutor(&fakeExecutor{tag: pgconn.NewCommandTag("UPDATE 0")})

		err := db.UpdateOrder(context.Background(), order, 1)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("written", func(t *testing.T) {
		exec := &fakeExecutor{tag: pgconn.NewCommandTag("UPDATE 1")}
		db := NewWithExecutor(exec)

		require.NoError(t, db.UpdateOrder(context.Background(), order, 1))
		require.Len(t, exec.execs, 1)
		assert.Equal(t, UpdateOrderQuery, exec.execs[0].sql)
		assert.Equal(t, int64(1), exec.execs[0].args[1])
		assert.Equal(t, OrderStatusDB{models.StatusPending}, exec.execs[0].args[2])
	})
}

func TestDeleteOrderStaleVersion(t *testing.T) {
	db := NewWithExecutor(&fakeExecutor{tag: pgconn.NewCommandTag("DELETE 0")})

	err := db.DeleteOrder(context.Background(), "5f0c3d6a-0e9b-4c55-9a62-3b0d7c2a1e11", 3)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestInsertOrderDuplicate(t *testing.T) {
	db := NewWithExecutor(&fakeExecutor{err: &pgconn.PgError{Code: "23505"}})

	err := db.InsertOrder(context.Background(), testOrder(t))
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestOrderStatusDB(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    models.OrderStatus
		wantErr bool
	}{
		{name: "pending", value: "pending", want: models.StatusPending},
		{name: "placed alias", value: "placed", want: models.StatusPending},
		{name: "shipped", value: "shipped", want: models.StatusShipped},
		{name: "unknown", value: "lost", wantErr: true},
		{name: "not a string", value: 42, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var status OrderStatusDB
			err := status.Scan(test.value)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, status.OrderStatus.Canonical())

			value, err := status.Value()
			require.NoError(t, err)
			assert.Equal(t, string(test.want), value)
		})
	}
}
