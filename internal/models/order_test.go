package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezwanahammad/Therapeia/internal/utils"
)

func validOrder() *Order {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	items := []OrderItem{
		NewOrderItem("p1", "Aspirin", decimal.NewFromInt(100), 2),
		NewOrderItem("p2", "Bandage", decimal.RequireFromString("12.50"), 1),
	}
	return &Order{
		ID:            "o1",
		OwnerID:       "u1",
		Items:         items,
		TotalAmount:   CalculateTotal(items),
		Status:        StatusPending,
		StatusHistory: []StatusHistoryEntry{{Status: StatusPending, At: now, ActorType: ActorUser}},
		Audit:         []AuditEntry{{Type: AuditOrderCreated, At: now}},
	}
}

func TestOrderTotal(t *testing.T) {
	order := validOrder()
	assert.True(t, decimal.RequireFromString("212.50").Equal(order.TotalAmount))
	assert.NoError(t, order.Validate())
}

func TestOrderValidateCollectsAllViolations(t *testing.T) {
	order := validOrder()
	order.OwnerID = ""
	order.Items[0].Quantity = 0
	order.Status = StatusProcessing
	order.Audit = append(order.Audit, AuditEntry{Type: AuditStatusChange, At: order.Audit[0].At.Add(-time.Second)})

	err := order.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOwnerRequired)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.ErrorIs(t, err, ErrLineTotalMismatch)
	assert.ErrorIs(t, err, ErrHistoryMismatch)
	assert.ErrorIs(t, err, ErrAuditOutOfOrder)
}

func TestOrderValidateTotalMismatch(t *testing.T) {
	order := validOrder()
	order.TotalAmount = decimal.NewFromInt(1)
	assert.ErrorIs(t, order.Validate(), ErrTotalMismatch)
}

func TestOrderCloneIsIndependent(t *testing.T) {
	order := validOrder()
	order.Tracking = &Tracking{Carrier: "DHL"}

	clone := order.Clone()
	clone.StatusHistory = append(clone.StatusHistory, StatusHistoryEntry{Status: StatusProcessing})
	clone.Items[0].Name = "changed"
	clone.Tracking.Carrier = "UPS"

	assert.Len(t, order.StatusHistory, 1)
	assert.Equal(t, "Aspirin", order.Items[0].Name)
	assert.Equal(t, "DHL", order.Tracking.Carrier)
}

func TestTrackingUpdateMergesPartially(t *testing.T) {
	carrier := "DHL"
	number := "123"
	shipped := utils.NewRFC3339Date(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	current := TrackingUpdate{Carrier: &carrier, TrackingNumber: &number, ShippedAt: shipped}.Apply(nil)

	url := "https://track/123"
	empty := ""
	merged := TrackingUpdate{URL: &url, Carrier: &empty}.Apply(current)

	assert.Equal(t, "DHL", merged.Carrier)
	assert.Equal(t, "123", merged.TrackingNumber)
	assert.Equal(t, url, merged.URL)
	assert.Equal(t, shipped, merged.ShippedAt)
	assert.Nil(t, merged.DeliveredAt)
	assert.Empty(t, current.URL, "исходный трекинг не должен меняться")

	assert.True(t, TrackingUpdate{Carrier: &empty}.IsEmpty())
	assert.False(t, TrackingUpdate{URL: &url}.IsEmpty())
}

func TestOrderJSONUsesNumbersForMoney(t *testing.T) {
	data, err := json.Marshal(validOrder())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 212.5, raw["totalAmount"])
}

func TestParsePaymentMethod(t *testing.T) {
	method, err := ParsePaymentMethod("")
	require.NoError(t, err)
	assert.Equal(t, PaymentUnknown, method)

	method, err = ParsePaymentMethod("Bkash")
	require.NoError(t, err)
	assert.Equal(t, PaymentBkash, method)

	_, err = ParsePaymentMethod("Cash")
	assert.ErrorIs(t, err, ErrUnknownPaymentMethod)
}

func TestActorAccess(t *testing.T) {
	assert.True(t, Actor{ID: "u1", Type: ActorUser}.CanAccess("u1"))
	assert.False(t, Actor{ID: "u2", Type: ActorUser}.CanAccess("u1"))
	assert.True(t, Actor{ID: "a1", Type: ActorAdmin}.CanAccess("u1"))
	assert.False(t, Actor{Type: ActorUser}.CanAccess(""))
}
