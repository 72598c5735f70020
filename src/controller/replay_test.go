package controller

import (
	"context"
	"encoding/json"
	"testing"

	"backoffice/src/connectors"
	"backoffice/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayAppliesCapturedDeposit(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "10")
	ctx := context.Background()

	payload, err := json.Marshal(depositPayload{AccountID: e.account.ID, AssetID: e.quote.ID, Amount: dec("5"), LedgerRef: "tx-9"})
	require.NoError(t, err)
	require.NoError(t, e.exceptions.Create(ctx, &model.Exception{
		Service: serviceName, Module: "order_controller", Method: "Deposit", Level: "error",
		Kind: model.ExceptionKindDepositApply, ReplayKey: "tx-9", Payload: string(payload),
	}))

	report, err := e.ctrl.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{Resolved: 1}, report)

	b := e.balance(t, e.quote)
	assert.True(t, b.Free.Equal(dec("15")))
	assert.True(t, b.Total.Equal(dec("15")))
}

func TestReplayCountsFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.exceptions.Create(ctx, &model.Exception{
		Service: serviceName, Module: "order_controller", Method: "PlaceOrder", Level: "error",
		Kind: model.ExceptionKindOrderInsert, Payload: `{"symbol":"AAPL/USD"}`,
	}))

	report, err := e.ctrl.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{Failed: 1}, report)

	var exc model.Exception
	require.NoError(t, e.db.First(&exc).Error)
	assert.Equal(t, 1, exc.Attempts)
	assert.Nil(t, exc.ResolvedAt)
}

func TestApplyOrderEventLedgerCancelReleases(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")
	ctx := context.Background()

	placed, err := e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)

	ev := connectors.OrderEvent{OrderID: placed.ExternalID, Status: "Canceled"}
	require.NoError(t, e.ctrl.ApplyOrderEvent(ctx, ev))
	// duplicates are ignored
	require.NoError(t, e.ctrl.ApplyOrderEvent(ctx, ev))

	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("1000")))
	assert.True(t, quote.Locked.IsZero())

	stored, err := e.orders.FindByExternalID(ctx, placed.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, stored.Status)
	assert.Len(t, stored.Logs, 2)
}

func TestApplyOrderEventExecutedIsFinal(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")
	ctx := context.Background()

	placed, err := e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)

	require.NoError(t, e.ctrl.ApplyOrderEvent(ctx, connectors.OrderEvent{OrderID: placed.ExternalID, Status: "Executed"}))
	require.NoError(t, e.ctrl.ApplyOrderEvent(ctx, connectors.OrderEvent{OrderID: placed.ExternalID, Status: "Canceled"}))

	stored, err := e.orders.FindByExternalID(ctx, placed.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusExecuted, stored.Status)
	assert.True(t, e.balance(t, e.quote).Locked.Equal(dec("500")))
}

func TestApplyOrderEventCanceledIsFinal(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")
	ctx := context.Background()

	first, err := e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)
	_, err = e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)

	for _, status := range []string{"Canceled", "Open", "Canceled"} {
		require.NoError(t, e.ctrl.ApplyOrderEvent(ctx, connectors.OrderEvent{OrderID: first.ExternalID, Status: status}))
	}

	stored, err := e.orders.FindByExternalID(ctx, first.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, stored.Status)
	assert.Len(t, stored.Logs, 2)

	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("500")), quote.Free.String())
	assert.True(t, quote.Locked.Equal(dec("500")), quote.Locked.String())
}

func TestApplyOrderEventAfterLocalCancel(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")
	ctx := context.Background()

	first, err := e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)
	_, err = e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)

	// the stream loaded the order while it was still open
	loaded, err := e.orders.FindByExternalID(ctx, first.ExternalID)
	require.NoError(t, err)
	stream := NewOrderController(
		e.ctrl.directory, e.balances, staleOrders{OrderStore: e.orders, snapshot: *loaded},
		e.ctrl.fees, e.exceptions, e.ledger, testControllerConfig(),
	)

	_, err = e.ctrl.CancelOrder(ctx, e.account.ID, first.ExternalID, "")
	require.NoError(t, err)

	require.NoError(t, stream.ApplyOrderEvent(ctx, connectors.OrderEvent{OrderID: first.ExternalID, Status: "Canceled"}))

	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("500")), quote.Free.String())
	assert.True(t, quote.Locked.Equal(dec("500")), quote.Locked.String())
}

func TestApplyOrderEventUnknownOrder(t *testing.T) {
	e := newEnv(t)
	assert.NoError(t, e.ctrl.ApplyOrderEvent(context.Background(), connectors.OrderEvent{OrderID: 1, Status: "Executed"}))
}
