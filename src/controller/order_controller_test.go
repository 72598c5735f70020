package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"backoffice/src/connectors"
	"backoffice/src/metrics"
	"backoffice/src/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "expected *controller.Error, got %T: %v", err, err)
	assert.Equal(t, kind, e.Kind, e.Error())
	return e
}

func TestPlaceOrderBuyReservesQuote(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")

	order, err := e.ctrl.PlaceOrder(context.Background(), e.buy("10", "50"))
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.NotZero(t, order.ID)
	assert.Equal(t, int64(9001), order.ExternalID)
	assert.Equal(t, model.OrderStatusOpen, order.Status)
	assert.Equal(t, e.quote.ID, order.ReservedAssetID)
	assert.True(t, order.ReservedAmount.Equal(dec("500")))

	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("500")))
	assert.True(t, quote.Locked.Equal(dec("500")))
	assert.True(t, quote.Total.Equal(dec("1000")))

	require.Len(t, e.ledger.placed, 1)
	p := e.ledger.placed[0]
	assert.Equal(t, int64(7001), p.AccountID)
	assert.Equal(t, "AAPL/USD", p.Symbol)
	assert.Equal(t, model.OrderSideBuy, p.Side)
	assert.Equal(t, order.ClientRef, p.ClientRef)
	assert.Empty(t, e.ledger.optIns)

	stored, err := e.orders.FindByExternalID(context.Background(), 9001)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Logs, 1)
}

func TestPlaceOrderSellWithoutEnoughBase(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "0")
	e.fund(t, e.base, "5")

	_, err := e.ctrl.PlaceOrder(context.Background(), e.sell("10", "50"))
	requireKind(t, err, KindInsufficientBalance)

	base := e.balance(t, e.base)
	assert.True(t, base.Free.Equal(dec("5")))
	assert.True(t, base.Locked.IsZero())
	assert.Equal(t, int64(0), base.Version)
	assert.Zero(t, e.ledger.placedCount())
	assert.Empty(t, e.ledger.optIns)
}

func TestPlaceOrderLedgerRejectionRollsBack(t *testing.T) {
	e := newEnv(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	e.ctrl.WithMetrics(m)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")
	e.ledger.placeErr = &connectors.LedgerError{Code: connectors.CodeInsufficientBalance, RawCode: 105, HTTPStatus: 400}

	_, err := e.ctrl.PlaceOrder(context.Background(), e.buy("10", "50"))
	ce := requireKind(t, err, KindLedgerRejected)
	assert.Equal(t, connectors.CodeInsufficientBalance, ce.Code)

	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("1000")))
	assert.True(t, quote.Locked.IsZero())
	assert.Equal(t, int64(2), quote.Version)

	var count int64
	require.NoError(t, e.db.Model(&model.Order{}).Count(&count).Error)
	assert.Zero(t, count)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Compensations.WithLabelValues("place_rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersPlaced.WithLabelValues(string(KindLedgerRejected))))
}

func TestPlaceOrderLedgerUnavailableRollsBackAndCaptures(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "0")
	e.fund(t, e.base, "20")
	e.ledger.placeErr = fmt.Errorf("%w: POST orders: connection reset", connectors.ErrLedgerUnavailable)

	_, err := e.ctrl.PlaceOrder(context.Background(), e.sell("10", "50"))
	ce := requireKind(t, err, KindLedgerUnavailable)
	assert.ErrorIs(t, ce, connectors.ErrLedgerUnavailable)

	base := e.balance(t, e.base)
	assert.True(t, base.Free.Equal(dec("20")))
	assert.True(t, base.Locked.IsZero())

	var exc model.Exception
	require.NoError(t, e.db.Where("kind = ?", model.ExceptionKindOrderUnconfirmed).First(&exc).Error)
	assert.NotEmpty(t, exc.ReplayKey)
	assert.Contains(t, exc.Payload, `"quantity":"10"`)
}

func TestPlaceOrderOptsInBothMissingSides(t *testing.T) {
	e := newEnv(t)

	_, err := e.ctrl.PlaceOrder(context.Background(), e.buy("1", "10"))
	requireKind(t, err, KindInsufficientBalance)

	require.Len(t, e.ledger.optIns, 2)
	assert.Equal(t, optInCall{7001, 12}, e.ledger.optIns[0])
	assert.Equal(t, optInCall{7001, 11}, e.ledger.optIns[1])

	assert.True(t, e.balance(t, e.quote).Total.IsZero())
	assert.True(t, e.balance(t, e.base).Total.IsZero())
}

func TestPlaceOrderOptInRejected(t *testing.T) {
	e := newEnv(t)
	e.ledger.optInErr = &connectors.LedgerError{Code: connectors.CodeMissingOrInvalidParam, HTTPStatus: 400}

	_, err := e.ctrl.PlaceOrder(context.Background(), e.buy("1", "10"))
	requireKind(t, err, KindLedgerRejected)

	b, err := e.balances.Get(context.Background(), e.account.ID, e.quote.ID)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestPlaceOrderValidation(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "1000")

	tests := []struct {
		name   string
		mutate func(r *PlaceOrderRequest)
		kind   Kind
	}{
		{"zero quantity", func(r *PlaceOrderRequest) { r.Quantity = dec("0") }, KindValidation},
		{"negative price", func(r *PlaceOrderRequest) { r.Price = dec("-1") }, KindValidation},
		{"unknown side", func(r *PlaceOrderRequest) { r.Side = "Hold" }, KindValidation},
		{"unknown order type", func(r *PlaceOrderRequest) { r.OrderType = "Stop" }, KindValidation},
		{"unknown time in force", func(r *PlaceOrderRequest) { r.TimeInForce = "DAY" }, KindValidation},
		{"buy without price", func(r *PlaceOrderRequest) { r.OrderType = model.OrderTypeMarket; r.Price = dec("0") }, KindValidation},
		{"unknown account", func(r *PlaceOrderRequest) { r.AccountID = 999 }, KindNotFound},
		{"unknown instrument", func(r *PlaceOrderRequest) { r.InstrumentID = 999 }, KindNotFound},
		{"quantity over asset precision", func(r *PlaceOrderRequest) { r.Quantity = dec("10.005") }, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := e.buy("10", "50")
			tt.mutate(&req)
			_, err := e.ctrl.PlaceOrder(context.Background(), req)
			requireKind(t, err, tt.kind)
		})
	}

	assert.Zero(t, e.ledger.placedCount())
	assert.True(t, e.balance(t, e.quote).Locked.IsZero())
}

func TestPlaceOrderNormalizesCase(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "100")
	e.fund(t, e.base, "0")

	req := e.buy("1", "10")
	req.Side = "buy"
	req.OrderType = "limit"
	req.TimeInForce = ""

	order, err := e.ctrl.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.OrderSideBuy, order.Side)
	assert.Equal(t, model.OrderTypeLimit, order.OrderType)
	assert.Equal(t, model.TimeInForceGTC, order.TimeInForce)
}

func TestPlaceOrderRoundsReservationUp(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "10")
	e.fund(t, e.base, "0")

	order, err := e.ctrl.PlaceOrder(context.Background(), e.buy("3", "0.333"))
	require.NoError(t, err)
	assert.True(t, order.ReservedAmount.Equal(dec("1")), order.ReservedAmount.String())

	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("9")))
	assert.True(t, quote.Locked.Equal(dec("1")))
}

func TestPlaceOrderInsertFailureIsReplayed(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")

	broken := NewOrderController(
		e.ctrl.directory, e.balances, failingOrders{OrderStore: e.orders, err: errors.New("disk full")},
		e.ctrl.fees, e.exceptions, e.ledger, testControllerConfig(),
	)

	order, err := broken.PlaceOrder(context.Background(), e.buy("10", "50"))
	require.NoError(t, err)
	assert.Equal(t, int64(9001), order.ExternalID)
	assert.Zero(t, order.ID)

	// the ledger holds the order so the reservation stays
	assert.True(t, e.balance(t, e.quote).Locked.Equal(dec("500")))

	missing, err := e.orders.FindByExternalID(context.Background(), 9001)
	require.NoError(t, err)
	assert.Nil(t, missing)

	report, err := e.ctrl.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{Resolved: 1}, report)

	stored, err := e.orders.FindByExternalID(context.Background(), 9001)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.ReservedAmount.Equal(dec("500")))

	// nothing left to do
	report, err = e.ctrl.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{}, report)
}

func TestPlaceOrderConcurrentReservations(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "0")
	e.fund(t, e.base, "100")

	const n = 5
	qty := fmt.Sprintf("%d", 100/n+1)

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ctrl.PlaceOrder(context.Background(), e.sell(qty, "1"))
			if err == nil {
				ok.Add(1)
				return
			}
			kind := KindOf(err)
			assert.Contains(t, []Kind{KindInsufficientBalance, KindConcurrentModification}, kind)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, ok.Load(), int64(n-1))
	assert.Equal(t, int(ok.Load()), e.ledger.placedCount())

	base := e.balance(t, e.base)
	assert.False(t, base.Free.IsNegative())
	assert.True(t, base.Total.Equal(dec("100")))
	assert.True(t, base.Locked.Equal(dec(qty).Mul(dec(fmt.Sprintf("%d", ok.Load())))))
}

func TestCancelOrderReleasesReservation(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")

	placed, err := e.ctrl.PlaceOrder(context.Background(), e.buy("10", "50"))
	require.NoError(t, err)

	canceled, err := e.ctrl.CancelOrder(context.Background(), e.account.ID, placed.ExternalID, "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, canceled.Status)

	assert.Equal(t, []int64{placed.ExternalID}, e.ledger.canceled)
	assert.Equal(t, []string{"AAPL/USD"}, e.ledger.symbols)

	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("1000")))
	assert.True(t, quote.Locked.IsZero())

	// a second cancel is refused without a ledger call
	_, err = e.ctrl.CancelOrder(context.Background(), e.account.ID, placed.ExternalID, "")
	requireKind(t, err, KindNotCancellable)
	assert.Len(t, e.ledger.canceled, 1)
}

func TestConcurrentCancelReleasesOnce(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")
	ctx := context.Background()

	first, err := e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)
	_, err = e.ctrl.PlaceOrder(ctx, e.buy("10", "50"))
	require.NoError(t, err)

	// both cancels read the order as open before either stores the new status
	var barrier sync.WaitGroup
	barrier.Add(2)
	e.ledger.cancelBarrier = &barrier

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.ctrl.CancelOrder(ctx, e.account.ID, first.ExternalID, "")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, err, KindNotCancellable)
	}
	assert.Equal(t, 1, succeeded)

	// the second order keeps its reservation
	quote := e.balance(t, e.quote)
	assert.True(t, quote.Free.Equal(dec("500")), quote.Free.String())
	assert.True(t, quote.Locked.Equal(dec("500")), quote.Locked.String())
}

func TestPlaceOrderRejectsSellQuantityOverPrecision(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "0")
	e.fund(t, e.base, "100")

	_, err := e.ctrl.PlaceOrder(context.Background(), e.sell("10.005", "50"))
	requireKind(t, err, KindValidation)

	assert.Zero(t, e.ledger.placedCount())
	assert.True(t, e.balance(t, e.base).Locked.IsZero())
}

func TestCancelExecutedOrderIsRejected(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")

	placed, err := e.ctrl.PlaceOrder(context.Background(), e.buy("10", "50"))
	require.NoError(t, err)
	require.NoError(t, e.orders.UpdateStatusWithAutoLog(context.Background(), placed, model.OrderStatusExecuted, "ledger stream"))

	_, err = e.ctrl.CancelOrder(context.Background(), e.account.ID, placed.ExternalID, "AAPL/USD")
	requireKind(t, err, KindNotCancellable)
	assert.Empty(t, e.ledger.canceled)
}

func TestCancelOrderOfAnotherAccount(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")

	placed, err := e.ctrl.PlaceOrder(context.Background(), e.buy("10", "50"))
	require.NoError(t, err)

	_, err = e.ctrl.CancelOrder(context.Background(), e.account.ID+1, placed.ExternalID, "")
	requireKind(t, err, KindNotFound)

	_, err = e.ctrl.CancelOrder(context.Background(), e.account.ID, 123456, "")
	requireKind(t, err, KindNotFound)
	assert.Empty(t, e.ledger.canceled)
}

func TestCancelOrderLedgerRejection(t *testing.T) {
	e := newEnv(t)
	e.fund(t, e.quote, "1000")
	e.fund(t, e.base, "0")

	placed, err := e.ctrl.PlaceOrder(context.Background(), e.buy("10", "50"))
	require.NoError(t, err)

	e.ledger.cancelErr = &connectors.LedgerError{Code: connectors.CodeMarketClosed, HTTPStatus: 400}
	_, err = e.ctrl.CancelOrder(context.Background(), e.account.ID, placed.ExternalID, "")
	ce := requireKind(t, err, KindLedgerRejected)
	assert.Equal(t, connectors.CodeMarketClosed, ce.Code)

	// still open and still reserved
	stored, err := e.orders.FindByExternalID(context.Background(), placed.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusOpen, stored.Status)
	assert.True(t, e.balance(t, e.quote).Locked.Equal(dec("500")))
}
