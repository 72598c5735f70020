package controller

import (
	"context"
	"strings"
	"sync"
	"testing"

	"backoffice/src/connectors"
	"backoffice/src/database"
	"backoffice/src/model"
	"backoffice/src/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type optInCall struct {
	AccountID int64
	AssetID   int64
}

type fakeLedger struct {
	mu sync.Mutex

	optIns   []optInCall
	placed   []connectors.PlaceOrderParams
	canceled []int64
	symbols  []string
	deposits []decimal.Decimal
	withdraw []decimal.Decimal
	fees     [][3]int64

	nextOrderID int64
	placeStatus string

	// cancelBarrier holds every CancelOrder call until all expected callers arrived.
	cancelBarrier *sync.WaitGroup

	optInErr   error
	placeErr   error
	cancelErr  error
	depositErr error
	feeErr     error
}

func (f *fakeLedger) OptIn(_ context.Context, accountID, assetID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.optInErr != nil {
		return f.optInErr
	}
	f.optIns = append(f.optIns, optInCall{accountID, assetID})
	return nil
}

func (f *fakeLedger) Deposit(_ context.Context, _, _ int64, amount decimal.Decimal) (*connectors.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.depositErr != nil {
		return nil, f.depositErr
	}
	f.deposits = append(f.deposits, amount)
	return &connectors.TransferResult{TransactionID: "tx-1", Status: "Completed"}, nil
}

func (f *fakeLedger) Withdraw(_ context.Context, _, _ int64, amount decimal.Decimal) (*connectors.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdraw = append(f.withdraw, amount)
	return &connectors.TransferResult{TransactionID: "tx-2"}, nil
}

func (f *fakeLedger) SetTradingFees(_ context.Context, accountID, instrumentID int64, takerFee, makerFee int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.feeErr != nil {
		return f.feeErr
	}
	f.fees = append(f.fees, [3]int64{accountID, instrumentID, int64(takerFee)*1000 + int64(makerFee)})
	return nil
}

func (f *fakeLedger) PlaceOrder(_ context.Context, p connectors.PlaceOrderParams) (*connectors.PlaceOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, p)
	f.nextOrderID++
	return &connectors.PlaceOrderResult{OrderID: 9000 + f.nextOrderID, Status: f.placeStatus}, nil
}

func (f *fakeLedger) CancelOrder(_ context.Context, _, orderID int64, symbol string) error {
	if f.cancelBarrier != nil {
		f.cancelBarrier.Done()
		f.cancelBarrier.Wait()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	f.symbols = append(f.symbols, symbol)
	return nil
}

func (f *fakeLedger) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

// failingOrders fails every Create and delegates the rest.
type failingOrders struct {
	OrderStore
	err error
}

func (f failingOrders) Create(context.Context, *model.Order) error {
	return f.err
}

// staleOrders serves a snapshot taken before other writers moved on, the way a
// stream event handler sees an order it loaded just before a concurrent cancel.
type staleOrders struct {
	OrderStore
	snapshot model.Order
}

func (s staleOrders) FindByExternalID(context.Context, int64) (*model.Order, error) {
	order := s.snapshot
	return &order, nil
}

type env struct {
	db         *gorm.DB
	ledger     *fakeLedger
	ctrl       *OrderController
	balances   *repository.BalanceRepository
	orders     *repository.OrderRepository
	exceptions *repository.ExceptionRepository

	account    model.Account
	base       model.Asset
	quote      model.Asset
	instrument model.Instrument
}

func testControllerConfig() Config {
	return Config{ReserveMaxRetries: 3, OrderInsertRetries: 1, ReplayBatchSize: 10}
}

func newEnv(t *testing.T) *env {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	e := &env{
		db:         db,
		ledger:     &fakeLedger{},
		balances:   (&repository.BalanceRepository{}).WithDB(db),
		orders:     (&repository.OrderRepository{}).WithDB(db),
		exceptions: (&repository.ExceptionRepository{}).WithDB(db),
		account:    model.Account{ExternalID: 7001, Name: "acme", Status: model.AccountStatusVerified},
		base:       model.Asset{ExternalID: 11, Name: "AAPL", QuantityPrecision: 2, Status: model.AssetStatusActive},
		quote:      model.Asset{ExternalID: 12, Name: "USD", QuantityPrecision: 2, Status: model.AssetStatusActive},
	}
	require.NoError(t, db.Create(&e.account).Error)
	require.NoError(t, db.Create(&e.base).Error)
	require.NoError(t, db.Create(&e.quote).Error)

	e.instrument = model.Instrument{
		BrokerInstrumentID:   501,
		ExchangeInstrumentID: 901,
		Symbol:               "AAPL/USD",
		BaseAssetID:          e.base.ID,
		QuoteAssetID:         e.quote.ID,
		PricePrecision:       2,
		QuantityPrecision:    2,
		Status:               model.InstrumentStatusActive,
	}
	require.NoError(t, db.Create(&e.instrument).Error)

	e.ctrl = NewOrderController(
		(&repository.DirectoryRepository{}).WithDB(db),
		e.balances,
		e.orders,
		(&repository.TradingFeeRepository{}).WithDB(db),
		e.exceptions,
		e.ledger,
		testControllerConfig(),
	)
	return e
}

func (e *env) fund(t *testing.T, asset model.Asset, free string) {
	t.Helper()
	amount := decimal.RequireFromString(free)
	require.NoError(t, e.db.Create(&model.Balance{
		AccountID: e.account.ID,
		AssetID:   asset.ID,
		Free:      amount,
		Locked:    decimal.Zero,
		Total:     amount,
	}).Error)
}

func (e *env) balance(t *testing.T, asset model.Asset) *model.Balance {
	t.Helper()
	b, err := e.balances.Get(context.Background(), e.account.ID, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.True(t, b.Consistent(), "total must equal free + locked: %+v", b)
	return b
}

func (e *env) buy(qty, price string) PlaceOrderRequest {
	return PlaceOrderRequest{
		AccountID:    e.account.ID,
		InstrumentID: e.instrument.ID,
		OrderType:    model.OrderTypeLimit,
		Side:         model.OrderSideBuy,
		Quantity:     decimal.RequireFromString(qty),
		Price:        decimal.RequireFromString(price),
		TimeInForce:  model.TimeInForceGTC,
	}
}

func (e *env) sell(qty, price string) PlaceOrderRequest {
	req := e.buy(qty, price)
	req.Side = model.OrderSideSell
	return req
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
