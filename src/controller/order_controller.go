package controller

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"backoffice/src/connectors"
	"backoffice/src/metrics"
	"backoffice/src/model"
	"backoffice/src/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Directory resolves internal ids to ledger ids.
type Directory interface {
	FindAccount(ctx context.Context, id uint) (*model.Account, error)
	FindAsset(ctx context.Context, id uint) (*model.Asset, error)
	FindInstrument(ctx context.Context, id uint) (*model.Instrument, error)
}

type BalanceStore interface {
	Get(ctx context.Context, accountID, assetID uint) (*model.Balance, error)
	EnsureZero(ctx context.Context, accountID, assetID uint) (*model.Balance, error)
	ReserveAtomically(ctx context.Context, accountID, assetID uint, delta decimal.Decimal) (*model.Balance, error)
	Release(ctx context.Context, accountID, assetID uint, delta decimal.Decimal) (*model.Balance, error)
	Deposit(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error)
	Withdraw(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error)
	ListByAccount(ctx context.Context, accountID uint) ([]model.Balance, error)
}

type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	FindByExternalID(ctx context.Context, externalID int64) (*model.Order, error)
	UpdateStatusWithAutoLog(ctx context.Context, order *model.Order, status string, reason string) error
	Search(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error)
}

type FeeStore interface {
	Upsert(ctx context.Context, fee *model.TradingFee) error
}

type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
	FindUnresolved(ctx context.Context, kinds []string, limit int) ([]model.Exception, error)
	MarkResolved(ctx context.Context, id uint) error
	IncrementAttempts(ctx context.Context, id uint) error
}

// LedgerGateway is the part of the ledger client the engine drives.
type LedgerGateway interface {
	OptIn(ctx context.Context, accountID, assetID int64) error
	Deposit(ctx context.Context, accountID, assetID int64, amount decimal.Decimal) (*connectors.TransferResult, error)
	Withdraw(ctx context.Context, accountID, assetID int64, amount decimal.Decimal) (*connectors.TransferResult, error)
	SetTradingFees(ctx context.Context, accountID, instrumentID int64, takerFee, makerFee int) error
	PlaceOrder(ctx context.Context, p connectors.PlaceOrderParams) (*connectors.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, accountID, orderID int64, symbol string) error
}

// OrderController places and cancels orders against the local balance ledger
// and the external ledger service. It keeps no state between calls.
type OrderController struct {
	directory  Directory
	balances   BalanceStore
	orders     OrderStore
	fees       FeeStore
	exceptions ExceptionStore
	ledger     LedgerGateway
	metrics    *metrics.Metrics
	cfg        Config
}

func NewOrderController(
	directory Directory,
	balances BalanceStore,
	orders OrderStore,
	fees FeeStore,
	exceptions ExceptionStore,
	ledger LedgerGateway,
	cfg Config,
) *OrderController {
	return &OrderController{
		directory:  directory,
		balances:   balances,
		orders:     orders,
		fees:       fees,
		exceptions: exceptions,
		ledger:     ledger,
		cfg:        cfg,
	}
}

// DefaultOrderController wires the database repositories. The database must be initialized.
func DefaultOrderController(ledger LedgerGateway) *OrderController {
	return NewOrderController(
		repository.NewDirectoryRepository(),
		repository.NewBalanceRepository(),
		repository.NewOrderRepository(),
		repository.NewTradingFeeRepository(),
		repository.NewExceptionRepository(),
		ledger,
		GetConfig(),
	)
}

func (c *OrderController) WithMetrics(m *metrics.Metrics) *OrderController {
	c.metrics = m
	return c
}

// PlaceOrderRequest uses internal ids.
type PlaceOrderRequest struct {
	AccountID    uint            `json:"accountId"`
	InstrumentID uint            `json:"instrumentId"`
	OrderType    string          `json:"orderType"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	TimeInForce  string          `json:"timeInForce"`
}

func (r *PlaceOrderRequest) normalize() error {
	var ok bool
	if r.OrderType, ok = canonical(r.OrderType, model.OrderTypeLimit, model.OrderTypeMarket); !ok {
		return validationError("order type must be Limit or Market")
	}
	if r.Side, ok = canonical(r.Side, model.OrderSideBuy, model.OrderSideSell); !ok {
		return validationError("side must be Buy or Sell")
	}
	if r.TimeInForce == "" {
		r.TimeInForce = model.TimeInForceGTC
	}
	if r.TimeInForce, ok = canonical(r.TimeInForce, model.TimeInForceGTC, model.TimeInForceGTD, model.TimeInForceFOK, model.TimeInForceIOC); !ok {
		return validationError("time in force must be one of GTC, GTD, FOK, IOC")
	}
	if !r.Quantity.IsPositive() {
		return validationError("quantity must be greater than zero")
	}
	if r.Price.IsNegative() {
		return validationError("price must not be negative")
	}
	return nil
}

// reservationFor returns the asset and amount an order locks: quote for buys,
// base for sells, rounded up to the asset precision.
func reservationFor(req PlaceOrderRequest, instrument *model.Instrument) (*model.Asset, decimal.Decimal) {
	if req.Side == model.OrderSideBuy {
		asset := instrument.QuoteAsset
		return asset, req.Quantity.Mul(req.Price).RoundCeil(asset.QuantityPrecision)
	}
	asset := instrument.BaseAsset
	return asset, req.Quantity.RoundCeil(asset.QuantityPrecision)
}

// PlaceOrder provisions the account if needed, reserves the funds the order
// needs and forwards it to the ledger. The reservation is released again when
// the ledger does not take the order.
func (c *OrderController) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*model.Order, error) {
	log := logger.WithFields(map[string]interface{}{
		"controller":    "OrderController",
		"op":            "PlaceOrder",
		"account_id":    req.AccountID,
		"instrument_id": req.InstrumentID,
	})

	order, err := c.placeOrder(ctx, req, log)
	if err != nil {
		c.metrics.IncOrderPlaced(string(KindOf(err)))
		log.WithError(err).Warn("order not placed")
		return nil, err
	}

	c.metrics.IncOrderPlaced("ok")
	return order, nil
}

func (c *OrderController) placeOrder(ctx context.Context, req PlaceOrderRequest, log *logger.Entry) (*model.Order, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	account, err := c.findAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	instrument, err := c.findInstrument(ctx, req.InstrumentID)
	if err != nil {
		return nil, err
	}

	if err := instrument.Validate(); err != nil {
		return nil, newError(KindValidation, "instrument is misconfigured", err)
	}
	if strings.EqualFold(instrument.Status, model.InstrumentStatusDisabled) {
		return nil, validationError("instrument %s is disabled", instrument.Symbol)
	}
	if instrument.MinQuantity.IsPositive() && req.Quantity.LessThan(instrument.MinQuantity) {
		return nil, validationError("quantity below instrument minimum %s", instrument.MinQuantity)
	}
	if instrument.MaxQuantity.IsPositive() && req.Quantity.GreaterThan(instrument.MaxQuantity) {
		return nil, validationError("quantity above instrument maximum %s", instrument.MaxQuantity)
	}
	if precision := instrument.BaseAsset.QuantityPrecision; !req.Quantity.Equal(req.Quantity.Truncate(precision)) {
		return nil, validationError("quantity has more than %d decimals", precision)
	}

	// quote first, then base
	for _, asset := range []*model.Asset{instrument.QuoteAsset, instrument.BaseAsset} {
		if _, err := c.ensureOptedIn(ctx, account, asset); err != nil {
			return nil, err
		}
	}

	reserveAsset, amount := reservationFor(req, instrument)
	if !amount.IsPositive() {
		return nil, validationError("order reserves nothing; a buy needs a price")
	}

	log = log.WithFields(map[string]interface{}{
		"reserve_asset":  reserveAsset.ID,
		"reserve_amount": amount.String(),
	})

	if err := c.reserve(ctx, account.ID, reserveAsset.ID, amount); err != nil {
		return nil, err
	}
	log.Debug("funds reserved")

	clientRef := uuid.NewString()
	result, err := c.ledger.PlaceOrder(ctx, connectors.PlaceOrderParams{
		AccountID:   account.ExternalID,
		OrderType:   req.OrderType,
		Side:        req.Side,
		Symbol:      instrument.Symbol,
		Quantity:    req.Quantity,
		Price:       req.Price,
		TimeInForce: req.TimeInForce,
		ClientRef:   clientRef,
	})
	if err != nil {
		mapped := fromLedger("place order", err)
		c.release(ctx, account.ID, reserveAsset.ID, amount, "place_rejected")

		if mapped.Kind == KindLedgerUnavailable {
			CaptureForReplay(ctx, c.exceptions, model.ExceptionKindOrderUnconfirmed, clientRef, "PlaceOrder", err, map[string]interface{}{
				"account_id":    account.ID,
				"instrument_id": instrument.ID,
				"side":          req.Side,
				"quantity":      req.Quantity.String(),
				"price":         req.Price.String(),
				"client_ref":    clientRef,
			})
		}
		return nil, mapped
	}

	status := result.Status
	if status == "" {
		status = model.OrderStatusOpen
	}

	order := &model.Order{
		ExternalID:      result.OrderID,
		AccountID:       account.ID,
		InstrumentID:    instrument.ID,
		Symbol:          instrument.Symbol,
		OrderType:       req.OrderType,
		Side:            req.Side,
		Quantity:        req.Quantity,
		Price:           req.Price,
		TimeInForce:     req.TimeInForce,
		Status:          status,
		ReservedAssetID: reserveAsset.ID,
		ReservedAmount:  amount,
		ClientRef:       clientRef,
	}

	// The ledger holds the order now. A failed insert must not surface as a
	// failed placement or the caller would place it twice.
	if err := c.insertOrder(ctx, order); err != nil {
		CaptureForReplay(ctx, c.exceptions, model.ExceptionKindOrderInsert, strconv.FormatInt(order.ExternalID, 10), "PlaceOrder", err, order)
		log.WithError(err).WithField("external_id", order.ExternalID).Error("order placed but not stored, queued for replay")
		return order, nil
	}

	log.WithField("external_id", order.ExternalID).Info("order placed")
	return order, nil
}

func (c *OrderController) insertOrder(ctx context.Context, order *model.Order) error {
	var err error
	for attempt := 0; attempt <= c.cfg.OrderInsertRetries; attempt++ {
		if err = c.orders.Create(ctx, order); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

// CancelOrder cancels an open order of the account at the ledger and releases
// its reservation. symbol defaults to the order's instrument.
func (c *OrderController) CancelOrder(ctx context.Context, accountID uint, externalOrderID int64, symbol string) (*model.Order, error) {
	log := logger.WithFields(map[string]interface{}{
		"controller":  "OrderController",
		"op":          "CancelOrder",
		"account_id":  accountID,
		"external_id": externalOrderID,
	})

	order, err := c.cancelOrder(ctx, accountID, externalOrderID, symbol)
	if err != nil {
		c.metrics.IncOrderCanceled(string(KindOf(err)))
		log.WithError(err).Warn("order not canceled")
		return nil, err
	}

	c.metrics.IncOrderCanceled("ok")
	log.Info("order canceled")
	return order, nil
}

func (c *OrderController) cancelOrder(ctx context.Context, accountID uint, externalOrderID int64, symbol string) (*model.Order, error) {
	order, err := c.orders.FindByExternalID(ctx, externalOrderID)
	if err != nil {
		return nil, internal("load order", err)
	}
	if order == nil || order.AccountID != accountID {
		return nil, notFound("order %d not found", externalOrderID)
	}
	if !order.Cancellable() {
		return nil, &Error{Kind: KindNotCancellable, Message: "order is " + order.Status}
	}

	account, err := c.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if symbol = NormalizeSymbol(symbol); symbol == "" {
		symbol = order.Symbol
	}

	if err := c.ledger.CancelOrder(ctx, account.ExternalID, order.ExternalID, symbol); err != nil {
		return nil, fromLedger("cancel order", err)
	}

	// only the caller whose update moves the order to Canceled releases
	if err := c.orders.UpdateStatusWithAutoLog(ctx, order, model.OrderStatusCanceled, "canceled by account"); err != nil {
		if errors.Is(err, repository.ErrOrderFinal) {
			return nil, &Error{Kind: KindNotCancellable, Message: "order was executed or canceled concurrently", Err: err}
		}
		return nil, internal("store canceled status", err)
	}

	if order.ReservedAmount.IsPositive() {
		c.release(ctx, order.AccountID, order.ReservedAssetID, order.ReservedAmount, "order_canceled")
	}

	return order, nil
}

// ListOrders searches the account's orders.
func (c *OrderController) ListOrders(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error) {
	if _, err := c.findAccount(ctx, opts.AccountID); err != nil {
		return nil, err
	}
	orders, err := c.orders.Search(ctx, opts)
	if err != nil {
		return nil, internal("search orders", err)
	}
	return orders, nil
}

// ListBalances returns every balance the account holds.
func (c *OrderController) ListBalances(ctx context.Context, accountID uint) ([]model.Balance, error) {
	if _, err := c.findAccount(ctx, accountID); err != nil {
		return nil, err
	}
	balances, err := c.balances.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, internal("list balances", err)
	}
	return balances, nil
}

// -----------------------------
// RESERVATIONS
// -----------------------------

func (c *OrderController) reserve(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) error {
	var err error
	for attempt := 0; attempt <= c.cfg.ReserveMaxRetries; attempt++ {
		_, err = c.balances.ReserveAtomically(ctx, accountID, assetID, amount)
		if !errors.Is(err, repository.ErrConcurrentModification) {
			break
		}
	}

	switch {
	case err == nil:
		c.metrics.IncReservation("ok")
		return nil
	case errors.Is(err, repository.ErrInsufficientFree):
		c.metrics.IncReservation("insufficient")
		return newError(KindInsufficientBalance, "insufficient free balance", err)
	case errors.Is(err, repository.ErrConcurrentModification):
		c.metrics.IncReservation("conflict")
		return newError(KindConcurrentModification, "balance kept changing, try again", err)
	default:
		c.metrics.IncReservation("error")
		return internal("reserve balance", err)
	}
}

// release gives a reservation back. A release that cannot be applied is
// captured so the locked funds can be fixed by hand.
func (c *OrderController) release(ctx context.Context, accountID, assetID uint, amount decimal.Decimal, reason string) {
	var err error
	for attempt := 0; attempt <= c.cfg.ReserveMaxRetries; attempt++ {
		_, err = c.balances.Release(ctx, accountID, assetID, amount)
		if !errors.Is(err, repository.ErrConcurrentModification) {
			break
		}
	}

	if err == nil {
		c.metrics.IncCompensation(reason)
		return
	}

	CaptureForReplay(ctx, c.exceptions, model.ExceptionKindReservationLeaked, "", "release", err, map[string]interface{}{
		"account_id": accountID,
		"asset_id":   assetID,
		"amount":     amount.String(),
		"reason":     reason,
	})
}

// -----------------------------
// LOOKUPS
// -----------------------------

func (c *OrderController) findAccount(ctx context.Context, id uint) (*model.Account, error) {
	account, err := c.directory.FindAccount(ctx, id)
	if err != nil {
		return nil, internal("load account", err)
	}
	if account == nil {
		return nil, notFound("account %d not found", id)
	}
	return account, nil
}

func (c *OrderController) findInstrument(ctx context.Context, id uint) (*model.Instrument, error) {
	instrument, err := c.directory.FindInstrument(ctx, id)
	if err != nil {
		return nil, internal("load instrument", err)
	}
	if instrument == nil || instrument.BaseAsset == nil || instrument.QuoteAsset == nil {
		return nil, notFound("instrument %d not found", id)
	}
	return instrument, nil
}

func (c *OrderController) findAsset(ctx context.Context, id uint) (*model.Asset, error) {
	asset, err := c.directory.FindAsset(ctx, id)
	if err != nil {
		return nil, internal("load asset", err)
	}
	if asset == nil {
		return nil, notFound("asset %d not found", id)
	}
	return asset, nil
}
