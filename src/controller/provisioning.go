package controller

import (
	"context"
	"errors"
	"fmt"

	"backoffice/src/model"
	"backoffice/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// depositPayload is what a deposit_apply exception carries for replay.
type depositPayload struct {
	AccountID uint            `json:"account_id"`
	AssetID   uint            `json:"asset_id"`
	Amount    decimal.Decimal `json:"amount"`
	LedgerRef string          `json:"ledger_ref,omitempty"`
}

// ensureOptedIn returns the local balance row, opting the account into the
// asset at the ledger first when there is none.
func (c *OrderController) ensureOptedIn(ctx context.Context, account *model.Account, asset *model.Asset) (*model.Balance, error) {
	balance, err := c.balances.Get(ctx, account.ID, asset.ID)
	if err != nil {
		return nil, internal("load balance", err)
	}
	if balance != nil {
		return balance, nil
	}

	logger.WithFields(map[string]interface{}{
		"controller": "OrderController",
		"op":         "OptIn",
		"account_id": account.ID,
		"asset_id":   asset.ID,
	}).Info("opting account into asset")

	if err := c.ledger.OptIn(ctx, account.ExternalID, asset.ExternalID); err != nil {
		return nil, fromLedger("opt in", err)
	}

	balance, err = c.balances.EnsureZero(ctx, account.ID, asset.ID)
	if err != nil {
		return nil, internal("create balance", err)
	}
	return balance, nil
}

// OptIn provisions the account for the asset. Calling it again is a no-op.
func (c *OrderController) OptIn(ctx context.Context, accountID, assetID uint) (*model.Balance, error) {
	account, err := c.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	asset, err := c.findAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return c.ensureOptedIn(ctx, account, asset)
}

func checkAmount(amount decimal.Decimal, asset *model.Asset) error {
	if !amount.IsPositive() {
		return validationError("amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(asset.QuantityPrecision)) {
		return validationError("amount has more than %d decimals", asset.QuantityPrecision)
	}
	return nil
}

// Deposit sends amount to the account at the ledger and credits the local
// balance. Once the ledger accepted the deposit it is never reported as failed;
// a local credit that cannot be applied is queued for replay.
func (c *OrderController) Deposit(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error) {
	log := logger.WithFields(map[string]interface{}{
		"controller": "OrderController",
		"op":         "Deposit",
		"account_id": accountID,
		"asset_id":   assetID,
		"amount":     amount.String(),
	})

	account, err := c.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	asset, err := c.findAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := checkAmount(amount, asset); err != nil {
		return nil, err
	}

	balance, err := c.balances.Get(ctx, account.ID, asset.ID)
	if err != nil {
		return nil, internal("load balance", err)
	}
	if balance == nil {
		return nil, notFound("account %d is not opted into asset %d", accountID, assetID)
	}

	result, err := c.ledger.Deposit(ctx, account.ExternalID, asset.ExternalID, amount)
	if err != nil {
		return nil, fromLedger("deposit", err)
	}

	updated, err := c.applyDeposit(ctx, account.ID, asset.ID, amount)
	if err != nil {
		payload := depositPayload{AccountID: account.ID, AssetID: asset.ID, Amount: amount}
		if result != nil {
			payload.LedgerRef = result.TransactionID
		}
		CaptureForReplay(ctx, c.exceptions, model.ExceptionKindDepositApply, payload.LedgerRef, "Deposit", err, payload)
		log.WithError(err).Error("deposit accepted by ledger but not applied locally, queued for replay")
		return balance, nil
	}

	log.Info("deposit applied")
	return updated, nil
}

func (c *OrderController) applyDeposit(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error) {
	var (
		balance *model.Balance
		err     error
	)
	for attempt := 0; attempt <= c.cfg.ReserveMaxRetries; attempt++ {
		balance, err = c.balances.Deposit(ctx, accountID, assetID, amount)
		if !errors.Is(err, repository.ErrConcurrentModification) {
			break
		}
	}
	return balance, err
}

// Withdraw takes amount out of the account's free balance at the ledger and locally.
func (c *OrderController) Withdraw(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error) {
	account, err := c.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	asset, err := c.findAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := checkAmount(amount, asset); err != nil {
		return nil, err
	}

	balance, err := c.balances.Get(ctx, account.ID, asset.ID)
	if err != nil {
		return nil, internal("load balance", err)
	}
	if balance == nil {
		return nil, notFound("account %d is not opted into asset %d", accountID, assetID)
	}
	if balance.Free.LessThan(amount) {
		return nil, &Error{Kind: KindInsufficientBalance, Message: "insufficient free balance"}
	}

	if _, err := c.ledger.Withdraw(ctx, account.ExternalID, asset.ExternalID, amount); err != nil {
		return nil, fromLedger("withdraw", err)
	}

	var updated *model.Balance
	for attempt := 0; attempt <= c.cfg.ReserveMaxRetries; attempt++ {
		updated, err = c.balances.Withdraw(ctx, account.ID, asset.ID, amount)
		if !errors.Is(err, repository.ErrConcurrentModification) {
			break
		}
	}
	if err != nil {
		Capture(ctx, c.exceptions, serviceName, "order_controller", "Withdraw", "error",
			fmt.Errorf("withdraw accepted by ledger but not applied locally: %w", err),
			map[string]interface{}{"account_id": account.ID, "asset_id": asset.ID, "amount": amount.String()})
		return balance, nil
	}

	return updated, nil
}

// SetTradingFee sets the fee schedule at the ledger and stores it locally.
func (c *OrderController) SetTradingFee(ctx context.Context, accountID, instrumentID uint, takerFee, makerFee int) (*model.TradingFee, error) {
	if takerFee < 0 || makerFee < 0 {
		return nil, validationError("fees must not be negative")
	}

	account, err := c.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	instrument, err := c.findInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	if err := c.ledger.SetTradingFees(ctx, account.ExternalID, instrument.BrokerInstrumentID, takerFee, makerFee); err != nil {
		return nil, fromLedger("set trading fees", err)
	}

	fee := &model.TradingFee{
		AccountID:    account.ID,
		InstrumentID: instrument.ID,
		TakerFee:     takerFee,
		MakerFee:     makerFee,
	}
	if err := c.fees.Upsert(ctx, fee); err != nil {
		return nil, internal("store trading fee", err)
	}
	return fee, nil
}
