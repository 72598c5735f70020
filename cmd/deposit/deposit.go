package deposit

import (
	"context"
	"errors"
	"fmt"

	"backoffice/src/app"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Deposit funds an account through the engine, opting it into the asset first
// when needed.
type Deposit struct {
	AccountID uint
	AssetID   uint
	Amount    string
}

func (t *Deposit) validate() (decimal.Decimal, error) {
	if t.AccountID == 0 || t.AssetID == 0 {
		return decimal.Zero, errors.New("--account and --asset are required")
	}
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", t.Amount, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, errors.New("--amount must be greater than zero")
	}
	return amount, nil
}

func (t *Deposit) Start() error {
	amount, err := t.validate()
	if err != nil {
		return err
	}

	engine, err := app.Boot()
	if err != nil {
		logrus.WithError(err).Error("Failed to boot engine")
		return err
	}

	ctx := context.Background()
	log := logrus.WithFields(logrus.Fields{"account_id": t.AccountID, "asset_id": t.AssetID})

	if _, err := engine.Controller.OptIn(ctx, t.AccountID, t.AssetID); err != nil {
		log.WithError(err).Error("Opt-in failed")
		return err
	}

	balance, err := engine.Controller.Deposit(ctx, t.AccountID, t.AssetID, amount)
	if err != nil {
		log.WithError(err).Error("Deposit failed")
		return err
	}

	log.WithFields(logrus.Fields{
		"free":   balance.Free.String(),
		"locked": balance.Locked.String(),
		"total":  balance.Total.String(),
	}).Info("Deposit done")
	return nil
}
