package repository

import (
	"context"
	"errors"

	"backoffice/src/database"
	"backoffice/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound        = errors.New("balance not found")
	ErrInsufficientFree       = errors.New("insufficient free balance")
	ErrInsufficientLocked     = errors.New("insufficient locked balance")
	ErrConcurrentModification = errors.New("balance was modified concurrently")
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
)

// BalanceRepository reads and mutates per account, per asset balances.
// Every mutation is a single UPDATE guarded by the row version.
type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository() *BalanceRepository {
	return &BalanceRepository{db: database.MainDB}
}

func (r *BalanceRepository) WithDB(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Get returns the balance row, or (nil, nil) when the account never opted into the asset.
func (r *BalanceRepository) Get(ctx context.Context, accountID, assetID uint) (*model.Balance, error) {
	var balance model.Balance

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND asset_id = ?", accountID, assetID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "BalanceRepository",
			"op":         "Get",
			"account_id": accountID,
			"asset_id":   assetID,
		}).WithError(err).Error("Failed to fetch balance")

		return nil, err
	}

	return &balance, nil
}

// ListByAccount returns every balance of the account ordered by asset.
func (r *BalanceRepository) ListByAccount(ctx context.Context, accountID uint) ([]model.Balance, error) {
	var balances []model.Balance

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("asset_id ASC").
		Find(&balances).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "BalanceRepository",
			"op":         "ListByAccount",
			"account_id": accountID,
		}).WithError(err).Error("Failed to list balances")

		return nil, err
	}

	return balances, nil
}

// EnsureZero creates an empty balance row unless one exists, and returns the stored row.
func (r *BalanceRepository) EnsureZero(ctx context.Context, accountID, assetID uint) (*model.Balance, error) {
	log := logger.WithFields(map[string]interface{}{
		"repo":       "BalanceRepository",
		"op":         "EnsureZero",
		"account_id": accountID,
		"asset_id":   assetID,
	})

	row := model.Balance{
		AccountID: accountID,
		AssetID:   assetID,
		Free:      decimal.Zero,
		Locked:    decimal.Zero,
		Total:     decimal.Zero,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "asset_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if err != nil {
		log.WithError(err).Error("Failed to create zero balance")
		return nil, err
	}

	balance, err := r.Get(ctx, accountID, assetID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, ErrBalanceNotFound
	}

	log.Debug("Zero balance ensured")

	return balance, nil
}

// ReserveAtomically moves delta from free to locked.
func (r *BalanceRepository) ReserveAtomically(ctx context.Context, accountID, assetID uint, delta decimal.Decimal) (*model.Balance, error) {
	return r.mutate(ctx, "ReserveAtomically", accountID, assetID, delta, func(b *model.Balance) error {
		if b.Free.LessThan(delta) {
			return ErrInsufficientFree
		}
		b.Free = b.Free.Sub(delta)
		b.Locked = b.Locked.Add(delta)
		return nil
	})
}

// Release moves delta from locked back to free.
func (r *BalanceRepository) Release(ctx context.Context, accountID, assetID uint, delta decimal.Decimal) (*model.Balance, error) {
	return r.mutate(ctx, "Release", accountID, assetID, delta, func(b *model.Balance) error {
		if b.Locked.LessThan(delta) {
			return ErrInsufficientLocked
		}
		b.Locked = b.Locked.Sub(delta)
		b.Free = b.Free.Add(delta)
		return nil
	})
}

// Deposit credits amount to free. Locked is untouched.
func (r *BalanceRepository) Deposit(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error) {
	return r.mutate(ctx, "Deposit", accountID, assetID, amount, func(b *model.Balance) error {
		b.Free = b.Free.Add(amount)
		return nil
	})
}

// Withdraw debits amount from free.
func (r *BalanceRepository) Withdraw(ctx context.Context, accountID, assetID uint, amount decimal.Decimal) (*model.Balance, error) {
	return r.mutate(ctx, "Withdraw", accountID, assetID, amount, func(b *model.Balance) error {
		if b.Free.LessThan(amount) {
			return ErrInsufficientFree
		}
		b.Free = b.Free.Sub(amount)
		return nil
	})
}

// mutate reads the row, applies fn and writes the result back only if the
// version is still the one that was read.
func (r *BalanceRepository) mutate(
	ctx context.Context,
	op string,
	accountID, assetID uint,
	delta decimal.Decimal,
	fn func(b *model.Balance) error,
) (*model.Balance, error) {

	log := logger.WithFields(map[string]interface{}{
		"repo":       "BalanceRepository",
		"op":         op,
		"account_id": accountID,
		"asset_id":   assetID,
		"delta":      delta.String(),
	})

	if !delta.IsPositive() {
		return nil, ErrInvalidAmount
	}

	current, err := r.Get(ctx, accountID, assetID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrBalanceNotFound
	}

	next := *current
	if err := fn(&next); err != nil {
		log.WithError(err).Debug("Balance precondition failed")
		return nil, err
	}
	next.Total = next.Free.Add(next.Locked)
	next.Version = current.Version + 1

	res := r.db.WithContext(ctx).
		Model(&model.Balance{}).
		Where("id = ? AND version = ?", current.ID, current.Version).
		Updates(map[string]interface{}{
			"free":    next.Free,
			"locked":  next.Locked,
			"total":   next.Total,
			"version": next.Version,
		})
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to update balance")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		log.Warn("Balance version changed between read and write")
		return nil, ErrConcurrentModification
	}

	log.WithFields(map[string]interface{}{
		"free":    next.Free.String(),
		"locked":  next.Locked.String(),
		"version": next.Version,
	}).Info("Balance updated")

	return &next, nil
}
