package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"backoffice/src/database"
	"backoffice/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrOrderFinal is returned when a status change targets an executed or canceled order.
var ErrOrderFinal = errors.New("order is final and cannot change")

// finalStatuses never change once stored.
var finalStatuses = []string{
	strings.ToLower(model.OrderStatusExecuted),
	strings.ToLower(model.OrderStatusCanceled),
}

// OrderRepository handles read/write operations for orders and their status logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Debug("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// OrderSearchOptions filters Search. AccountID is required.
type OrderSearchOptions struct {
	AccountID     uint
	InstrumentID  *uint
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// Create inserts the order together with its first status log.
// It is idempotent on ExternalID: when the ledger order is already stored,
// order is filled with the stored row and no log is written.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	log := logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "Create",
		"external_id": order.ExternalID,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"qty":         order.Quantity.String(),
	})
	log.Debug("Creating new order")

	if order.Status == "" {
		order.Status = model.OrderStatusOpen
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).Omit("Logs").Create(order)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			var existing model.Order
			if err := tx.Where("external_id = ?", order.ExternalID).First(&existing).Error; err != nil {
				return err
			}
			*order = existing
			log.Info("Order already stored, skipping insert")
			return nil
		}

		entry := model.NewOrderLog(order, "placed")
		return tx.Create(&entry).Error
	})
	if err != nil {
		log.WithError(err).Error("Failed to create order")
		return err
	}

	log.WithField("order_id", order.ID).Info("Order stored")

	return nil
}

// FindByExternalID fetches an order by the ledger order id, logs included.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByExternalID(
	ctx context.Context,
	externalID int64,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("external_id = ?", externalID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":        "OrderRepository",
				"op":          "FindByExternalID",
				"external_id": externalID,
			}).Info("Order not found by external ID")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "OrderRepository",
			"op":          "FindByExternalID",
			"external_id": externalID,
		}).WithError(err).Error("Failed to fetch order by external ID")

		return nil, err
	}

	return &order, nil
}

// UpdateStatusWithAutoLog sets the order status and appends a log snapshot in
// the same transaction. Executed and canceled orders are never changed
// (ErrOrderFinal), so of two racing updates to a final status only one succeeds.
func (r *OrderRepository) UpdateStatusWithAutoLog(
	ctx context.Context,
	order *model.Order,
	status string,
	reason string,
) error {

	log := logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "UpdateStatusWithAutoLog",
		"order_id": order.ID,
		"from":     order.Status,
		"to":       status,
	})
	log.Debug("Updating order status")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND LOWER(status) NOT IN ?", order.ID, finalStatuses).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOrderFinal
		}

		order.Status = status
		entry := model.NewOrderLog(order, reason)
		return tx.Create(&entry).Error
	})
	if err != nil {
		if errors.Is(err, ErrOrderFinal) {
			log.Warn("Order already final, status kept")
		} else {
			log.WithError(err).Error("Failed to update order status")
		}
		return err
	}

	log.Info("Order status updated")

	return nil
}

// Search returns the account's orders newest first.
func (r *OrderRepository) Search(
	ctx context.Context,
	opts OrderSearchOptions,
) ([]model.Order, error) {

	query := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("account_id = ?", opts.AccountID)

	if opts.InstrumentID != nil {
		query = query.Where("instrument_id = ?", *opts.InstrumentID)
	}
	if opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	}
	if opts.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *opts.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "Search",
			"account_id": opts.AccountID,
		}).WithError(err).Error("Failed to search orders")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "Search",
		"account_id":  opts.AccountID,
		"rows_return": len(orders),
	}).Debug("Orders fetched")

	return orders, nil
}
