package repository

import (
	"context"
	"errors"

	"backoffice/src/database"
	"backoffice/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DirectoryRepository resolves accounts, assets and instruments. It never writes.
type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository() *DirectoryRepository {
	logger.WithField("component", "DirectoryRepository").
		Debug("Creating new DirectoryRepository")

	return &DirectoryRepository{
		db: database.Directory(),
	}
}

func (r *DirectoryRepository) WithDB(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) FindAccount(ctx context.Context, id uint) (*model.Account, error) {
	var account model.Account
	if err := r.first("FindAccount", id, r.db.WithContext(ctx), &account); err != nil || account.ID == 0 {
		return nil, err
	}
	return &account, nil
}

func (r *DirectoryRepository) FindAsset(ctx context.Context, id uint) (*model.Asset, error) {
	var asset model.Asset
	if err := r.first("FindAsset", id, r.db.WithContext(ctx), &asset); err != nil || asset.ID == 0 {
		return nil, err
	}
	return &asset, nil
}

// FindInstrument loads the instrument with both assets.
func (r *DirectoryRepository) FindInstrument(ctx context.Context, id uint) (*model.Instrument, error) {
	var instrument model.Instrument
	query := r.db.WithContext(ctx).
		Preload("BaseAsset").
		Preload("QuoteAsset")
	if err := r.first("FindInstrument", id, query, &instrument); err != nil || instrument.ID == 0 {
		return nil, err
	}
	return &instrument, nil
}

// first loads dest by primary key. A missing row leaves dest untouched and returns nil.
func (r *DirectoryRepository) first(op string, id uint, query *gorm.DB, dest interface{}) error {
	err := query.First(dest, id).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.WithFields(map[string]interface{}{
			"repo": "DirectoryRepository",
			"op":   op,
			"id":   id,
		}).Info("Directory entry not found")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"repo": "DirectoryRepository",
		"op":   op,
		"id":   id,
	}).WithError(err).Error("Failed to fetch directory entry")
	return err
}
