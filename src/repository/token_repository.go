package repository

import (
	"context"

	"backoffice/src/database"
	"backoffice/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRepository persists ledger tokens, one row per token type.
type TokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{db: database.MainDB}
}

func (r *TokenRepository) WithDB(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) FindByType(ctx context.Context, tokenType string) (*model.Token, error) {
	var tokens []model.Token
	err := r.db.WithContext(ctx).
		Where("token_type = ?", tokenType).
		Limit(1).
		Find(&tokens).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "TokenRepository",
			"op":         "FindByType",
			"token_type": tokenType,
		}).WithError(err).Error("Failed to fetch token")
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	return &tokens[0], nil
}

// Save replaces the token of the same type.
func (r *TokenRepository) Save(ctx context.Context, token *model.Token) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "expires_in", "created_at"}),
		}).
		Create(token).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "TokenRepository",
			"op":         "Save",
			"token_type": token.TokenType,
		}).WithError(err).Error("Failed to save token")
		return err
	}
	return nil
}
