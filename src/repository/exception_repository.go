package repository

import (
	"context"
	"time"

	"backoffice/src/database"
	"backoffice/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
		"kind":    exc.Kind,
	}).Error("Persisting system exception")

	// jsonb columns reject empty strings
	if exc.Context == "" {
		exc.Context = "{}"
	}
	if exc.Payload == "" {
		exc.Payload = "{}"
	}

	return r.db.WithContext(ctx).Create(exc).Error
}

// FindUnresolved returns unresolved exceptions of the given kinds, oldest first.
func (r *ExceptionRepository) FindUnresolved(
	ctx context.Context,
	kinds []string,
	limit int,
) ([]model.Exception, error) {

	if limit <= 0 {
		limit = 100
	}

	var out []model.Exception
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL AND kind IN ?", kinds).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExceptionRepository",
			"op":   "FindUnresolved",
		}).WithError(err).Error("Failed to fetch unresolved exceptions")
		return nil, err
	}

	return out, nil
}

// MarkResolved stamps resolved_at so the exception is not replayed again.
func (r *ExceptionRepository) MarkResolved(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Exception{}).
		Where("id = ?", id).
		Update("resolved_at", time.Now()).Error
}

// IncrementAttempts records a failed replay.
func (r *ExceptionRepository) IncrementAttempts(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Exception{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error
}
