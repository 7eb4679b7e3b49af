package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/types"
)

type MappingSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.MappingSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MappingSession, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	BumpVersion(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type mappingSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMappingSessionRepo(db *gorm.DB, baseLog *logger.Logger) MappingSessionRepo {
	return &mappingSessionRepo{
		db:  db,
		log: baseLog.With("repo", "MappingSessionRepo"),
	}
}

func (r *mappingSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.MappingSession) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(session).Error
}

func (r *mappingSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MappingSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var session types.MappingSession
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *mappingSessionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.MappingSession{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *mappingSessionRepo) BumpVersion(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.MappingSession{}).
		Where("id = ?", id).
		UpdateColumn("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *mappingSessionRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.MappingSession{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
