package repository

import (
	"context"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoredObjectRepository keeps metadata for objects in the image store.
type StoredObjectRepository interface {
	Upsert(ctx context.Context, obj *models.StoredObject) error
	Get(ctx context.Context, path string) (*models.StoredObject, error)
	Delete(ctx context.Context, path string) error
}

type storedObjectRepository struct {
	db *gorm.DB
}

// NewStoredObjectRepository returns a repository implementation for object metadata.
func NewStoredObjectRepository(db *gorm.DB) StoredObjectRepository {
	return &storedObjectRepository{db: db}
}

func (r *storedObjectRepository) Upsert(ctx context.Context, obj *models.StoredObject) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_type", "size"}),
	}).Create(obj).Error
	return classify("upsert stored object", err)
}

func (r *storedObjectRepository) Get(ctx context.Context, path string) (*models.StoredObject, error) {
	var obj models.StoredObject
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&obj).Error; err != nil {
		return nil, classify("get stored object", err)
	}
	return &obj, nil
}

func (r *storedObjectRepository) Delete(ctx context.Context, path string) error {
	return classify("delete stored object", r.db.WithContext(ctx).Where("path = ?", path).Delete(&models.StoredObject{}).Error)
}
