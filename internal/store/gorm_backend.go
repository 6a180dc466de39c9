package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-booking-backend/internal/model"
)

// GormBackend keeps each collection as one row of collection_snapshots.
type GormBackend struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormBackend creates a GORM-backed collection backend. The snapshot
// tables must already be migrated (see db.Init).
func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db, now: time.Now}
}

// Load fetches the snapshot row for c.
func (b *GormBackend) Load(ctx context.Context, c Collection) ([]byte, error) {
	var snap model.CollectionSnapshot
	err := b.db.WithContext(ctx).Where("name = ?", string(c)).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCollectionMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", c, err)
	}
	return snap.Body, nil
}

// Save upserts the snapshot row for c.
func (b *GormBackend) Save(ctx context.Context, c Collection, data []byte) error {
	snap := model.CollectionSnapshot{Name: string(c), Body: data, UpdatedAt: b.now().UTC()}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&snap).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", c, err)
	}
	return nil
}

// Init inserts the snapshot row unless one already exists.
func (b *GormBackend) Init(ctx context.Context, c Collection, data []byte) error {
	snap := model.CollectionSnapshot{Name: string(c), Body: data, UpdatedAt: b.now().UTC()}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&snap).Error
	if err != nil {
		return fmt.Errorf("failed to materialize snapshot %s: %w", c, err)
	}
	return nil
}

// Quarantine records the unparseable body in quarantined_snapshots.
func (b *GormBackend) Quarantine(ctx context.Context, c Collection, data []byte) error {
	q := model.QuarantinedSnapshot{Name: string(c), Body: data, DetectedAt: b.now().UTC()}
	if err := b.db.WithContext(ctx).Create(&q).Error; err != nil {
		return fmt.Errorf("failed to quarantine snapshot %s: %w", c, err)
	}
	return nil
}
