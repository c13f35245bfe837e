package publisher

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/akua-anchor/pkg/db"
	"github.com/angelmondragon/akua-anchor/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists publish records. The unique constraint on sha256 is the
// only synchronization between concurrent publishers of the same hash.
type Repository interface {
	FindBySHA256(ctx context.Context, sha256 string) (*models.PublishRecord, error)
	// InsertIgnore inserts record unless a row with the same sha256 exists.
	// It reports whether this call created the row.
	InsertIgnore(ctx context.Context, record *models.PublishRecord) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a publish record repository bound to the provided gorm DB.
func NewRepository(conn *gorm.DB) (Repository, error) {
	if conn == nil {
		return nil, errors.New("db is required")
	}
	return &repository{db: conn}, nil
}

// FindBySHA256 returns gorm.ErrRecordNotFound when the hash was never anchored.
func (r *repository) FindBySHA256(ctx context.Context, sha256 string) (*models.PublishRecord, error) {
	var record models.PublishRecord
	err := r.db.WithContext(ctx).
		Where("sha256 = ?", strings.ToLower(strings.TrimSpace(sha256))).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) InsertIgnore(ctx context.Context, record *models.PublishRecord) (bool, error) {
	if record == nil {
		return false, gorm.ErrInvalidValue
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sha256"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		// Drivers that surface the conflict instead of skipping it lost the race.
		if db.IsUniqueViolation(result.Error, "publish_records_sha256_key") || db.IsUniqueViolation(result.Error, "publish_records.sha256") {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
