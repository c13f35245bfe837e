package models

import (
	"time"

	"github.com/angelmondragon/akua-anchor/pkg/enums"
)

// PublishRecord is the durable anchor of one payload hash. The unique index on
// sha256 guarantees at most one record per hash.
type PublishRecord struct {
	ID          int64               `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SHA256      string              `gorm:"column:sha256;type:varchar(64);uniqueIndex;not null" json:"sha256"`
	TxID        string              `gorm:"column:txid;type:varchar(255);not null" json:"txid"`
	Status      enums.PublishStatus `gorm:"column:status;type:varchar(50);not null" json:"status"`
	Network     string              `gorm:"column:network;type:varchar(50);not null" json:"network"`
	Meta        map[string]any      `gorm:"column:meta;type:jsonb;serializer:json" json:"meta"`
	PublishedAt time.Time           `gorm:"column:published_at;not null" json:"publishedAt"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (PublishRecord) TableName() string {
	return "publish_records"
}
