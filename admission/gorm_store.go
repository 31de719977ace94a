package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageRow is the usage_records table.
type usageRow struct {
	ID           uint      `gorm:"primaryKey"`
	Identity     string    `gorm:"size:191;not null;uniqueIndex:idx_usage_identity_day"`
	Day          string    `gorm:"size:10;not null;uniqueIndex:idx_usage_identity_day"`
	Count        int       `gorm:"not null;default:0"`
	LastReset    time.Time `gorm:"not null"`
	BlockedUntil *time.Time
	LastTouched  time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time
}

func (usageRow) TableName() string { return "usage_records" }

// GormStore persists usage in a SQL database through GORM.
type GormStore struct {
	db *gorm.DB
}

var (
	_ UsageStore = (*GormStore)(nil)
	_ Purger     = (*GormStore)(nil)
)

// NewGormStore 创建 SQL 用量存储并确保表结构存在
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&usageRow{}); err != nil {
		return nil, fmt.Errorf("migrate usage_records: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context, identity, day string) (*UsageRecord, error) {
	var row usageRow
	err := s.db.WithContext(ctx).
		Where("identity = ? AND day = ?", identity, day).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	rec := &UsageRecord{
		Identity:    row.Identity,
		Day:         row.Day,
		Count:       row.Count,
		LastReset:   row.LastReset.UTC(),
		LastTouched: row.LastTouched.UTC(),
	}
	if row.BlockedUntil != nil {
		rec.BlockedUntil = row.BlockedUntil.UTC()
	}
	return rec, nil
}

func (s *GormStore) Save(ctx context.Context, rec *UsageRecord) error {
	row := usageRow{
		Identity:    rec.Identity,
		Day:         rec.Day,
		Count:       rec.Count,
		LastReset:   rec.LastReset,
		LastTouched: rec.LastTouched,
	}
	if !rec.BlockedUntil.IsZero() {
		b := rec.BlockedUntil
		row.BlockedUntil = &b
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"count", "last_reset", "blocked_until", "last_touched", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// Purge 删除 before 之前未访问的记录，返回删除行数
func (s *GormStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("last_touched < ?", before).Delete(&usageRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}
