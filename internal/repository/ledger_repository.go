package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
)

// LedgerRepository keeps one row per (task, occurrence, kind) notification
// slot. Claims and fired marks are conditional writes so overlapping passes
// never both win the same slot.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) HasFired(ctx context.Context, ref occurrence.Ref, kind string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("task_id = ? AND occurrence_key = ? AND kind = ? AND fired_at IS NOT NULL", ref.TaskID, ref.Key, kind).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("read ledger: %w", err)
	}
	return count > 0, nil
}

// TryClaim reserves the slot for the caller. It succeeds when the slot is
// new, or unfired with a claim older than lease.
func (r *LedgerRepository) TryClaim(ctx context.Context, ref occurrence.Ref, kind string, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := model.LedgerEntry{
			TaskID:        ref.TaskID,
			OccurrenceKey: ref.Key,
			Kind:          kind,
			ClaimedAt:     &now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return fmt.Errorf("insert ledger slot: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			claimed = true
			return nil
		}

		res = tx.Model(&model.LedgerEntry{}).
			Where("task_id = ? AND occurrence_key = ? AND kind = ? AND fired_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)",
				ref.TaskID, ref.Key, kind, now.Add(-lease)).
			Update("claimed_at", now)
		if res.Error != nil {
			return fmt.Errorf("reclaim ledger slot: %w", res.Error)
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (r *LedgerRepository) MarkFired(ctx context.Context, ref occurrence.Ref, kind string, now time.Time) error {
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("task_id = ? AND occurrence_key = ? AND kind = ? AND fired_at IS NULL", ref.TaskID, ref.Key, kind).
		Update("fired_at", now)
	if res.Error != nil {
		return fmt.Errorf("mark fired: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		entry := model.LedgerEntry{TaskID: ref.TaskID, OccurrenceKey: ref.Key, Kind: kind, ClaimedAt: &now, FiredAt: &now}
		if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
			return fmt.Errorf("mark fired: %w", err)
		}
	}
	return nil
}

// Release clears the claim of an unfired slot.
func (r *LedgerRepository) Release(ctx context.Context, ref occurrence.Ref, kind string) error {
	err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("task_id = ? AND occurrence_key = ? AND kind = ? AND fired_at IS NULL", ref.TaskID, ref.Key, kind).
		Update("claimed_at", nil).Error
	if err != nil {
		return fmt.Errorf("release ledger slot: %w", err)
	}
	return nil
}

// Record returns the fired kinds of one occurrence.
func (r *LedgerRepository) Record(ctx context.Context, ref occurrence.Ref) (model.OccurrenceRecord, error) {
	var entries []model.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("task_id = ? AND occurrence_key = ? AND fired_at IS NOT NULL", ref.TaskID, ref.Key).
		Find(&entries).Error; err != nil {
		return model.OccurrenceRecord{}, fmt.Errorf("read ledger record: %w", err)
	}
	record := model.OccurrenceRecord{TaskID: ref.TaskID, Key: ref.Key, Fired: make(map[string]bool, len(entries))}
	for _, entry := range entries {
		record.Fired[entry.Kind] = true
	}
	return record, nil
}
