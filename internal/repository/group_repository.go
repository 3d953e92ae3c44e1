package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"care-reminders/internal/model"
)

// GroupRepository manages care groups.
type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) SaveGroup(ctx context.Context, group *model.Group) error {
	if err := r.db.WithContext(ctx).Save(group).Error; err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

func (r *GroupRepository) FindGroup(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error
	switch {
	case err == nil:
		return &group, nil
	case err == gorm.ErrRecordNotFound:
		return nil, model.ErrNotFound
	default:
		return nil, fmt.Errorf("find group: %w", err)
	}
}
