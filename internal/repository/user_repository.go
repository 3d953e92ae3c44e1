package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"care-reminders/internal/model"
)

// UserRepository handles user documents.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) SaveUser(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	switch {
	case err == nil:
		return &user, nil
	case err == gorm.ErrRecordNotFound:
		return nil, model.ErrNotFound
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

// FindUsers loads the users whose id is in ids, optionally restricted to
// role. Missing ids are ignored.
func (r *UserRepository) FindUsers(ctx context.Context, ids []string, role model.Role) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).Where("id IN ?", ids)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	var users []model.User
	if err := query.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("role = ?", role).Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return users, nil
}
