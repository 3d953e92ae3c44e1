package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"care-reminders/internal/model"
)

// TaskRepository stores task documents.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) CreateTask(ctx context.Context, task *model.Task) error {
	task.DueAt = utc(task.DueAt)
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// SaveTask writes every field of the task document.
func (r *TaskRepository) SaveTask(ctx context.Context, task *model.Task) error {
	task.DueAt = utc(task.DueAt)
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindTask(ctx context.Context, groupID, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Where("group_id = ? AND id = ?", groupID, taskID).First(&task).Error
	switch {
	case err == nil:
		return &task, nil
	case err == gorm.ErrRecordNotFound:
		return nil, model.ErrNotFound
	default:
		return nil, fmt.Errorf("find task: %w", err)
	}
}

// ListAppointmentsDueBetween returns non-completed appointments with
// from <= dueAt <= to.
func (r *TaskRepository) ListAppointmentsDueBetween(ctx context.Context, from, to time.Time) ([]model.Task, error) {
	return r.listDueBetween(ctx, model.TaskAppointment, from, to)
}

// ListCountdownsBetween returns non-completed countdowns with from <= dueAt <= to.
func (r *TaskRepository) ListCountdownsBetween(ctx context.Context, from, to time.Time) ([]model.Task, error) {
	return r.listDueBetween(ctx, model.TaskCountdown, from, to)
}

func (r *TaskRepository) listDueBetween(ctx context.Context, taskType model.TaskType, from, to time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("task_type = ? AND status <> ? AND due_at >= ? AND due_at <= ?", taskType, model.StatusCompleted, from.UTC(), to.UTC()).
		Order("due_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list %s tasks: %w", taskType, err)
	}
	return tasks, nil
}

// ListActiveHabits returns every habit that is not completed.
func (r *TaskRepository) ListActiveHabits(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("task_type = ? AND status <> ?", model.TaskHabit, model.StatusCompleted).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return tasks, nil
}

// ListAssigned returns tasks of taskType in groupIDs that list userID as assignee.
func (r *TaskRepository) ListAssigned(ctx context.Context, userID string, groupIDs []string, taskType model.TaskType) ([]model.Task, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("task_type = ? AND group_id IN ?", taskType, groupIDs).
		Where("EXISTS (SELECT 1 FROM json_each(tasks.assigned_to) WHERE json_each.value = ?)", userID).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list assigned tasks: %w", err)
	}
	return tasks, nil
}
