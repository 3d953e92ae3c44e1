package service

import (
	"context"
	"time"

	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
)

// TaskStore is the task side of the document store.
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	SaveTask(ctx context.Context, task *model.Task) error
	FindTask(ctx context.Context, groupID, taskID string) (*model.Task, error)
	ListAppointmentsDueBetween(ctx context.Context, from, to time.Time) ([]model.Task, error)
	ListCountdownsBetween(ctx context.Context, from, to time.Time) ([]model.Task, error)
	ListActiveHabits(ctx context.Context) ([]model.Task, error)
	ListAssigned(ctx context.Context, userID string, groupIDs []string, taskType model.TaskType) ([]model.Task, error)
}

type GroupStore interface {
	FindGroup(ctx context.Context, id string) (*model.Group, error)
	SaveGroup(ctx context.Context, group *model.Group) error
}

// UserStore lookups by id set are capped by the store's "in" limit; callers
// chunk.
type UserStore interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
	FindUsers(ctx context.Context, ids []string, role model.Role) ([]model.User, error)
	ListByRole(ctx context.Context, role model.Role) ([]model.User, error)
}

// Ledger persists which (occurrence, kind) notifications have fired.
type Ledger interface {
	HasFired(ctx context.Context, ref occurrence.Ref, kind string) (bool, error)
	TryClaim(ctx context.Context, ref occurrence.Ref, kind string, now time.Time, lease time.Duration) (bool, error)
	MarkFired(ctx context.Context, ref occurrence.Ref, kind string, now time.Time) error
	Release(ctx context.Context, ref occurrence.Ref, kind string) error
	Record(ctx context.Context, ref occurrence.Ref) (model.OccurrenceRecord, error)
}
