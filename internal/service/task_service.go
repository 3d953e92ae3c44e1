package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"care-reminders/internal/logging"
	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
)

// ErrInvalidInput wraps every validation failure of a task action.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// TaskInput represents data required to create or edit a task.
type TaskInput struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	TaskType    model.TaskType `json:"taskType"`
	DueAt       *time.Time     `json:"dueAt"`
	Schedule    model.Schedule `json:"schedule"`
	AssignedTo  []string       `json:"assignedTo"`
}

// TaskService wraps the user-facing task mutations. It never writes ledger
// state; every write is handed to the triggers as a before/after pair.
type TaskService struct {
	tasks    TaskStore
	groups   GroupStore
	triggers *TriggerService
	now      func() time.Time
}

func NewTaskService(tasks TaskStore, groups GroupStore, triggers *TriggerService) *TaskService {
	return &TaskService{tasks: tasks, groups: groups, triggers: triggers, now: time.Now}
}

func (s *TaskService) CreateTask(ctx context.Context, groupID, createdBy string, input TaskInput) (*model.Task, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.groups.FindGroup(ctx, groupID); err != nil {
		return nil, err
	}

	status := model.StatusPending
	if input.TaskType == model.TaskHabit {
		status = model.StatusActive
	}
	task := model.Task{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		TaskType:    input.TaskType,
		Status:      status,
		AssignedTo:  input.AssignedTo,
		CreatedBy:   createdBy,
		DueAt:       input.DueAt,
		Schedule:    input.Schedule,
	}
	if err := s.tasks.CreateTask(ctx, &task); err != nil {
		return nil, err
	}

	s.fire(task.ID, func() (int, error) {
		return s.triggers.OnTaskCreated(ctx, TaskChange{GroupID: groupID, TaskID: task.ID, After: &task})
	})
	return &task, nil
}

// UpdateTask replaces the editable fields. The task type cannot change.
func (s *TaskService) UpdateTask(ctx context.Context, groupID, taskID string, input TaskInput) (*model.Task, error) {
	before, err := s.tasks.FindTask(ctx, groupID, taskID)
	if err != nil {
		return nil, err
	}
	if input.TaskType == "" {
		input.TaskType = before.TaskType
	}
	if input.TaskType != before.TaskType {
		return nil, invalid("task type cannot change from %s to %s", before.TaskType, input.TaskType)
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	after := before.Clone()
	after.Title = strings.TrimSpace(input.Title)
	after.Description = input.Description
	after.DueAt = input.DueAt
	after.Schedule = input.Schedule
	after.AssignedTo = input.AssignedTo
	if err := s.tasks.SaveTask(ctx, after); err != nil {
		return nil, err
	}

	s.fire(taskID, func() (int, error) {
		return s.triggers.OnTaskUpdated(ctx, TaskChange{GroupID: groupID, TaskID: taskID, Before: before, After: after})
	})
	return after, nil
}

// CompleteTask marks an appointment, or one habit occurrence named by
// occurrenceKey, as done by userID. Completing twice is a no-op.
func (s *TaskService) CompleteTask(ctx context.Context, groupID, taskID, userID, occurrenceKey string) (*model.Task, error) {
	before, err := s.tasks.FindTask(ctx, groupID, taskID)
	if err != nil {
		return nil, err
	}

	after := before.Clone()
	now := s.now()
	if before.TaskType == model.TaskHabit {
		if _, _, _, ok := occurrence.SplitKey(occurrenceKey); !ok {
			return nil, invalid("occurrence key %q is not a habit key", occurrenceKey)
		}
		if before.CompletionHistory.IsCompleted(occurrenceKey) {
			return before, nil
		}
		if after.CompletionHistory == nil {
			after.CompletionHistory = model.CompletionHistory{}
		}
		after.CompletionHistory[occurrenceKey] = model.Completion{State: model.CompletionCompleted, By: userID, At: &now}
	} else {
		if before.IsCompleted() {
			return before, nil
		}
		after.Status = model.StatusCompleted
		after.CompletedBy = userID
	}
	if err := s.tasks.SaveTask(ctx, after); err != nil {
		return nil, err
	}

	s.fire(taskID, func() (int, error) {
		return s.triggers.OnTaskUpdated(ctx, TaskChange{GroupID: groupID, TaskID: taskID, Before: before, After: after})
	})
	return after, nil
}

// RequestJoin appends userID to the group's pending requests.
func (s *TaskService) RequestJoin(ctx context.Context, groupID, userID string) (*model.Group, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user id is required")
	}
	before, err := s.groups.FindGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if before.HasMember(userID) || slices.Contains(before.PendingRequests, userID) {
		return before, nil
	}

	after := before.Clone()
	after.PendingRequests = append(after.PendingRequests, userID)
	if err := s.groups.SaveGroup(ctx, after); err != nil {
		return nil, err
	}

	s.fire(groupID, func() (int, error) {
		return s.triggers.OnGroupUpdated(ctx, GroupChange{GroupID: groupID, Before: before, After: after})
	})
	return after, nil
}

// fire runs a trigger after a successful write. Its failure is logged
// only; the write already happened.
func (s *TaskService) fire(subject string, trigger func() (int, error)) {
	sent, err := trigger()
	log := logging.Logger.WithFields(logrus.Fields{"subject": subject, "sent": sent})
	if err != nil {
		log.WithError(err).Error("trigger failed")
		return
	}
	log.Debug("trigger done")
}

func validateInput(input TaskInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return invalid("title is required")
	}
	switch input.TaskType {
	case model.TaskAppointment, model.TaskCountdown:
		if input.DueAt == nil {
			return invalid("%s needs dueAt", input.TaskType)
		}
	case model.TaskHabit:
		if len(input.Schedule) == 0 {
			return invalid("habit needs a schedule")
		}
		for day, entries := range input.Schedule {
			n, err := strconv.Atoi(day)
			if err != nil || n < 1 || n > 7 {
				return invalid("schedule day %q must be 1 to 7", day)
			}
			for _, entry := range entries {
				if _, _, err := occurrence.ParseClock(entry.Time); err != nil {
					return invalid("schedule day %s: %v", day, err)
				}
			}
		}
	default:
		return invalid("unknown task type %q", input.TaskType)
	}
	for _, id := range input.AssignedTo {
		if strings.TrimSpace(id) == "" {
			return invalid("assignee ids must not be empty")
		}
	}
	return nil
}
