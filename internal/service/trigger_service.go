package service

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"care-reminders/internal/logging"
	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
	"care-reminders/internal/push"
)

// GroupChange is a before/after pair of a group document. Before is nil for
// a new group.
type GroupChange struct {
	GroupID string
	Before  *model.Group
	After   *model.Group
}

// TaskChange is a before/after pair of a task document. Before is nil on
// create and After is nil on delete.
type TaskChange struct {
	GroupID string
	TaskID  string
	Before  *model.Task
	After   *model.Task
}

// TriggerService reacts to document mutations. Each method returns how many
// messages it dispatched; errors are store lookup failures.
type TriggerService struct {
	audience *AudienceResolver
	sender   push.Dispatcher
}

func NewTriggerService(audience *AudienceResolver, sender push.Dispatcher) *TriggerService {
	return &TriggerService{audience: audience, sender: sender}
}

// OnGroupUpdated tells the group's caretakers about new join requests.
func (s *TriggerService) OnGroupUpdated(ctx context.Context, change GroupChange) (int, error) {
	if change.After == nil {
		return 0, nil
	}
	groupID := change.GroupID
	if groupID == "" {
		groupID = change.After.ID
	}
	var before []string
	if change.Before != nil {
		before = change.Before.PendingRequests
	}

	sent := 0
	for _, requester := range change.After.PendingRequests {
		if requester == "" || slices.Contains(before, requester) {
			continue
		}
		log := logging.Logger.WithFields(logrus.Fields{"group_id": groupID, "requester": requester, "trigger": "join_request"})
		name := s.audience.Names(ctx, []string{requester}, fallbackUserName)
		groupName := change.After.GroupName
		if groupName == "" {
			groupName = fallbackGroupName
		}
		ok, err := deliver(ctx, s.sender, log, s.audience.Caretakers(ctx, groupID, []string{requester}), joinRequestMessage(groupID, name, groupName))
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// OnTaskCreated tells the assignees of a new task about it. Countdowns and
// unassigned tasks are silent.
func (s *TriggerService) OnTaskCreated(ctx context.Context, change TaskChange) (int, error) {
	task := normalise(change)
	if task == nil || len(task.AssignedTo) == 0 || task.TaskType == model.TaskCountdown {
		return 0, nil
	}
	log := logging.Logger.WithFields(logrus.Fields{"task_id": task.ID, "group_id": task.GroupID, "trigger": "task_created"})

	var creator []string
	if task.CreatedBy != "" {
		creator = []string{task.CreatedBy}
	}
	creatorName := s.audience.Names(ctx, creator, fallbackCaretaker)
	groupName := s.audience.GroupName(ctx, task.GroupID, fallbackGroupName)
	ok, err := deliver(ctx, s.sender, log, s.audience.Assignees(ctx, task.AssignedTo), newTaskMessage(*task, creatorName, groupName))
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// OnTaskUpdated handles completions and edits. A write that completes an
// occurrence and also edits the task produces both notifications.
func (s *TriggerService) OnTaskUpdated(ctx context.Context, change TaskChange) (int, error) {
	after := normalise(change)
	if after == nil {
		return 0, nil
	}
	if change.Before == nil {
		return s.OnTaskCreated(ctx, change)
	}
	before := change.Before

	sent := 0
	for _, done := range Completions(*before, *after) {
		ok, err := s.notifyCompletion(ctx, *after, done)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}

	fields := EditedFields(*before, *after)
	if len(fields) == 0 || len(after.AssignedTo) == 0 || after.TaskType == model.TaskCountdown {
		return sent, nil
	}
	log := logging.Logger.WithFields(logrus.Fields{"task_id": after.ID, "group_id": after.GroupID, "trigger": "task_edited", "fields": fields})
	groupName := s.audience.GroupName(ctx, after.GroupID, fallbackGroupName)
	ok, err := deliver(ctx, s.sender, log, s.audience.Assignees(ctx, after.AssignedTo), editedMessage(*after, groupName))
	if err != nil {
		return sent, err
	}
	if ok {
		sent++
	}
	return sent, nil
}

// CompletedItem is one occurrence that became completed in an update.
type CompletedItem struct {
	Key       string
	ItemTitle string
	By        string
}

// Completions lists what an update completed: the appointment itself, or
// each habit key newly marked completed, in key order.
func Completions(before, after model.Task) []CompletedItem {
	if after.TaskType != model.TaskHabit {
		if !before.IsCompleted() && after.IsCompleted() {
			return []CompletedItem{{By: after.CompletedBy}}
		}
		return nil
	}
	var out []CompletedItem
	for _, key := range slices.Sorted(maps.Keys(after.CompletionHistory)) {
		if !after.CompletionHistory.IsCompleted(key) || before.CompletionHistory.IsCompleted(key) {
			continue
		}
		done := CompletedItem{Key: key, By: after.CompletionHistory[key].By}
		if _, _, title, ok := occurrence.SplitKey(key); ok {
			done.ItemTitle = title
		}
		out = append(out, done)
	}
	return out
}

func (s *TriggerService) notifyCompletion(ctx context.Context, task model.Task, done CompletedItem) (bool, error) {
	log := logging.Logger.WithFields(logrus.Fields{"task_id": task.ID, "group_id": task.GroupID, "occurrence": done.Key, "trigger": "task_completed"})
	var exclude []string
	if done.By != "" {
		exclude = []string{done.By}
	}
	completer := s.audience.Names(ctx, exclude, fallbackUserName)
	groupName := s.audience.GroupName(ctx, task.GroupID, fallbackGroupName)
	msg := completedMessage(task, done.Key, done.ItemTitle, completer, groupName)
	return deliver(ctx, s.sender, log, s.audience.Caretakers(ctx, task.GroupID, exclude), msg)
}

// EditedFields names the user-visible fields that differ between before
// and after. Status and completion history are not edits.
func EditedFields(before, after model.Task) []string {
	var fields []string
	if before.Title != after.Title {
		fields = append(fields, "title")
	}
	if before.Description != after.Description {
		fields = append(fields, "description")
	}
	if !sameInstant(before.DueAt, after.DueAt) {
		fields = append(fields, "dueAt")
	}
	if !maps.EqualFunc(before.Schedule, after.Schedule, sameEntries) {
		fields = append(fields, "schedule")
	}
	if !sameSet(before.AssignedTo, after.AssignedTo) {
		fields = append(fields, "assignedTo")
	}
	return fields
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameEntries(a, b []model.ScheduleEntry) bool {
	return slices.Equal(a, b)
}

func sameSet(a, b []string) bool {
	x := slices.Compact(slices.Sorted(slices.Values(a)))
	y := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(x, y)
}

// normalise returns After with ids filled from the change envelope.
func normalise(change TaskChange) *model.Task {
	if change.After == nil {
		return nil
	}
	task := change.After
	if task.ID == "" || task.GroupID == "" {
		task = task.Clone()
		if task.ID == "" {
			task.ID = change.TaskID
		}
		if task.GroupID == "" {
			task.GroupID = change.GroupID
		}
	}
	return task
}
