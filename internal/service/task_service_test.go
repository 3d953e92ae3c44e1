package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"care-reminders/internal/model"
	"care-reminders/internal/service"
)

func TestTaskService_CreateTaskValidates(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)

	tests := []struct {
		name  string
		input service.TaskInput
	}{
		{"missing title", service.TaskInput{TaskType: model.TaskAppointment, DueAt: &due}},
		{"unknown type", service.TaskInput{Title: "x", TaskType: "chore"}},
		{"appointment without due", service.TaskInput{Title: "x", TaskType: model.TaskAppointment}},
		{"habit without schedule", service.TaskInput{Title: "x", TaskType: model.TaskHabit}},
		{"habit bad day", service.TaskInput{Title: "x", TaskType: model.TaskHabit, Schedule: model.Schedule{"8": {{Time: "08:00"}}}}},
		{"habit bad time", service.TaskInput{Title: "x", TaskType: model.TaskHabit, Schedule: model.Schedule{"1": {{Time: "25:00"}}}}},
		{"blank assignee", service.TaskInput{Title: "x", TaskType: model.TaskAppointment, DueAt: &due, AssignedTo: []string{" "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.actions.CreateTask(f.ctx, "g1", "care1", tt.input)
			assert.ErrorIs(t, err, service.ErrInvalidInput)
		})
	}

	_, err := f.actions.CreateTask(f.ctx, "nope", "care1", service.TaskInput{Title: "x", TaskType: model.TaskAppointment, DueAt: &due})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, f.sender.sent())
}

func TestTaskService_CreateAndEdit(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)

	task, err := f.actions.CreateTask(f.ctx, "g1", "care1", service.TaskInput{
		Title:      " Doctor ",
		TaskType:   model.TaskAppointment,
		DueAt:      &due,
		AssignedTo: []string{"recv1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Doctor", task.Title)
	assert.Equal(t, model.StatusPending, task.Status)
	require.Len(t, f.sender.sent(), 1)
	assert.Equal(t, "🆕 New task", f.sender.sent()[0].Msg.Title)

	later := due.Add(time.Hour)
	edited, err := f.actions.UpdateTask(f.ctx, "g1", task.ID, service.TaskInput{
		Title:      "Doctor",
		DueAt:      &later,
		AssignedTo: []string{"recv1"},
	})
	require.NoError(t, err)
	assert.True(t, edited.DueAt.Equal(later))
	require.Len(t, f.sender.sent(), 2)
	assert.Equal(t, "✏️ Task edited", f.sender.sent()[1].Msg.Title)

	_, err = f.actions.UpdateTask(f.ctx, "g1", task.ID, service.TaskInput{Title: "Doctor", TaskType: model.TaskCountdown, DueAt: &later})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.actions.UpdateTask(f.ctx, "g1", "missing", service.TaskInput{Title: "Doctor"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTaskService_CompleteHabitOccurrence(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, func() model.Task { h := medicineHabit(); h.GroupID = "g1"; return h }())
	key := "2024-06-05_08:00_Take medicine"

	_, err := f.actions.CompleteTask(f.ctx, "g1", "habit-1", "recv1", "not-a-key")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	task, err := f.actions.CompleteTask(f.ctx, "g1", "habit-1", "recv1", key)
	require.NoError(t, err)
	assert.True(t, task.CompletionHistory.IsCompleted(key))
	assert.Equal(t, "recv1", task.CompletionHistory[key].By)

	stored, err := f.tasks.FindTask(f.ctx, "g1", "habit-1")
	require.NoError(t, err)
	assert.True(t, stored.CompletionHistory.IsCompleted(key))
	assert.Equal(t, model.StatusActive, stored.Status)

	require.Len(t, f.sender.sent(), 1)
	assert.ElementsMatch(t, []string{"tok-c1", "tok-c2"}, f.sender.sent()[0].Tokens)

	_, err = f.actions.CompleteTask(f.ctx, "g1", "habit-1", "recv1", key)
	require.NoError(t, err)
	assert.Len(t, f.sender.sent(), 1)
}

func TestTaskService_CompleteAppointment(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(time.Now())})

	task, err := f.actions.CompleteTask(f.ctx, "g1", "appt", "care2", "")
	require.NoError(t, err)
	assert.True(t, task.IsCompleted())
	assert.Equal(t, "care2", task.CompletedBy)

	require.Len(t, f.sender.sent(), 1)
	assert.Equal(t, []string{"tok-c1"}, f.sender.sent()[0].Tokens)
}

func TestTaskService_RequestJoin(t *testing.T) {
	f := newFixture(t)

	group, err := f.actions.RequestJoin(f.ctx, "g1", "stranger")
	require.NoError(t, err)
	assert.Equal(t, []string{"stranger"}, group.PendingRequests)
	require.Len(t, f.sender.sent(), 1)

	_, err = f.actions.RequestJoin(f.ctx, "g1", "stranger")
	require.NoError(t, err)
	_, err = f.actions.RequestJoin(f.ctx, "g1", "care1")
	require.NoError(t, err)
	assert.Len(t, f.sender.sent(), 1)

	stored, err := f.groups.FindGroup(f.ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stranger"}, stored.PendingRequests)

	_, err = f.actions.RequestJoin(f.ctx, "g1", "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = f.actions.RequestJoin(f.ctx, "nope", "x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
