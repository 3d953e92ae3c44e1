package service_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
	"care-reminders/internal/push"
	"care-reminders/internal/service"
)

func medicineHabit() model.Task {
	return model.Task{
		ID:         "habit-1",
		Title:      "Morning",
		TaskType:   model.TaskHabit,
		Status:     model.StatusActive,
		AssignedTo: []string{"recv1"},
		Schedule: model.Schedule{
			"3": {{Time: "08:00", Title: "Take medicine"}},
		},
	}
}

func TestRunUpcoming_HabitOneHourFiresOnce(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, medicineHabit())

	// Wednesday 2024-06-05, 55 minutes before the 08:00 item.
	now := time.Date(2024, 6, 5, 7, 5, 0, 0, bangkok)
	report, err := f.reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, service.PassUpcoming, report.Pass)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.Dispatched)

	messages := f.sender.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"tok-r1"}, messages[0].Tokens)
	assert.Equal(t, push.PriorityNormal, messages[0].Msg.Priority)
	assert.Equal(t, "2024-06-05_08:00_Take medicine", messages[0].Msg.Data["subOccurrenceKey"])
	assert.Equal(t, "habit-1", messages[0].Msg.Data["taskId"])
	assert.Equal(t, "g1", messages[0].Msg.Data["groupId"])
	assert.Contains(t, messages[0].Msg.Body, "Morning: Take medicine")

	ref := occurrence.Ref{TaskID: "habit-1", Key: "2024-06-05_08:00_Take medicine"}
	fired, err := f.ledger.HasFired(f.ctx, ref, string(occurrence.WindowOneHour))
	require.NoError(t, err)
	assert.True(t, fired)

	report, err = f.reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	assert.Equal(t, 1, report.Skipped)

	report, err = f.reminders.RunUpcoming(f.ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	assert.Len(t, f.sender.sent(), 1)
}

func TestRunUpcoming_ExactlyOneHourOut(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(time.Hour))})

	report, err := f.reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)

	record, err := f.ledger.Record(f.ctx, occurrence.Ref{TaskID: "appt", Key: "appt"})
	require.NoError(t, err)
	assert.True(t, record.HasFired("one_hour"))
	assert.False(t, record.HasFired("due"))
}

func TestRunUpcoming_DueNotifiesAssigneesThenOtherCaretakers(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1", "care1"}, DueAt: at(now)})

	report, err := f.reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)

	messages := f.sender.sent()
	require.Len(t, messages, 2)
	assert.ElementsMatch(t, []string{"tok-r1", "tok-c1"}, messages[0].Tokens)
	assert.Equal(t, push.PriorityHigh, messages[0].Msg.Priority)
	assert.Equal(t, "home", messages[0].Msg.Data["screen"])

	assert.Equal(t, []string{"tok-c2"}, messages[1].Tokens)
	assert.Contains(t, messages[1].Msg.Body, "Receiver")
	assert.Contains(t, messages[1].Msg.Body, "Carer One")
	assert.NotContains(t, messages[1].Msg.Data, "subOccurrenceKey")
}

func TestRunMissed_AppointmentScenario(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt", Title: "Blood test", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(-25 * time.Minute))})

	upcoming, err := f.reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Zero(t, upcoming.Evaluated)

	report, err := f.reminders.RunMissed(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)

	messages := f.sender.sent()
	require.Len(t, messages, 1)
	assert.ElementsMatch(t, []string{"tok-c1", "tok-c2"}, messages[0].Tokens)
	assert.Equal(t, `Receiver might have missed "Blood test"`, messages[0].Msg.Body)

	report, err = f.reminders.RunMissed(f.ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	assert.Len(t, f.sender.sent(), 1)
}

func TestRunMissed_WaitsForGracePeriod(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt", Title: "Walk", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(-10 * time.Minute))})

	report, err := f.reminders.RunMissed(f.ctx, now)
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated)
	assert.Empty(t, f.sender.sent())
}

func TestRunMissed_HabitAcrossMidnight(t *testing.T) {
	f := newFixture(t)
	habit := medicineHabit()
	habit.Schedule = model.Schedule{"3": {{Time: "23:50", Title: "Night pills"}}}
	f.addTask(t, habit)

	// Thursday 00:10, twenty minutes after Wednesday's 23:50 item.
	now := time.Date(2024, 6, 6, 0, 10, 0, 0, bangkok)
	report, err := f.reminders.RunMissed(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)

	messages := f.sender.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, "2024-06-05_23:50_Night pills", messages[0].Msg.Data["subOccurrenceKey"])
}

func TestCompletionShortCircuits(t *testing.T) {
	f := newFixture(t)
	habit := medicineHabit()
	habit.CompletionHistory = model.CompletionHistory{
		"2024-06-05_08:00_Take medicine": {State: model.CompletionCompleted, By: "recv1"},
	}
	f.addTask(t, habit)

	for _, now := range []time.Time{
		time.Date(2024, 6, 5, 7, 5, 0, 0, bangkok),
		time.Date(2024, 6, 5, 8, 0, 0, 0, bangkok),
	} {
		report, err := f.reminders.RunUpcoming(f.ctx, now)
		require.NoError(t, err)
		assert.Zero(t, report.Dispatched)
		assert.Equal(t, 1, report.Skipped)
	}
	report, err := f.reminders.RunMissed(f.ctx, time.Date(2024, 6, 5, 8, 20, 0, 0, bangkok))
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	assert.Empty(t, f.sender.sent())
}

func TestRunUpcoming_ExpiredClaimIsRetaken(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(57 * time.Minute))})
	ref := occurrence.Ref{TaskID: "appt", Key: "appt"}

	// A pass that crashed after claiming two minutes ago still holds it.
	claimed, err := f.ledger.TryClaim(f.ctx, ref, "one_hour", now.Add(-2*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	report, err := f.reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.sender.sent())

	// Once the lease runs out the next tick re-claims and sends.
	later := now.Add(9 * time.Minute)
	f.addTask(t, model.Task{ID: "appt2", Title: "Dentist", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(later.Add(56 * time.Minute))})
	claimed, err = f.ledger.TryClaim(f.ctx, occurrence.Ref{TaskID: "appt2", Key: "appt2"}, "one_hour", later.Add(-11*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	report, err = f.reminders.RunUpcoming(f.ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)
	require.Len(t, f.sender.sent(), 1)
	assert.Contains(t, f.sender.sent()[0].Msg.Body, "Dentist")
}

func TestRunUpcoming_SkipsUnassignedTasks(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, DueAt: at(now.Add(2 * time.Minute))})

	report, err := f.reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.sender.sent())
}

func TestRunDaily_AgendaAndCountdowns(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 8, 0, 0, 0, bangkok)

	habit := medicineHabit()
	habit.Schedule["3"] = append(habit.Schedule["3"], model.ScheduleEntry{Time: "20:00", Title: "Stretch"}, model.ScheduleEntry{Time: "bad", Title: "Skipped"})
	f.addTask(t, habit)
	f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(3 * time.Hour))})
	f.addTask(t, model.Task{ID: "appt-tomorrow", Title: "Dentist", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(24 * time.Hour))})
	f.addTask(t, model.Task{ID: "party", Title: "Birthday", TaskType: model.TaskCountdown, DueAt: at(time.Date(2024, 6, 6, 0, 0, 0, 0, bangkok))})

	report, err := f.reminders.RunDaily(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Dispatched)

	messages := f.sender.sent()
	require.Len(t, messages, 2)

	assert.Equal(t, "🗓️ Tomorrow: Birthday", messages[0].Msg.Title)
	assert.ElementsMatch(t, []string{"tok-c1", "tok-c2", "tok-r1"}, messages[0].Tokens)

	assert.Equal(t, []string{"tok-r1"}, messages[1].Tokens)
	assert.Equal(t, "Hello Receiver! Today you have 2 routines and 1 appointment to do", messages[1].Msg.Body)

	report, err = f.reminders.RunDaily(f.ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	assert.Len(t, f.sender.sent(), 2)

	// Next morning the countdown is due today.
	report, err = f.reminders.RunDaily(f.ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	titles := []string{}
	for _, m := range f.sender.sent()[2:] {
		titles = append(titles, m.Msg.Title)
	}
	assert.Contains(t, titles, "⏰ Today: Birthday!")
}

func TestRun_UnknownPass(t *testing.T) {
	f := newFixture(t)
	_, err := f.reminders.Run(f.ctx, "weekly", time.Now())
	assert.Error(t, err)
}

func TestRunUpcoming_LookupFailureRetriesNextTick(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(4 * time.Minute))})
	users := &flakyUsers{UserStore: f.users, failFor: "recv1", remaining: 1}
	reminders := f.remindersWith(users, f.sender)

	report, err := reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Dispatched)
	assert.Empty(t, f.sender.sent())

	fired, err := f.ledger.HasFired(f.ctx, occurrence.Ref{TaskID: "appt", Key: "appt"}, "due")
	require.NoError(t, err)
	assert.False(t, fired)

	// Well inside the claim lease, still inside the due band.
	report, err = reminders.RunUpcoming(f.ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)
	assert.Zero(t, report.Failed)

	messages := f.sender.sent()
	require.Len(t, messages, 2)
	assert.Equal(t, []string{"tok-r1"}, messages[0].Tokens)
	assert.ElementsMatch(t, []string{"tok-c1", "tok-c2"}, messages[1].Tokens)

	report, err = reminders.RunUpcoming(f.ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	assert.Len(t, f.sender.sent(), 2)
}

func TestRunDaily_LookupFailureRetriesNextTick(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 8, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "bday", Title: "Grandma's birthday", TaskType: model.TaskCountdown, DueAt: at(now.Add(3 * time.Hour))})
	users := &flakyUsers{UserStore: f.users, failFor: "recv1", remaining: 1}
	reminders := f.remindersWith(users, f.sender)

	report, err := reminders.RunDaily(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	report, err = reminders.RunDaily(f.ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)
	require.Len(t, f.sender.sent(), 1)
	assert.Contains(t, f.sender.sent()[0].Msg.Title, "Grandma's birthday")
}

func TestRunUpcoming_LookupFailureDoesNotStopSiblings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.users.SaveUser(f.ctx, &model.User{ID: "recv2", Username: "Other", Role: model.RoleCareReceiver, FCMTokens: []string{"tok-r2"}, JoinedGroups: []string{"g1"}}))
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "appt-a", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(time.Minute))})
	f.addTask(t, model.Task{ID: "appt-b", Title: "Dentist", TaskType: model.TaskAppointment, AssignedTo: []string{"recv2"}, DueAt: at(now.Add(2 * time.Minute))})
	users := &flakyUsers{UserStore: f.users, failFor: "recv1", remaining: 1}
	reminders := f.remindersWith(users, f.sender)

	report, err := reminders.RunUpcoming(f.ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Dispatched)

	messages := f.sender.sent()
	require.Len(t, messages, 2)
	assert.Equal(t, []string{"tok-r2"}, messages[0].Tokens)
	assert.Contains(t, messages[0].Msg.Body, "Dentist")

	report, err = reminders.RunUpcoming(f.ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, f.sender.sent()[2].Msg.Body, "Doctor")
}

func TestRunUpcoming_DispatchFailuresStillConfirm(t *testing.T) {
	tests := []struct {
		name   string
		result push.Result
		err    error
	}{
		{name: "gateway error", err: errors.New("gateway down")},
		{name: "partial token failure", result: push.Result{SuccessCount: 1, FailureCount: 1, Failures: []push.TokenFailure{{Token: "tok-c2", Reason: "unregistered"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sender := new(dispatcherMock)
			sender.On("SendMulticast", mock.Anything, mock.Anything, mock.Anything).Return(tt.result, tt.err)
			reminders := f.remindersWith(f.users, sender)
			now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
			f.addTask(t, model.Task{ID: "appt", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now)})

			report, err := reminders.RunUpcoming(f.ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Dispatched)
			assert.Zero(t, report.Failed)

			fired, err := f.ledger.HasFired(f.ctx, occurrence.Ref{TaskID: "appt", Key: "appt"}, "due")
			require.NoError(t, err)
			assert.True(t, fired)

			report, err = reminders.RunUpcoming(f.ctx, now)
			require.NoError(t, err)
			assert.Zero(t, report.Dispatched)
			assert.Equal(t, 1, report.Skipped)
			sender.AssertNumberOfCalls(t, "SendMulticast", 2)
		})
	}
}

func TestOverlappingPassesDispatchOnce(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, bangkok)
	f.addTask(t, model.Task{ID: "due", Title: "Doctor", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(time.Minute))})
	f.addTask(t, model.Task{ID: "late", Title: "Walk", TaskType: model.TaskAppointment, AssignedTo: []string{"recv1"}, DueAt: at(now.Add(-20 * time.Minute))})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []service.PassReport
	)
	for range 4 {
		for _, pass := range []string{service.PassUpcoming, service.PassMissed} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				report, err := f.reminders.Run(f.ctx, pass, now)
				assert.NoError(t, err)
				mu.Lock()
				reports = append(reports, report)
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	dispatched := 0
	for _, report := range reports {
		dispatched += report.Dispatched
	}
	assert.Equal(t, 2, dispatched)
	// due goes to the assignee and the caretakers, missed to the caretakers.
	assert.Len(t, f.sender.sent(), 3)
}
