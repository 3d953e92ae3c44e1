package service_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"care-reminders/internal/model"
	"care-reminders/internal/push"
	"care-reminders/internal/repository"
	"care-reminders/internal/service"
	"care-reminders/internal/testutil"
)

var bangkok = time.FixedZone("ICT", 7*3600)

type dispatcherMock struct {
	mock.Mock
}

func (m *dispatcherMock) SendMulticast(ctx context.Context, tokens []string, msg push.Message) (push.Result, error) {
	args := m.Called(ctx, tokens, msg)
	return args.Get(0).(push.Result), args.Error(1)
}

type sent struct {
	Tokens []string
	Msg    push.Message
}

func (m *dispatcherMock) sent() []sent {
	var out []sent
	for _, call := range m.Calls {
		out = append(out, sent{Tokens: call.Arguments.Get(1).([]string), Msg: call.Arguments.Get(2).(push.Message)})
	}
	return out
}

type fixture struct {
	ctx       context.Context
	tasks     *repository.TaskRepository
	users     *repository.UserRepository
	groups    *repository.GroupRepository
	ledger    *repository.LedgerRepository
	sender    *dispatcherMock
	audience  *service.AudienceResolver
	reminders *service.ReminderService
	triggers  *service.TriggerService
	actions   *service.TaskService
}

// newFixture seeds group g1 with two caretakers and one care-receiver.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDatabase(t)

	f := &fixture{
		ctx:    context.Background(),
		tasks:  repository.NewTaskRepository(db),
		users:  repository.NewUserRepository(db),
		groups: repository.NewGroupRepository(db),
		ledger: repository.NewLedgerRepository(db),
		sender: new(dispatcherMock),
	}
	f.sender.On("SendMulticast", mock.Anything, mock.Anything, mock.Anything).Return(push.Result{}, nil).Maybe()

	f.audience = service.NewAudienceResolver(f.groups, f.users, 10)
	tracker := service.NewTracker(f.ledger, 10*time.Minute)
	f.reminders = service.NewReminderService(f.tasks, f.users, f.audience, tracker, f.sender, bangkok)
	f.triggers = service.NewTriggerService(f.audience, f.sender)
	f.actions = service.NewTaskService(f.tasks, f.groups, f.triggers)

	for _, u := range []model.User{
		{ID: "care1", Username: "Carer One", Role: model.RoleCaretaker, FCMTokens: []string{"tok-c1"}, JoinedGroups: []string{"g1"}},
		{ID: "care2", Username: "Carer Two", Role: model.RoleCaretaker, FCMTokens: []string{"tok-c2", " "}, JoinedGroups: []string{"g1"}},
		{ID: "recv1", Username: "Receiver", Role: model.RoleCareReceiver, FCMTokens: []string{"tok-r1"}, JoinedGroups: []string{"g1"}},
	} {
		require.NoError(t, f.users.SaveUser(f.ctx, &u))
	}
	require.NoError(t, f.groups.SaveGroup(f.ctx, &model.Group{
		ID:        "g1",
		GroupName: "Family",
		Members:   []string{"care1", "care2", "recv1"},
	}))
	return f
}

func (f *fixture) addTask(t *testing.T, task model.Task) model.Task {
	t.Helper()
	if task.GroupID == "" {
		task.GroupID = "g1"
	}
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	require.NoError(t, f.tasks.CreateTask(f.ctx, &task))
	return task
}

func at(t time.Time) *time.Time { return &t }

// remindersWith builds a reminder service over the fixture's tasks and
// ledger with its own user store and dispatcher.
func (f *fixture) remindersWith(users service.UserStore, sender push.Dispatcher) *service.ReminderService {
	audience := service.NewAudienceResolver(f.groups, users, 10)
	tracker := service.NewTracker(f.ledger, 10*time.Minute)
	return service.NewReminderService(f.tasks, users, audience, tracker, sender, bangkok)
}

var errUsersUnavailable = errors.New("users unavailable")

// flakyUsers fails the next `remaining` role-less lookups whose ids
// include failFor.
type flakyUsers struct {
	service.UserStore

	mu        sync.Mutex
	failFor   string
	remaining int
}

func (u *flakyUsers) FindUsers(ctx context.Context, ids []string, role model.Role) ([]model.User, error) {
	u.mu.Lock()
	fail := role == "" && u.remaining > 0 && slices.Contains(ids, u.failFor)
	if fail {
		u.remaining--
	}
	u.mu.Unlock()
	if fail {
		return nil, errUsersUnavailable
	}
	return u.UserStore.FindUsers(ctx, ids, role)
}
