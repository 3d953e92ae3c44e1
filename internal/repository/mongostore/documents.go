package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"care-reminders/internal/model"
)

// TaskStore is the tasks collection.
type TaskStore struct {
	coll *mongo.Collection
}

func NewTaskStore(coll *mongo.Collection) *TaskStore {
	return &TaskStore{coll: coll}
}

func (s *TaskStore) CreateTask(ctx context.Context, task *model.Task) error {
	stamp(&task.CreatedAt, &task.UpdatedAt)
	if _, err := s.coll.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *TaskStore) SaveTask(ctx context.Context, task *model.Task) error {
	stamp(&task.CreatedAt, &task.UpdatedAt)
	return replace(ctx, s.coll, task.ID, task)
}

func (s *TaskStore) FindTask(ctx context.Context, groupID, taskID string) (*model.Task, error) {
	var task model.Task
	if err := findOne(ctx, s.coll, bson.M{"_id": taskID, "groupId": groupID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListAppointmentsDueBetween returns non-completed appointments with
// from <= dueAt <= to.
func (s *TaskStore) ListAppointmentsDueBetween(ctx context.Context, from, to time.Time) ([]model.Task, error) {
	return s.listDueBetween(ctx, model.TaskAppointment, from, to)
}

func (s *TaskStore) ListCountdownsBetween(ctx context.Context, from, to time.Time) ([]model.Task, error) {
	return s.listDueBetween(ctx, model.TaskCountdown, from, to)
}

func (s *TaskStore) listDueBetween(ctx context.Context, taskType model.TaskType, from, to time.Time) ([]model.Task, error) {
	filter := bson.M{
		"taskType": taskType,
		"status":   bson.M{"$ne": model.StatusCompleted},
		"dueAt":    bson.M{"$gte": from, "$lte": to},
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "dueAt", Value: 1}}))
}

func (s *TaskStore) ListActiveHabits(ctx context.Context) ([]model.Task, error) {
	filter := bson.M{"taskType": model.TaskHabit, "status": bson.M{"$ne": model.StatusCompleted}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

// ListAssigned returns tasks of taskType in groupIDs that list userID as
// assignee. groupIDs is expected to be within the caller's "in" limit.
func (s *TaskStore) ListAssigned(ctx context.Context, userID string, groupIDs []string, taskType model.TaskType) ([]model.Task, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"taskType":   taskType,
		"groupId":    bson.M{"$in": groupIDs},
		"assignedTo": userID,
	}
	return s.find(ctx, filter)
}

func (s *TaskStore) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]model.Task, error) {
	cursor, err := s.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []model.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

// GroupStore is the groups collection.
type GroupStore struct {
	coll *mongo.Collection
}

func NewGroupStore(coll *mongo.Collection) *GroupStore {
	return &GroupStore{coll: coll}
}

func (s *GroupStore) SaveGroup(ctx context.Context, group *model.Group) error {
	stamp(&group.CreatedAt, &group.UpdatedAt)
	return replace(ctx, s.coll, group.ID, group)
}

func (s *GroupStore) FindGroup(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	if err := findOne(ctx, s.coll, bson.M{"_id": id}, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// UserStore is the users collection.
type UserStore struct {
	coll *mongo.Collection
}

func NewUserStore(coll *mongo.Collection) *UserStore {
	return &UserStore{coll: coll}
}

func (s *UserStore) SaveUser(ctx context.Context, user *model.User) error {
	stamp(&user.CreatedAt, &user.UpdatedAt)
	return replace(ctx, s.coll, user.ID, user)
}

func (s *UserStore) FindUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := findOne(ctx, s.coll, bson.M{"_id": id}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUsers loads the users whose id is in ids, optionally restricted to
// role.
func (s *UserStore) FindUsers(ctx context.Context, ids []string, role model.Role) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := bson.M{"_id": bson.M{"$in": ids}}
	if role != "" {
		filter["role"] = role
	}
	return s.find(ctx, filter)
}

func (s *UserStore) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	return s.find(ctx, bson.M{"role": role}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *UserStore) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]model.User, error) {
	cursor, err := s.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var users []model.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}
