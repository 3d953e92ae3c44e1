// Package mongostore keeps tasks, groups, users and the notification ledger
// in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"care-reminders/internal/logging"
	"care-reminders/internal/model"
)

const (
	tasksCollection  = "tasks"
	groupsCollection = "groups"
	usersCollection  = "users"
	ledgerCollection = "notification_ledger"
)

// Store bundles the collection-backed stores of one database.
type Store struct {
	client *mongo.Client
	Tasks  *TaskStore
	Groups *GroupStore
	Users  *UserStore
	Ledger *Ledger
}

// Connect dials uri, pings the server and makes sure the indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	store := &Store{
		client: client,
		Tasks:  NewTaskStore(db.Collection(tasksCollection)),
		Groups: NewGroupStore(db.Collection(groupsCollection)),
		Users:  NewUserStore(db.Collection(usersCollection)),
		Ledger: NewLedger(db.Collection(ledgerCollection)),
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logging.Logger.WithField("database", database).Info("connected to mongo")
	return store, nil
}

// EnsureIndexes creates the indexes the queries and the ledger rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.Ledger.coll, mongo.IndexModel{
			Keys:    bson.D{{Key: "taskId", Value: 1}, {Key: "occurrenceKey", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("ledger_slot"),
		}},
		{s.Tasks.coll, mongo.IndexModel{Keys: bson.D{{Key: "taskType", Value: 1}, {Key: "dueAt", Value: 1}}}},
		{s.Tasks.coll, mongo.IndexModel{Keys: bson.D{{Key: "assignedTo", Value: 1}}}},
		{s.Users.coll, mongo.IndexModel{Keys: bson.D{{Key: "role", Value: 1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// findOne decodes the single document matching filter into out.
func findOne(ctx context.Context, coll *mongo.Collection, filter bson.M, out any) error {
	err := coll.FindOne(ctx, filter).Decode(out)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return model.ErrNotFound
	default:
		return fmt.Errorf("find in %s: %w", coll.Name(), err)
	}
}

// replace writes doc under id, inserting it when absent.
func replace(ctx context.Context, coll *mongo.Collection, id string, doc any) error {
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save to %s: %w", coll.Name(), err)
	}
	return nil
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}
