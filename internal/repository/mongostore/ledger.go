package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
)

// Ledger keeps one document per (task, occurrence, kind) slot. The unique
// slot index turns a lost race on an upsert into a duplicate key error,
// which is read as "not claimed".
type Ledger struct {
	coll *mongo.Collection
}

func NewLedger(coll *mongo.Collection) *Ledger {
	return &Ledger{coll: coll}
}

func slot(ref occurrence.Ref, kind string) bson.M {
	return bson.M{"taskId": ref.TaskID, "occurrenceKey": ref.Key, "kind": kind}
}

func (l *Ledger) HasFired(ctx context.Context, ref occurrence.Ref, kind string) (bool, error) {
	filter := slot(ref, kind)
	filter["firedAt"] = bson.M{"$ne": nil}
	n, err := l.coll.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("read ledger: %w", err)
	}
	return n > 0, nil
}

// TryClaim reserves the slot when it is new, or unfired with a claim older
// than lease.
func (l *Ledger) TryClaim(ctx context.Context, ref occurrence.Ref, kind string, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	filter := slot(ref, kind)
	filter["firedAt"] = nil
	filter["$or"] = bson.A{
		bson.M{"claimedAt": nil},
		bson.M{"claimedAt": bson.M{"$lt": now.Add(-lease)}},
	}
	update := bson.M{
		"$set":         bson.M{"claimedAt": now},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	res, err := l.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim ledger slot: %w", err)
	}
	return res.MatchedCount+res.UpsertedCount == 1, nil
}

func (l *Ledger) MarkFired(ctx context.Context, ref occurrence.Ref, kind string, now time.Time) error {
	now = now.UTC()
	filter := slot(ref, kind)
	filter["firedAt"] = nil
	update := bson.M{
		"$set":         bson.M{"firedAt": now},
		"$setOnInsert": bson.M{"claimedAt": now, "createdAt": now},
	}
	_, err := l.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mark fired: %w", err)
	}
	return nil
}

// Release clears the claim of an unfired slot.
func (l *Ledger) Release(ctx context.Context, ref occurrence.Ref, kind string) error {
	filter := slot(ref, kind)
	filter["firedAt"] = nil
	if _, err := l.coll.UpdateOne(ctx, filter, bson.M{"$unset": bson.M{"claimedAt": ""}}); err != nil {
		return fmt.Errorf("release ledger slot: %w", err)
	}
	return nil
}

// Record returns the fired kinds of one occurrence.
func (l *Ledger) Record(ctx context.Context, ref occurrence.Ref) (model.OccurrenceRecord, error) {
	cursor, err := l.coll.Find(ctx, bson.M{
		"taskId":        ref.TaskID,
		"occurrenceKey": ref.Key,
		"firedAt":       bson.M{"$ne": nil},
	})
	if err != nil {
		return model.OccurrenceRecord{}, fmt.Errorf("read ledger record: %w", err)
	}
	var entries []model.LedgerEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return model.OccurrenceRecord{}, fmt.Errorf("decode ledger record: %w", err)
	}
	record := model.OccurrenceRecord{TaskID: ref.TaskID, Key: ref.Key, Fired: make(map[string]bool, len(entries))}
	for _, entry := range entries {
		record.Fired[entry.Kind] = true
	}
	return record, nil
}
