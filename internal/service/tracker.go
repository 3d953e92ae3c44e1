package service

import (
	"context"
	"fmt"
	"time"

	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
)

// Notice kinds share the ledger with the time windows.
const (
	KindDailySummary      = "daily_summary"
	KindCountdownToday    = "countdown_today"
	KindCountdownTomorrow = "countdown_tomorrow"
)

type Decision int

const (
	DecisionProceed Decision = iota
	DecisionCompleted
	DecisionAlreadyFired
	DecisionClaimHeld
)

func (d Decision) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionCompleted:
		return "completed"
	case DecisionAlreadyFired:
		return "already fired"
	case DecisionClaimHeld:
		return "claimed by another pass"
	default:
		return "unknown"
	}
}

// Tracker is the per-occurrence idempotency ledger. A notification is
// claimed before dispatch and confirmed after; an unconfirmed claim expires
// after lease so a crashed pass delays a notification but never loses it.
// A pass that fails before deciding releases its claim instead.
type Tracker struct {
	ledger Ledger
	lease  time.Duration
}

func NewTracker(ledger Ledger, lease time.Duration) *Tracker {
	return &Tracker{ledger: ledger, lease: lease}
}

// Claim is a reserved notification slot.
type Claim struct {
	ledger Ledger
	ref    occurrence.Ref
	kind   string
}

// Confirm marks the slot fired. Call it once the dispatch decision is made,
// whatever the delivery outcome.
func (c *Claim) Confirm(ctx context.Context, now time.Time) error {
	return c.ledger.MarkFired(ctx, c.ref, c.kind, now)
}

// Release gives an unconfirmed slot back so the next tick can claim it
// again without waiting for the lease.
func (c *Claim) Release(ctx context.Context) error {
	return c.ledger.Release(ctx, c.ref, c.kind)
}

// Completed reports whether occ can never notify again.
func Completed(task model.Task, occ occurrence.Occurrence) bool {
	if task.IsCompleted() {
		return true
	}
	return occ.Habit && task.CompletionHistory.IsCompleted(occ.Key)
}

// Begin decides whether window should fire for occ and, if so, claims it.
func (t *Tracker) Begin(ctx context.Context, task model.Task, occ occurrence.Occurrence, kind string, now time.Time) (*Claim, Decision, error) {
	if Completed(task, occ) {
		return nil, DecisionCompleted, nil
	}
	return t.BeginNotice(ctx, occ.Ref(), kind, now)
}

// BeginNotice claims a slot that has no completion state, such as a
// daily summary.
func (t *Tracker) BeginNotice(ctx context.Context, ref occurrence.Ref, kind string, now time.Time) (*Claim, Decision, error) {
	fired, err := t.ledger.HasFired(ctx, ref, kind)
	if err != nil {
		return nil, DecisionProceed, fmt.Errorf("check %s for %s: %w", kind, ref.Key, err)
	}
	if fired {
		return nil, DecisionAlreadyFired, nil
	}
	ok, err := t.ledger.TryClaim(ctx, ref, kind, now, t.lease)
	if err != nil {
		return nil, DecisionProceed, fmt.Errorf("claim %s for %s: %w", kind, ref.Key, err)
	}
	if !ok {
		return nil, DecisionClaimHeld, nil
	}
	return &Claim{ledger: t.ledger, ref: ref, kind: kind}, DecisionProceed, nil
}

// Record returns the typed ledger state of occ.
func (t *Tracker) Record(ctx context.Context, task model.Task, occ occurrence.Occurrence) (model.OccurrenceRecord, error) {
	record, err := t.ledger.Record(ctx, occ.Ref())
	if err != nil {
		return model.OccurrenceRecord{}, err
	}
	record.Completed = Completed(task, occ)
	return record, nil
}
