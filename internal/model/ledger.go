package model

import "time"

// LedgerEntry is one (subject, occurrence, kind) notification slot.
// A slot is claimed before dispatch and marked fired after it.
type LedgerEntry struct {
	ID            uint       `gorm:"primaryKey" json:"-" bson:"-"`
	TaskID        string     `gorm:"uniqueIndex:idx_ledger_slot" json:"taskId" bson:"taskId"`
	OccurrenceKey string     `gorm:"uniqueIndex:idx_ledger_slot" json:"occurrenceKey" bson:"occurrenceKey"`
	Kind          string     `gorm:"uniqueIndex:idx_ledger_slot" json:"kind" bson:"kind"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty" bson:"claimedAt"`
	FiredAt       *time.Time `gorm:"index" json:"firedAt,omitempty" bson:"firedAt"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
}

func (LedgerEntry) TableName() string {
	return "notification_ledger"
}

// OccurrenceRecord is the typed view of one occurrence's ledger state.
type OccurrenceRecord struct {
	TaskID    string
	Key       string
	Completed bool
	Fired     map[string]bool
}

func (r OccurrenceRecord) HasFired(kind string) bool {
	return r.Fired[kind]
}
