package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned by every store when a referenced document is absent.
var ErrNotFound = errors.New("document not found")

type TaskType string

const (
	TaskAppointment TaskType = "appointment"
	TaskCountdown   TaskType = "countdown"
	TaskHabit       TaskType = "habit_schedule"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusActive    TaskStatus = "active"
	StatusCompleted TaskStatus = "completed"
)

// CompletionCompleted is the only state a completion entry can carry.
const CompletionCompleted = "completed"

// ScheduleEntry is one sub-item of a habit on a given weekday.
type ScheduleEntry struct {
	Time  string `json:"time" bson:"time"`
	Title string `json:"title" bson:"title"`
}

// Schedule maps an ISO weekday ("1" = Monday … "7" = Sunday) to its sub-items.
type Schedule map[string][]ScheduleEntry

// Completion records who completed a habit occurrence.
type Completion struct {
	State string     `json:"state" bson:"state"`
	By    string     `json:"by,omitempty" bson:"by,omitempty"`
	At    *time.Time `json:"at,omitempty" bson:"at,omitempty"`
}

// CompletionHistory is keyed by habit occurrence key.
type CompletionHistory map[string]Completion

func (h CompletionHistory) IsCompleted(key string) bool {
	return h[key].State == CompletionCompleted
}

// completedBySuffix marks the completer entry of the flat document shape,
// {"<key>": "completed", "<key>_by": "<uid>"}.
const completedBySuffix = "_by"

// UnmarshalJSON accepts both the typed shape ({"<key>": {"state": ...}})
// and the flat document shape, entry by entry.
func (h *CompletionHistory) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*h = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode completion history: %w", err)
	}

	out := make(CompletionHistory, len(raw))
	flat := make(map[string]string)
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '{' {
			var entry Completion
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("decode completion %q: %w", key, err)
			}
			out[key] = entry
			continue
		}
		var state string
		if err := json.Unmarshal(value, &state); err != nil {
			return fmt.Errorf("decode completion %q: %w", key, err)
		}
		flat[key] = state
	}

	for key, state := range flat {
		if base, ok := strings.CutSuffix(key, completedBySuffix); ok {
			if _, paired := flat[base]; paired {
				continue
			}
		}
		entry := out[key]
		entry.State = state
		entry.By = flat[key+completedBySuffix]
		out[key] = entry
	}
	*h = out
	return nil
}

// Task is a unit of work inside a group.
type Task struct {
	ID                string            `gorm:"primaryKey" json:"id" bson:"_id"`
	GroupID           string            `gorm:"index" json:"groupId" bson:"groupId"`
	Title             string            `json:"title" bson:"title"`
	Description       string            `json:"description,omitempty" bson:"description,omitempty"`
	TaskType          TaskType          `gorm:"index" json:"taskType" bson:"taskType"`
	Status            TaskStatus        `gorm:"index" json:"status" bson:"status"`
	AssignedTo        []string          `gorm:"serializer:json" json:"assignedTo" bson:"assignedTo"`
	CreatedBy         string            `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	CompletedBy       string            `json:"completedBy,omitempty" bson:"completedBy,omitempty"`
	DueAt             *time.Time        `gorm:"index" json:"dueAt,omitempty" bson:"dueAt,omitempty"`
	Schedule          Schedule          `gorm:"serializer:json" json:"schedule,omitempty" bson:"schedule,omitempty"`
	CompletionHistory CompletionHistory `gorm:"serializer:json" json:"completionHistory,omitempty" bson:"completionHistory,omitempty"`
	CreatedAt         time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt" bson:"updatedAt"`
}

func (t *Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// Clone returns a deep copy, used to keep a before snapshot around a mutation.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AssignedTo = slices.Clone(t.AssignedTo)
	if t.DueAt != nil {
		due := *t.DueAt
		c.DueAt = &due
	}
	if t.Schedule != nil {
		c.Schedule = make(Schedule, len(t.Schedule))
		for day, entries := range t.Schedule {
			c.Schedule[day] = slices.Clone(entries)
		}
	}
	if t.CompletionHistory != nil {
		c.CompletionHistory = make(CompletionHistory, len(t.CompletionHistory))
		for key, entry := range t.CompletionHistory {
			c.CompletionHistory[key] = entry
		}
	}
	return &c
}
