// Package occurrence turns tasks into concrete, dated reminder units and
// decides which notification window each one currently falls into.
package occurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"care-reminders/internal/logging"
	"care-reminders/internal/model"
)

const dateLayout = "2006-01-02"

// Occurrence is the atomic reminder unit: an appointment itself, or one
// dated sub-item of a habit.
type Occurrence struct {
	TaskID   string
	GroupID  string
	Key      string
	Title    string
	SubTitle string
	Clock    string
	DueAt    time.Time
	Habit    bool
}

// Ref identifies the occurrence's ledger slot.
type Ref struct {
	TaskID string
	Key    string
}

func (o Occurrence) Ref() Ref {
	return Ref{TaskID: o.TaskID, Key: o.Key}
}

// DisplayTitle joins habit and sub-item titles.
func (o Occurrence) DisplayTitle() string {
	if o.Habit && o.SubTitle != "" {
		return o.Title + ": " + o.SubTitle
	}
	return o.Title
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ParseClock parses an HH:MM time of day.
func ParseClock(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

// DateKey formats a day as YYYY-MM-DD in loc.
func DateKey(day time.Time, loc *time.Location) string {
	return day.In(loc).Format(dateLayout)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Key builds the habit occurrence key "{date}_{time}_{title}".
func Key(date, clock, title string) string {
	return date + "_" + clock + "_" + title
}

// SplitKey reverses Key. The title keeps any underscores it contains.
func SplitKey(key string) (date, clock, title string, ok bool) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	if _, err := time.Parse(dateLayout, parts[0]); err != nil {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Expand lists the habit's sub-occurrences due on day, in schedule order.
// Entries whose time does not parse are skipped and logged at debug.
func Expand(task model.Task, day time.Time, loc *time.Location) []Occurrence {
	if task.TaskType != model.TaskHabit || len(task.Schedule) == 0 {
		return nil
	}
	local := day.In(loc)
	entries := task.Schedule[strconv.Itoa(ISOWeekday(local))]
	if len(entries) == 0 {
		return nil
	}

	y, m, d := local.Date()
	date := local.Format(dateLayout)
	out := make([]Occurrence, 0, len(entries))
	for _, entry := range entries {
		hour, minute, err := ParseClock(entry.Time)
		if err != nil {
			logging.Logger.WithFields(logrus.Fields{
				"task_id": task.ID,
				"date":    date,
				"time":    entry.Time,
			}).WithError(err).Debug("skipping malformed schedule entry")
			continue
		}
		out = append(out, Occurrence{
			TaskID:   task.ID,
			GroupID:  task.GroupID,
			Key:      Key(date, entry.Time, entry.Title),
			Title:    task.Title,
			SubTitle: entry.Title,
			Clock:    entry.Time,
			DueAt:    time.Date(y, m, d, hour, minute, 0, 0, loc),
			Habit:    true,
		})
	}
	return out
}

// ExpandRange expands every local day touched by [from, to].
func ExpandRange(task model.Task, from, to time.Time, loc *time.Location) []Occurrence {
	var out []Occurrence
	last := StartOfDay(to, loc)
	for day := StartOfDay(from, loc); !day.After(last); day = day.AddDate(0, 0, 1) {
		out = append(out, Expand(task, day, loc)...)
	}
	return out
}

// ForAppointment returns the appointment as its own occurrence.
func ForAppointment(task model.Task, loc *time.Location) (Occurrence, bool) {
	if task.TaskType != model.TaskAppointment || task.DueAt == nil {
		return Occurrence{}, false
	}
	due := task.DueAt.In(loc)
	return Occurrence{
		TaskID:  task.ID,
		GroupID: task.GroupID,
		Key:     task.ID,
		Title:   task.Title,
		Clock:   due.Format("15:04"),
		DueAt:   due,
	}, true
}
