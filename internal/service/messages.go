package service

import (
	"fmt"
	"strings"

	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
	"care-reminders/internal/push"
)

const (
	screenHome         = "home"
	screenGroupDetail  = "group_detail"
	screenPendingJoins = "group_settings_pending"
	fallbackGroupName  = "your group"
	fallbackUserName   = "Someone"
	fallbackCaretaker  = "A caretaker"
	fallbackTaskTitle  = "A task"
	fallbackCountdown  = "Countdown event"
)

func payload(groupID, taskID, screen, subKey string) map[string]string {
	data := map[string]string{"screen": screen}
	if groupID != "" {
		data["groupId"] = groupID
	}
	if taskID != "" {
		data["taskId"] = taskID
	}
	if subKey != "" {
		data["subOccurrenceKey"] = subKey
	}
	return data
}

func occurrencePayload(occ occurrence.Occurrence, screen string) map[string]string {
	subKey := ""
	if occ.Habit {
		subKey = occ.Key
	}
	return payload(occ.GroupID, occ.TaskID, screen, subKey)
}

func titleOr(title, fallback string) string {
	if strings.TrimSpace(title) == "" {
		return fallback
	}
	return title
}

// upcomingMessage is sent to assignees for the one_hour and due windows.
func upcomingMessage(w occurrence.Window, occ occurrence.Occurrence, groupName string) push.Message {
	title := titleOr(occ.DisplayTitle(), fallbackTaskTitle)
	if w == occurrence.WindowOneHour {
		return push.Message{
			Title:    "⏳ In 1 hour",
			Body:     fmt.Sprintf("At %s - %q (group %s)", occ.Clock, title, groupName),
			Data:     occurrencePayload(occ, screenHome),
			Priority: push.PriorityNormal,
		}
	}
	return push.Message{
		Title:    "❗ It's time",
		Body:     fmt.Sprintf("%q (group %s) - %s", title, groupName, occ.Clock),
		Data:     occurrencePayload(occ, screenHome),
		Priority: push.PriorityHigh,
	}
}

func caretakerDueMessage(occ occurrence.Occurrence, assignees string) push.Message {
	return push.Message{
		Title:    "🔔 Task due",
		Body:     fmt.Sprintf("%q for %s is due now", titleOr(occ.DisplayTitle(), fallbackTaskTitle), assignees),
		Data:     occurrencePayload(occ, screenGroupDetail),
		Priority: push.PriorityHigh,
	}
}

func missedMessage(occ occurrence.Occurrence, assignees string) push.Message {
	return push.Message{
		Title:    "⚠️ Task might be missed",
		Body:     fmt.Sprintf("%s might have missed %q", assignees, titleOr(occ.DisplayTitle(), fallbackTaskTitle)),
		Data:     occurrencePayload(occ, screenGroupDetail),
		Priority: push.PriorityHigh,
	}
}

func newTaskMessage(task model.Task, creator, groupName string) push.Message {
	return push.Message{
		Title:    "🆕 New task",
		Body:     fmt.Sprintf("%s assigned %q to you (group %s)", creator, titleOr(task.Title, fallbackTaskTitle), groupName),
		Data:     payload(task.GroupID, task.ID, screenGroupDetail, ""),
		Priority: push.PriorityHigh,
	}
}

func editedMessage(task model.Task, groupName string) push.Message {
	return push.Message{
		Title:    "✏️ Task edited",
		Body:     fmt.Sprintf("%q (group %s) has changed, please check", titleOr(task.Title, fallbackTaskTitle), groupName),
		Data:     payload(task.GroupID, task.ID, screenGroupDetail, ""),
		Priority: push.PriorityNormal,
	}
}

func completedMessage(task model.Task, subKey, itemTitle, completer, groupName string) push.Message {
	return push.Message{
		Title:    "✅ Task completed",
		Body:     fmt.Sprintf("%s completed %s (group %s)", completer, titleOr(itemTitle, titleOr(task.Title, fallbackTaskTitle)), groupName),
		Data:     payload(task.GroupID, task.ID, screenGroupDetail, subKey),
		Priority: push.PriorityNormal,
	}
}

func joinRequestMessage(groupID, requester, groupName string) push.Message {
	return push.Message{
		Title:    "🔔 New join request",
		Body:     fmt.Sprintf("%s wants to join %s", requester, groupName),
		Data:     payload(groupID, "", screenPendingJoins, ""),
		Priority: push.PriorityNormal,
	}
}

// agendaMessage summarises a care-receiver's day. It is only built when
// at least one count is non-zero.
func agendaMessage(username string, habits, appointments int) push.Message {
	var parts []string
	if habits > 0 {
		parts = append(parts, plural(habits, "routine", "routines"))
	}
	if appointments > 0 {
		parts = append(parts, plural(appointments, "appointment", "appointments"))
	}
	return push.Message{
		Title:    "☀️ Today's agenda",
		Body:     fmt.Sprintf("Hello %s! Today you have %s to do", username, strings.Join(parts, " and ")),
		Data:     payload("", "", screenHome, ""),
		Priority: push.PriorityNormal,
	}
}

func countdownMessage(task model.Task, tomorrow bool) push.Message {
	title := titleOr(task.Title, fallbackCountdown)
	msg := push.Message{
		Data:     payload(task.GroupID, task.ID, screenGroupDetail, ""),
		Priority: push.PriorityNormal,
	}
	if tomorrow {
		msg.Title = "🗓️ Tomorrow: " + title
		msg.Body = fmt.Sprintf("Don't forget! %q is tomorrow", title)
	} else {
		msg.Title = "⏰ Today: " + title + "!"
		msg.Body = fmt.Sprintf("%q is today", title)
	}
	return msg
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
