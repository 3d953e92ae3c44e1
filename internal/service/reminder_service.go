package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"care-reminders/internal/logging"
	"care-reminders/internal/model"
	"care-reminders/internal/occurrence"
	"care-reminders/internal/push"
)

const (
	PassUpcoming = "upcoming"
	PassMissed   = "missed"
	PassDaily    = "daily"
)

// PassReport counts what one scheduler pass did.
type PassReport struct {
	RunID      string `json:"runId"`
	Pass       string `json:"pass"`
	Evaluated  int    `json:"evaluated"`
	Dispatched int    `json:"dispatched"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// ReminderService runs the polled reminder passes. Passes keep no state
// between runs; the ledger alone decides what has already been sent.
type ReminderService struct {
	tasks    TaskStore
	users    UserStore
	audience *AudienceResolver
	tracker  *Tracker
	sender   push.Dispatcher
	loc      *time.Location
}

func NewReminderService(tasks TaskStore, users UserStore, audience *AudienceResolver, tracker *Tracker, sender push.Dispatcher, loc *time.Location) *ReminderService {
	return &ReminderService{
		tasks:    tasks,
		users:    users,
		audience: audience,
		tracker:  tracker,
		sender:   sender,
		loc:      loc,
	}
}

// Run dispatches to the pass named by pass.
func (s *ReminderService) Run(ctx context.Context, pass string, now time.Time) (PassReport, error) {
	switch pass {
	case PassUpcoming:
		return s.RunUpcoming(ctx, now)
	case PassMissed:
		return s.RunMissed(ctx, now)
	case PassDaily:
		return s.RunDaily(ctx, now)
	default:
		return PassReport{}, fmt.Errorf("unknown pass %q", pass)
	}
}

type passRun struct {
	report PassReport
	log    *logrus.Entry
}

func newPassRun(pass string) *passRun {
	id := uuid.NewString()
	return &passRun{
		report: PassReport{RunID: id, Pass: pass},
		log:    logging.Logger.WithFields(logrus.Fields{"run_id": id, "pass": pass}),
	}
}

func (r *passRun) finish() PassReport {
	r.log.WithFields(logrus.Fields{
		"evaluated":  r.report.Evaluated,
		"dispatched": r.report.Dispatched,
		"skipped":    r.report.Skipped,
		"failed":     r.report.Failed,
	}).Info("pass finished")
	return r.report
}

// RunUpcoming announces occurrences entering the one_hour and due windows.
func (s *ReminderService) RunUpcoming(ctx context.Context, now time.Time) (PassReport, error) {
	return s.runWindows(ctx, PassUpcoming, now, occurrence.WindowOneHour, occurrence.WindowDue)
}

// RunMissed tells caretakers about occurrences still open after the grace
// period.
func (s *ReminderService) RunMissed(ctx context.Context, now time.Time) (PassReport, error) {
	return s.runWindows(ctx, PassMissed, now, occurrence.WindowMissed)
}

func (s *ReminderService) runWindows(ctx context.Context, pass string, now time.Time, windows ...occurrence.Window) (PassReport, error) {
	run := newPassRun(pass)
	from, to := occurrence.Span(now, windows...)
	run.log.Debugf("checking due instants between %s and %s", from.In(s.loc).Format(time.RFC3339), to.In(s.loc).Format(time.RFC3339))

	appointments, err := s.tasks.ListAppointmentsDueBetween(ctx, from, to)
	if err != nil {
		run.log.WithError(err).Error("pass aborted")
		return run.report, err
	}
	for _, task := range appointments {
		occ, ok := occurrence.ForAppointment(task, s.loc)
		if !ok {
			continue
		}
		s.evaluate(ctx, run, task, occ, now, windows)
	}

	habits, err := s.tasks.ListActiveHabits(ctx)
	if err != nil {
		run.log.WithError(err).Error("pass aborted")
		return run.report, err
	}
	for _, task := range habits {
		// The range may cross local midnight, so yesterday's items are
		// still checked for missed.
		for _, occ := range occurrence.ExpandRange(task, from, to, s.loc) {
			s.evaluate(ctx, run, task, occ, now, windows)
		}
	}

	return run.finish(), nil
}

// evaluate handles one occurrence in isolation. Nothing it does can stop
// the pass.
func (s *ReminderService) evaluate(ctx context.Context, run *passRun, task model.Task, occ occurrence.Occurrence, now time.Time, windows []occurrence.Window) {
	window, ok := occurrence.MostUrgent(now, occ.DueAt, windows...)
	if !ok {
		return
	}
	run.report.Evaluated++
	log := run.log.WithFields(logrus.Fields{"task_id": task.ID, "occurrence": occ.Key, "window": window})

	if len(task.AssignedTo) == 0 || task.GroupID == "" {
		run.report.Skipped++
		log.Debug("no assignees or group")
		return
	}

	claim, decision, err := s.tracker.Begin(ctx, task, occ, string(window), now)
	if err != nil {
		run.report.Failed++
		log.WithError(err).Error("ledger check failed")
		return
	}
	if decision != DecisionProceed {
		run.report.Skipped++
		log.Debugf("skipped: %s", decision)
		return
	}

	sent, err := s.notifyWindow(ctx, log, task, occ, window)
	if err != nil {
		run.report.Failed++
		log.WithError(err).Error("resolving audience failed")
		release(ctx, log, claim)
		return
	}
	if err := claim.Confirm(ctx, now); err != nil {
		run.report.Failed++
		log.WithError(err).Error("marking fired failed")
		return
	}
	if sent {
		run.report.Dispatched++
	} else {
		run.report.Skipped++
	}
}

// notifyWindow sends the messages of one window. It reports whether any
// message went out; an error means a store lookup failed and nothing was
// decided, so the caller releases the slot.
func (s *ReminderService) notifyWindow(ctx context.Context, log *logrus.Entry, task model.Task, occ occurrence.Occurrence, window occurrence.Window) (bool, error) {
	switch window {
	case occurrence.WindowOneHour:
		groupName := s.audience.GroupName(ctx, occ.GroupID, fallbackGroupName)
		return s.deliver(ctx, log, s.audience.Assignees(ctx, task.AssignedTo), upcomingMessage(window, occ, groupName))

	case occurrence.WindowDue:
		groupName := s.audience.GroupName(ctx, occ.GroupID, fallbackGroupName)
		sentAssignees, err := s.deliver(ctx, log, s.audience.Assignees(ctx, task.AssignedTo), upcomingMessage(window, occ, groupName))
		if err != nil {
			return false, err
		}
		names := s.audience.Names(ctx, task.AssignedTo, fallbackUserName)
		sentCaretakers, err := s.deliver(ctx, log, s.audience.Caretakers(ctx, occ.GroupID, task.AssignedTo), caretakerDueMessage(occ, names))
		if err != nil && sentAssignees {
			// Assignees already have it; retrying would repeat their message.
			log.WithError(err).Warn("caretaker lookup failed after assignees were notified")
			return true, nil
		}
		return sentAssignees || sentCaretakers, err

	case occurrence.WindowMissed:
		names := s.audience.Names(ctx, task.AssignedTo, fallbackUserName)
		return s.deliver(ctx, log, s.audience.Caretakers(ctx, occ.GroupID, task.AssignedTo), missedMessage(occ, names))
	}
	return false, nil
}

// deliver sends msg to a resolved audience. Empty audiences and gateway
// errors are logged and count as decided.
func (s *ReminderService) deliver(ctx context.Context, log *logrus.Entry, audience Audience, msg push.Message) (bool, error) {
	return deliver(ctx, s.sender, log, audience, msg)
}

func deliver(ctx context.Context, sender push.Dispatcher, log *logrus.Entry, audience Audience, msg push.Message) (bool, error) {
	switch audience.Outcome {
	case OutcomeLookupFailed:
		return false, audience.Err
	case OutcomeGroupNotFound, OutcomeNoRecipients:
		log.Infof("%q not sent: %s", msg.Title, audience.Outcome)
		return false, nil
	}
	if _, err := sender.SendMulticast(ctx, audience.Tokens, msg); err != nil {
		log.WithError(err).Warnf("%q dispatch failed", msg.Title)
	}
	return true, nil
}

// release hands an undecided slot back to the next tick. If that fails too
// the claim expires after the lease.
func release(ctx context.Context, log *logrus.Entry, claim *Claim) {
	if err := claim.Release(ctx); err != nil {
		log.WithError(err).Warn("releasing claim failed")
	}
}

// RunDaily sends countdown notices for events today or tomorrow and one
// agenda per care-receiver.
func (s *ReminderService) RunDaily(ctx context.Context, now time.Time) (PassReport, error) {
	run := newPassRun(PassDaily)
	today := occurrence.StartOfDay(now, s.loc)
	tomorrow := today.AddDate(0, 0, 1)
	dateKey := occurrence.DateKey(today, s.loc)

	countdowns, err := s.tasks.ListCountdownsBetween(ctx, today, today.AddDate(0, 0, 2).Add(-time.Nanosecond))
	if err != nil {
		run.log.WithError(err).Error("pass aborted")
		return run.report, err
	}
	for _, task := range countdowns {
		if task.DueAt == nil {
			continue
		}
		isTomorrow := !task.DueAt.Before(tomorrow)
		kind := KindCountdownToday
		if isTomorrow {
			kind = KindCountdownTomorrow
		}
		ref := occurrence.Ref{TaskID: task.ID, Key: dateKey}
		log := run.log.WithFields(logrus.Fields{"task_id": task.ID, "occurrence": dateKey, "window": kind})
		s.notice(ctx, run, log, ref, kind, now, func() (bool, error) {
			return s.deliver(ctx, log, s.audience.GroupMembers(ctx, task.GroupID), countdownMessage(task, isTomorrow))
		})
	}

	receivers, err := s.users.ListByRole(ctx, model.RoleCareReceiver)
	if err != nil {
		run.log.WithError(err).Error("pass aborted")
		return run.report, err
	}
	for _, user := range receivers {
		tokens := push.CleanTokens(user.FCMTokens)
		if len(user.JoinedGroups) == 0 || len(tokens) == 0 {
			continue
		}
		log := run.log.WithFields(logrus.Fields{"user_id": user.ID, "occurrence": dateKey, "window": KindDailySummary})
		habits, appointments, err := s.agendaCounts(ctx, user, today, tomorrow)
		if err != nil {
			run.report.Evaluated++
			run.report.Failed++
			log.WithError(err).Error("counting agenda failed")
			continue
		}
		if habits == 0 && appointments == 0 {
			continue
		}
		ref := occurrence.Ref{TaskID: "user:" + user.ID, Key: dateKey}
		msg := agendaMessage(user.DisplayName("there"), habits, appointments)
		s.notice(ctx, run, log, ref, KindDailySummary, now, func() (bool, error) {
			return s.deliver(ctx, log, Audience{Outcome: OutcomeResolved, Users: []model.User{user}, Tokens: tokens}, msg)
		})
	}

	return run.finish(), nil
}

// notice runs one once-per-day notification through the ledger.
func (s *ReminderService) notice(ctx context.Context, run *passRun, log *logrus.Entry, ref occurrence.Ref, kind string, now time.Time, send func() (bool, error)) {
	run.report.Evaluated++
	claim, decision, err := s.tracker.BeginNotice(ctx, ref, kind, now)
	if err != nil {
		run.report.Failed++
		log.WithError(err).Error("ledger check failed")
		return
	}
	if decision != DecisionProceed {
		run.report.Skipped++
		log.Debugf("skipped: %s", decision)
		return
	}
	sent, err := send()
	if err != nil {
		run.report.Failed++
		log.WithError(err).Error("resolving audience failed")
		release(ctx, log, claim)
		return
	}
	if err := claim.Confirm(ctx, now); err != nil {
		run.report.Failed++
		log.WithError(err).Error("marking fired failed")
		return
	}
	if sent {
		run.report.Dispatched++
	} else {
		run.report.Skipped++
	}
}

// agendaCounts counts today's routine items and open appointments assigned
// to user.
func (s *ReminderService) agendaCounts(ctx context.Context, user model.User, today, tomorrow time.Time) (int, int, error) {
	appointments, err := s.tasks.ListAssigned(ctx, user.ID, user.JoinedGroups, model.TaskAppointment)
	if err != nil {
		return 0, 0, err
	}
	appointmentCount := 0
	for _, task := range appointments {
		if task.IsCompleted() || task.DueAt == nil {
			continue
		}
		if !task.DueAt.Before(today) && task.DueAt.Before(tomorrow) {
			appointmentCount++
		}
	}

	habits, err := s.tasks.ListAssigned(ctx, user.ID, user.JoinedGroups, model.TaskHabit)
	if err != nil {
		return 0, 0, err
	}
	habitCount := 0
	for _, task := range habits {
		if task.IsCompleted() {
			continue
		}
		habitCount += len(occurrence.Expand(task, today, s.loc))
	}
	return habitCount, appointmentCount, nil
}
