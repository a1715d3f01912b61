// Package reminder arms and fires task reminders.
package reminder

import (
	"context"
	"errors"
	"log"
	"time"

	"tasks/internal/storage"
)

// Scheduler arms a reminder for a task's due time. Scheduling the same task
// again moves its reminder.
type Scheduler interface {
	Schedule(ctx context.Context, taskID int64, due time.Time) error
}

// Notification is what a Notifier receives when a reminder fires.
type Notification struct {
	ReminderID string
	TaskID     int64
	Title      string
	Body       string
	Due        time.Time
	FiredAt    time.Time
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Store is the persistence the Manager needs. *storage.Store satisfies it.
type Store interface {
	UpsertReminder(ctx context.Context, taskID int64, fireAt time.Time) (storage.Reminder, error)
	PendingReminders(ctx context.Context) ([]storage.Reminder, error)
	MarkFired(ctx context.Context, reminderID string) error
	Find(ctx context.Context, id int64) (storage.Task, bool, error)
}

// Manager keeps reminders in the store and fires them from Run.
type Manager struct {
	store     Store
	notifiers []Notifier
	now       func() time.Time
	idle      time.Duration
	wake      chan struct{}
}

type Option func(*Manager)

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifiers = append(m.notifiers, n) }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIdleInterval bounds how long Run sleeps between store scans, so
// reminders armed by other processes are noticed.
func WithIdleInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   time.Now,
		idle:  time.Minute,
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Schedule(ctx context.Context, taskID int64, due time.Time) error {
	if _, err := m.store.UpsertReminder(ctx, taskID, due); err != nil {
		return err
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run fires reminders as they come due until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		next, err := m.FireDue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("reminder: %v", err)
		}

		wait := m.idle
		if !next.IsZero() {
			if d := next.Sub(m.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// FireDue notifies every pending reminder whose time has come and returns
// the fire time of the earliest one still pending, or the zero time.
func (m *Manager) FireDue(ctx context.Context) (time.Time, error) {
	pending, err := m.store.PendingReminders(ctx)
	if err != nil {
		return time.Time{}, err
	}

	now := m.now()
	var errs []error
	for _, r := range pending {
		if r.FireAt.After(now) {
			return r.FireAt, errors.Join(errs...)
		}
		if err := m.fire(ctx, r, now); err != nil {
			errs = append(errs, err)
		}
	}
	return time.Time{}, errors.Join(errs...)
}

// fire marks the reminder fired even when a notifier fails so a broken
// notifier cannot make it repeat forever.
func (m *Manager) fire(ctx context.Context, r storage.Reminder, now time.Time) error {
	task, ok, err := m.store.Find(ctx, r.TaskID)
	if err != nil {
		return err
	}
	var errs []error
	if ok {
		n := Notification{
			ReminderID: r.ID,
			TaskID:     task.ID,
			Title:      task.Title,
			Body:       task.Body,
			Due:        task.Due,
			FiredAt:    now,
		}
		for _, notifier := range m.notifiers {
			if err := notifier.Notify(ctx, n); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := m.store.MarkFired(ctx, r.ID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Multi schedules with every member and joins their errors.
type Multi []Scheduler

func (ms Multi) Schedule(ctx context.Context, taskID int64, due time.Time) error {
	var errs []error
	for _, s := range ms {
		if err := s.Schedule(ctx, taskID, due); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
