package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"tapevault/internal/logging"
)

// Manager runs recurring jobs whose cadence is a CalendarEvent rather
// than a cron expression: since gocron has no native calendar-event job
// kind, each occurrence is scheduled as a one-time job computed by
// ComputeNextEvent, and the task wrapper re-arms the next occurrence
// itself once the current one finishes running.
type Manager struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewManager creates a Manager. loc is the timezone CalendarEvent
// fields are evaluated against; pass time.UTC for UTC-only events.
func NewManager(logger *slog.Logger, loc *time.Location) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Manager{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		logger:    logging.Default(logger).With("component", "scheduler"),
		loc:       loc,
		now:       time.Now,
	}, nil
}

// Start begins executing scheduled jobs.
func (m *Manager) Start() { m.scheduler.Start() }

// Stop shuts the scheduler down, waiting for any in-flight job.
func (m *Manager) Stop() error { return m.scheduler.Shutdown() }

// AddJob schedules task to run at every occurrence of event (evaluated
// in the Manager's configured timezone), replacing any existing job of
// the same name.
func (m *Manager) AddJob(name string, event CalendarEvent, task func()) error {
	m.removeLocked(name)

	next, ok := ComputeNextEvent(event, m.now(), m.loc)
	if !ok {
		return fmt.Errorf("scheduler: job %q: calendar event never occurs", name)
	}
	return m.arm(name, event, next, task)
}

// arm schedules a single one-time occurrence of the job at 'at', and
// wraps task so that, once it runs, the next occurrence is computed and
// armed in turn.
func (m *Manager) arm(name string, event CalendarEvent, at time.Time, task func()) error {
	var wrapped func()
	wrapped = func() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("job panicked", "job", name, "panic", r)
				}
			}()
			task()
		}()

		m.mu.Lock()
		defer m.mu.Unlock()
		next, ok := ComputeNextEvent(event, m.now(), m.loc)
		if !ok {
			m.logger.Info("job has no further occurrences, not rescheduling", "job", name)
			delete(m.jobs, name)
			return
		}
		if err := m.armLocked(name, event, next, wrapped); err != nil {
			m.logger.Error("failed to reschedule job", "job", name, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armLocked(name, event, at, wrapped)
}

func (m *Manager) armLocked(name string, event CalendarEvent, at time.Time, wrapped func()) error {
	job, err := m.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("scheduler: schedule job %q: %w", name, err)
	}
	m.jobs[name] = job
	m.logger.Info("scheduled job", "job", name, "next", at)
	return nil
}

// RemoveJob cancels a previously added job, if present.
func (m *Manager) RemoveJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(name)
}

func (m *Manager) removeLocked(name string) error {
	job, ok := m.jobs[name]
	if !ok {
		return nil
	}
	delete(m.jobs, name)
	return m.scheduler.RemoveJob(job.ID())
}

// Jobs returns the names of currently scheduled jobs.
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		out = append(out, name)
	}
	return out
}
