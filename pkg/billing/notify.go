package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/billingd/pkg/mailer"
)

// Dispatcher delivers transactional emails without blocking the caller.
// Delivery failures are logged and swallowed; billing-state correctness never
// depends on an email arriving. Duplicate emails on webhook redelivery are
// tolerated, duplicate state corruption is not.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipient, subject, bodyHTML string)
}

// AsyncDispatcher sends each email on its own goroutine over the configured
// EmailSender.
type AsyncDispatcher struct {
	sender  mailer.EmailSender
	logger  *slog.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewAsyncDispatcher creates a dispatcher over the given sender.
func NewAsyncDispatcher(sender mailer.EmailSender, logger *slog.Logger) *AsyncDispatcher {
	if sender == nil {
		panic("billing: EmailSender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncDispatcher{
		sender:  sender,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Dispatch queues the email and returns immediately. The send runs detached
// from the caller's context so an already-answered webhook request does not
// cancel delivery.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, recipient, subject, bodyHTML string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		err := d.sender.SendEmail(sendCtx, mailer.SendEmailParams{
			SendTo:   recipient,
			Subject:  subject,
			BodyHTML: bodyHTML,
		})
		if err != nil {
			d.logger.ErrorContext(sendCtx, "failed to send notification email",
				slog.String("recipient", recipient),
				slog.String("subject", subject),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until all in-flight sends finish. Used in shutdown and tests.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// ReminderScheduler schedules end-of-period renewal reminders.
// Scheduling again for the same recipient replaces the pending reminder, so
// webhook redelivery cannot stack duplicates.
type ReminderScheduler interface {
	ScheduleRenewalReminder(email string, periodEnd time.Time)
}

type pendingReminder struct {
	email string
	dueAt time.Time
}

// RenewalReminders is an in-process ReminderScheduler: a mutex-guarded map of
// pending reminders drained by a ticker loop. Reminders fire lead time before
// the period end through the Dispatcher.
type RenewalReminders struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	lead       time.Duration
	interval   time.Duration

	mu      sync.Mutex
	pending map[string]pendingReminder
}

// NewRenewalReminders creates the scheduler. lead is how long before the
// period end the reminder fires.
func NewRenewalReminders(dispatcher Dispatcher, lead time.Duration, logger *slog.Logger) *RenewalReminders {
	if dispatcher == nil {
		panic("billing: Dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if lead <= 0 {
		lead = 72 * time.Hour
	}
	return &RenewalReminders{
		dispatcher: dispatcher,
		logger:     logger,
		lead:       lead,
		interval:   time.Minute,
		pending:    make(map[string]pendingReminder),
	}
}

// ScheduleRenewalReminder registers (or replaces) the reminder for email.
// Reminders whose due time is already past fire on the next tick.
func (r *RenewalReminders) ScheduleRenewalReminder(email string, periodEnd time.Time) {
	if email == "" || periodEnd.IsZero() {
		return
	}

	r.mu.Lock()
	r.pending[email] = pendingReminder{email: email, dueAt: periodEnd.Add(-r.lead)}
	r.mu.Unlock()
}

// Run drains due reminders until the context is canceled.
func (r *RenewalReminders) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.fireDue(ctx, now)
		}
	}
}

func (r *RenewalReminders) fireDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	var due []pendingReminder
	for email, p := range r.pending {
		if !p.dueAt.After(now) {
			due = append(due, p)
			delete(r.pending, email)
		}
	}
	r.mu.Unlock()

	for _, p := range due {
		r.logger.InfoContext(ctx, "sending renewal reminder", slog.String("recipient", p.email))
		r.dispatcher.Dispatch(ctx, p.email,
			"Subscription Renewal Reminder",
			"Your subscription period is ending soon. Renew to keep your access uninterrupted.")
	}
}

// PendingCount reports how many reminders are queued. Test hook.
func (r *RenewalReminders) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
