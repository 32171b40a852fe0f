package services

import (
	"context"
	"errors"
	"finadvisor/internal/models"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// EvaluatorService sweeps the reminder store on an interval, activates fresh
// reminders, fires the ones whose trigger condition holds, and hands fired
// reminders to the dispatcher.
type EvaluatorService struct {
	scheduler  gocron.Scheduler
	reminders  *ReminderService
	market     MarketGateway
	audit      *AuditService
	notifier   *NotifierService
	redis      *RedisService // optional, enables multi-instance sweep dedup
	instanceID string
	workers    int
	staleness  time.Duration
	now        func() time.Time
}

// NewEvaluatorService creates a new trigger evaluator
func NewEvaluatorService(
	reminders *ReminderService,
	market MarketGateway,
	audit *AuditService,
	notifier *NotifierService,
	redis *RedisService,
	workers int,
	staleness time.Duration,
) (*EvaluatorService, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	if workers < 1 {
		workers = 1
	}

	return &EvaluatorService{
		scheduler:  scheduler,
		reminders:  reminders,
		market:     market,
		audit:      audit,
		notifier:   notifier,
		redis:      redis,
		instanceID: uuid.New().String(),
		workers:    workers,
		staleness:  staleness,
		now:        time.Now,
	}, nil
}

// Start registers the sweep job and starts the scheduler
func (s *EvaluatorService) Start(interval time.Duration) error {
	log.Println("⏰ Starting trigger evaluator...")

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := s.Sweep(context.Background()); err != nil {
				log.Printf("❌ [EVALUATOR] Sweep failed: %v", err)
			}
		}),
		gocron.WithName("reminder-sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}

	s.scheduler.Start()
	log.Printf("✅ Trigger evaluator started (interval: %s, workers: %d)", interval, s.workers)
	return nil
}

// Stop stops the scheduler
func (s *EvaluatorService) Stop() error {
	log.Println("⏹️ Stopping trigger evaluator...")
	return s.scheduler.Shutdown()
}

// Sweep runs a single evaluation pass over all live reminders
func (s *EvaluatorService) Sweep(ctx context.Context) error {
	if s.redis != nil {
		lockKey := fmt.Sprintf("sweep-lock:%d", s.now().Unix()/60)
		acquired, err := s.redis.AcquireLock(ctx, lockKey, s.instanceID, time.Minute)
		if err != nil {
			log.Printf("⚠️ [EVALUATOR] Lock check failed, sweeping anyway: %v", err)
		} else if !acquired {
			log.Println("⏭️ [EVALUATOR] Sweep already running on another instance")
			return nil
		} else {
			defer func() {
				if _, err := s.redis.ReleaseLock(ctx, lockKey, s.instanceID); err != nil {
					log.Printf("⚠️ [EVALUATOR] Failed to release sweep lock: %v", err)
				}
			}()
		}
	}

	start := s.now()
	defer func() {
		if m := GetMetrics(); m != nil {
			m.SweepDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// Fresh reminders enter the evaluation pool first
	pending, err := s.reminders.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending reminders: %w", err)
	}
	for _, reminder := range pending {
		if _, err := s.reminders.Transition(ctx, reminder.ID, reminder.Version,
			models.StatusActive, models.AuditActorEvaluator, TransitionFields{}); err != nil {
			if errors.Is(err, models.ErrVersionConflict) {
				continue
			}
			log.Printf("⚠️ [EVALUATOR] Failed to activate %s: %v", reminder.ID, err)
		}
	}

	// Reminders stranded in Triggered by a crash or shutdown mid-dispatch
	// get their delivery retried; Dispatch no-ops once a reminder settles.
	triggered, err := s.reminders.ListByStatus(ctx, models.StatusTriggered)
	if err != nil {
		return fmt.Errorf("list triggered reminders: %w", err)
	}
	for _, reminder := range triggered {
		log.Printf("🔁 [EVALUATOR] Retrying delivery for stranded reminder %s", reminder.ID)
		if err := s.notifier.Dispatch(ctx, reminder.ID); err != nil {
			log.Printf("⚠️ [EVALUATOR] Redelivery for %s failed: %v", reminder.ID, err)
		}
	}

	active, err := s.reminders.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return fmt.Errorf("list active reminders: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, reminder := range active {
		reminder := reminder
		g.Go(func() error {
			return s.evaluate(gctx, reminder)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Printf("🔍 [EVALUATOR] Sweep complete: %d pending activated, %d active evaluated in %s",
		len(pending), len(active), time.Since(start).Round(time.Millisecond))
	return nil
}

// evaluate inspects one active reminder and fires it if its trigger holds
func (s *EvaluatorService) evaluate(ctx context.Context, reminder *models.Reminder) error {
	now := s.now()

	if m := GetMetrics(); m != nil {
		m.RemindersEvaluated.Inc()
	}

	due, err := s.isDue(ctx, reminder, now)
	if err != nil {
		// Quote problems are recorded as a data-quality note and the
		// reminder stays active for the next sweep.
		if errors.Is(err, models.ErrDataUnavailable) || errors.Is(err, models.ErrNotFound) {
			payload := fmt.Sprintf("quote unusable for %s: %v", reminder.Ticker, err)
			if auditErr := s.audit.Record(ctx, models.AuditActorEvaluator,
				models.AuditActionDataQuality, reminder.ID, payload, false); auditErr != nil {
				return auditErr
			}
			return s.reminders.TouchEvaluated(ctx, reminder.ID, now)
		}
		return err
	}

	if !due {
		return s.reminders.TouchEvaluated(ctx, reminder.ID, now)
	}

	_, err = s.reminders.Transition(ctx, reminder.ID, reminder.Version,
		models.StatusTriggered, models.AuditActorEvaluator,
		TransitionFields{LastEvaluatedAt: &now})
	if err != nil {
		// Lost the race: canceled, or fired by a concurrent sweep
		if errors.Is(err, models.ErrVersionConflict) || errors.Is(err, models.ErrAlreadyTriggered) {
			return nil
		}
		return fmt.Errorf("fire reminder %s: %w", reminder.ID, err)
	}

	if m := GetMetrics(); m != nil {
		m.RemindersFired.Inc()
	}
	log.Printf("🎯 [EVALUATOR] Reminder %s fired (%s on %s)", reminder.ID, reminder.Trigger.Type, reminder.Ticker)

	// Delivery runs inline so the fired reminder settles before the sweep
	// moves on; a crash here leaves it triggered and retryable.
	return s.notifier.Dispatch(ctx, reminder.ID)
}

// isDue reports whether the reminder's trigger condition currently holds
func (s *EvaluatorService) isDue(ctx context.Context, reminder *models.Reminder, now time.Time) (bool, error) {
	switch reminder.Trigger.Type {
	case models.TriggerPriceAbove, models.TriggerPriceBelow:
		quote, err := s.market.Quote(ctx, reminder.Ticker)
		if err != nil {
			return false, err
		}
		if quote.Stale || now.Sub(quote.AsOf) > s.staleness {
			return false, fmt.Errorf("%w: quote for %s as of %s is stale",
				models.ErrDataUnavailable, reminder.Ticker, quote.AsOf.Format(time.RFC3339))
		}
		if reminder.Trigger.Type == models.TriggerPriceAbove {
			return quote.Price > reminder.Trigger.Threshold, nil
		}
		return quote.Price < reminder.Trigger.Threshold, nil

	case models.TriggerDate:
		return !now.Before(reminder.Trigger.Date), nil

	case models.TriggerCron:
		sched, err := cronParser.Parse(reminder.Trigger.CronExpr)
		if err != nil {
			return false, fmt.Errorf("parse cron expression %q: %w", reminder.Trigger.CronExpr, err)
		}
		base := reminder.CreatedAt
		if reminder.LastEvaluatedAt != nil {
			base = *reminder.LastEvaluatedAt
		}
		return !now.Before(sched.Next(base)), nil

	default:
		return false, fmt.Errorf("unknown trigger type: %s", reminder.Trigger.Type)
	}
}
