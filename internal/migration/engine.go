// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package migration imports a user's legacy client-side data. Records are
// validated first; invalid ones are reported and skipped. Everything that
// passed is then written in one transaction that either fully commits or
// leaves no trace.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/subscription"
	"github.com/subtrack/subtrack/pkg/errutil"
)

var tracer = otel.Tracer("subtrack/migration")

// DefaultPersistTimeout bounds the persistence transaction.
const DefaultPersistTimeout = 30 * time.Second

// msgFailed is the Result error for any persistence failure.
const msgFailed = "migration failed"

// UserStore is the part of auth.UserRepository the engine needs.
type UserStore interface {
	GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error)
	LockByID(ctx context.Context, id ulid.ULID) (*auth.User, error)
	UpdateSettings(ctx context.Context, user *auth.User) error
}

// Metrics records migration outcomes.
type Metrics interface {
	// RecordMigration counts one call; outcome is success, failed,
	// rejected or not_found.
	RecordMigration(outcome string)
	// RecordMigrationItems counts n items of category (subscription,
	// budget, settings) with outcome migrated or failed.
	RecordMigrationItems(category, outcome string, n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordMigration(string)                   {}
func (noopMetrics) RecordMigrationItems(string, string, int) {}

// Config holds engine policy.
type Config struct {
	// PersistTimeout bounds the persistence phase. Defaults to
	// DefaultPersistTimeout.
	PersistTimeout time.Duration
}

// EngineDeps are the collaborators of Engine. Metrics and Now are optional.
type EngineDeps struct {
	Users         UserStore
	Subscriptions subscription.Repository
	Budgets       subscription.BudgetRepository
	Transactor    auth.Transactor
	Logger        *slog.Logger
	Metrics       Metrics
	Now           func() time.Time
}

// Engine runs legacy data migrations.
type Engine struct {
	users   UserStore
	subs    subscription.Repository
	budgets subscription.BudgetRepository
	tx      auth.Transactor
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
	cfg     Config

	mu      sync.Mutex
	running map[ulid.ULID]struct{}
}

// NewEngine creates an Engine, validating every required dependency.
func NewEngine(deps EngineDeps, cfg Config) (*Engine, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("MIGRATION_INVALID_CONFIG").Errorf("users repository is required")
	case deps.Subscriptions == nil:
		return nil, oops.Code("MIGRATION_INVALID_CONFIG").Errorf("subscriptions repository is required")
	case deps.Budgets == nil:
		return nil, oops.Code("MIGRATION_INVALID_CONFIG").Errorf("budgets repository is required")
	case deps.Transactor == nil:
		return nil, oops.Code("MIGRATION_INVALID_CONFIG").Errorf("transactor is required")
	case deps.Logger == nil:
		return nil, oops.Code("MIGRATION_INVALID_CONFIG").Errorf("logger is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}

	return &Engine{
		users:   deps.Users,
		subs:    deps.Subscriptions,
		budgets: deps.Budgets,
		tx:      deps.Transactor,
		logger:  deps.Logger.With("component", "migration"),
		metrics: deps.Metrics,
		now:     deps.Now,
		cfg:     cfg,
		running: make(map[ulid.ULID]struct{}),
	}, nil
}

// plan is the validated, ready-to-persist form of a payload.
type plan struct {
	subs         []*subscription.Subscription
	errors       []string
	budget       *subscription.Budget
	budgetErr    string
	settings     bool
	language     string
	currency     string
	preferences  map[string]any
	gamification *auth.GamificationSnapshot
	notes        []string
}

// MigrateUserData imports payload for userID. Invalid records are reported
// in the Result and skipped. A persistence failure rolls everything back and
// returns the Result with Success false together with a persistence error.
func (e *Engine) MigrateUserData(ctx context.Context, userID ulid.ULID, payload LegacyPayload) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "migration.MigrateUserData",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer func() {
		if result != nil {
			span.SetAttributes(
				attribute.Bool("migration.success", result.Success),
				attribute.Int("migration.subscriptions.migrated", result.Details.Subscriptions.Migrated),
				attribute.Int("migration.subscriptions.failed", result.Details.Subscriptions.Failed),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !e.acquire(userID) {
		e.metrics.RecordMigration("rejected")
		return nil, oops.Code("MIGRATION_IN_PROGRESS").
			With("user_id", userID.String()).
			Public("A migration is already running for this user").
			Wrapf(errutil.ErrConflict, "migration already in progress")
	}
	defer e.release(userID)

	now := e.now().UTC()
	p := e.validate(userID, payload, now)
	result = p.result()

	if payload.IsEmpty() {
		result.Success = true
		e.metrics.RecordMigration("success")
		e.logger.InfoContext(ctx, "empty migration payload", "user_id", userID.String())
		return result, nil
	}

	persistCtx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	defer cancel()

	err = e.tx.InTransaction(persistCtx, func(ctx context.Context) error {
		return e.persist(ctx, userID, p, now)
	})
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			e.metrics.RecordMigration("not_found")
			return nil, userNotFound(userID)
		}

		result.Success = false
		result.Error = msgFailed
		result.Details.Subscriptions.Migrated = 0
		result.Details.Budget.Migrated = false
		result.Details.Settings.Migrated = false

		err = oops.Code("MIGRATION_FAILED").
			With("user_id", userID.String()).
			With("valid_subscriptions", len(p.subs)).
			Public("Migration failed").
			Wrap(errutil.Persistence(err))
		errutil.LogErrorContext(ctx, e.logger, "migration rolled back", err)
		e.metrics.RecordMigration("failed")
		return result, err
	}

	result.Success = true
	e.record(result)
	e.logger.InfoContext(ctx, "legacy data migrated",
		"user_id", userID.String(),
		"subscriptions", result.Details.Subscriptions.Migrated,
		"rejected", result.Details.Subscriptions.Failed,
		"budget", result.Details.Budget.Migrated,
		"settings", result.Details.Settings.Migrated,
	)
	return result, nil
}

// validate builds the plan. It performs no I/O.
func (e *Engine) validate(userID ulid.ULID, payload LegacyPayload, now time.Time) *plan {
	p := &plan{}

	for i, item := range payload.Subscriptions {
		sub, err := subscription.New(userID, subscription.Input{
			Name:         item.Name,
			Amount:       item.Amount,
			Currency:     item.Currency,
			BillingCycle: item.BillingCycle,
			PaymentDay:   item.PaymentDay,
			Category:     item.Category,
			Color:        item.Color,
			IsActive:     item.IsActive,
			Notes:        item.Notes,
		}, now)
		if err != nil {
			p.errors = append(p.errors, fmt.Sprintf("subscription[%d] (%s): %s", i, item.Name, subscription.Reason(err)))
			continue
		}
		p.subs = append(p.subs, sub)
	}

	if s := payload.Settings; s != nil {
		p.settings = true
		p.preferences = s.Preferences
		if s.Language != "" {
			if tag, err := language.Parse(s.Language); err == nil {
				p.language = tag.String()
			} else {
				p.notes = append(p.notes, fmt.Sprintf("language %q is not a valid tag and was ignored", s.Language))
			}
		}
		if s.Currency != "" {
			if code, err := subscription.ParseCurrency(s.Currency); err == nil {
				p.currency = code
			} else {
				p.notes = append(p.notes, fmt.Sprintf("currency %q is not a valid ISO 4217 code and was ignored", s.Currency))
			}
		}
	}

	if g := payload.Gamification; g != nil {
		p.settings = true
		p.gamification = &auth.GamificationSnapshot{
			Points:       g.Points,
			Level:        g.Level,
			Streak:       g.Streak,
			Achievements: append([]string(nil), g.Achievements...),
		}
	}

	if payload.Budget != nil {
		budget, err := subscription.NewPrimaryBudget(userID, *payload.Budget, p.currency, now)
		if err != nil {
			p.budgetErr = subscription.Reason(err)
		} else {
			p.budget = budget
		}
	}

	return p
}

// result returns the Result counts the plan would produce on success.
func (p *plan) result() *Result {
	errs := p.errors
	if errs == nil {
		errs = []string{}
	}
	return &Result{
		Details: Details{
			Subscriptions: SubscriptionDetails{
				Migrated: len(p.subs),
				Failed:   len(p.errors),
				Errors:   errs,
			},
			Budget: BudgetDetails{
				Migrated: p.budget != nil,
				Error:    p.budgetErr,
			},
			Settings: SettingsDetails{
				Migrated: p.settings,
				Notes:    p.notes,
			},
		},
	}
}

// persist writes the plan. It must run inside a transaction.
func (e *Engine) persist(ctx context.Context, userID ulid.ULID, p *plan, now time.Time) error {
	user, err := e.users.LockByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := e.subs.CreateBatch(ctx, p.subs); err != nil {
		return err
	}

	if p.budget != nil {
		if p.currency == "" {
			p.budget.Currency = user.Currency
		}
		if err := e.budgets.Create(ctx, p.budget); err != nil {
			return err
		}
	}

	user.Settings.Merge(p.preferences)
	if p.gamification != nil {
		user.Settings.Gamification = p.gamification
	}
	if p.language != "" {
		user.Language = p.language
	}
	if p.currency != "" {
		user.Currency = p.currency
	}
	user.Settings.MarkMigrated(now)

	return e.users.UpdateSettings(ctx, user)
}

func (e *Engine) record(r *Result) {
	d := r.Details
	e.metrics.RecordMigration("success")
	e.metrics.RecordMigrationItems("subscription", "migrated", d.Subscriptions.Migrated)
	e.metrics.RecordMigrationItems("subscription", "failed", d.Subscriptions.Failed)
	if d.Budget.Migrated {
		e.metrics.RecordMigrationItems("budget", "migrated", 1)
	} else if d.Budget.Error != "" {
		e.metrics.RecordMigrationItems("budget", "failed", 1)
	}
	if d.Settings.Migrated {
		e.metrics.RecordMigrationItems("settings", "migrated", 1)
	}
}

func (e *Engine) acquire(userID ulid.ULID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[userID]; busy {
		return false
	}
	e.running[userID] = struct{}{}
	return true
}

func (e *Engine) release(userID ulid.ULID) {
	e.mu.Lock()
	delete(e.running, userID)
	e.mu.Unlock()
}

// HasUserMigrated reports whether the user's migration marker is set.
func (e *Engine) HasUserMigrated(ctx context.Context, userID ulid.ULID) (bool, error) {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Settings.HasMigrated(), nil
}

// GetMigrationStatus returns the marker and the user's stored record counts.
func (e *Engine) GetMigrationStatus(ctx context.Context, userID ulid.ULID) (*Status, error) {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	subs, err := e.subs.CountByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("MIGRATION_STATUS_FAILED").
			With("user_id", userID.String()).
			With("operation", "count subscriptions").
			Wrap(errutil.Persistence(err))
	}
	budgets, err := e.budgets.CountByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("MIGRATION_STATUS_FAILED").
			With("user_id", userID.String()).
			With("operation", "count budgets").
			Wrap(errutil.Persistence(err))
	}

	status := &Status{
		HasMigrated:       user.Settings.HasMigrated(),
		SubscriptionCount: subs,
		BudgetCount:       budgets,
	}
	if at, ok := user.Settings.MigratedAt(); ok {
		status.MigratedAt = &at
	}
	return status, nil
}

// ClearMigrationFlag removes the migration marker and leaves every other
// setting untouched. Imported records are kept.
func (e *Engine) ClearMigrationFlag(ctx context.Context, userID ulid.ULID) error {
	err := e.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := e.users.LockByID(ctx, userID)
		if err != nil {
			return err
		}
		if !user.Settings.HasMigrated() {
			return nil
		}
		user.Settings.ClearMigration()
		return e.users.UpdateSettings(ctx, user)
	})
	switch {
	case err == nil:
		e.logger.InfoContext(ctx, "migration flag cleared", "user_id", userID.String())
		return nil
	case errors.Is(err, auth.ErrNotFound):
		return userNotFound(userID)
	default:
		return oops.Code("MIGRATION_CLEAR_FAILED").
			With("user_id", userID.String()).
			Wrap(errutil.Persistence(err))
	}
}

func (e *Engine) getUser(ctx context.Context, userID ulid.ULID) (*auth.User, error) {
	user, err := e.users.GetByID(ctx, userID)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, auth.ErrNotFound):
		return nil, userNotFound(userID)
	default:
		return nil, oops.Code("MIGRATION_STATUS_FAILED").
			With("user_id", userID.String()).
			With("operation", "get user").
			Wrap(errutil.Persistence(err))
	}
}

func userNotFound(userID ulid.ULID) error {
	return oops.Code("MIGRATION_USER_NOT_FOUND").
		With("user_id", userID.String()).
		Public("User not found").
		Wrapf(errutil.ErrNotFound, "user not found")
}
