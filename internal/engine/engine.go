package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Policy auth.Policy
	Logger *slog.Logger
	Now    func() time.Time

	// intel collapses concurrent lazy snapshot generation per case.
	intel *singleflight.Group
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Policy: auth.Policy{Config: cfg},
		Logger: slog.Default(),
		Now:    time.Now,
		intel:  &singleflight.Group{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) ledger() events.Writer {
	return events.Writer{Now: e.now}
}

// inTx runs fn in a write transaction. Either every write in fn commits or
// none does.
func (e Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (e Engine) loadCase(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	c, err := e.Repo.GetCaseTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return c, ErrCaseNotFound
	}
	return c, err
}

func requireActor(actor domain.Actor) error {
	if actor.Name == "" {
		return invalidInput("actor name is required")
	}
	if actor.Role == "" {
		return invalidInput("actor role is required")
	}
	return nil
}

// saveCase persists c against the state it was loaded from. A version or
// status mismatch surfaces as a stale InvalidTransitionError.
func (e Engine) saveCase(ctx context.Context, tx *sql.Tx, c domain.Case, loaded domain.Case) (domain.Case, error) {
	c.UpdatedAt = domain.FormatTime(e.now())
	saved, err := e.Repo.UpdateCase(ctx, tx, c, repo.Expect{Status: loaded.Status, Version: loaded.Version})
	if errors.Is(err, repo.ErrStale) {
		current := loaded.Status
		if fresh, ferr := e.Repo.GetCaseTx(ctx, tx, c.ID); ferr == nil {
			current = fresh.Status
		}
		return c, &InvalidTransitionError{From: loaded.Status, To: c.Status, Current: current, Stale: true}
	}
	return saved, err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
