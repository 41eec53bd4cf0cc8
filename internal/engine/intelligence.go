package engine

import (
	"context"
	"database/sql"
	"errors"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/intel"
	"caseline/internal/repo"
	"caseline/internal/signals"
)

// systemActor stamps recomputes that no person asked for.
var systemActor = domain.Actor{Role: "system", Name: "caseline"}

// RecomputeIntelligence regenerates the signals of a case, scores them and
// replaces the stored snapshot. Everything it writes commits in one
// transaction, so a snapshot is never computed from signals other than the
// ones stored beside it.
func (e Engine) RecomputeIntelligence(ctx context.Context, caseID string, actor domain.Actor) (domain.Snapshot, error) {
	if actor.Name == "" {
		actor = systemActor
	}
	var snap domain.Snapshot
	err := e.inTx(ctx, "recompute intelligence", func(tx *sql.Tx) error {
		gen := signals.Generator{
			Source:  repo.TxSource{Tx: tx},
			Catalog: e.Config,
			Now:     e.now,
		}
		sigs, err := gen.Generate(ctx, caseID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCaseNotFound
		}
		if err != nil {
			return err
		}
		if err := e.Repo.UpsertSignals(ctx, tx, sigs); err != nil {
			return err
		}
		snap = intel.Score(caseID, sigs, e.now())
		if err := e.Repo.UpsertSnapshot(ctx, tx, snap); err != nil {
			return err
		}
		_, err = e.ledger().Append(ctx, tx, caseID, domain.EventDecisionIntelligenceUpdated, actor, events.EventPayload{
			"completeness": snap.Completeness,
			"confidence":   snap.Confidence,
			"band":         string(snap.Band),
			"gaps":         snap.Gaps,
		})
		return err
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	e.log().Debug("intelligence recomputed", "case_id", caseID, "band", snap.Band, "gaps", len(snap.Gaps))
	return snap, nil
}

// GetIntelligence returns the stored snapshot, computing it on first access.
// Concurrent first reads of one case share a single recompute.
func (e Engine) GetIntelligence(ctx context.Context, caseID string, actor domain.Actor) (domain.Snapshot, error) {
	snap, err := e.Repo.GetSnapshot(ctx, caseID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Snapshot{}, classify("get intelligence", err)
	}
	if e.intel == nil {
		return e.lazySnapshot(ctx, caseID, actor)
	}
	v, err, _ := e.intel.Do(caseID, func() (any, error) {
		return e.lazySnapshot(ctx, caseID, actor)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return v.(domain.Snapshot), nil
}

func (e Engine) lazySnapshot(ctx context.Context, caseID string, actor domain.Actor) (domain.Snapshot, error) {
	snap, err := e.Repo.GetSnapshot(ctx, caseID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Snapshot{}, classify("get intelligence", err)
	}
	return e.RecomputeIntelligence(ctx, caseID, actor)
}

// Signals returns the stored signals of a case in generation order. It does
// not regenerate them.
func (e Engine) Signals(ctx context.Context, caseID string) ([]domain.Signal, error) {
	if _, err := e.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListSignals(ctx, caseID)
	return items, classify("list signals", err)
}
