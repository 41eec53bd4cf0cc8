package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"caseline/internal/domain"
	"caseline/internal/signals"
)

// TxSource reads artifacts through an open transaction, so a recompute sees
// the same state it writes against.
type TxSource struct {
	Tx *sql.Tx
}

func (s TxSource) LoadArtifacts(ctx context.Context, caseID string) (signals.Artifacts, error) {
	return loadArtifacts(ctx, s.Tx, caseID)
}

func loadArtifacts(ctx context.Context, q querier, caseID string) (signals.Artifacts, error) {
	var a signals.Artifacts
	c, err := getCase(ctx, q, caseID)
	if err != nil {
		return a, err
	}
	a.Case = c
	if c.SubmissionID != nil {
		sub, err := getSubmission(ctx, q, *c.SubmissionID)
		switch {
		case err == nil:
			a.Submission = &sub
		case errors.Is(err, ErrNotFound):
		default:
			return a, err
		}
	}
	if a.EvidenceCount, err = countEvidence(ctx, q, caseID); err != nil {
		return a, err
	}
	if a.InfoRequests, err = countEvents(ctx, q, caseID, domain.EventRequestInfoCreated); err != nil {
		return a, err
	}
	if a.InfoResubmissions, err = countEvents(ctx, q, caseID, domain.EventRequestInfoResubmitted); err != nil {
		return a, err
	}
	return a, nil
}

// UpsertSignals replaces the stored signal of each (case, source) pair.
func (r Repo) UpsertSignals(ctx context.Context, tx *sql.Tx, items []domain.Signal) error {
	for i, s := range items {
		meta, err := marshalJSON(s.Metadata, "{}")
		if err != nil {
			return err
		}
		complete := 0
		if s.Complete {
			complete = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO signals(case_id,source,type,decision_type,strength,complete,metadata_json,position,created_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(case_id,source) DO UPDATE SET type=excluded.type, decision_type=excluded.decision_type, strength=excluded.strength,
complete=excluded.complete, metadata_json=excluded.metadata_json, position=excluded.position, created_at=excluded.created_at`,
			s.CaseID, s.Source, string(s.Type), s.DecisionType, s.Strength, complete, meta, i, s.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// ListSignals returns the stored signals of a case in generation order.
func (r Repo) ListSignals(ctx context.Context, caseID string) ([]domain.Signal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT case_id,decision_type,type,source,strength,complete,metadata_json,created_at FROM signals WHERE case_id=? ORDER BY position ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Signal{}
	for rows.Next() {
		var s domain.Signal
		var typ, meta string
		var complete int
		if err := rows.Scan(&s.CaseID, &s.DecisionType, &typ, &s.Source, &s.Strength, &complete, &meta, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Type = domain.SignalType(typ)
		s.Complete = complete == 1
		s.Metadata = map[string]any{}
		if err := json.Unmarshal([]byte(meta), &s.Metadata); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpsertSnapshot replaces the current intelligence snapshot of a case.
func (r Repo) UpsertSnapshot(ctx context.Context, tx *sql.Tx, s domain.Snapshot) error {
	gaps, err := marshalJSON(s.Gaps, "[]")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO intelligence_snapshots(case_id,completeness,confidence,band,gaps_json,narrative,computed_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(case_id) DO UPDATE SET completeness=excluded.completeness, confidence=excluded.confidence, band=excluded.band,
gaps_json=excluded.gaps_json, narrative=excluded.narrative, computed_at=excluded.computed_at`,
		s.CaseID, s.Completeness, s.Confidence, string(s.Band), gaps, s.Narrative, s.ComputedAt)
	return err
}

func (r Repo) GetSnapshot(ctx context.Context, caseID string) (domain.Snapshot, error) {
	var s domain.Snapshot
	var band, gaps string
	err := r.DB.QueryRowContext(ctx, `SELECT case_id,completeness,confidence,band,gaps_json,narrative,computed_at FROM intelligence_snapshots WHERE case_id=?`, caseID).
		Scan(&s.CaseID, &s.Completeness, &s.Confidence, &band, &gaps, &s.Narrative, &s.ComputedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Band = domain.ConfidenceBand(band)
	s.Gaps = []domain.SignalType{}
	if err := json.Unmarshal([]byte(gaps), &s.Gaps); err != nil {
		return s, err
	}
	return s, nil
}
