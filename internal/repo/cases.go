package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"caseline/internal/domain"
)

const caseColumns = `id,status,priority,assignee_id,submission_id,decision_type,decision_trace_id,evidence_ids_json,version,created_at,updated_at,due_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	var status, priority, evidenceJSON string
	var assignee, submission, trace, due sql.NullString
	err := row.Scan(&c.ID, &status, &priority, &assignee, &submission, &c.DecisionType, &trace, &evidenceJSON, &c.Version, &c.CreatedAt, &c.UpdatedAt, &due)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Status = domain.CaseStatus(status)
	c.Priority = domain.Priority(priority)
	c.AssigneeID = stringPtr(assignee)
	c.SubmissionID = stringPtr(submission)
	c.DecisionTraceID = stringPtr(trace)
	c.DueAt = stringPtr(due)
	c.EvidenceIDs = []string{}
	if evidenceJSON != "" {
		if err := json.Unmarshal([]byte(evidenceJSON), &c.EvidenceIDs); err != nil {
			return c, fmt.Errorf("decode evidence ids for case %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	ids, err := marshalJSON(c.EvidenceIDs, "[]")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO cases(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, string(c.Status), string(c.Priority), nullableStringPtr(c.AssigneeID), nullableStringPtr(c.SubmissionID),
		c.DecisionType, nullableStringPtr(c.DecisionTraceID), ids, c.Version, c.CreatedAt, c.UpdatedAt, nullableStringPtr(c.DueAt))
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return getCase(ctx, r.DB, id)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return getCase(ctx, tx, id)
}

func getCase(ctx context.Context, q querier, id string) (domain.Case, error) {
	return scanCase(q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

// Expect is the state a conditional case update was computed from.
type Expect struct {
	Status  domain.CaseStatus
	Version int64
}

// UpdateCase writes every mutable column of c, guarded by the expected status
// and version. It bumps the version and returns ErrStale if the row moved.
func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, c domain.Case, expect Expect) (domain.Case, error) {
	ids, err := marshalJSON(c.EvidenceIDs, "[]")
	if err != nil {
		return c, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE cases SET status=?, priority=?, assignee_id=?, decision_trace_id=?, evidence_ids_json=?, updated_at=?, due_at=?, version=version+1
WHERE id=? AND status=? AND version=?`,
		string(c.Status), string(c.Priority), nullableStringPtr(c.AssigneeID), nullableStringPtr(c.DecisionTraceID), ids, c.UpdatedAt, nullableStringPtr(c.DueAt),
		c.ID, string(expect.Status), expect.Version)
	if err != nil {
		return c, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return c, err
	}
	if n == 0 {
		return c, ErrStale
	}
	c.Version = expect.Version + 1
	return c, nil
}

// DeleteCase removes the case; ledger, decision, evidence, signal and snapshot
// rows go with it through ON DELETE CASCADE.
func (r Repo) DeleteCase(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type CaseFilters struct {
	Status          string
	AssigneeID      string
	DecisionType    string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.DecisionType != "" {
		clauses = append(clauses, "decision_type=?")
		args = append(args, f.DecisionType)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + caseColumns + ` FROM cases ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountCasesForSubmission returns how many cases link the submission.
func (r Repo) CountCasesForSubmission(ctx context.Context, tx *sql.Tx, submissionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM cases WHERE submission_id=?`, submissionID).Scan(&n)
	return n, err
}

// CountCasesByStatus returns the number of cases in each status.
func (r Repo) CountCasesByStatus(ctx context.Context) (map[domain.CaseStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM cases GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.CaseStatus]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[domain.CaseStatus(s)] = n
	}
	return counts, rows.Err()
}
