package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"caseline/internal/domain"
)

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	form, err := marshalJSON(s.Fields, "{}")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO submissions(id,decision_type,submitter,form_json,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.DecisionType, s.Submitter, form, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	return getSubmission(ctx, r.DB, id)
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	return getSubmission(ctx, tx, id)
}

func getSubmission(ctx context.Context, q querier, id string) (domain.Submission, error) {
	var s domain.Submission
	var form string
	err := q.QueryRowContext(ctx, `SELECT id,decision_type,submitter,form_json,created_at,updated_at FROM submissions WHERE id=?`, id).
		Scan(&s.ID, &s.DecisionType, &s.Submitter, &form, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Fields = map[string]string{}
	if form != "" {
		if err := json.Unmarshal([]byte(form), &s.Fields); err != nil {
			return s, fmt.Errorf("decode form for submission %s: %w", id, err)
		}
	}
	return s, nil
}

func (r Repo) UpdateSubmissionFields(ctx context.Context, tx *sql.Tx, id string, fields map[string]string, updatedAt string) error {
	form, err := marshalJSON(fields, "{}")
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE submissions SET form_json=?, updated_at=? WHERE id=?`, form, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
