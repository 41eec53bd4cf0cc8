package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"caseline/internal/domain"
)

func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	details, err := marshalJSON(d.Details, "{}")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO decisions(id,case_id,value,reason,details_json,decider_role,decider_name,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.CaseID, string(d.Value), d.Reason, details, d.DeciderRole, d.DeciderName, d.CreatedAt)
	return err
}

// ListDecisions returns the decision history of a case, oldest first. The
// last element is the current decision.
func (r Repo) ListDecisions(ctx context.Context, caseID string) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,value,reason,details_json,decider_role,decider_name,created_at FROM decisions WHERE case_id=? ORDER BY created_at ASC, rowid ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Decision{}
	for rows.Next() {
		var d domain.Decision
		var value, details string
		if err := rows.Scan(&d.ID, &d.CaseID, &value, &d.Reason, &details, &d.DeciderRole, &d.DeciderName, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Value = domain.DecisionValue(value)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &d.Details); err != nil {
				return nil, err
			}
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CurrentDecision returns the latest decision of a case.
func (r Repo) CurrentDecision(ctx context.Context, caseID string) (domain.Decision, error) {
	all, err := r.ListDecisions(ctx, caseID)
	if err != nil {
		return domain.Decision{}, err
	}
	if len(all) == 0 {
		return domain.Decision{}, ErrNotFound
	}
	return all[len(all)-1], nil
}
