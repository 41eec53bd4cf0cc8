package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"caseline/internal/domain"
)

const eventColumns = `id,case_id,type,actor_role,actor_name,payload_json,created_at`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var evt domain.Event
		var typ, payload string
		if err := rows.Scan(&evt.ID, &evt.CaseID, &typ, &evt.ActorRole, &evt.ActorName, &payload, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.Type = domain.EventType(typ)
		evt.Payload = map[string]any{}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
				return nil, err
			}
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// ListEvents returns every event of a case oldest first.
func (r Repo) ListEvents(ctx context.Context, caseID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE case_id=? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Timeline returns the events of a case newest first, optionally limited to
// the given types.
func (r Repo) Timeline(ctx context.Context, caseID string, types []domain.EventType) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE case_id=?`
	args := []any{caseID}
	if len(types) > 0 {
		query += ` AND type IN (`
		for i, t := range types {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, string(t))
		}
		query += `)`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns up to limit events with id greater than afterID across
// all cases, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the highest event id, or zero on an empty ledger.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func countEvents(ctx context.Context, q querier, caseID string, typ domain.EventType) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE case_id=? AND type=?`, caseID, string(typ)).Scan(&n)
	return n, err
}
