package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caseline/internal/domain"
)

// Writer appends ledger rows. It only ever inserts; callers own the
// transaction so the event commits or rolls back with the aggregate change.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, caseID string, evtType domain.EventType, actor domain.Actor, payload EventPayload) (domain.Event, error) {
	if tx == nil {
		return domain.Event{}, errors.New("events: transaction required")
	}
	if caseID == "" {
		return domain.Event{}, errors.New("events: case id required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	ts := domain.FormatTime(now())
	res, err := tx.ExecContext(ctx, `INSERT INTO events(case_id,type,actor_role,actor_name,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		caseID, string(evtType), actor.Role, actor.Name, string(data), ts)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append %s event: %w", evtType, err)
	}
	id, _ := res.LastInsertId()
	return domain.Event{
		ID:        id,
		CaseID:    caseID,
		Type:      evtType,
		ActorRole: actor.Role,
		ActorName: actor.Name,
		Payload:   payload,
		CreatedAt: ts,
	}, nil
}
