package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

func (r Repo) InsertEvidence(ctx context.Context, tx *sql.Tx, ev domain.Evidence) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidence(id,case_id,filename,content_type,sha256,size_bytes,uri,attached_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.CaseID, ev.Filename, nullable(ev.ContentType), nullable(ev.SHA256), ev.SizeBytes, nullable(ev.URI), ev.AttachedBy, ev.CreatedAt)
	return err
}

// ListEvidence returns the attached evidence of a case, excluding soft-deleted items.
func (r Repo) ListEvidence(ctx context.Context, caseID string) ([]domain.Evidence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,filename,COALESCE(content_type,''),COALESCE(sha256,''),size_bytes,COALESCE(uri,''),attached_by,created_at
FROM evidence WHERE case_id=? AND deleted_at IS NULL ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Evidence{}
	for rows.Next() {
		var ev domain.Evidence
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.Filename, &ev.ContentType, &ev.SHA256, &ev.SizeBytes, &ev.URI, &ev.AttachedBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// SoftDeleteEvidence marks an evidence item deleted. Deleted items stay in the
// table for audit.
func (r Repo) SoftDeleteEvidence(ctx context.Context, tx *sql.Tx, caseID, id, deletedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE evidence SET deleted_at=? WHERE id=? AND case_id=? AND deleted_at IS NULL`, deletedAt, id, caseID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func countEvidence(ctx context.Context, q querier, caseID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM evidence WHERE case_id=? AND deleted_at IS NULL`, caseID).Scan(&n)
	return n, err
}
