package repo

import (
	"context"
	"database/sql"
	"errors"

	"fieldplan/internal/domain"
)

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

// SessionJSON returns the stored draft session. tx may be nil.
func (r Repo) SessionJSON(ctx context.Context, tx *sql.Tx, projectID string) (string, error) {
	var payload string
	err := r.q(tx).QueryRowContext(ctx, `SELECT session_json FROM sessions WHERE project_id=?`, projectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return payload, err
}

func (r Repo) UpsertSessionTx(ctx context.Context, tx *sql.Tx, projectID, sessionJSON, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(project_id,session_json,updated_by,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET session_json=excluded.session_json, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		projectID, sessionJSON, actorID, now)
	return err
}

func (r Repo) DeleteSessionTx(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE project_id=?`, projectID)
	return err
}

// NextPlanVersionTx returns max(version)+1 for the project.
func (r Repo) NextPlanVersionTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var v int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM plan_versions WHERE project_id=?`, projectID).Scan(&v)
	return v, err
}

func (r Repo) InsertPlanVersionTx(ctx context.Context, tx *sql.Tx, pv domain.PlanVersion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plan_versions(project_id,version,note,session_json,saved_by,saved_at) VALUES (?,?,?,?,?,?)`,
		pv.ProjectID, pv.Version, pv.Note, pv.SessionJSON, pv.SavedBy, pv.SavedAt)
	return err
}

// ListPlanVersions returns version metadata newest first; SessionJSON is left empty.
func (r Repo) ListPlanVersions(ctx context.Context, projectID string) ([]domain.PlanVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,version,note,saved_by,saved_at FROM plan_versions WHERE project_id=? ORDER BY version DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanVersion
	for rows.Next() {
		var pv domain.PlanVersion
		if err := rows.Scan(&pv.ProjectID, &pv.Version, &pv.Note, &pv.SavedBy, &pv.SavedAt); err != nil {
			return nil, err
		}
		res = append(res, pv)
	}
	return res, rows.Err()
}

func (r Repo) GetPlanVersion(ctx context.Context, projectID string, version int) (domain.PlanVersion, error) {
	var pv domain.PlanVersion
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,version,note,session_json,saved_by,saved_at FROM plan_versions WHERE project_id=? AND version=?`,
		projectID, version).Scan(&pv.ProjectID, &pv.Version, &pv.Note, &pv.SessionJSON, &pv.SavedBy, &pv.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pv, ErrNotFound
	}
	return pv, err
}

func (r Repo) InsertHeadLossTx(ctx context.Context, tx *sql.Tx, rec domain.HeadLossRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO headloss_records(id,project_id,pipe_id,zone_id,loss_coefficient,pipe_length,correction_factor,head_loss,actor_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.ProjectID, rec.PipeID, nullable(rec.ZoneID), rec.LossCoefficient, rec.PipeLength, rec.CorrectionFactor, rec.HeadLoss, rec.ActorID, rec.CreatedAt)
	return err
}

// ListHeadLoss returns records oldest first, optionally for one pipe.
func (r Repo) ListHeadLoss(ctx context.Context, projectID, pipeID string) ([]domain.HeadLossRecord, error) {
	query := `SELECT id,project_id,pipe_id,COALESCE(zone_id,''),loss_coefficient,pipe_length,correction_factor,head_loss,actor_id,created_at
FROM headloss_records WHERE project_id=?`
	args := []any{projectID}
	if pipeID != "" {
		query += ` AND pipe_id=?`
		args = append(args, pipeID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HeadLossRecord
	for rows.Next() {
		var rec domain.HeadLossRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.PipeID, &rec.ZoneID, &rec.LossCoefficient, &rec.PipeLength,
			&rec.CorrectionFactor, &rec.HeadLoss, &rec.ActorID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
