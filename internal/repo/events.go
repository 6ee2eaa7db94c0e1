package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldplan/internal/config"
	"fieldplan/internal/domain"
)

const eventCols = `id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first. A cursor > 0 pages to IDs below it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, projectID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventCols, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventCols+` FROM events WHERE project_id=? AND id>? ORDER BY id ASC LIMIT ?`,
		projectID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID).Scan(&id)
	return id, err
}

// SinkCursor returns the last event delivered to a sink, or ErrNotFound when
// the sink has never run for the project.
func (r Repo) SinkCursor(ctx context.Context, sinkID, projectID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM sink_cursors WHERE sink_id=? AND project_id=?`, sinkID, projectID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) SetSinkCursor(ctx context.Context, sinkID, projectID string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sink_cursors(sink_id,project_id,last_event_id,updated_at) VALUES (?,?,?,?)
ON CONFLICT(sink_id,project_id) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`,
		sinkID, projectID, eventID, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Tombstone is a deleted project whose events may still be undelivered.
type Tombstone struct {
	ProjectID string
	Config    *config.Config
}

func (r Repo) Tombstones(ctx context.Context) ([]Tombstone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id, config_yaml FROM project_tombstones ORDER BY deleted_at, project_id`)
	if err != nil {
		return nil, err
	}
	type row struct{ id, payload string }
	var raw []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.payload); err != nil {
			rows.Close()
			return nil, err
		}
		raw = append(raw, rw)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]Tombstone, 0, len(raw))
	for _, rw := range raw {
		cfg, err := config.FromYAML([]byte(rw.payload))
		if err != nil {
			return nil, fmt.Errorf("tombstone %s: %w", rw.id, err)
		}
		res = append(res, Tombstone{ProjectID: rw.id, Config: cfg})
	}
	return res, nil
}

// ClearTombstone forgets a deleted project and its sink cursors. Cursors are
// kept when a project with the same ID exists again.
func (r Repo) ClearTombstone(ctx context.Context, projectID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_tombstones WHERE project_id=?`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sink_cursors WHERE project_id=? AND NOT EXISTS (SELECT 1 FROM projects WHERE id=?)`, projectID, projectID); err != nil {
		return err
	}
	return tx.Commit()
}
