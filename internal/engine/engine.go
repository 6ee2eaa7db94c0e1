package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"fieldplan/internal/config"
	"fieldplan/internal/domain"
	"fieldplan/internal/events"
	"fieldplan/internal/export"
	"fieldplan/internal/geo"
	"fieldplan/internal/headloss"
	"fieldplan/internal/logging"
	"fieldplan/internal/observability"
	"fieldplan/internal/progress"
	"fieldplan/internal/repo"
	"fieldplan/internal/route"
	"fieldplan/internal/session"
)

var (
	ErrNoDraft     = errors.New("no draft session")
	ErrUnknownPipe = errors.New("pipe not in draft session")
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Now     func() time.Time
	Log     *zap.Logger
	Metrics *observability.Metrics
}

func New(db *sql.DB, log *zap.Logger, metrics *observability.Metrics) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{Now: time.Now},
		Now:     time.Now,
		Log:     logging.OrNop(log),
		Metrics: metrics,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string { return e.now().UTC().Format(time.RFC3339) }

func (e Engine) log() *zap.Logger { return logging.OrNop(e.Log) }

func (e Engine) start(ctx context.Context, op, projectID string) (context.Context, trace.Span) {
	return otel.Tracer("fieldplan/engine").Start(ctx, "engine."+op,
		trace.WithAttributes(attribute.String("project_id", projectID)))
}

func end(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// InitProject creates the project row, its default config and the
// project.init event. An empty id is replaced by a UUID.
func (e Engine) InitProject(ctx context.Context, projectID, name, description, actorID string) (p domain.Project, err error) {
	if projectID == "" {
		projectID = uuid.NewString()
	}
	ctx, span := e.start(ctx, "InitProject", projectID)
	defer end(span, &err)
	if name == "" {
		name = projectID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p = domain.Project{
		ID:          projectID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	cfg := config.Default(p.ID)
	cfg.Project.Name = name
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectInit, p.ID, "project", p.ID, actorID, events.Payload{"name": p.Name, "status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.log().Info("project created", zap.String("project_id", p.ID), zap.String("actor_id", actorID))
	return p, nil
}

// DeleteProject removes the project and everything it owns. The
// project.deleted event outlives the project; a tombstone keeps its config
// so the outbox can still deliver it.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) (err error) {
	ctx, span := e.start(ctx, "DeleteProject", projectID)
	defer end(span, &err)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProjectTx(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectDeleted, projectID, "project", projectID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("project deleted", zap.String("project_id", projectID), zap.String("actor_id", actorID))
	return nil
}

// ProjectConfig returns the stored config, falling back to defaults for
// projects created without one.
func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return config.Default(projectID), nil
	}
	return cfg, err
}

func (e Engine) ImportConfig(ctx context.Context, projectID, actorID string, cfg *config.Config) (err error) {
	ctx, span := e.start(ctx, "ImportConfig", projectID)
	defer end(span, &err)
	if cfg == nil {
		return fmt.Errorf("config.project is required")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeConfigImported, projectID, "config", projectID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) newSession(cfg *config.Config) session.Session {
	s := session.New(cfg.SessionDefaults())
	s.Laterals.Placement = cfg.Placement()
	return s
}

// draft loads the stored session; ok is false when none has been written.
func (e Engine) draft(ctx context.Context, tx *sql.Tx, projectID string) (s session.Session, ok bool, err error) {
	payload, err := e.Repo.SessionJSON(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, err
	}
	s, err = session.Decode([]byte(payload))
	if err != nil {
		return session.Session{}, false, fmt.Errorf("decode draft: %w", err)
	}
	return s, true, nil
}

// LoadSession returns the draft, or a fresh session seeded from the
// project config when nothing has been drawn yet.
func (e Engine) LoadSession(ctx context.Context, projectID string) (session.Session, error) {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return session.Session{}, err
	}
	s, ok, err := e.draft(ctx, nil, projectID)
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		return e.newSession(cfg), nil
	}
	return s, nil
}

func (e Engine) writeSession(ctx context.Context, tx *sql.Tx, projectID, actorID string, s session.Session) error {
	data, err := session.Encode(s)
	if err != nil {
		return err
	}
	return e.Repo.UpsertSessionTx(ctx, tx, projectID, string(data), actorID, e.stamp())
}

// ApplyActions reduces the draft through actions in order and stores the
// result. Actions whose preconditions fail leave the draft unchanged.
func (e Engine) ApplyActions(ctx context.Context, projectID, actorID string, actions ...session.Action) (s session.Session, err error) {
	ctx, span := e.start(ctx, "ApplyActions", projectID)
	defer end(span, &err)
	span.SetAttributes(attribute.Int("actions", len(actions)))
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return session.Session{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return session.Session{}, err
	}
	defer tx.Rollback()

	s, ok, err := e.draft(ctx, tx, projectID)
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		s = e.newSession(cfg)
	}
	kinds := make([]string, 0, len(actions))
	for _, a := range actions {
		s = session.Reduce(s, a)
		kinds = append(kinds, a.Kind())
	}
	if err := e.writeSession(ctx, tx, projectID, actorID, s); err != nil {
		return session.Session{}, err
	}
	payload := events.Payload{"actions": kinds, "stage": s.Stage}
	if err := e.Events.Append(ctx, tx, events.TypeSessionUpdated, projectID, "session", projectID, actorID, payload); err != nil {
		return session.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return session.Session{}, err
	}
	for _, k := range kinds {
		e.Metrics.SessionAction(k)
	}
	e.log().Debug("session updated", zap.String("project_id", projectID), zap.String("actor_id", actorID), zap.Strings("actions", kinds))
	return s, nil
}

// ReplaceSession stores a client-held session wholesale after validating it.
func (e Engine) ReplaceSession(ctx context.Context, projectID, actorID string, s session.Session) (err error) {
	ctx, span := e.start(ctx, "ReplaceSession", projectID)
	defer end(span, &err)
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	if err := session.Validate(s); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.writeSession(ctx, tx, projectID, actorID, s); err != nil {
		return err
	}
	payload := events.Payload{"stage": s.Stage, "pipes": len(s.Pipes), "equipment": len(s.Equipment)}
	if err := e.Events.Append(ctx, tx, events.TypeSessionReplaced, projectID, "session", projectID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetSession discards the draft. Saved plan versions are untouched.
func (e Engine) ResetSession(ctx context.Context, projectID, actorID string) (err error) {
	ctx, span := e.start(ctx, "ResetSession", projectID)
	defer end(span, &err)
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSessionTx(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeSessionReplaced, projectID, "session", projectID, actorID, events.Payload{"reset": true}); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePlan snapshots the draft as the next immutable plan version.
func (e Engine) SavePlan(ctx context.Context, projectID, actorID, note string) (pv domain.PlanVersion, err error) {
	ctx, span := e.start(ctx, "SavePlan", projectID)
	defer end(span, &err)
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.PlanVersion{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PlanVersion{}, err
	}
	defer tx.Rollback()

	s, ok, err := e.draft(ctx, tx, projectID)
	if err != nil {
		return domain.PlanVersion{}, err
	}
	if !ok {
		return domain.PlanVersion{}, ErrNoDraft
	}
	if err := session.Validate(s); err != nil {
		return domain.PlanVersion{}, err
	}
	data, err := session.Encode(s)
	if err != nil {
		return domain.PlanVersion{}, err
	}
	version, err := e.Repo.NextPlanVersionTx(ctx, tx, projectID)
	if err != nil {
		return domain.PlanVersion{}, err
	}
	pv = domain.PlanVersion{
		ProjectID:   projectID,
		Version:     version,
		Note:        note,
		SessionJSON: string(data),
		SavedBy:     actorID,
		SavedAt:     e.stamp(),
	}
	if err := e.Repo.InsertPlanVersionTx(ctx, tx, pv); err != nil {
		return domain.PlanVersion{}, fmt.Errorf("insert plan version: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypePlanSaved, projectID, "plan", fmt.Sprint(version), actorID, events.Payload{"version": version, "note": note}); err != nil {
		return domain.PlanVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PlanVersion{}, err
	}
	e.Metrics.PlanSaved()
	e.log().Info("plan saved", zap.String("project_id", projectID), zap.String("actor_id", actorID), zap.Int("version", version))
	return pv, nil
}

func (e Engine) ListPlanVersions(ctx context.Context, projectID string) ([]domain.PlanVersion, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListPlanVersions(ctx, projectID)
}

func (e Engine) GetPlanVersion(ctx context.Context, projectID string, version int) (domain.PlanVersion, error) {
	return e.Repo.GetPlanVersion(ctx, projectID, version)
}

// PlanSession decodes a saved version; version 0 means the current draft.
func (e Engine) PlanSession(ctx context.Context, projectID string, version int) (session.Session, error) {
	if version == 0 {
		return e.LoadSession(ctx, projectID)
	}
	pv, err := e.Repo.GetPlanVersion(ctx, projectID, version)
	if err != nil {
		return session.Session{}, err
	}
	return session.Decode([]byte(pv.SessionJSON))
}

// RecordHeadLoss validates inputs against the project's limits and appends
// an immutable record for a pipe of the draft. An empty zoneID defaults to
// the pipe's zone.
func (e Engine) RecordHeadLoss(ctx context.Context, projectID, actorID, pipeID, zoneID string, in headloss.Inputs) (rec domain.HeadLossRecord, err error) {
	ctx, span := e.start(ctx, "RecordHeadLoss", projectID)
	defer end(span, &err)
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return domain.HeadLossRecord{}, err
	}
	if pipeID == "" {
		return domain.HeadLossRecord{}, &headloss.FieldError{Field: "pipe_id", Message: "required"}
	}
	limits := cfg.HeadLossLimits()
	if err := limits.Validate(in); err != nil {
		return domain.HeadLossRecord{}, err
	}
	value, _ := limits.Compute(in)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.HeadLossRecord{}, err
	}
	defer tx.Rollback()
	s, _, err := e.draft(ctx, tx, projectID)
	if err != nil {
		return domain.HeadLossRecord{}, err
	}
	pipe, ok := s.Pipe(pipeID)
	if !ok {
		return domain.HeadLossRecord{}, fmt.Errorf("%w: %s", ErrUnknownPipe, pipeID)
	}
	if zoneID == "" {
		zoneID = pipe.ZoneID
	}
	rec = domain.HeadLossRecord{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		PipeID:           pipeID,
		ZoneID:           zoneID,
		LossCoefficient:  in.LossCoefficient,
		PipeLength:       in.PipeLength,
		CorrectionFactor: in.CorrectionFactor,
		HeadLoss:         value,
		ActorID:          actorID,
		CreatedAt:        e.now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.Repo.InsertHeadLossTx(ctx, tx, rec); err != nil {
		return domain.HeadLossRecord{}, fmt.Errorf("insert head-loss record: %w", err)
	}
	payload := events.Payload{"pipe_id": pipeID, "zone_id": zoneID, "head_loss": value}
	if err := e.Events.Append(ctx, tx, events.TypeHeadLossRecorded, projectID, "headloss", rec.ID, actorID, payload); err != nil {
		return domain.HeadLossRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.HeadLossRecord{}, err
	}
	e.Metrics.HeadLossRecorded()
	return rec, nil
}

func (e Engine) ListHeadLoss(ctx context.Context, projectID, pipeID string) ([]domain.HeadLossRecord, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListHeadLoss(ctx, projectID, pipeID)
}

func (e Engine) Progress(ctx context.Context, projectID string) (progress.Summary, error) {
	s, err := e.LoadSession(ctx, projectID)
	if err != nil {
		return progress.Summary{}, err
	}
	return progress.Summarize(s), nil
}

// RoutePipe plans a pipe between two points around the draft's obstacles
// using the project's routing config.
func (e Engine) RoutePipe(ctx context.Context, projectID string, start, finish domain.Coordinate) (res route.Result, err error) {
	ctx, span := e.start(ctx, "RoutePipe", projectID)
	defer end(span, &err)
	for _, c := range []domain.Coordinate{start, finish} {
		if err := geo.ValidateCoordinate(c); err != nil {
			return route.Result{}, err
		}
	}
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return route.Result{}, err
	}
	s, err := e.LoadSession(ctx, projectID)
	if err != nil {
		return route.Result{}, err
	}
	res = cfg.Router().Plan(start, finish, s.ObstaclePolygons())
	span.SetAttributes(attribute.Bool("blocked", res.Blocked), attribute.Bool("fallback", res.Fallback))
	if res.Detoured {
		e.Metrics.Detour(string(res.Direction))
	}
	if res.Fallback {
		e.log().Warn("no detour clears obstacles", zap.String("project_id", projectID),
			zap.Stringer("start", start), zap.Stringer("end", finish))
	}
	return res, nil
}

// ExportGeoJSON renders a plan version, or the draft for version 0.
func (e Engine) ExportGeoJSON(ctx context.Context, projectID string, version int) ([]byte, error) {
	s, err := e.PlanSession(ctx, projectID, version)
	if err != nil {
		return nil, err
	}
	return export.Marshal(s)
}

// ImportGeoJSON commits polygons from a FeatureCollection to the draft.
// Features without a category property get def.
func (e Engine) ImportGeoJSON(ctx context.Context, projectID, actorID string, data []byte, def domain.ShapeCategory) (session.Session, error) {
	shapes, err := export.ParseShapes(data, def)
	if err != nil {
		return session.Session{}, err
	}
	return e.ApplyActions(ctx, projectID, actorID, session.ImportShapes{Shapes: shapes})
}
