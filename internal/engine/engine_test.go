package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldplan/internal/config"
	"fieldplan/internal/db"
	"fieldplan/internal/domain"
	"fieldplan/internal/engine"
	"fieldplan/internal/headloss"
	"fieldplan/internal/migrate"
	"fieldplan/internal/observability"
	"fieldplan/internal/repo"
	"fieldplan/internal/route"
	"fieldplan/internal/session"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	metrics, err := observability.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	eng := engine.New(conn, nil, metrics)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Events.Now = eng.Now
	if _, err := eng.InitProject(ctx, "proj-1", "North field", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func c(lat, lng float64) domain.Coordinate { return domain.Coordinate{Lat: lat, Lng: lng} }

var field = []domain.Coordinate{c(-0.001, -0.001), c(-0.001, 0.002), c(0.001, 0.002), c(0.001, -0.001)}

func drawActions(pts ...domain.Coordinate) []session.Action {
	actions := []session.Action{session.StartDraw{}}
	for _, p := range pts {
		actions = append(actions, session.AddVertex{At: p})
	}
	return append(actions, session.FinishDraw{})
}

// drawField commits the main area and moves to the zones stage.
func drawField(t *testing.T, env testEnv) session.Session {
	t.Helper()
	actions := append(drawActions(field...), session.AdvanceStage{})
	s, err := env.Engine.ApplyActions(env.Ctx, "proj-1", "tester", actions...)
	require.NoError(t, err)
	require.NotNil(t, s.MainArea)
	return s
}

func eventTypes(t *testing.T, env testEnv) []string {
	t.Helper()
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var res []string
	for rows.Next() {
		var typ string
		require.NoError(t, rows.Scan(&typ))
		res = append(res, typ)
	}
	return res
}

func TestInitProjectSeedsConfigAndEvent(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "North field", p.Name)
	assert.Equal(t, "2024-01-01T00:00:00Z", p.CreatedAt)

	cfg, err := env.Engine.ProjectConfig(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "North field", cfg.Project.Name)
	assert.Equal(t, []string{"project.init"}, eventTypes(t, env))

	_, err = env.Engine.InitProject(env.Ctx, "proj-1", "", "", "tester")
	assert.Error(t, err)

	generated, err := env.Engine.InitProject(env.Ctx, "", "", "", "tester")
	require.NoError(t, err)
	assert.Len(t, generated.ID, 36)
	assert.Equal(t, generated.ID, generated.Name)
}

func TestImportConfigRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default("proj-1")
	cfg.Layout.PlantSpacingM = 0
	err := env.Engine.ImportConfig(env.Ctx, "proj-1", "tester", cfg)
	assert.ErrorContains(t, err, "config.layout.plant_spacing_m")

	stored, err := env.Engine.ProjectConfig(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Greater(t, stored.Layout.PlantSpacingM, 0.0)
	assert.NotContains(t, eventTypes(t, env), "project.config_imported")
}

func TestLoadSessionUsesConfigDefaults(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default("proj-1")
	cfg.Pipes.DiameterMM.Main = 90
	cfg.Layout.Placement = "between_plants"
	require.NoError(t, env.Engine.ImportConfig(env.Ctx, "proj-1", "tester", cfg))

	s, err := env.Engine.LoadSession(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, session.StageField, s.Stage)
	assert.Equal(t, 90.0, s.Defaults.MainDiameterMM)
	assert.EqualValues(t, "between_plants", s.Laterals.Placement)

	_, err = env.Engine.LoadSession(env.Ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestApplyActionsPersistsDraft(t *testing.T) {
	env := newTestEnv(t)
	drawField(t, env)

	s, err := env.Engine.LoadSession(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, session.StageZones, s.Stage)
	require.NotNil(t, s.MainArea)
	assert.Len(t, s.MainArea.Coordinates, 4)

	var payload string
	require.NoError(t, env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT payload_json FROM events WHERE type='session.updated'`).Scan(&payload))
	assert.Contains(t, payload, `"finish_draw"`)
	assert.Equal(t, 4.0, testutil.ToFloat64(env.Engine.Metrics.SessionActions.WithLabelValues("add_vertex")))
}

func TestApplyActionsUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ApplyActions(env.Ctx, "nope", "tester", session.AdvanceStage{})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestReplaceSessionValidates(t *testing.T) {
	env := newTestEnv(t)
	s := session.New(session.DefaultDefaults())
	s.Equipment = []domain.Equipment{
		{ID: "a", Type: domain.EquipmentPump},
		{ID: "b", Type: domain.EquipmentPump},
	}
	err := env.Engine.ReplaceSession(env.Ctx, "proj-1", "tester", s)
	var inv *session.InvariantError
	require.ErrorAs(t, err, &inv)

	s.Equipment = s.Equipment[:1]
	require.NoError(t, env.Engine.ReplaceSession(env.Ctx, "proj-1", "tester", s))
	got, err := env.Engine.LoadSession(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Len(t, got.Equipment, 1)

	require.NoError(t, env.Engine.ResetSession(env.Ctx, "proj-1", "tester"))
	got, err = env.Engine.LoadSession(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, got.Equipment)
}

func TestSavePlanVersions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SavePlan(env.Ctx, "proj-1", "tester", "empty")
	assert.ErrorIs(t, err, engine.ErrNoDraft)

	drawField(t, env)
	v1, err := env.Engine.SavePlan(env.Ctx, "proj-1", "tester", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	_, err = env.Engine.ApplyActions(env.Ctx, "proj-1", "tester", session.AdvanceStage{})
	require.NoError(t, err)
	v2, err := env.Engine.SavePlan(env.Ctx, "proj-1", "tester", "second")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	list, err := env.Engine.ListPlanVersions(env.Ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Version)
	assert.Empty(t, list[0].SessionJSON)

	old, err := env.Engine.PlanSession(env.Ctx, "proj-1", 1)
	require.NoError(t, err)
	assert.Equal(t, session.StageZones, old.Stage)
	cur, err := env.Engine.PlanSession(env.Ctx, "proj-1", 0)
	require.NoError(t, err)
	assert.Equal(t, session.StagePipes, cur.Stage)

	_, err = env.Engine.GetPlanVersion(env.Ctx, "proj-1", 9)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.Engine.Metrics.PlansSaved))
}

func TestRecordHeadLoss(t *testing.T) {
	env := newTestEnv(t)
	drawField(t, env)
	s, err := env.Engine.ApplyActions(env.Ctx, "proj-1", "tester",
		append([]session.Action{session.AdvanceStage{}}, drawActions(c(0, 0), c(0, 0.0009))...)...)
	require.NoError(t, err)
	require.Len(t, s.Pipes, 1)
	pipeID := s.Pipes[0].ID

	in := headloss.Inputs{LossCoefficient: 2, PipeLength: 50, CorrectionFactor: 1.1}
	rec, err := env.Engine.RecordHeadLoss(env.Ctx, "proj-1", "tester", pipeID, "", in)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, rec.HeadLoss, 1e-9)
	assert.NotEmpty(t, rec.ID)

	_, err = env.Engine.RecordHeadLoss(env.Ctx, "proj-1", "tester", "pipe-404", "", in)
	assert.ErrorIs(t, err, engine.ErrUnknownPipe)

	_, err = env.Engine.RecordHeadLoss(env.Ctx, "proj-1", "tester", pipeID, "", headloss.Inputs{LossCoefficient: 2, PipeLength: 0, CorrectionFactor: 1})
	var fe *headloss.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, headloss.FieldPipeLength, fe.Field)

	records, err := env.Engine.ListHeadLoss(env.Ctx, "proj-1", pipeID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)

	_, err = env.Engine.DB.ExecContext(env.Ctx, `UPDATE headloss_records SET head_loss=0`)
	assert.ErrorContains(t, err, "immutable")
}

func TestRoutePipe(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default("proj-1")
	cfg.Routing.Probe = "midpoint"
	cfg.Routing.Offset = 0.0005
	require.NoError(t, env.Engine.ImportConfig(env.Ctx, "proj-1", "tester", cfg))

	drawField(t, env)
	box := []domain.Coordinate{c(-0.0001, 0.0004), c(-0.0001, 0.0006), c(0.0001, 0.0006), c(0.0001, 0.0004)}
	actions := append([]session.Action{session.SetDrawMode{Mode: session.DrawObstacle}}, drawActions(box...)...)
	s, err := env.Engine.ApplyActions(env.Ctx, "proj-1", "tester", actions...)
	require.NoError(t, err)
	require.Len(t, s.Obstacles, 1)

	res, err := env.Engine.RoutePipe(env.Ctx, "proj-1", c(0, 0), c(0, 0.001))
	require.NoError(t, err)
	assert.True(t, res.Detoured)
	assert.Equal(t, route.DirectionNorth, res.Direction)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.Engine.Metrics.RouteDetours.WithLabelValues("north")))

	_, err = env.Engine.RoutePipe(env.Ctx, "proj-1", c(95, 0), c(0, 0))
	assert.Error(t, err)
}

func TestExportAndImportGeoJSON(t *testing.T) {
	env := newTestEnv(t)
	drawField(t, env)
	data, err := env.Engine.ExportGeoJSON(env.Ctx, "proj-1", 0)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)

	other, err := env.Engine.InitProject(env.Ctx, "proj-2", "", "", "tester")
	require.NoError(t, err)
	s, err := env.Engine.ImportGeoJSON(env.Ctx, other.ID, "tester", data, domain.CategoryZone)
	require.NoError(t, err)
	require.NotNil(t, s.MainArea)
	assert.Len(t, s.MainArea.Coordinates, 4)
}

func TestDeleteProjectKeepsEvent(t *testing.T) {
	env := newTestEnv(t)
	drawField(t, env)
	require.NoError(t, env.Engine.DeleteProject(env.Ctx, "proj-1", "tester"))
	_, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	assert.Equal(t, []string{"project.init", "session.updated", "project.deleted"}, eventTypes(t, env))

	assert.ErrorIs(t, env.Engine.DeleteProject(env.Ctx, "proj-1", "tester"), repo.ErrNotFound)
}

func TestProgressFollowsDraft(t *testing.T) {
	env := newTestEnv(t)
	sum, err := env.Engine.Progress(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Completed)

	drawField(t, env)
	sum, err = env.Engine.Progress(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
}
