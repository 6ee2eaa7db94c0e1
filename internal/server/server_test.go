package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldplan/internal/db"
	"fieldplan/internal/domain"
	"fieldplan/internal/engine"
	"fieldplan/internal/migrate"
	"fieldplan/internal/observability"
)

type testEnv struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestEnv(t *testing.T, auth AuthConfig) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	metrics, err := observability.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	e := engine.New(conn, nil, metrics)
	_, err = e.InitProject(ctx, "demo", "Demo farm", "", "tester")
	require.NoError(t, err)

	handler, err := New(Config{Engine: e, Auth: auth, Metrics: metrics})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return testEnv{URL: srv.URL, Engine: e, client: srv.Client()}
}

func doJSON(t *testing.T, env testEnv, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := env.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type sessionView struct {
	Stage     string         `json:"stage"`
	MainArea  *domain.Shape  `json:"main_area"`
	Obstacles []domain.Shape `json:"obstacles"`
}

func coord(lat, lng float64) map[string]float64 { return map[string]float64{"lat": lat, "lng": lng} }

func polygonActions(pts ...map[string]float64) []map[string]any {
	actions := []map[string]any{{"type": "start_draw"}}
	for _, p := range pts {
		actions = append(actions, map[string]any{"type": "add_vertex", "coordinate": p})
	}
	return append(actions, map[string]any{"type": "finish_draw"})
}

func TestHealthAndOpenAPI(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	res, data := doJSON(t, env, http.MethodGet, "/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	res, data = doJSON(t, env, http.MethodGet, "/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "bearerAuth")
	assert.Contains(t, string(data), "/v1/projects/{project_id}/session/actions")
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	const n = 8
	bodies := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.client.Get(env.URL + "/v1/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			data, err := io.ReadAll(res.Body)
			bodies[i], errs[i] = string(data), err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, bodies[0], bodies[i])
	}
	assert.Contains(t, bodies[0], "bearerAuth")
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	res, data := doJSON(t, env, http.MethodPost, "/v1/projects", map[string]any{"id": "west", "name": "West block"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[ProjectResponse](t, data)
	assert.Equal(t, "West block", created.Name)

	res, data = doJSON(t, env, http.MethodPost, "/v1/projects", map[string]any{"id": "west"}, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]ProjectResponse](t, data), 2)

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/west/config", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, decode[ProjectConfigResponse](t, data).YAML, "West block")

	res, _ = doJSON(t, env, http.MethodDelete, "/v1/projects/west", nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/west", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data).Error.Code)
}

func TestSessionActionsAndPlanSave(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	actions := polygonActions(coord(0, 0), coord(0, 0.002), coord(0.002, 0.002), coord(0.002, 0))
	actions = append(actions, map[string]any{"type": "advance_stage"})
	res, data := doJSON(t, env, http.MethodPost, "/v1/projects/demo/session/actions", map[string]any{"actions": actions}, map[string]string{"X-Actor-Id": "alice"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	s := decode[sessionView](t, data)
	assert.Equal(t, "zones", s.Stage)
	require.NotNil(t, s.MainArea)

	res, data = doJSON(t, env, http.MethodPost, "/v1/projects/demo/session/actions", map[string]any{
		"actions": []map[string]any{{"type": "teleport"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, env, http.MethodPost, "/v1/projects/demo/plans", map[string]any{"note": "first cut"}, map[string]string{"X-Actor-Id": "alice"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	pv := decode[PlanVersionResponse](t, data)
	assert.Equal(t, 1, pv.Version)
	assert.Equal(t, "alice", pv.SavedBy)

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/demo/plans/1", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	got := decode[PlanVersionResponse](t, data)
	require.NotNil(t, got.Session)
	assert.Equal(t, "zones", string(got.Session.Stage))

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/demo/export.geojson?version=1", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "application/geo+json", res.Header.Get("Content-Type"))
	assert.Contains(t, string(data), "FeatureCollection")

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/demo/progress", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, string(data), `"steps"`)
}

func TestSavePlanWithoutDraftConflicts(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	res, data := doJSON(t, env, http.MethodPost, "/v1/projects/demo/plans", map[string]any{}, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Contains(t, string(data), "no_draft")
}

func TestReplaceSessionRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	res, data := doJSON(t, env, http.MethodPut, "/v1/projects/demo/session", []byte(`{"stage":"nowhere"}`), nil)
	assert.True(t, res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnprocessableEntity, string(data))

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/demo/session", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, env, http.MethodPut, "/v1/projects/demo/session", data, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestRouteAroundObstacle(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	actions := polygonActions(coord(-0.001, -0.001), coord(-0.001, 0.003), coord(0.001, 0.003), coord(0.001, -0.001))
	actions = append(actions,
		map[string]any{"type": "advance_stage"},
		map[string]any{"type": "set_draw_mode", "mode": "obstacle"},
		map[string]any{"type": "set_obstacle_category", "category": "building"},
	)
	actions = append(actions, polygonActions(coord(-0.0005, 0.0008), coord(-0.0005, 0.0012), coord(0.0005, 0.0012), coord(0.0005, 0.0008))...)
	res, data := doJSON(t, env, http.MethodPost, "/v1/projects/demo/session/actions", map[string]any{"actions": actions}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Len(t, decode[sessionView](t, data).Obstacles, 1)

	res, data = doJSON(t, env, http.MethodPost, "/v1/projects/demo/route", map[string]any{
		"start": coord(0, 0), "end": coord(0, 0.002),
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	out := decode[struct {
		Path []domain.Coordinate `json:"path"`
	}](t, data)
	require.GreaterOrEqual(t, len(out.Path), 2)
	assert.Equal(t, domain.Coordinate{Lat: 0, Lng: 0}, out.Path[0])
	assert.Equal(t, domain.Coordinate{Lat: 0, Lng: 0.002}, out.Path[len(out.Path)-1])

	res, data = doJSON(t, env, http.MethodPost, "/v1/projects/demo/route", map[string]any{
		"start": coord(95, 0), "end": coord(0, 0.002),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestHeadLossEndpoints(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	res, data := doJSON(t, env, http.MethodPost, "/v1/headloss/calculate", map[string]any{
		"loss_coefficient": "2", "pipe_length": "50", "correction_factor": "1.1",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	calc := decode[HeadLossResponse](t, data)
	assert.True(t, calc.Available)
	assert.InDelta(t, 11.0, calc.HeadLoss, 1e-9)

	res, data = doJSON(t, env, http.MethodPost, "/v1/headloss/calculate", map[string]any{
		"loss_coefficient": "abc", "pipe_length": "50",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	calc = decode[HeadLossResponse](t, data)
	assert.False(t, calc.Available)
	assert.Contains(t, calc.Errors, "loss_coefficient")

	res, data = doJSON(t, env, http.MethodPost, "/v1/projects/demo/headloss", map[string]any{
		"pipe_id": "nope", "loss_coefficient": 2, "pipe_length": 50, "correction_factor": 1.1,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Contains(t, string(data), "unknown_pipe")

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/demo/headloss", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `[]`, string(data))
}

func TestGeometryTools(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	res, data := doJSON(t, env, http.MethodPost, "/v1/geometry/distance", map[string]any{"a": coord(0, 0), "b": coord(0, 1)}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.InDelta(t, 111195, decode[DistanceResponse](t, data).Meters, 500)

	res, data = doJSON(t, env, http.MethodPost, "/v1/geometry/area", map[string]any{
		"polygon": []map[string]float64{coord(0, 0), coord(0, 2), coord(2, 2), coord(2, 0)},
		"scale":   1,
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	area := decode[AreaResponse](t, data)
	assert.InDelta(t, 4.0, area.Area, 1e-9)
	assert.InDelta(t, 4.0, area.SquareMeters, 1e-9)

	res, data = doJSON(t, env, http.MethodPost, "/v1/geometry/intersection", map[string]any{
		"p1": coord(0, 0), "p2": coord(2, 2), "p3": coord(0, 2), "p4": coord(2, 0),
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	inter := decode[IntersectionResponse](t, data)
	require.True(t, inter.Intersects)
	assert.InDelta(t, 1.0, inter.Point.Lat, 1e-9)

	res, data = doJSON(t, env, http.MethodPost, "/v1/geometry/contains", map[string]any{
		"point":   coord(1, 1),
		"polygon": []map[string]float64{coord(0, 0), coord(0, 2), coord(2, 2), coord(2, 0)},
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, decode[ContainsResponse](t, data).Inside)
}

func TestEventsPagination(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, env, http.MethodPost, "/v1/projects/demo/session/actions", map[string]any{
			"actions": []map[string]any{{"type": "advance_stage"}},
		}, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}
	res, data := doJSON(t, env, http.MethodGet, "/v1/projects/demo/events?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "session.updated", page.Items[0].Type)

	res, data = doJSON(t, env, http.MethodGet, "/v1/projects/demo/events?limit=2&cursor="+page.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	next := decode[paginatedEvents](t, data)
	require.Len(t, next.Items, 2)
	assert.Empty(t, next.NextCursor)
	assert.Equal(t, "project.init", next.Items[1].Type)

	res, _ = doJSON(t, env, http.MethodGet, "/v1/projects/demo/events?cursor=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestJWTAuth(t *testing.T) {
	secret := "s3cret"
	env := newTestEnv(t, AuthConfig{JWTSecret: secret})
	res, _ := doJSON(t, env, http.MethodGet, "/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, env, http.MethodGet, "/v1/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, _ = doJSON(t, env, http.MethodGet, "/v1/projects", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := SignToken(secret, "bob", time.Hour, time.Now())
	require.NoError(t, err)
	res, data = doJSON(t, env, http.MethodPost, "/v1/projects/demo/plans", map[string]any{}, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, env, http.MethodPost, "/v1/projects/demo/session/actions", map[string]any{
		"actions": []map[string]any{{"type": "advance_stage"}},
	}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	evts, err := env.Engine.Repo.LatestEvents(context.Background(), 1, 0, "demo", "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "bob", evts[0].ActorID)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, AuthConfig{})
	doJSON(t, env, http.MethodGet, "/v1/projects/demo", nil, nil)
	res, data := doJSON(t, env, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), `fieldplan_http_requests_total{code="200",method="GET",route="/v1/projects/{project_id}"}`), string(data))
}
