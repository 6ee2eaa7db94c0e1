package fieldplansdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	Method string
	Path   string
	Query  string
	Actor  string
	Auth   string
	Body   map[string]any
}

func newRecorder(t *testing.T, status int, reply string) (*httptest.Server, *[]captured) {
	t.Helper()
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c := captured{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Actor: r.Header.Get("X-Actor-Id"), Auth: r.Header.Get("Authorization")}
		if len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &c.Body))
		}
		calls = append(calls, c)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCreateProjectAdoptsGeneratedID(t *testing.T) {
	srv, calls := newRecorder(t, http.StatusCreated, `{"id":"gen-1","name":"Farm","status":"active","created_at":"2024-01-01T00:00:00Z"}`)
	c := New(srv.URL+"/", "")
	c.ActorID = "alice"
	p, err := c.CreateProject(context.Background(), "Farm", "")
	require.NoError(t, err)
	assert.Equal(t, "gen-1", p.ID)
	assert.Equal(t, "gen-1", c.ProjectID)
	require.Len(t, *calls, 1)
	assert.Equal(t, "/v1/projects", (*calls)[0].Path)
	assert.Equal(t, "alice", (*calls)[0].Actor)
}

func TestApplyActionsSendsEnvelopes(t *testing.T) {
	srv, calls := newRecorder(t, http.StatusOK, `{"stage":"field"}`)
	c := New(srv.URL, "demo")
	c.BearerToken = "tok"
	s, err := c.ApplyActions(context.Background(),
		Action{"type": "start_draw"},
		Action{"type": "add_vertex", "coordinate": Coordinate{Lat: 1, Lng: 2}},
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"field"}`, string(s))

	got := (*calls)[0]
	assert.Equal(t, "/v1/projects/demo/session/actions", got.Path)
	assert.Equal(t, "Bearer tok", got.Auth)
	want := map[string]any{"actions": []any{
		map[string]any{"type": "start_draw"},
		map[string]any{"type": "add_vertex", "coordinate": map[string]any{"lat": 1.0, "lng": 2.0}},
	}}
	if diff := cmp.Diff(want, got.Body); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestPushSessionSendsRawJSON(t *testing.T) {
	srv, calls := newRecorder(t, http.StatusOK, `{"stage":"zones"}`)
	c := New(srv.URL, "demo")
	_, err := c.PushSession(context.Background(), Session(`{"stage":"zones"}`))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, (*calls)[0].Method)
	assert.Equal(t, "zones", (*calls)[0].Body["stage"])
}

func TestEventsPageQuery(t *testing.T) {
	srv, calls := newRecorder(t, http.StatusOK, `{"items":[{"id":3,"type":"plan.saved"}],"next_cursor":"3"}`)
	c := New(srv.URL, "demo")
	page, err := c.EventsPage(context.Background(), 1, "9")
	require.NoError(t, err)
	assert.Equal(t, "3", page.NextCursor)
	assert.Equal(t, "cursor=9&limit=1", (*calls)[0].Query)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv, _ := newRecorder(t, http.StatusConflict, `{"error":{"code":"no_draft","message":"nothing to save"}}`)
	c := New(srv.URL, "demo")
	_, err := c.SavePlan(context.Background(), "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "no_draft", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "no_draft")
}
