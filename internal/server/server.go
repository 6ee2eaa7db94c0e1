package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"fieldplan/internal/domain"
	"fieldplan/internal/engine"
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

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
	Metrics  *observability.Metrics
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// output wraps a response body for huma.
type output[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *output[T] { return &output[T]{Body: v} }

type projectPath struct {
	ProjectID string `path:"project_id"`
}

// New returns an HTTP handler exposing the fieldplan API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := logging.OrNop(cfg.Log)
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(observe(log, cfg.Metrics))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Fieldplan API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", cfg.Metrics.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerSession(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerRoute(group, cfg.Engine)
	registerHeadLoss(group, cfg.Engine)
	registerGeometry(group)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// observe records metrics, a server span and an access log line per request.
func observe(log *zap.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	tracer := otel.Tracer("fieldplan/server")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			pattern := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				pattern = rctx.RoutePattern()
			}
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(attribute.String("http.route", pattern), attribute.Int("http.status_code", status))
			elapsed := time.Since(start)
			metrics.ObserveHTTP(r.Method, pattern, status, elapsed)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var inv *session.InvariantError
	if errors.As(err, &inv) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_session", err.Error(), map[string]any{"problems": inv.Problems})
	}
	var fe *headloss.FieldError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusBadRequest, "invalid_input", err.Error(), map[string]any{"field": fe.Field})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrNoDraft):
		return newAPIError(http.StatusConflict, "no_draft", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownPipe):
		return newAPIError(http.StatusUnprocessableEntity, "unknown_pipe", err.Error(), nil)
	case errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, session.ErrUnknownAction),
		errors.Is(err, export.ErrNoShapes):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", "already exists", nil)
	case strings.Contains(lowered, "immutable"):
		return newAPIError(http.StatusConflict, "immutable", msg, nil)
	case strings.HasPrefix(lowered, "config."),
		strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Fieldplan API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; when the server has a JWT secret, otherwise send X-Actor-Id.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return respond(map[string]string{"status": "ok"}), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*output[ProjectResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.InitProject(ctx, strings.TrimSpace(input.Body.ID), input.Body.Name, input.Body.Description, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(projectResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*output[[]ProjectResponse], error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapProjects(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[ProjectResponse], error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(projectResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ProjectID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[ProjectConfigResponse], error) {
		cfg, err := e.ProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := configResponse(input.ProjectID, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})
}

func registerSession(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/session",
		Summary:     "Get the draft session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[session.Session], error) {
		s, err := e.LoadSession(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-session",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/session",
		Summary:     "Replace the draft session",
		Description: "Stores a client-held session wholesale. The session must satisfy the committed-state invariants.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		RawBody   []byte `contentType:"application/json"`
	}) (*output[session.Session], error) {
		if len(bytes.TrimSpace(input.RawBody)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		s, err := session.Decode(input.RawBody)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if err := e.ReplaceSession(ctx, input.ProjectID, actorFromContext(ctx), s); err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-session-actions",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/session/actions",
		Summary:     "Apply drawing actions",
		Description: "Actions are applied in order. An action whose preconditions do not hold is ignored.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      ApplyActionsRequest `json:"body"`
	}) (*output[session.Session], error) {
		actions, err := session.DecodeAll(input.Body.Actions)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_action", err.Error(), nil)
		}
		s, err := e.ApplyActions(ctx, input.ProjectID, actorFromContext(ctx), actions...)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-session-geojson",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/session/geojson",
		Summary:     "Import polygons from GeoJSON",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Category  string `query:"category" enum:"field,river,building,power_plant,zone" default:"zone"`
		RawBody   []byte `contentType:"application/geo+json"`
	}) (*output[session.Session], error) {
		s, err := e.ImportGeoJSON(ctx, input.ProjectID, actorFromContext(ctx), input.RawBody, domain.ShapeCategory(input.Category))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "save-plan",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/plans",
		Summary:       "Save the draft as a new plan version",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      SavePlanRequest `json:"body"`
	}) (*output[PlanVersionResponse], error) {
		pv, err := e.SavePlan(ctx, input.ProjectID, actorFromContext(ctx), input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(planResponse(pv, nil)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/plans",
		Summary:     "List plan versions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]PlanVersionResponse], error) {
		items, err := e.ListPlanVersions(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]PlanVersionResponse, 0, len(items))
		for _, pv := range items {
			res = append(res, planResponse(pv, nil))
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/plans/{version}",
		Summary:     "Get a plan version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Version   int    `path:"version" minimum:"1"`
	}) (*output[PlanVersionResponse], error) {
		pv, err := e.GetPlanVersion(ctx, input.ProjectID, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := session.Decode([]byte(pv.SessionJSON))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(planResponse(pv, &s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-geojson",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/export.geojson",
		Summary:     "Export a plan as GeoJSON",
		Description: "version=0 exports the draft.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Version   int    `query:"version" minimum:"0"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		data, err := e.ExportGeoJSON(ctx, input.ProjectID, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "application/geo+json", Body: data}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Workflow progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[progress.Summary], error) {
		sum, err := e.Progress(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sum), nil
	})
}

func registerRoute(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "route-pipe",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/route",
		Summary:     "Route a pipe around the draft's obstacles",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      RouteRequest `json:"body"`
	}) (*output[route.Result], error) {
		res, err := e.RoutePipe(ctx, input.ProjectID, input.Body.Start, input.Body.End)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})
}

func registerHeadLoss(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-headloss",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/headloss",
		Summary:       "Record a head-loss calculation for a pipe",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      RecordHeadLossRequest `json:"body"`
	}) (*output[domain.HeadLossRecord], error) {
		in := headloss.Inputs{
			LossCoefficient:  input.Body.LossCoefficient,
			PipeLength:       input.Body.PipeLength,
			CorrectionFactor: input.Body.CorrectionFactor,
		}
		rec, err := e.RecordHeadLoss(ctx, input.ProjectID, actorFromContext(ctx), input.Body.PipeID, input.Body.ZoneID, in)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-headloss",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/headloss",
		Summary:     "List head-loss records",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		PipeID    string `query:"pipe_id"`
	}) (*output[[]domain.HeadLossRecord], error) {
		items, err := e.ListHeadLoss(ctx, input.ProjectID, input.PipeID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "calculate-headloss",
		Method:      http.MethodPost,
		Path:        "/headloss/calculate",
		Summary:     "Evaluate the head-loss form",
		Description: "Each field is parsed and range-checked independently; the result is available only when all three are valid.",
	}, func(ctx context.Context, input *struct {
		Body CalculateHeadLossRequest `json:"body"`
	}) (*output[HeadLossResponse], error) {
		form := headloss.NewForm(headloss.DefaultLimits())
		_ = form.Set(headloss.FieldLossCoefficient, input.Body.LossCoefficient)
		_ = form.Set(headloss.FieldPipeLength, input.Body.PipeLength)
		_ = form.Set(headloss.FieldCorrectionFactor, input.Body.CorrectionFactor)
		value, ok := form.Result()
		res := HeadLossResponse{HeadLoss: value, Available: ok}
		for field, err := range form.Errors() {
			if res.Errors == nil {
				res.Errors = map[string]string{}
			}
			res.Errors[string(field)] = err.Error()
		}
		return respond(res), nil
	})
}

func registerGeometry(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "geometry-distance",
		Method:      http.MethodPost,
		Path:        "/geometry/distance",
		Summary:     "Great-circle distance in meters",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DistanceRequest `json:"body"`
	}) (*output[DistanceResponse], error) {
		for _, c := range []domain.Coordinate{input.Body.A, input.Body.B} {
			if err := geo.ValidateCoordinate(c); err != nil {
				return nil, handleError(err)
			}
		}
		return respond(DistanceResponse{Meters: geo.Distance(input.Body.A, input.Body.B)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "geometry-area",
		Method:      http.MethodPost,
		Path:        "/geometry/area",
		Summary:     "Polygon area",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AreaRequest `json:"body"`
	}) (*output[AreaResponse], error) {
		scale := input.Body.Scale
		if scale <= 0 {
			scale = geo.DefaultAreaScale
		}
		return respond(AreaResponse{
			Area:         geo.PolygonArea(input.Body.Polygon),
			SquareMeters: geo.AreaSquareMeters(input.Body.Polygon, scale),
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "geometry-intersection",
		Method:      http.MethodPost,
		Path:        "/geometry/intersection",
		Summary:     "Intersection of segments p1-p2 and p3-p4",
	}, func(ctx context.Context, input *struct {
		Body IntersectionRequest `json:"body"`
	}) (*output[IntersectionResponse], error) {
		b := input.Body
		pt, ok := geo.SegmentIntersection(b.P1, b.P2, b.P3, b.P4)
		res := IntersectionResponse{Intersects: ok}
		if ok {
			res.Point = &pt
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "geometry-contains",
		Method:      http.MethodPost,
		Path:        "/geometry/contains",
		Summary:     "Point-in-polygon test",
	}, func(ctx context.Context, input *struct {
		Body ContainsRequest `json:"body"`
	}) (*output[ContainsResponse], error) {
		return respond(ContainsResponse{Inside: geo.PointInPolygon(input.Body.Point, input.Body.Polygon)}), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, cursorID, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return respond(resp), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
