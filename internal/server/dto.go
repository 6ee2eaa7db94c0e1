package server

import (
	"encoding/json"

	"fieldplan/internal/config"
	"fieldplan/internal/domain"
	"fieldplan/internal/session"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string `json:"id,omitempty" doc:"generated when empty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type ApplyActionsRequest struct {
	Actions []session.Envelope `json:"actions" minItems:"1"`
}

type SavePlanRequest struct {
	Note string `json:"note,omitempty"`
}

type RouteRequest struct {
	Start domain.Coordinate `json:"start"`
	End   domain.Coordinate `json:"end"`
}

type RecordHeadLossRequest struct {
	PipeID           string  `json:"pipe_id"`
	ZoneID           string  `json:"zone_id,omitempty" doc:"defaults to the pipe's zone"`
	LossCoefficient  float64 `json:"loss_coefficient"`
	PipeLength       float64 `json:"pipe_length"`
	CorrectionFactor float64 `json:"correction_factor"`
}

// CalculateHeadLossRequest carries raw form text; each field is parsed and
// checked independently.
type CalculateHeadLossRequest struct {
	LossCoefficient  string `json:"loss_coefficient,omitempty"`
	PipeLength       string `json:"pipe_length,omitempty"`
	CorrectionFactor string `json:"correction_factor,omitempty"`
}

type DistanceRequest struct {
	A domain.Coordinate `json:"a"`
	B domain.Coordinate `json:"b"`
}

type AreaRequest struct {
	Polygon []domain.Coordinate `json:"polygon" minItems:"3"`
	Scale   float64             `json:"scale,omitempty" doc:"square meters per squared input unit; defaults to the geographic approximation"`
}

type IntersectionRequest struct {
	P1 domain.Coordinate `json:"p1"`
	P2 domain.Coordinate `json:"p2"`
	P3 domain.Coordinate `json:"p3"`
	P4 domain.Coordinate `json:"p4"`
}

type ContainsRequest struct {
	Point   domain.Coordinate   `json:"point"`
	Polygon []domain.Coordinate `json:"polygon"`
}

// Responses

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ProjectConfigResponse struct {
	ProjectID string `json:"project_id"`
	YAML      string `json:"yaml" doc:"project config with webhook secrets redacted"`
}

type PlanVersionResponse struct {
	ProjectID string           `json:"project_id"`
	Version   int              `json:"version"`
	Note      string           `json:"note,omitempty"`
	SavedBy   string           `json:"saved_by"`
	SavedAt   string           `json:"saved_at" format:"date-time"`
	Session   *session.Session `json:"session,omitempty"`
}

type HeadLossResponse struct {
	HeadLoss  float64           `json:"head_loss"`
	Available bool              `json:"available"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type DistanceResponse struct {
	Meters float64 `json:"meters"`
}

type AreaResponse struct {
	Area         float64 `json:"area" doc:"shoelace area in input units squared"`
	SquareMeters float64 `json:"square_meters"`
}

type IntersectionResponse struct {
	Intersects bool               `json:"intersects"`
	Point      *domain.Coordinate `json:"point,omitempty"`
}

type ContainsResponse struct {
	Inside bool `json:"inside"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func planResponse(pv domain.PlanVersion, s *session.Session) PlanVersionResponse {
	return PlanVersionResponse{
		ProjectID: pv.ProjectID,
		Version:   pv.Version,
		Note:      pv.Note,
		SavedBy:   pv.SavedBy,
		SavedAt:   pv.SavedAt,
		Session:   s,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(projectID string, cfg *config.Config) (ProjectConfigResponse, error) {
	redacted := *cfg
	redacted.Webhooks = make([]config.Webhook, len(cfg.Webhooks))
	for i, w := range cfg.Webhooks {
		if w.Secret != "" {
			w.Secret = "***"
		}
		redacted.Webhooks[i] = w
	}
	text, err := redacted.YAML()
	if err != nil {
		return ProjectConfigResponse{}, err
	}
	return ProjectConfigResponse{ProjectID: projectID, YAML: text}, nil
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
