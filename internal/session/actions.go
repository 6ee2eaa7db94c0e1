package session

import (
	"errors"
	"fmt"

	"fieldplan/internal/domain"
	"fieldplan/internal/layout"
)

var ErrUnknownAction = errors.New("unknown action")

// Action is a session transition. The set is closed to this package.
type Action interface {
	Kind() string
	action()
}

type (
	AdvanceStage            struct{}
	PreviousStage           struct{}
	SetDrawMode             struct{ Mode DrawMode }
	SetObstacleCategory     struct{ Category domain.ShapeCategory }
	SetPipeType             struct{ Type domain.PipeType }
	StartDraw               struct{}
	AddVertex               struct{ At domain.Coordinate }
	FinishDraw              struct{}
	CancelDraw              struct{}
	StartContinuousLaterals struct{ Placement layout.Placement }
	StopContinuousLaterals  struct{}
	SetPlacement            struct{ Placement layout.Placement }
	EnterDeletePipes        struct{}
	ExitDeletePipes         struct{}
	DeletePipe              struct{ PipeID string }
	OpenRotation            struct{ Current float64 }
	SetRotation             struct{ Angle float64 }
	ResetRotation           struct{}
	ApplyRotation           struct{}
	CloseRotation           struct{}
	PlaceEquipment          struct{ Item domain.Equipment }
	MoveEquipment           struct {
		ID string
		To domain.Coordinate
	}
	RemoveEquipment struct{ ID string }
	UndoEquipment   struct{}
	RedoEquipment   struct{}
	// ImportShapes commits polygons from an external drawing toolkit in any
	// stage. Shapes with too few vertices or an unknown category are skipped.
	ImportShapes struct{ Shapes []domain.Shape }
	// GenerateLaterals replaces the laterals of a submain. Zero spacing or
	// length falls back to the session defaults.
	GenerateLaterals struct {
		SubmainID string
		SpacingM  float64
		LengthM   float64
	}
)

func (AdvanceStage) Kind() string            { return "advance_stage" }
func (PreviousStage) Kind() string           { return "previous_stage" }
func (SetDrawMode) Kind() string             { return "set_draw_mode" }
func (SetObstacleCategory) Kind() string     { return "set_obstacle_category" }
func (SetPipeType) Kind() string             { return "set_pipe_type" }
func (StartDraw) Kind() string               { return "start_draw" }
func (AddVertex) Kind() string               { return "add_vertex" }
func (FinishDraw) Kind() string              { return "finish_draw" }
func (CancelDraw) Kind() string              { return "cancel_draw" }
func (StartContinuousLaterals) Kind() string { return "start_continuous_laterals" }
func (StopContinuousLaterals) Kind() string  { return "stop_continuous_laterals" }
func (SetPlacement) Kind() string            { return "set_placement" }
func (EnterDeletePipes) Kind() string        { return "enter_delete_pipes" }
func (ExitDeletePipes) Kind() string         { return "exit_delete_pipes" }
func (DeletePipe) Kind() string              { return "delete_pipe" }
func (OpenRotation) Kind() string            { return "open_rotation" }
func (SetRotation) Kind() string             { return "set_rotation" }
func (ResetRotation) Kind() string           { return "reset_rotation" }
func (ApplyRotation) Kind() string           { return "apply_rotation" }
func (CloseRotation) Kind() string           { return "close_rotation" }
func (PlaceEquipment) Kind() string          { return "place_equipment" }
func (MoveEquipment) Kind() string           { return "move_equipment" }
func (RemoveEquipment) Kind() string         { return "remove_equipment" }
func (UndoEquipment) Kind() string           { return "undo_equipment" }
func (RedoEquipment) Kind() string           { return "redo_equipment" }
func (ImportShapes) Kind() string            { return "import_shapes" }
func (GenerateLaterals) Kind() string        { return "generate_laterals" }

func (AdvanceStage) action()            {}
func (PreviousStage) action()           {}
func (SetDrawMode) action()             {}
func (SetObstacleCategory) action()     {}
func (SetPipeType) action()             {}
func (StartDraw) action()               {}
func (AddVertex) action()               {}
func (FinishDraw) action()              {}
func (CancelDraw) action()              {}
func (StartContinuousLaterals) action() {}
func (StopContinuousLaterals) action()  {}
func (SetPlacement) action()            {}
func (EnterDeletePipes) action()        {}
func (ExitDeletePipes) action()         {}
func (DeletePipe) action()              {}
func (OpenRotation) action()            {}
func (SetRotation) action()             {}
func (ResetRotation) action()           {}
func (ApplyRotation) action()           {}
func (CloseRotation) action()           {}
func (PlaceEquipment) action()          {}
func (MoveEquipment) action()           {}
func (RemoveEquipment) action()         {}
func (UndoEquipment) action()           {}
func (RedoEquipment) action()           {}
func (ImportShapes) action()            {}
func (GenerateLaterals) action()        {}

// Envelope is the JSON form of an action, e.g. {"type":"add_vertex","coordinate":{"lat":1,"lng":2}}.
type Envelope struct {
	Type        string             `json:"type" doc:"action type, e.g. start_draw, add_vertex, finish_draw"`
	Coordinate  *domain.Coordinate `json:"coordinate,omitempty"`
	Mode        string             `json:"mode,omitempty"`
	Category    string             `json:"category,omitempty"`
	PipeType    string             `json:"pipe_type,omitempty"`
	Placement   string             `json:"placement,omitempty"`
	PipeID      string             `json:"pipe_id,omitempty"`
	Angle       *float64           `json:"angle,omitempty"`
	Equipment   *domain.Equipment  `json:"equipment,omitempty"`
	EquipmentID string             `json:"equipment_id,omitempty"`
	SubmainID   string             `json:"submain_id,omitempty"`
	Shapes      []domain.Shape     `json:"shapes,omitempty"`
	SpacingM    float64            `json:"spacing_m,omitempty"`
	LengthM     float64            `json:"length_m,omitempty"`
}

// Action decodes the envelope. Missing required fields and unknown enum
// values are errors; whether the action has any effect is decided by Reduce.
func (e Envelope) Action() (Action, error) {
	switch e.Type {
	case "advance_stage":
		return AdvanceStage{}, nil
	case "previous_stage":
		return PreviousStage{}, nil
	case "set_draw_mode":
		m := DrawMode(e.Mode)
		if !m.Valid() {
			return nil, fmt.Errorf("set_draw_mode: invalid mode %q", e.Mode)
		}
		return SetDrawMode{Mode: m}, nil
	case "set_obstacle_category":
		c := domain.ShapeCategory(e.Category)
		if !c.IsObstacle() {
			return nil, fmt.Errorf("set_obstacle_category: %q is not an obstacle category", e.Category)
		}
		return SetObstacleCategory{Category: c}, nil
	case "set_pipe_type":
		t := domain.PipeType(e.PipeType)
		if !t.Valid() {
			return nil, fmt.Errorf("set_pipe_type: invalid pipe type %q", e.PipeType)
		}
		return SetPipeType{Type: t}, nil
	case "start_draw":
		return StartDraw{}, nil
	case "add_vertex":
		if e.Coordinate == nil {
			return nil, errors.New("add_vertex: coordinate required")
		}
		return AddVertex{At: *e.Coordinate}, nil
	case "finish_draw":
		return FinishDraw{}, nil
	case "cancel_draw":
		return CancelDraw{}, nil
	case "start_continuous_laterals":
		p, err := placementOrDefault(e.Placement)
		if err != nil {
			return nil, fmt.Errorf("start_continuous_laterals: %w", err)
		}
		return StartContinuousLaterals{Placement: p}, nil
	case "stop_continuous_laterals":
		return StopContinuousLaterals{}, nil
	case "set_placement":
		p, err := layout.ParsePlacement(e.Placement)
		if err != nil {
			return nil, fmt.Errorf("set_placement: %w", err)
		}
		return SetPlacement{Placement: p}, nil
	case "enter_delete_pipes":
		return EnterDeletePipes{}, nil
	case "exit_delete_pipes":
		return ExitDeletePipes{}, nil
	case "delete_pipe":
		if e.PipeID == "" {
			return nil, errors.New("delete_pipe: pipe_id required")
		}
		return DeletePipe{PipeID: e.PipeID}, nil
	case "open_rotation":
		return OpenRotation{Current: floatOrZero(e.Angle)}, nil
	case "set_rotation":
		if e.Angle == nil {
			return nil, errors.New("set_rotation: angle required")
		}
		return SetRotation{Angle: *e.Angle}, nil
	case "reset_rotation":
		return ResetRotation{}, nil
	case "apply_rotation":
		return ApplyRotation{}, nil
	case "close_rotation":
		return CloseRotation{}, nil
	case "place_equipment":
		if e.Equipment == nil {
			return nil, errors.New("place_equipment: equipment required")
		}
		if !e.Equipment.Type.Valid() {
			return nil, fmt.Errorf("place_equipment: invalid equipment type %q", e.Equipment.Type)
		}
		return PlaceEquipment{Item: *e.Equipment}, nil
	case "move_equipment":
		if e.EquipmentID == "" || e.Coordinate == nil {
			return nil, errors.New("move_equipment: equipment_id and coordinate required")
		}
		return MoveEquipment{ID: e.EquipmentID, To: *e.Coordinate}, nil
	case "remove_equipment":
		if e.EquipmentID == "" {
			return nil, errors.New("remove_equipment: equipment_id required")
		}
		return RemoveEquipment{ID: e.EquipmentID}, nil
	case "undo_equipment":
		return UndoEquipment{}, nil
	case "redo_equipment":
		return RedoEquipment{}, nil
	case "import_shapes":
		if len(e.Shapes) == 0 {
			return nil, errors.New("import_shapes: shapes required")
		}
		return ImportShapes{Shapes: e.Shapes}, nil
	case "generate_laterals":
		if e.SubmainID == "" {
			return nil, errors.New("generate_laterals: submain_id required")
		}
		return GenerateLaterals{SubmainID: e.SubmainID, SpacingM: e.SpacingM, LengthM: e.LengthM}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, e.Type)
}

// DecodeAll converts a batch of envelopes, stopping at the first bad one.
func DecodeAll(envs []Envelope) ([]Action, error) {
	out := make([]Action, 0, len(envs))
	for i, env := range envs {
		a, err := env.Action()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func placementOrDefault(s string) (layout.Placement, error) {
	if s == "" {
		return layout.OverPlants, nil
	}
	return layout.ParsePlacement(s)
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
