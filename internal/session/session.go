// Package session is the map drawing and layout session: what the user is
// drawing, what has been committed, and the equipment undo history.
//
// All transitions go through Reduce, which never mutates its input.
// Actions whose preconditions are not met are ignored rather than
// reported as errors.
package session

import (
	"fmt"

	"fieldplan/internal/domain"
	"fieldplan/internal/layout"
)

// Stage is the drawing workflow step. It only moves forward through
// AdvanceStage and backward through PreviousStage.
type Stage string

const (
	StageField      Stage = "field"
	StageZones      Stage = "zones"
	StagePipes      Stage = "pipes"
	StageIrrigation Stage = "irrigation"
)

func (s Stage) Valid() bool {
	switch s {
	case StageField, StageZones, StagePipes, StageIrrigation:
		return true
	}
	return false
}

// Next returns the following stage, or s itself at the last stage.
func (s Stage) Next() Stage {
	switch s {
	case StageField:
		return StageZones
	case StageZones:
		return StagePipes
	case StagePipes:
		return StageIrrigation
	case StageIrrigation:
		return StageIrrigation
	}
	return s
}

// Prev returns the preceding stage, or s itself at the first stage.
func (s Stage) Prev() Stage {
	switch s {
	case StageField:
		return StageField
	case StageZones:
		return StageField
	case StagePipes:
		return StageZones
	case StageIrrigation:
		return StagePipes
	}
	return s
}

// DrawMode selects what the zones stage draws.
type DrawMode string

const (
	DrawZone     DrawMode = "zone"
	DrawObstacle DrawMode = "obstacle"
)

func (m DrawMode) Valid() bool {
	switch m {
	case DrawZone, DrawObstacle:
		return true
	}
	return false
}

type PendingKind string

const (
	PendingShape PendingKind = "shape"
	PendingPipe  PendingKind = "pipe"
)

const (
	minShapeVertices = 3
	minPipeVertices  = 2
)

// Pending is an entity under construction; it is only committed by FinishDraw.
type Pending struct {
	Kind        PendingKind          `json:"kind" enum:"shape,pipe"`
	Category    domain.ShapeCategory `json:"category,omitempty"`
	PipeType    domain.PipeType      `json:"pipe_type,omitempty"`
	Coordinates []domain.Coordinate  `json:"coordinates"`
}

func (p *Pending) ready() bool {
	switch p.Kind {
	case PendingShape:
		return len(p.Coordinates) >= minShapeVertices
	case PendingPipe:
		return len(p.Coordinates) >= minPipeVertices
	}
	return false
}

// ContinuousLaterals is the sticky lateral drawing sub-state. Created
// resets only when the mode is entered again.
type ContinuousLaterals struct {
	Active    bool             `json:"active"`
	Placement layout.Placement `json:"placement" enum:"over_plants,between_plants"`
	Created   int              `json:"created"`
}

// DeletePipes is the sticky pipe deletion sub-state.
type DeletePipes struct {
	Active  bool `json:"active"`
	Deleted int  `json:"deleted"`
}

// RotationOverlay holds the lateral rotation being adjusted. External is
// the value the overlay reverts to on close; ApplyRotation moves it.
type RotationOverlay struct {
	Open     bool    `json:"open"`
	Angle    float64 `json:"angle"`
	External float64 `json:"external"`
}

// EquipmentHistory is a linear stack of full equipment snapshots.
type EquipmentHistory struct {
	Snapshots [][]domain.Equipment `json:"snapshots"`
	Pointer   int                  `json:"pointer"`
}

// Defaults are per-project values used when committing pipes and laterals.
type Defaults struct {
	MainDiameterMM    float64 `json:"main_diameter_mm"`
	SubmainDiameterMM float64 `json:"submain_diameter_mm"`
	LateralDiameterMM float64 `json:"lateral_diameter_mm"`
	PlantSpacingM     float64 `json:"plant_spacing_m"`
	LateralLengthM    float64 `json:"lateral_length_m"`
	MinLateralM       float64 `json:"min_lateral_m"`
}

func DefaultDefaults() Defaults {
	return Defaults{
		MainDiameterMM:    63,
		SubmainDiameterMM: 40,
		LateralDiameterMM: 16,
		PlantSpacingM:     1,
		LateralLengthM:    20,
		MinLateralM:       1,
	}
}

func (d Defaults) diameter(t domain.PipeType) float64 {
	switch t {
	case domain.PipeMain:
		return d.MainDiameterMM
	case domain.PipeSubmain:
		return d.SubmainDiameterMM
	case domain.PipeLateral:
		return d.LateralDiameterMM
	}
	return 0
}

// Session is the aggregate root of a planning session.
type Session struct {
	Stage            Stage                `json:"stage" enum:"field,zones,pipes,irrigation"`
	DrawMode         DrawMode             `json:"draw_mode" enum:"zone,obstacle"`
	ObstacleCategory domain.ShapeCategory `json:"obstacle_category" enum:"river,building,power_plant"`
	PipeType         domain.PipeType      `json:"pipe_type" enum:"main,submain,lateral"`

	MainArea  *domain.Shape      `json:"main_area,omitempty"`
	Zones     []domain.Shape     `json:"zones"`
	Obstacles []domain.Shape     `json:"obstacles"`
	Pipes     []domain.Pipe      `json:"pipes"`
	Equipment []domain.Equipment `json:"equipment"`

	Pending         *Pending           `json:"pending,omitempty"`
	Laterals        ContinuousLaterals `json:"laterals"`
	Deleting        DeletePipes        `json:"deleting"`
	Rotation        RotationOverlay    `json:"rotation"`
	LateralRotation float64            `json:"lateral_rotation"`
	History         EquipmentHistory   `json:"history"`
	Defaults        Defaults           `json:"defaults"`
	Seq             int                `json:"seq"`
}

func New(d Defaults) Session {
	return Session{
		Stage:            StageField,
		DrawMode:         DrawZone,
		ObstacleCategory: domain.CategoryBuilding,
		PipeType:         domain.PipeMain,
		Zones:            []domain.Shape{},
		Obstacles:        []domain.Shape{},
		Pipes:            []domain.Pipe{},
		Equipment:        []domain.Equipment{},
		Laterals:         ContinuousLaterals{Placement: layout.OverPlants},
		History:          EquipmentHistory{Snapshots: [][]domain.Equipment{{}}},
		Defaults:         d,
	}
}

// Pump returns the single pump, if placed.
func (s Session) Pump() (domain.Equipment, bool) {
	for _, e := range s.Equipment {
		if e.Type == domain.EquipmentPump {
			return e, true
		}
	}
	return domain.Equipment{}, false
}

func (s Session) PipesOfType(t domain.PipeType) []domain.Pipe {
	var out []domain.Pipe
	for _, p := range s.Pipes {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func (s Session) Pipe(id string) (domain.Pipe, bool) {
	for _, p := range s.Pipes {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Pipe{}, false
}

func (s Session) Zone(id string) (domain.Shape, bool) {
	for _, z := range s.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return domain.Shape{}, false
}

// ObstaclePolygons returns obstacle outlines for routing.
func (s Session) ObstaclePolygons() [][]domain.Coordinate {
	out := make([][]domain.Coordinate, 0, len(s.Obstacles))
	for _, o := range s.Obstacles {
		out = append(out, o.Coordinates)
	}
	return out
}

// CanUndo and CanRedo report whether the history pointer can move.
func (s Session) CanUndo() bool { return s.History.Pointer > 0 }
func (s Session) CanRedo() bool { return s.History.Pointer < len(s.History.Snapshots)-1 }

// nextID returns a fresh id, skipping any a client already chose.
func (s *Session) nextID(prefix string) string {
	for {
		s.Seq++
		id := fmt.Sprintf("%s-%d", prefix, s.Seq)
		if !s.idInUse(id) {
			return id
		}
	}
}

func (s Session) idInUse(id string) bool {
	if s.MainArea != nil && s.MainArea.ID == id {
		return true
	}
	for _, z := range s.Zones {
		if z.ID == id {
			return true
		}
	}
	for _, o := range s.Obstacles {
		if o.ID == id {
			return true
		}
	}
	for _, p := range s.Pipes {
		if p.ID == id {
			return true
		}
	}
	for _, e := range s.Equipment {
		if e.ID == id {
			return true
		}
	}
	return false
}

// clone copies every slice the reducer may append to or rewrite.
func (s Session) clone() Session {
	out := s
	if s.MainArea != nil {
		area := *s.MainArea
		out.MainArea = &area
	}
	out.Zones = append([]domain.Shape{}, s.Zones...)
	out.Obstacles = append([]domain.Shape{}, s.Obstacles...)
	out.Pipes = append([]domain.Pipe{}, s.Pipes...)
	out.Equipment = append([]domain.Equipment{}, s.Equipment...)
	if s.Pending != nil {
		p := *s.Pending
		p.Coordinates = append([]domain.Coordinate{}, s.Pending.Coordinates...)
		out.Pending = &p
	}
	out.History.Snapshots = append([][]domain.Equipment{}, s.History.Snapshots...)
	return out
}
