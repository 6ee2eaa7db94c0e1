package domain

import "fmt"

// Coordinate is a lat/lng pair in degrees. On local canvases Lat/Lng carry y/x.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// ShapeCategory tags a committed polygon.
type ShapeCategory string

const (
	CategoryField      ShapeCategory = "field"
	CategoryRiver      ShapeCategory = "river"
	CategoryBuilding   ShapeCategory = "building"
	CategoryPowerPlant ShapeCategory = "power_plant"
	CategoryZone       ShapeCategory = "zone"
)

func (c ShapeCategory) Valid() bool {
	switch c {
	case CategoryField, CategoryRiver, CategoryBuilding, CategoryPowerPlant, CategoryZone:
		return true
	}
	return false
}

// IsObstacle reports whether shapes of this category block pipe routes.
func (c ShapeCategory) IsObstacle() bool {
	switch c {
	case CategoryRiver, CategoryBuilding, CategoryPowerPlant:
		return true
	case CategoryField, CategoryZone:
		return false
	}
	return false
}

// DefaultColor is the display color a freshly drawn shape gets.
func (c ShapeCategory) DefaultColor() string {
	switch c {
	case CategoryField:
		return "#22c55e"
	case CategoryRiver:
		return "#3b82f6"
	case CategoryBuilding:
		return "#6b7280"
	case CategoryPowerPlant:
		return "#f59e0b"
	case CategoryZone:
		return "#a855f7"
	}
	return "#000000"
}

type PipeType string

const (
	PipeMain    PipeType = "main"
	PipeSubmain PipeType = "submain"
	PipeLateral PipeType = "lateral"
)

func (t PipeType) Valid() bool {
	switch t {
	case PipeMain, PipeSubmain, PipeLateral:
		return true
	}
	return false
}

type EquipmentType string

const (
	EquipmentPump      EquipmentType = "pump"
	EquipmentValve     EquipmentType = "valve"
	EquipmentSprinkler EquipmentType = "sprinkler"
)

func (t EquipmentType) Valid() bool {
	switch t {
	case EquipmentPump, EquipmentValve, EquipmentSprinkler:
		return true
	}
	return false
}

// Shape is a committed polygon: field boundary, zone or obstacle.
type Shape struct {
	ID          string        `json:"id,omitempty"`
	Category    ShapeCategory `json:"category" enum:"field,river,building,power_plant,zone"`
	Color       string        `json:"color,omitempty"`
	Coordinates []Coordinate  `json:"coordinates"`
}

// Pipe is a routed pipe run. Laterals carry the submain they hang off.
type Pipe struct {
	ID          string       `json:"id"`
	Type        PipeType     `json:"type" enum:"main,submain,lateral"`
	ZoneID      string       `json:"zone_id,omitempty"`
	SubmainID   string       `json:"submain_id,omitempty"`
	Coordinates []Coordinate `json:"coordinates"`
	LengthM     float64      `json:"length_m"`
	DiameterMM  float64      `json:"diameter_mm"`
}

// Equipment is a single placed item. Attribute units: capacity L/min, head m, flow L/h.
type Equipment struct {
	ID       string        `json:"id,omitempty"`
	Type     EquipmentType `json:"type" enum:"pump,valve,sprinkler"`
	Position Coordinate    `json:"position"`
	Capacity float64       `json:"capacity,omitempty"`
	Head     float64       `json:"head,omitempty"`
	Flow     float64       `json:"flow,omitempty"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// PlanVersion is an immutable snapshot written on explicit save.
type PlanVersion struct {
	ProjectID   string `json:"project_id"`
	Version     int    `json:"version"`
	Note        string `json:"note,omitempty"`
	SessionJSON string `json:"session_json"`
	SavedBy     string `json:"saved_by"`
	SavedAt     string `json:"saved_at" format:"date-time"`
}

// HeadLossRecord is append-only; records are never updated once stored.
type HeadLossRecord struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	PipeID           string  `json:"pipe_id"`
	ZoneID           string  `json:"zone_id,omitempty"`
	LossCoefficient  float64 `json:"loss_coefficient"`
	PipeLength       float64 `json:"pipe_length"`
	CorrectionFactor float64 `json:"correction_factor"`
	HeadLoss         float64 `json:"head_loss"`
	ActorID          string  `json:"actor_id"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
