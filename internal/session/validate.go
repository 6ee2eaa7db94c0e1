package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"fieldplan/internal/domain"
)

// InvariantError lists every committed-state rule a session breaks.
type InvariantError struct {
	Problems []string
}

func (e *InvariantError) Error() string {
	return "invalid session: " + strings.Join(e.Problems, "; ")
}

// Validate checks committed state before it is persisted. Reduce keeps these
// rules by construction; sessions pushed wholesale by clients may not.
func Validate(s Session) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !s.Stage.Valid() {
		add("unknown stage %q", s.Stage)
	}
	if !s.DrawMode.Valid() {
		add("unknown draw mode %q", s.DrawMode)
	}
	if !s.PipeType.Valid() {
		add("unknown pipe type %q", s.PipeType)
	}
	if s.Laterals.Placement != "" && !s.Laterals.Placement.Valid() {
		add("unknown placement %q", s.Laterals.Placement)
	}

	if s.MainArea != nil {
		if s.MainArea.Category != domain.CategoryField {
			add("main area has category %q", s.MainArea.Category)
		}
		if len(s.MainArea.Coordinates) < minShapeVertices {
			add("main area has %d vertices", len(s.MainArea.Coordinates))
		}
	}
	ids := map[string]bool{}
	for _, z := range s.Zones {
		if z.Category != domain.CategoryZone {
			add("zone %s has category %q", z.ID, z.Category)
		}
		if len(z.Coordinates) < minShapeVertices {
			add("zone %s has %d vertices", z.ID, len(z.Coordinates))
		}
		ids[z.ID] = true
	}
	for _, o := range s.Obstacles {
		if !o.Category.IsObstacle() {
			add("obstacle %s has category %q", o.ID, o.Category)
		}
		if len(o.Coordinates) < minShapeVertices {
			add("obstacle %s has %d vertices", o.ID, len(o.Coordinates))
		}
	}

	if len(s.Pipes) > 0 && s.MainArea == nil {
		add("pipes drawn without a main area")
	}
	submains := map[string]bool{}
	for _, p := range s.Pipes {
		if p.Type == domain.PipeSubmain {
			submains[p.ID] = true
		}
	}
	for _, p := range s.Pipes {
		if !p.Type.Valid() {
			add("pipe %s has type %q", p.ID, p.Type)
		}
		if len(p.Coordinates) < minPipeVertices {
			add("pipe %s has %d vertices", p.ID, len(p.Coordinates))
		}
		if p.ZoneID != "" && !ids[p.ZoneID] {
			add("pipe %s references missing zone %s", p.ID, p.ZoneID)
		}
		if p.SubmainID != "" && !submains[p.SubmainID] {
			add("pipe %s references missing submain %s", p.ID, p.SubmainID)
		}
	}

	checkEquipment(s.Equipment, "", add)
	for i, snap := range s.History.Snapshots {
		checkEquipment(snap, fmt.Sprintf("history snapshot %d: ", i), add)
	}
	if n := len(s.History.Snapshots); n == 0 || s.History.Pointer < 0 || s.History.Pointer >= n {
		add("history pointer %d outside %d snapshots", s.History.Pointer, n)
	}

	if len(problems) > 0 {
		return &InvariantError{Problems: problems}
	}
	return nil
}

// checkEquipment applies the equipment rules to one equipment list, live or
// held in undo history.
func checkEquipment(items []domain.Equipment, prefix string, add func(string, ...any)) {
	pumps := 0
	seen := map[string]int{}
	for _, e := range items {
		if !e.Type.Valid() {
			add("%sequipment %s has type %q", prefix, e.ID, e.Type)
		}
		if e.Type == domain.EquipmentPump {
			pumps++
		}
		seen[e.ID]++
	}
	if pumps > 1 {
		add("%s%d pumps placed, at most one allowed", prefix, pumps)
	}
	for _, e := range items {
		if n := seen[e.ID]; n > 1 {
			add("%sequipment id %q used %d times", prefix, e.ID, n)
			seen[e.ID] = 0
		}
	}
}

// Decode parses a stored session and fills collections a client may omit.
func Decode(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.Stage == "" {
		s.Stage = StageField
	}
	if s.DrawMode == "" {
		s.DrawMode = DrawZone
	}
	if s.PipeType == "" {
		s.PipeType = domain.PipeMain
	}
	if s.ObstacleCategory == "" {
		s.ObstacleCategory = domain.CategoryBuilding
	}
	if s.Zones == nil {
		s.Zones = []domain.Shape{}
	}
	if s.Obstacles == nil {
		s.Obstacles = []domain.Shape{}
	}
	if s.Pipes == nil {
		s.Pipes = []domain.Pipe{}
	}
	if s.Equipment == nil {
		s.Equipment = []domain.Equipment{}
	}
	if len(s.History.Snapshots) == 0 {
		s.History = EquipmentHistory{Snapshots: [][]domain.Equipment{append([]domain.Equipment{}, s.Equipment...)}}
	}
	return s, nil
}

func Encode(s Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}
