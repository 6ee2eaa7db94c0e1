package session

import (
	"fieldplan/internal/domain"
	"fieldplan/internal/geo"
	"fieldplan/internal/layout"
)

// Reduce returns the session after applying a. s is never modified.
func Reduce(s Session, a Action) Session {
	next := s.clone()
	switch act := a.(type) {
	case AdvanceStage:
		if next.Stage.Next() == next.Stage {
			return s
		}
		next.leaveStage()
		next.Stage = next.Stage.Next()
	case PreviousStage:
		if next.Stage.Prev() == next.Stage {
			return s
		}
		next.leaveStage()
		next.Stage = next.Stage.Prev()
	case SetDrawMode:
		if next.Stage != StageZones || !act.Mode.Valid() {
			return s
		}
		if act.Mode != next.DrawMode {
			next.Pending = nil
		}
		next.DrawMode = act.Mode
	case SetObstacleCategory:
		if next.Stage != StageZones || !act.Category.IsObstacle() {
			return s
		}
		next.ObstacleCategory = act.Category
	case SetPipeType:
		if next.Stage != StagePipes || !act.Type.Valid() {
			return s
		}
		if act.Type != next.PipeType {
			next.Pending = nil
			if act.Type != domain.PipeLateral {
				next.Laterals.Active = false
			}
		}
		next.PipeType = act.Type
	case StartDraw:
		p, ok := next.newPending()
		if !ok {
			return s
		}
		next.Pending = p
	case AddVertex:
		if next.Pending == nil {
			return s
		}
		next.Pending.Coordinates = append(next.Pending.Coordinates, act.At)
	case FinishDraw:
		if next.Pending == nil || !next.Pending.ready() {
			return s
		}
		if !next.commitPending() {
			return s
		}
	case CancelDraw:
		if next.Pending == nil {
			return s
		}
		next.Pending = nil
		if next.Laterals.Active {
			next.Pending, _ = next.newPending()
		}
	case StartContinuousLaterals:
		if next.Stage != StagePipes || next.MainArea == nil {
			return s
		}
		next.Deleting.Active = false
		next.PipeType = domain.PipeLateral
		next.Laterals = ContinuousLaterals{Active: true, Placement: placementOr(act.Placement, next.Laterals.Placement)}
		next.Pending, _ = next.newPending()
	case StopContinuousLaterals:
		if !next.Laterals.Active {
			return s
		}
		next.Laterals.Active = false
		next.Pending = nil
	case SetPlacement:
		if !act.Placement.Valid() {
			return s
		}
		next.Laterals.Placement = act.Placement
	case EnterDeletePipes:
		if next.Stage != StagePipes || next.Deleting.Active {
			return s
		}
		next.Laterals.Active = false
		next.Pending = nil
		next.Deleting = DeletePipes{Active: true}
	case ExitDeletePipes:
		if !next.Deleting.Active {
			return s
		}
		next.Deleting.Active = false
	case DeletePipe:
		if !next.Deleting.Active || !next.deletePipe(act.PipeID) {
			return s
		}
		next.Deleting.Deleted++
	case OpenRotation:
		angle := layout.ClampRotation(act.Current)
		next.Rotation = RotationOverlay{Open: true, Angle: angle, External: angle}
	case SetRotation:
		if !next.Rotation.Open {
			return s
		}
		next.Rotation.Angle = layout.ClampRotation(act.Angle)
		next.LateralRotation = next.Rotation.Angle
	case ResetRotation:
		if !next.Rotation.Open {
			return s
		}
		next.Rotation.Angle = 0
		next.LateralRotation = 0
	case ApplyRotation:
		if !next.Rotation.Open {
			return s
		}
		next.Rotation.External = next.Rotation.Angle
	case CloseRotation:
		if !next.Rotation.Open {
			return s
		}
		next.Rotation.Open = false
		next.Rotation.Angle = next.Rotation.External
		next.LateralRotation = next.Rotation.External
	case PlaceEquipment:
		if !next.placeEquipment(act.Item) {
			return s
		}
		next.pushHistory()
	case MoveEquipment:
		i := next.equipmentIndex(act.ID)
		if i < 0 {
			return s
		}
		next.Equipment[i].Position = act.To
		next.pushHistory()
	case RemoveEquipment:
		i := next.equipmentIndex(act.ID)
		if i < 0 {
			return s
		}
		next.Equipment = append(next.Equipment[:i], next.Equipment[i+1:]...)
		next.pushHistory()
	case UndoEquipment:
		if !next.CanUndo() {
			return s
		}
		next.History.Pointer--
		next.restoreSnapshot()
	case RedoEquipment:
		if !next.CanRedo() {
			return s
		}
		next.History.Pointer++
		next.restoreSnapshot()
	case ImportShapes:
		if !next.importShapes(act.Shapes) {
			return s
		}
	case GenerateLaterals:
		if !next.generateLaterals(act) {
			return s
		}
	default:
		return s
	}
	return next
}

// ReduceAll folds actions left to right.
func ReduceAll(s Session, actions ...Action) Session {
	for _, a := range actions {
		s = Reduce(s, a)
	}
	return s
}

// leaveStage drops everything tied to the stage being left.
func (s *Session) leaveStage() {
	s.Pending = nil
	s.Laterals.Active = false
	s.Deleting.Active = false
	if s.Rotation.Open {
		s.Rotation.Open = false
		s.Rotation.Angle = s.Rotation.External
		s.LateralRotation = s.Rotation.External
	}
}

func (s *Session) newPending() (*Pending, bool) {
	if s.Deleting.Active {
		return nil, false
	}
	switch s.Stage {
	case StageField:
		return &Pending{Kind: PendingShape, Category: domain.CategoryField, Coordinates: []domain.Coordinate{}}, true
	case StageZones:
		cat := domain.CategoryZone
		if s.DrawMode == DrawObstacle {
			cat = s.ObstacleCategory
		}
		return &Pending{Kind: PendingShape, Category: cat, Coordinates: []domain.Coordinate{}}, true
	case StagePipes:
		if s.MainArea == nil {
			return nil, false
		}
		return &Pending{Kind: PendingPipe, PipeType: s.PipeType, Coordinates: []domain.Coordinate{}}, true
	case StageIrrigation:
		return nil, false
	}
	return nil, false
}

func (s *Session) importShapes(shapes []domain.Shape) bool {
	saved := s.Pending
	imported := false
	for _, sh := range shapes {
		if len(sh.Coordinates) < minShapeVertices || !sh.Category.Valid() {
			continue
		}
		s.Pending = &Pending{Kind: PendingShape, Category: sh.Category, Coordinates: append([]domain.Coordinate{}, sh.Coordinates...)}
		if s.commitPending() {
			imported = true
		}
	}
	s.Pending = saved
	return imported
}

func (s *Session) commitPending() bool {
	p := s.Pending
	switch p.Kind {
	case PendingShape:
		shape := domain.Shape{Category: p.Category, Color: p.Category.DefaultColor(), Coordinates: p.Coordinates}
		switch {
		case p.Category == domain.CategoryField:
			shape.ID = s.nextID("field")
			s.MainArea = &shape
		case p.Category == domain.CategoryZone:
			shape.ID = s.nextID("zone")
			s.Zones = append(s.Zones, shape)
		case p.Category.IsObstacle():
			shape.ID = s.nextID("obstacle")
			s.Obstacles = append(s.Obstacles, shape)
		default:
			return false
		}
		s.Pending = nil
	case PendingPipe:
		if s.MainArea == nil {
			return false
		}
		s.Pipes = append(s.Pipes, domain.Pipe{
			ID:          s.nextID("pipe"),
			Type:        p.PipeType,
			ZoneID:      s.zoneAt(p.Coordinates[0]),
			Coordinates: p.Coordinates,
			LengthM:     geo.PathLength(p.Coordinates),
			DiameterMM:  s.Defaults.diameter(p.PipeType),
		})
		s.Pending = nil
		if s.Laterals.Active && p.PipeType == domain.PipeLateral {
			s.Laterals.Created++
			s.Pending, _ = s.newPending()
		}
	default:
		return false
	}
	return true
}

func (s *Session) zoneAt(c domain.Coordinate) string {
	for _, z := range s.Zones {
		if geo.PointInPolygon(c, z.Coordinates) {
			return z.ID
		}
	}
	return ""
}

// deletePipe removes a pipe and, for a submain, the laterals hanging off it.
func (s *Session) deletePipe(id string) bool {
	found := false
	kept := s.Pipes[:0]
	for _, p := range s.Pipes {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return false
	}
	s.Pipes = kept
	s.dropLaterals(id)
	return true
}

func (s *Session) dropLaterals(submainID string) {
	kept := s.Pipes[:0]
	for _, p := range s.Pipes {
		if p.Type == domain.PipeLateral && p.SubmainID == submainID {
			continue
		}
		kept = append(kept, p)
	}
	s.Pipes = kept
}

func (s *Session) placeEquipment(item domain.Equipment) bool {
	if !item.Type.Valid() {
		return false
	}
	switch s.Stage {
	case StageIrrigation:
	case StagePipes:
		if item.Type != domain.EquipmentPump {
			return false
		}
	case StageField, StageZones:
		return false
	}
	if item.Type == domain.EquipmentPump {
		if i := s.pumpIndex(); i >= 0 {
			item.ID = s.Equipment[i].ID
			s.Equipment[i] = item
			return true
		}
	}
	if item.ID == "" || s.equipmentIndex(item.ID) >= 0 {
		item.ID = s.nextID(string(item.Type))
	}
	s.Equipment = append(s.Equipment, item)
	return true
}

func (s *Session) pumpIndex() int {
	for i, e := range s.Equipment {
		if e.Type == domain.EquipmentPump {
			return i
		}
	}
	return -1
}

func (s *Session) equipmentIndex(id string) int {
	for i, e := range s.Equipment {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// pushHistory records the current equipment, truncating any redo branch.
func (s *Session) pushHistory() {
	snap := append([]domain.Equipment{}, s.Equipment...)
	s.History.Snapshots = append(s.History.Snapshots[:s.History.Pointer+1], snap)
	s.History.Pointer = len(s.History.Snapshots) - 1
}

func (s *Session) restoreSnapshot() {
	s.Equipment = append([]domain.Equipment{}, s.History.Snapshots[s.History.Pointer]...)
}

func (s *Session) generateLaterals(act GenerateLaterals) bool {
	if s.Stage != StagePipes && s.Stage != StageIrrigation {
		return false
	}
	sub, ok := s.Pipe(act.SubmainID)
	if !ok || sub.Type != domain.PipeSubmain {
		return false
	}
	var zone []domain.Coordinate
	if z, ok := s.Zone(sub.ZoneID); ok {
		zone = z.Coordinates
	} else if s.MainArea != nil {
		zone = s.MainArea.Coordinates
	} else {
		return false
	}

	opts := layout.Options{
		PlantSpacing:  orDefault(act.SpacingM, s.Defaults.PlantSpacingM),
		LateralLength: orDefault(act.LengthM, s.Defaults.LateralLengthM),
		MinLength:     s.Defaults.MinLateralM,
		Placement:     s.Laterals.Placement,
		RotationDeg:   s.LateralRotation,
	}
	s.dropLaterals(sub.ID)
	for _, coords := range layout.Laterals(sub.Coordinates, zone, opts) {
		s.Pipes = append(s.Pipes, domain.Pipe{
			ID:          s.nextID("pipe"),
			Type:        domain.PipeLateral,
			ZoneID:      sub.ZoneID,
			SubmainID:   sub.ID,
			Coordinates: coords,
			LengthM:     geo.PathLength(coords),
			DiameterMM:  s.Defaults.LateralDiameterMM,
		})
	}
	return true
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func placementOr(p, def layout.Placement) layout.Placement {
	if p.Valid() {
		return p
	}
	if def.Valid() {
		return def
	}
	return layout.OverPlants
}
