// Package progress projects a session onto the ordered planning checklist.
package progress

import (
	"fieldplan/internal/domain"
	"fieldplan/internal/session"
)

type StepID string

const (
	StepMainArea  StepID = "main_area"
	StepZones     StepID = "zones"
	StepObstacles StepID = "obstacles"
	StepPump      StepID = "pump"
	StepMainPipe  StepID = "main_pipe"
	StepSubmain   StepID = "submain_pipe"
	StepLaterals  StepID = "laterals"
	StepEquipment StepID = "irrigation_equipment"
	StepMetadata  StepID = "project_metadata"
	StepSaved     StepID = "explicit_save"
)

type Step struct {
	ID       StepID `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Done     bool   `json:"done"`
}

type definition struct {
	id       StepID
	label    string
	required bool
	done     func(session.Session) bool
}

// never is used for steps the session does not track yet; they stay
// incomplete until it does.
func never(session.Session) bool { return false }

var definitions = []definition{
	{StepMainArea, "Draw the main field area", true, func(s session.Session) bool {
		return s.MainArea != nil && len(s.MainArea.Coordinates) > 0
	}},
	{StepZones, "Draw zones", false, func(s session.Session) bool { return len(s.Zones) > 0 }},
	{StepObstacles, "Mark obstacles", false, func(s session.Session) bool { return len(s.Obstacles) > 0 }},
	{StepPump, "Place the pump", true, func(s session.Session) bool {
		_, ok := s.Pump()
		return ok
	}},
	{StepMainPipe, "Draw a main pipe", true, hasPipe(domain.PipeMain)},
	{StepSubmain, "Draw a submain pipe", true, hasPipe(domain.PipeSubmain)},
	{StepLaterals, "Generate lateral pipes", true, hasPipe(domain.PipeLateral)},
	{StepEquipment, "Place irrigation equipment", false, func(s session.Session) bool {
		for _, e := range s.Equipment {
			if e.Type != domain.EquipmentPump {
				return true
			}
		}
		return false
	}},
	{StepMetadata, "Fill in project details", true, never},
	{StepSaved, "Save the project", true, never},
}

func hasPipe(t domain.PipeType) func(session.Session) bool {
	return func(s session.Session) bool {
		for _, p := range s.Pipes {
			if p.Type == t {
				return true
			}
		}
		return false
	}
}

// Steps returns the checklist in display order.
func Steps(s session.Session) []Step {
	out := make([]Step, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, Step{ID: d.id, Label: d.label, Required: d.required, Done: d.done(s)})
	}
	return out
}

type Summary struct {
	Steps         []Step `json:"steps"`
	Completed     int    `json:"completed"`
	Total         int    `json:"total"`
	RequiredDone  int    `json:"required_done"`
	RequiredTotal int    `json:"required_total"`
	Percent       int    `json:"percent"`
	// Next is the first incomplete required step, empty when none remain.
	Next StepID `json:"next,omitempty"`
}

func Summarize(s session.Session) Summary {
	steps := Steps(s)
	sum := Summary{Steps: steps, Total: len(steps)}
	for _, st := range steps {
		if st.Done {
			sum.Completed++
		}
		if st.Required {
			sum.RequiredTotal++
			if st.Done {
				sum.RequiredDone++
			} else if sum.Next == "" {
				sum.Next = st.ID
			}
		}
	}
	if sum.Total > 0 {
		sum.Percent = sum.Completed * 100 / sum.Total
	}
	return sum
}
