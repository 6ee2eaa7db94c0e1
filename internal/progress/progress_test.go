package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldplan/internal/domain"
	"fieldplan/internal/session"
)

func done(steps []Step) map[StepID]bool {
	out := map[StepID]bool{}
	for _, s := range steps {
		out[s.ID] = s.Done
	}
	return out
}

func TestEmptySession(t *testing.T) {
	steps := Steps(session.New(session.DefaultDefaults()))
	require.Len(t, steps, 10)
	assert.Equal(t, StepMainArea, steps[0].ID)
	assert.Equal(t, StepSaved, steps[9].ID)
	for _, s := range steps {
		assert.False(t, s.Done, s.ID)
	}

	sum := Summarize(session.New(session.DefaultDefaults()))
	assert.Equal(t, StepMainArea, sum.Next)
	assert.Equal(t, 7, sum.RequiredTotal)
	assert.Equal(t, 0, sum.Percent)
}

func TestCompleteSessionStillMissesUntrackedSteps(t *testing.T) {
	s := session.New(session.DefaultDefaults())
	s.MainArea = &domain.Shape{ID: "field-1", Category: domain.CategoryField, Coordinates: []domain.Coordinate{{}, {Lat: 1}, {Lng: 1}}}
	s.Zones = []domain.Shape{{ID: "zone-2", Category: domain.CategoryZone}}
	s.Obstacles = []domain.Shape{{ID: "obstacle-3", Category: domain.CategoryRiver}}
	s.Pipes = []domain.Pipe{
		{ID: "pipe-4", Type: domain.PipeMain},
		{ID: "pipe-5", Type: domain.PipeSubmain},
		{ID: "pipe-6", Type: domain.PipeLateral, SubmainID: "pipe-5"},
	}
	s.Equipment = []domain.Equipment{
		{ID: "pump-7", Type: domain.EquipmentPump},
		{ID: "valve-8", Type: domain.EquipmentValve},
	}

	got := done(Steps(s))
	for _, id := range []StepID{StepMainArea, StepZones, StepObstacles, StepPump, StepMainPipe, StepSubmain, StepLaterals, StepEquipment} {
		assert.True(t, got[id], id)
	}
	assert.False(t, got[StepMetadata])
	assert.False(t, got[StepSaved])

	sum := Summarize(s)
	assert.Equal(t, 8, sum.Completed)
	assert.Equal(t, 5, sum.RequiredDone)
	assert.Equal(t, StepMetadata, sum.Next)
	assert.Equal(t, 80, sum.Percent)
}

func TestPumpAloneIsNotIrrigationEquipment(t *testing.T) {
	s := session.New(session.DefaultDefaults())
	s.Equipment = []domain.Equipment{{ID: "pump-1", Type: domain.EquipmentPump}}
	got := done(Steps(s))
	assert.True(t, got[StepPump])
	assert.False(t, got[StepEquipment])
}
