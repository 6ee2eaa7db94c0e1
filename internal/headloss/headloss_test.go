package headloss

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want float64
		ok   bool
	}{
		{"reference", Inputs{5, 100, 1}, 50, true},
		{"zero coefficient", Inputs{0, 100, 1}, 0, true},
		{"correction", Inputs{10, 20, 1.5}, 30, true},
		{"zero length", Inputs{5, 0, 1}, 0, false},
		{"negative coefficient", Inputs{-1, 100, 1}, 0, false},
		{"zero correction", Inputs{5, 100, 0}, 0, false},
		{"coefficient above limit", Inputs{101, 100, 1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compute(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestValidateNamesField(t *testing.T) {
	err := DefaultLimits().Validate(Inputs{LossCoefficient: 5, PipeLength: 0, CorrectionFactor: 1})
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FieldPipeLength, fe.Field)
	assert.Contains(t, fe.Error(), "(0, 100000]")
}

func TestFormRecomputesOnEveryChange(t *testing.T) {
	f := NewForm(DefaultLimits())
	_, ok := f.Result()
	assert.False(t, ok)
	assert.False(t, f.CanSave())

	require.NoError(t, f.Set(FieldLossCoefficient, "5"))
	require.NoError(t, f.Set(FieldPipeLength, "100"))
	_, ok = f.Result()
	assert.False(t, ok, "correction factor still empty")

	require.NoError(t, f.Set(FieldCorrectionFactor, "1"))
	got, ok := f.Result()
	require.True(t, ok)
	assert.Equal(t, 50.0, got)

	assert.Error(t, f.Set(FieldPipeLength, "0"))
	_, ok = f.Result()
	assert.False(t, ok)
	assert.False(t, f.CanSave())
	assert.Contains(t, f.Errors(), FieldPipeLength)

	assert.Error(t, f.Set(FieldPipeLength, "abc"))
	require.NoError(t, f.Set(FieldPipeLength, " 200 "))
	got, _ = f.Result()
	assert.Equal(t, 100.0, got)
}

func TestFormSaveEmitsOneRecord(t *testing.T) {
	f := NewForm(DefaultLimits())
	var got []Record
	emit := func(r Record) error {
		got = append(got, r)
		return nil
	}

	assert.Error(t, f.Save("pipe-1", "zone-1", emit))
	assert.Empty(t, got)

	require.NoError(t, f.Set(FieldLossCoefficient, "5"))
	require.NoError(t, f.Set(FieldPipeLength, "100"))
	require.NoError(t, f.Set(FieldCorrectionFactor, "1"))
	require.NoError(t, f.Save("pipe-1", "zone-1", emit))
	require.Len(t, got, 1)
	assert.Equal(t, Record{PipeID: "pipe-1", ZoneID: "zone-1", Inputs: Inputs{5, 100, 1}, HeadLoss: 50}, got[0])

	assert.Error(t, f.Save("", "zone-1", emit))
	assert.Len(t, got, 1)

	boom := errors.New("boom")
	assert.ErrorIs(t, f.Save("pipe-1", "", func(Record) error { return boom }), boom)
}

func TestCustomLimits(t *testing.T) {
	l := DefaultLimits()
	l.PipeLength.Max = 50
	_, ok := l.Compute(Inputs{5, 100, 1})
	assert.False(t, ok)
	_, ok = l.Compute(Inputs{5, 50, 1})
	assert.True(t, ok)
}
