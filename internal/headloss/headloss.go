// Package headloss computes pipe head loss from a loss coefficient, pipe
// length and correction factor: (k / 10) * L * c.
package headloss

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Field string

const (
	FieldLossCoefficient  Field = "loss_coefficient"
	FieldPipeLength       Field = "pipe_length"
	FieldCorrectionFactor Field = "correction_factor"
)

var fields = []Field{FieldLossCoefficient, FieldPipeLength, FieldCorrectionFactor}

func (f Field) Valid() bool {
	switch f {
	case FieldLossCoefficient, FieldPipeLength, FieldCorrectionFactor:
		return true
	}
	return false
}

type Inputs struct {
	LossCoefficient  float64 `json:"loss_coefficient" yaml:"loss_coefficient"`
	PipeLength       float64 `json:"pipe_length" yaml:"pipe_length"`
	CorrectionFactor float64 `json:"correction_factor" yaml:"correction_factor"`
}

func (in Inputs) value(f Field) float64 {
	switch f {
	case FieldLossCoefficient:
		return in.LossCoefficient
	case FieldPipeLength:
		return in.PipeLength
	case FieldCorrectionFactor:
		return in.CorrectionFactor
	}
	return 0
}

// Range bounds one input. The lower bound is inclusive unless MinExclusive.
type Range struct {
	Min          float64 `json:"min" yaml:"min"`
	Max          float64 `json:"max" yaml:"max"`
	MinExclusive bool    `json:"min_exclusive" yaml:"min_exclusive"`
}

func (r Range) contains(v float64) bool {
	if math.IsNaN(v) || v > r.Max {
		return false
	}
	if r.MinExclusive {
		return v > r.Min
	}
	return v >= r.Min
}

func (r Range) String() string {
	lo := "["
	if r.MinExclusive {
		lo = "("
	}
	return fmt.Sprintf("%s%g, %g]", lo, r.Min, r.Max)
}

type Limits struct {
	LossCoefficient  Range `json:"loss_coefficient" yaml:"loss_coefficient"`
	PipeLength       Range `json:"pipe_length" yaml:"pipe_length"`
	CorrectionFactor Range `json:"correction_factor" yaml:"correction_factor"`
}

func DefaultLimits() Limits {
	return Limits{
		LossCoefficient:  Range{Min: 0, Max: 100},
		PipeLength:       Range{Min: 0, Max: 100000, MinExclusive: true},
		CorrectionFactor: Range{Min: 0, Max: 10, MinExclusive: true},
	}
}

func (l Limits) rangeFor(f Field) Range {
	switch f {
	case FieldLossCoefficient:
		return l.LossCoefficient
	case FieldPipeLength:
		return l.PipeLength
	case FieldCorrectionFactor:
		return l.CorrectionFactor
	}
	return Range{}
}

// FieldError names the input that failed validation.
type FieldError struct {
	Field   Field
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks each input against its range and returns the first failure.
func (l Limits) Validate(in Inputs) error {
	for _, f := range fields {
		r := l.rangeFor(f)
		if v := in.value(f); !r.contains(v) {
			return &FieldError{Field: f, Message: fmt.Sprintf("%g outside %s", v, r)}
		}
	}
	return nil
}

// Compute returns the head loss in meters, or false when any input is out of range.
func (l Limits) Compute(in Inputs) (float64, bool) {
	if l.Validate(in) != nil {
		return 0, false
	}
	return (in.LossCoefficient / 10) * in.PipeLength * in.CorrectionFactor, true
}

// Compute uses DefaultLimits.
func Compute(in Inputs) (float64, bool) {
	return DefaultLimits().Compute(in)
}

// Record is one saved calculation. Records are never modified once emitted.
type Record struct {
	PipeID   string  `json:"pipe_id"`
	ZoneID   string  `json:"zone_id,omitempty"`
	Inputs   Inputs  `json:"inputs"`
	HeadLoss float64 `json:"head_loss"`
}

// Form is the interactive calculator: every Set recomputes the result.
type Form struct {
	limits Limits
	raw    map[Field]string
	errs   map[Field]error
	inputs Inputs
	result float64
	ok     bool
}

func NewForm(l Limits) *Form {
	return &Form{limits: l, raw: map[Field]string{}, errs: map[Field]error{}}
}

// Set stores the raw text for one field and recomputes.
func (f *Form) Set(field Field, raw string) error {
	if !field.Valid() {
		return fmt.Errorf("unknown field %q", field)
	}
	f.raw[field] = raw
	f.recompute()
	return f.errs[field]
}

func (f *Form) recompute() {
	f.ok = false
	for _, field := range fields {
		delete(f.errs, field)
		raw := strings.TrimSpace(f.raw[field])
		if raw == "" {
			f.errs[field] = &FieldError{Field: field, Message: "required"}
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			f.errs[field] = &FieldError{Field: field, Message: "not a number"}
			continue
		}
		switch field {
		case FieldLossCoefficient:
			f.inputs.LossCoefficient = v
		case FieldPipeLength:
			f.inputs.PipeLength = v
		case FieldCorrectionFactor:
			f.inputs.CorrectionFactor = v
		}
		if r := f.limits.rangeFor(field); !r.contains(v) {
			f.errs[field] = &FieldError{Field: field, Message: fmt.Sprintf("%g outside %s", v, r)}
		}
	}
	if len(f.errs) == 0 {
		f.result, f.ok = f.limits.Compute(f.inputs)
	}
}

// Result is the current head loss; false means unavailable.
func (f *Form) Result() (float64, bool) { return f.result, f.ok }

func (f *Form) CanSave() bool { return f.ok }

// Errors returns the current per-field validation failures.
func (f *Form) Errors() map[Field]error {
	out := make(map[Field]error, len(f.errs))
	for k, v := range f.errs {
		out[k] = v
	}
	return out
}

// Save emits one record through emit. Nothing is emitted while the result
// is unavailable.
func (f *Form) Save(pipeID, zoneID string, emit func(Record) error) error {
	if !f.ok {
		return fmt.Errorf("head loss unavailable: %w", f.firstError())
	}
	if pipeID == "" {
		return &FieldError{Field: "pipe_id", Message: "required"}
	}
	return emit(Record{PipeID: pipeID, ZoneID: zoneID, Inputs: f.inputs, HeadLoss: f.result})
}

func (f *Form) firstError() error {
	for _, field := range fields {
		if err := f.errs[field]; err != nil {
			return err
		}
	}
	return fmt.Errorf("no inputs")
}
