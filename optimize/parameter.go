package optimize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FloatParameter is a single optimized value.
type FloatParameter interface {
	Name() string
	String() string
	SetMin(float64)
	SetMax(float64)
	GetMin() float64
	GetMax() float64
	SetOnChange(func())
	Get() float64
	Set(float64)
	InRange() bool
	ValueInRange(float64) bool
}

// FloatParameters is an ordered set of parameters.
type FloatParameters []FloatParameter

// Append adds a parameter.
func (p *FloatParameters) Append(par FloatParameter) {
	*p = append(*p, par)
}

// Names returns parameter names, is is reused if not nil.
func (p FloatParameters) Names(is []string) (s []string) {
	if is == nil {
		s = make([]string, len(p))
	} else {
		s = is
	}
	for i, par := range p {
		s[i] = par.Name()
	}
	return
}

// Values returns parameter values, iv is reused if not nil.
func (p FloatParameters) Values(iv []float64) (v []float64) {
	if iv == nil {
		v = make([]float64, len(p))
	} else {
		v = iv
	}
	for i, par := range p {
		v[i] = par.Get()
	}
	return
}

// ValuesInRange checks if all the values are within the parameter
// boundaries.
func (p FloatParameters) ValuesInRange(vals []float64) bool {
	if len(vals) != len(p) {
		panic("Incorrect number of parameters")
	}
	for i, par := range p {
		if !par.ValueInRange(vals[i]) {
			return false
		}
	}
	return true
}

// SetValues sets all the parameter values.
func (p FloatParameters) SetValues(v []float64) error {
	if len(v) != len(p) {
		return fmt.Errorf("incorrect number of parameters: %d, expected %d", len(v), len(p))
	}
	for i, par := range p {
		par.Set(v[i])
	}
	return nil
}

// InRange checks if all the parameters are within the boundaries.
func (p FloatParameters) InRange() bool {
	for _, par := range p {
		if !par.InRange() {
			return false
		}
	}
	return true
}

// Map returns parameter values by name.
func (p FloatParameters) Map() map[string]float64 {
	m := make(map[string]float64, len(p))
	for _, par := range p {
		m[par.Name()] = par.Get()
	}
	return m
}

// SetFromMap sets parameter values by name. Every parameter has to be
// present in the map.
func (p FloatParameters) SetFromMap(m map[string]float64) error {
	for _, par := range p {
		v, ok := m[par.Name()]
		if !ok {
			return fmt.Errorf("parameter %s not found", par.Name())
		}
		par.Set(v)
	}
	return nil
}

// NamesString returns tab separated names.
func (p FloatParameters) NamesString() string {
	return strings.Join(p.Names(nil), "\t")
}

// ValuesString returns tab separated values.
func (p FloatParameters) ValuesString() string {
	s := make([]string, len(p))
	for i, par := range p {
		s[i] = par.String()
	}
	return strings.Join(s, "\t")
}

// BasicFloatParameter is a parameter pointing to a float64 variable.
type BasicFloatParameter struct {
	*float64
	name     string
	min      float64
	max      float64
	onChange func()
}

// NewBasicFloatParameter creates an unbounded parameter.
func NewBasicFloatParameter(par *float64, name string) *BasicFloatParameter {
	return &BasicFloatParameter{
		float64: par,
		name:    name,
		min:     math.Inf(-1),
		max:     math.Inf(+1),
	}
}

// SetMin sets the lower boundary.
func (p *BasicFloatParameter) SetMin(min float64) {
	p.min = min
}

// SetMax sets the upper boundary.
func (p *BasicFloatParameter) SetMax(max float64) {
	p.max = max
}

// SetOnChange sets the function called after every value change.
func (p *BasicFloatParameter) SetOnChange(f func()) {
	p.onChange = f
}

// Get returns the value.
func (p *BasicFloatParameter) Get() float64 {
	return *p.float64
}

// Set changes the value.
func (p *BasicFloatParameter) Set(v float64) {
	if *p.float64 == v {
		// do nothing if value has not changed
		return
	}
	*p.float64 = v
	if p.onChange != nil {
		p.onChange()
	}
}

// GetMin returns the lower boundary.
func (p *BasicFloatParameter) GetMin() float64 {
	return p.min
}

// GetMax returns the upper boundary.
func (p *BasicFloatParameter) GetMax() float64 {
	return p.max
}

// ValueInRange checks v against the boundaries.
func (p *BasicFloatParameter) ValueInRange(v float64) bool {
	return v >= p.min && v <= p.max
}

// InRange checks the current value against the boundaries.
func (p *BasicFloatParameter) InRange() bool {
	return p.ValueInRange(*p.float64)
}

// Name returns the parameter name.
func (p *BasicFloatParameter) Name() string {
	return p.name
}

func (p *BasicFloatParameter) String() string {
	return strconv.FormatFloat(*p.float64, 'f', 6, 64)
}
