package derivative

import (
	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

// Policy is how a parameter is perturbed.
type Policy int

const (
	// Multiplicative scales the parameter by (1 ± kε). Undefined at zero.
	Multiplicative Policy = iota
	// Additive shifts the parameter by ± kε.
	Additive
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Multiplicative:
		return "multiplicative"
	case Additive:
		return "additive"
	}
	return "unknown"
}

// Descriptor describes the perturbation of one parameter.
type Descriptor struct {
	Index     int
	Name      string
	LogScaled bool
	Policy    Policy
}

// Table holds one Descriptor per canonical parameter.
type Table [likelihood.NumParams]Descriptor

// DefaultTable perturbs every parameter multiplicatively except the log distance,
// which gets an additive step in log space. A step ε on ln D is then a relative
// step ε on D.
func DefaultTable() Table {
	var t Table
	for i := range t {
		t[i] = Descriptor{Index: i, Name: likelihood.ParamNames[i], Policy: Multiplicative}
	}
	t[likelihood.IndexLnDistance].LogScaled = true
	t[likelihood.IndexLnDistance].Policy = Additive
	return t
}

// step returns the perturbed values and the signed step for a stencil of width k·ε.
func (d Descriptor) step(x, eps, k float64) (up, down, h float64) {
	if d.Policy == Additive {
		h = k * eps
		return x + h, x - h, h
	}
	return x * (1 + k*eps), x * (1 - k*eps), k * eps * x
}

// check rejects parameter values the policy cannot perturb.
func (d Descriptor) check(x float64) error {
	if d.Policy == Multiplicative && x == 0 {
		return lerrors.Domain("parameter %d (%s) is zero, a relative step is undefined", d.Index, d.Name).
			WithComponent(component).WithOperation("Descriptor.check")
	}
	return nil
}
