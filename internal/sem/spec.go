package sem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dfs"
)

// Equation is one structural regression: a response predicted by one or
// more variables, written "response ~ pred1 + pred2".
type Equation struct {
	Response   string   `json:"response"`
	Predictors []string `json:"predictors"`
}

// String renders the equation back in formula notation.
func (e Equation) String() string {
	return e.Response + " ~ " + strings.Join(e.Predictors, " + ")
}

// Spec is a named candidate model: an ordered list of equations whose
// directed paths must form an acyclic graph. Specs are plain data and
// carry no fitted state, so the same spec can be fitted against many
// datasets.
type Spec struct {
	Name      string     `json:"name"`
	Equations []Equation `json:"equations"`
}

// SpecificationError reports a structurally invalid candidate model:
// malformed formulas, variables absent from the dataset, or causal
// cycles. It aborts a comparison rather than failing one candidate,
// because a bad specification is an authoring mistake, not a property
// of the data.
type SpecificationError struct {
	Model  string
	Detail string
}

func (e *SpecificationError) Error() string {
	if e.Model == "" {
		return "invalid model specification: " + e.Detail
	}
	return fmt.Sprintf("invalid model specification %q: %s", e.Model, e.Detail)
}

// IsTransient returns false as specification errors are permanent.
func (e *SpecificationError) IsTransient() bool {
	return false
}

// ParseEquation parses formula notation into an Equation. The left side
// is a single variable name, the right side one or more names joined
// with +.
func ParseEquation(formula string) (Equation, error) {
	lhs, rhs, found := strings.Cut(formula, "~")
	if !found {
		return Equation{}, fmt.Errorf("formula %q: missing ~ separator", formula)
	}
	if strings.Contains(rhs, "~") {
		return Equation{}, fmt.Errorf("formula %q: multiple ~ separators", formula)
	}

	response := strings.TrimSpace(lhs)
	if err := checkName(response); err != nil {
		return Equation{}, fmt.Errorf("formula %q: response: %w", formula, err)
	}

	var predictors []string
	for _, part := range strings.Split(rhs, "+") {
		name := strings.TrimSpace(part)
		if err := checkName(name); err != nil {
			return Equation{}, fmt.Errorf("formula %q: predictor: %w", formula, err)
		}
		predictors = append(predictors, name)
	}
	if len(predictors) == 0 {
		return Equation{}, fmt.Errorf("formula %q: at least one predictor required", formula)
	}

	return Equation{Response: response, Predictors: predictors}, nil
}

func checkName(name string) error {
	if name == "" {
		return errors.New("empty variable name")
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("variable name %q starts with a digit", name)
			}
		default:
			return fmt.Errorf("variable name %q contains %q", name, r)
		}
	}
	return nil
}

// NewSpec parses a list of formulas into a named Spec. Structural
// validation beyond formula syntax happens in Validate, where the
// available dataset columns are known.
func NewSpec(name string, formulas []string) (Spec, error) {
	spec := Spec{Name: name}
	for _, f := range formulas {
		eq, err := ParseEquation(f)
		if err != nil {
			return Spec{}, &SpecificationError{Model: name, Detail: err.Error()}
		}
		spec.Equations = append(spec.Equations, eq)
	}
	return spec, nil
}

// Formulas returns the equations in formula notation.
func (s Spec) Formulas() []string {
	out := make([]string, len(s.Equations))
	for i, eq := range s.Equations {
		out[i] = eq.String()
	}
	return out
}

// String renders the spec as "name: eq1; eq2".
func (s Spec) String() string {
	return s.Name + ": " + strings.Join(s.Formulas(), "; ")
}

// Variables lists every variable the spec references, in first
// appearance order. This ordering is what fitted matrices and residual
// reports use.
func (s Spec) Variables() []string {
	seen := make(map[string]bool)
	var vars []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	for _, eq := range s.Equations {
		add(eq.Response)
		for _, p := range eq.Predictors {
			add(p)
		}
	}
	return vars
}

// Responses lists the endogenous variables, one per equation.
func (s Spec) Responses() []string {
	out := make([]string, len(s.Equations))
	for i, eq := range s.Equations {
		out[i] = eq.Response
	}
	return out
}

// Exogenous lists variables that never appear as a response.
func (s Spec) Exogenous() []string {
	endo := make(map[string]bool, len(s.Equations))
	for _, eq := range s.Equations {
		endo[eq.Response] = true
	}
	var out []string
	for _, v := range s.Variables() {
		if !endo[v] {
			out = append(out, v)
		}
	}
	return out
}

// EdgeCount returns the number of directed paths.
func (s Spec) EdgeCount() int {
	n := 0
	for _, eq := range s.Equations {
		n += len(eq.Predictors)
	}
	return n
}

// Validate checks the spec against the available dataset columns:
// every referenced variable must exist, no response may repeat, no
// variable may predict itself, and the directed path graph must be
// acyclic. All violations return a *SpecificationError.
func (s Spec) Validate(available []string) error {
	if len(s.Equations) == 0 {
		return &SpecificationError{Model: s.Name, Detail: "no equations"}
	}

	known := make(map[string]bool, len(available))
	for _, c := range available {
		known[c] = true
	}

	responses := make(map[string]bool, len(s.Equations))
	for _, eq := range s.Equations {
		if !known[eq.Response] {
			return &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("response %q is not a dataset column", eq.Response)}
		}
		if responses[eq.Response] {
			return &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("response %q has more than one equation", eq.Response)}
		}
		responses[eq.Response] = true

		preds := make(map[string]bool, len(eq.Predictors))
		for _, p := range eq.Predictors {
			if p == eq.Response {
				return &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("variable %q predicts itself", p)}
			}
			if !known[p] {
				return &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("predictor %q is not a dataset column", p)}
			}
			if preds[p] {
				return &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("predictor %q repeated in equation for %q", p, eq.Response)}
			}
			preds[p] = true
		}
	}

	if _, err := s.causalOrder(); err != nil {
		return err
	}
	return nil
}

// EvaluationOrder returns the variables sorted so that every predictor
// precedes its response, or a *SpecificationError when the path graph
// contains a cycle.
func (s Spec) EvaluationOrder() ([]string, error) {
	return s.causalOrder()
}

func (s Spec) causalOrder() ([]string, error) {
	g := core.NewGraph(core.WithDirected(true))
	for _, v := range s.Variables() {
		if err := g.AddVertex(v); err != nil {
			return nil, &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("graph build: %v", err)}
		}
	}
	for _, eq := range s.Equations {
		for _, p := range eq.Predictors {
			if _, err := g.AddEdge(p, eq.Response, 0); err != nil {
				return nil, &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("graph build: %v", err)}
			}
		}
	}

	order, err := dfs.TopologicalSort(g)
	if err != nil {
		if errors.Is(err, dfs.ErrCycleDetected) {
			return nil, &SpecificationError{Model: s.Name, Detail: "causal paths form a cycle"}
		}
		return nil, &SpecificationError{Model: s.Name, Detail: fmt.Sprintf("topological sort: %v", err)}
	}
	return order, nil
}
