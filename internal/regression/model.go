package regression

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/codyseavey/plebmtg/internal/table"
)

// Kind is the estimator behind a Model.
type Kind string

const (
	KindOLS Kind = "ols"
	KindGEE Kind = "gee"
)

// Coefficient is one fitted term on the link scale. Lower and Upper are the
// 95% confidence bounds. Undefined statistics are NaN.
type Coefficient struct {
	Name      string
	Estimate  float64
	StdErr    float64
	Statistic float64
	PValue    float64
	Lower     float64
	Upper     float64
}

// Model is a fitted regression. It holds everything needed to predict and
// round-trips through JSON.
type Model struct {
	Kind         Kind
	Formula      Formula
	Family       Family
	Group        string
	Correlation  Correlation
	Coefficients []Coefficient
	NObs         int
	NGroups      int
	DFResid      float64
	// Scale is sigma^2 for OLS and the dispersion phi for GEE.
	Scale float64
	// Alpha is the exchangeable working correlation (GEE only).
	Alpha       float64
	RSquared    float64
	AdjRSquared float64
	Iterations  int
	Converged   bool
}

// Coefficient looks up a term by name.
func (m *Model) Coefficient(name string) (Coefficient, bool) {
	for _, c := range m.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// Predict returns the fitted mean for every row of t. Rows with a missing
// covariate predict NaN.
func (m *Model) Predict(t *table.Table) ([]float64, error) {
	if len(m.Coefficients) == 0 || m.Coefficients[0].Name != Intercept {
		return nil, fmt.Errorf("regression: model has no intercept")
	}
	cols := make([][]float64, len(m.Formula.Terms))
	for j, term := range m.Formula.Terms {
		vals, err := t.Floats(term)
		if err != nil {
			return nil, err
		}
		cols[j] = vals
	}
	family := m.Family
	if family == "" {
		family = Gaussian
	}
	out := make([]float64, t.Len())
	for r := range out {
		eta := m.Coefficients[0].Estimate
		for j := range cols {
			eta += m.Coefficients[j+1].Estimate * cols[j][r]
		}
		if math.IsNaN(eta) {
			out[r] = eta
			continue
		}
		out[r] = family.mean(eta)
	}
	return out, nil
}

// nullable writes NaN and infinities as JSON null and reads null back as NaN.
type nullable float64

func (n nullable) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (n *nullable) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = nullable(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = nullable(f)
	return nil
}

type coefficientJSON struct {
	Name      string   `json:"name"`
	Estimate  nullable `json:"estimate"`
	StdErr    nullable `json:"std_err"`
	Statistic nullable `json:"statistic"`
	PValue    nullable `json:"p_value"`
	Lower     nullable `json:"lower"`
	Upper     nullable `json:"upper"`
}

func (c Coefficient) MarshalJSON() ([]byte, error) {
	return json.Marshal(coefficientJSON{
		Name:      c.Name,
		Estimate:  nullable(c.Estimate),
		StdErr:    nullable(c.StdErr),
		Statistic: nullable(c.Statistic),
		PValue:    nullable(c.PValue),
		Lower:     nullable(c.Lower),
		Upper:     nullable(c.Upper),
	})
}

func (c *Coefficient) UnmarshalJSON(b []byte) error {
	var v coefficientJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = Coefficient{
		Name:      v.Name,
		Estimate:  float64(v.Estimate),
		StdErr:    float64(v.StdErr),
		Statistic: float64(v.Statistic),
		PValue:    float64(v.PValue),
		Lower:     float64(v.Lower),
		Upper:     float64(v.Upper),
	}
	return nil
}

type modelJSON struct {
	Kind         Kind          `json:"kind"`
	Response     string        `json:"response"`
	Terms        []string      `json:"terms"`
	Family       Family        `json:"family,omitempty"`
	Group        string        `json:"group,omitempty"`
	Correlation  Correlation   `json:"correlation,omitempty"`
	Coefficients []Coefficient `json:"coefficients"`
	NObs         int           `json:"nobs"`
	NGroups      int           `json:"ngroups,omitempty"`
	DFResid      nullable      `json:"df_resid"`
	Scale        nullable      `json:"scale"`
	Alpha        nullable      `json:"alpha"`
	RSquared     nullable      `json:"r_squared"`
	AdjRSquared  nullable      `json:"adj_r_squared"`
	Iterations   int           `json:"iterations"`
	Converged    bool          `json:"converged"`
}

func (m Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelJSON{
		Kind:         m.Kind,
		Response:     m.Formula.Response,
		Terms:        m.Formula.Terms,
		Family:       m.Family,
		Group:        m.Group,
		Correlation:  m.Correlation,
		Coefficients: m.Coefficients,
		NObs:         m.NObs,
		NGroups:      m.NGroups,
		DFResid:      nullable(m.DFResid),
		Scale:        nullable(m.Scale),
		Alpha:        nullable(m.Alpha),
		RSquared:     nullable(m.RSquared),
		AdjRSquared:  nullable(m.AdjRSquared),
		Iterations:   m.Iterations,
		Converged:    m.Converged,
	})
}

func (m *Model) UnmarshalJSON(b []byte) error {
	var v modelJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Model{
		Kind:         v.Kind,
		Formula:      Formula{Response: v.Response, Terms: v.Terms},
		Family:       v.Family,
		Group:        v.Group,
		Correlation:  v.Correlation,
		Coefficients: v.Coefficients,
		NObs:         v.NObs,
		NGroups:      v.NGroups,
		DFResid:      float64(v.DFResid),
		Scale:        float64(v.Scale),
		Alpha:        float64(v.Alpha),
		RSquared:     float64(v.RSquared),
		AdjRSquared:  float64(v.AdjRSquared),
		Iterations:   v.Iterations,
		Converged:    v.Converged,
	}
	return nil
}
