package regression

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/stats"
	"github.com/codyseavey/plebmtg/internal/table"
)

// Mode selects the estimator used by Run.
type Mode string

const (
	ModeGEE Mode = "gee"
	ModeOLS Mode = "ols"
)

// ParseMode accepts gee, ols and the older "linear" spelling.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gee":
		return ModeGEE, nil
	case "ols", "linear":
		return ModeOLS, nil
	}
	return "", fmt.Errorf("regression: unknown mode %q", s)
}

// NoSignificantMessage is the placeholder explanation when nothing survives
// the significance filter.
const NoSignificantMessage = "No variables are significant!"

// Options configures Run.
type Options struct {
	Mode        Mode
	Group       string
	Family      Family
	Correlation Correlation
	// Scale z-scores the non-binary covariates before fitting.
	Scale bool
	// Exclude lists columns never used as covariates besides the group,
	// the response candidates and the ones below.
	Exclude []string
	// SignificanceLevel defaults to 0.05.
	SignificanceLevel float64
	// VIFThreshold > 0 prunes collinear covariates before fitting.
	VIFThreshold float64
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeGEE
	}
	if o.Group == "" {
		o.Group = "scryfallId"
	}
	if o.Family == "" {
		o.Family = Gaussian
	}
	if o.Exclude == nil {
		o.Exclude = []string{"priceday", "name"}
	}
	if o.SignificanceLevel <= 0 {
		o.SignificanceLevel = 0.05
	}
	return o
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	Explained OutcomeKind = iota
	Empty
)

func (k OutcomeKind) String() string {
	if k == Empty {
		return "empty"
	}
	return "explained"
}

// Effect is a significant covariate. For the binomial family Estimate,
// Lower and Upper are odds ratios.
type Effect struct {
	Variable    string
	Estimate    float64
	Lower       float64
	Upper       float64
	PValue      float64
	Binary      bool
	Explanation string
}

// Outcome is either a list of explained effects or an empty result with a
// message. Model is set in both cases.
type Outcome struct {
	Kind     OutcomeKind
	Response string
	Effects  []Effect
	Message  string
	Model    *Model
	VIF      *VIFReport
}

// Table renders the outcome for storage or display. An empty outcome is a
// single Explanation row holding the message.
func (o *Outcome) Table() *table.Table {
	if o.Kind == Empty {
		out, _ := table.FromRows([]string{"Explanation"}, [][]any{{o.Message}})
		return out
	}
	estimate := "coef"
	if o.Model != nil && o.Model.Family.reportsOddsRatio() {
		estimate = "OR"
	}
	rows := make([][]any, len(o.Effects))
	for i, e := range o.Effects {
		rows[i] = []any{e.Variable, e.Estimate, e.Lower, e.Upper, e.PValue, e.Explanation}
	}
	out, _ := table.FromRows([]string{"variables", estimate, "2.5%", "97.5%", "p-value", "Explanation"}, rows)
	return out
}

// Run builds "first sell column ~ every other numeric column", fits it with
// the selected estimator and explains the covariates with p below the
// significance level.
func Run(t *table.Table, opts Options) (*Outcome, error) {
	if t == nil {
		return nil, fmt.Errorf("regression: nil table")
	}
	opts = opts.withDefaults()

	var responses []string
	response := ""
	for _, c := range t.Columns() {
		if strings.HasPrefix(c, "sell") || strings.HasPrefix(c, "buy") {
			responses = append(responses, c)
			if response == "" && strings.HasPrefix(c, "sell") {
				response = c
			}
		}
	}
	if response == "" {
		return nil, &table.ColumnError{Column: "sell*", Err: table.ErrColumnNotFound}
	}

	skip := map[string]bool{opts.Group: true}
	for _, c := range append(responses, opts.Exclude...) {
		skip[c] = true
	}
	binary := map[string]bool{}
	var covariates, scaled []string
	for _, c := range t.Columns() {
		if skip[c] {
			continue
		}
		if !t.IsNumeric(c) {
			log.WithField("column", c).Debug("Regression: skipping non-numeric column")
			continue
		}
		covariates = append(covariates, c)
		if t.Distinct(c) <= 2 {
			binary[c] = true
		} else {
			scaled = append(scaled, c)
		}
	}

	data := t
	if opts.Scale && len(scaled) > 0 {
		z, err := stats.ZScale(t, scaled, "")
		if err != nil {
			return nil, err
		}
		for _, c := range scaled {
			vals, _ := z.Floats(c)
			if data, err = data.WithFloats(c, vals); err != nil {
				return nil, err
			}
		}
	}

	var report *VIFReport
	if opts.VIFThreshold > 0 && len(covariates) >= 2 {
		var err error
		if report, err = VIF(data, covariates, opts.VIFThreshold); err != nil {
			return nil, err
		}
		covariates = report.Remaining
	}

	formula := Formula{Response: response, Terms: covariates}
	var model *Model
	var err error
	switch opts.Mode {
	case ModeOLS:
		log.Debug("Regression: running OLS")
		model, err = OLS(data, formula)
	case ModeGEE:
		log.Debug("Regression: running GEE")
		model, err = GEE(data, formula, GEEOptions{Group: opts.Group, Family: opts.Family, Correlation: opts.Correlation})
	default:
		return nil, fmt.Errorf("regression: unknown mode %q", opts.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", opts.Mode, formula, err)
	}

	out := &Outcome{Kind: Explained, Response: response, Model: model, VIF: report}
	odds := model.Family.reportsOddsRatio()
	for _, c := range model.Coefficients {
		if c.Name == Intercept || !(c.PValue < opts.SignificanceLevel) {
			continue
		}
		e := Effect{Variable: c.Name, Estimate: c.Estimate, Lower: c.Lower, Upper: c.Upper, PValue: c.PValue, Binary: binary[c.Name]}
		if odds {
			e.Estimate, e.Lower, e.Upper = math.Exp(e.Estimate), math.Exp(e.Lower), math.Exp(e.Upper)
		}
		e.Explanation = explain(e, response, odds)
		out.Effects = append(out.Effects, e)
	}
	if len(out.Effects) == 0 {
		log.Info("Regression: no significant results")
		out.Kind = Empty
		out.Message = NoSignificantMessage
	}
	return out, nil
}

func explain(e Effect, response string, odds bool) string {
	if !e.Binary {
		return fmt.Sprintf("One unit increase in %s would result in a %s change in %s.", e.Variable, formatNumber(e.Estimate), response)
	}
	if odds {
		direction := "larger"
		if e.Estimate < 1 {
			direction = "smaller"
		}
		return fmt.Sprintf("A card that has/is %s would have a %s that is %s times %s than the average card.",
			e.Variable, response, formatNumber(e.Estimate), direction)
	}
	direction := "larger"
	if e.Estimate < 0 {
		direction = "smaller"
	}
	return fmt.Sprintf("A card that has/is %s would have a %s that is %s %s than the average card.",
		e.Variable, response, formatNumber(math.Abs(e.Estimate)), direction)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
