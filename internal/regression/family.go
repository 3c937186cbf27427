package regression

import (
	"fmt"
	"math"
	"strings"
)

// Family is the response distribution of a GEE fit. Gaussian uses the
// identity link, binomial the logit, poisson and gamma the log link.
type Family string

const (
	Gaussian Family = "gaussian"
	Binomial Family = "binomial"
	Poisson  Family = "poisson"
	Gamma    Family = "gamma"
)

// ParseFamily is case-insensitive; empty means gaussian.
func ParseFamily(s string) (Family, error) {
	switch f := Family(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Gaussian, nil
	case Gaussian, Binomial, Poisson, Gamma:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

const muEps = 1e-10

// mean maps the linear predictor to the mean.
func (f Family) mean(eta float64) float64 {
	switch f {
	case Binomial:
		mu := 1 / (1 + math.Exp(-eta))
		return math.Min(math.Max(mu, muEps), 1-muEps)
	case Poisson, Gamma:
		return math.Max(math.Exp(math.Min(eta, 700)), muEps)
	}
	return eta
}

// link is the inverse of mean.
func (f Family) link(mu float64) float64 {
	switch f {
	case Binomial:
		mu = math.Min(math.Max(mu, 1e-3), 1-1e-3)
		return math.Log(mu / (1 - mu))
	case Poisson, Gamma:
		return math.Log(math.Max(mu, 1e-3))
	}
	return mu
}

// derivative is dmu/deta.
func (f Family) derivative(mu float64) float64 {
	switch f {
	case Binomial:
		return mu * (1 - mu)
	case Poisson, Gamma:
		return mu
	}
	return 1
}

func (f Family) variance(mu float64) float64 {
	switch f {
	case Binomial:
		return mu * (1 - mu)
	case Poisson:
		return mu
	case Gamma:
		return mu * mu
	}
	return 1
}

func (f Family) checkResponse(y []float64) error {
	for _, v := range y {
		switch {
		case f == Binomial && (v < 0 || v > 1),
			f == Poisson && v < 0,
			f == Gamma && v <= 0:
			return fmt.Errorf("%w: %s cannot model %v", ErrResponseDomain, f, v)
		}
	}
	return nil
}

// reportsOddsRatio is true when coefficients are exponentiated for display.
func (f Family) reportsOddsRatio() bool { return f == Binomial }
