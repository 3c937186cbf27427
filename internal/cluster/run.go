package cluster

import (
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/codyseavey/plebmtg/internal/stats"
	"github.com/codyseavey/plebmtg/internal/table"
)

// Neighbor table columns.
const (
	ColIdentifier = "scryfallId"
	ColName       = "name"
	ColGroup      = "kmgroups"
	ColCard       = "card"
	ColDistance   = "distance"
	ColMatchGroup = "matchgroup"
	ColPrice      = "price"
)

const DefaultKMax = 15

// Options configures Run.
type Options struct {
	// IDColumns are carried into the neighbor table and never used as features.
	IDColumns []string
	KMax      int
	Selector  KSelector
	Metric    Metric
	// PriceColumn is shown next to each candidate card; empty picks the first
	// column starting with "sell".
	PriceColumn string
	KMeans      Config
}

func (o Options) withDefaults() Options {
	if len(o.IDColumns) == 0 {
		o.IDColumns = []string{ColIdentifier, ColName}
	}
	if o.KMax == 0 {
		o.KMax = DefaultKMax
	}
	if o.Selector == nil {
		o.Selector = ElbowSelector{}
	}
	if o.Metric == "" {
		o.Metric = Silhouette
	}
	return o
}

// Result is everything one clustering pass produces.
type Result struct {
	K        int
	Elbow    []ElbowPoint
	Features []string
	// Centroids has one row per group and one column per feature, in
	// feature space (binary columns raw, the rest z-scored).
	Centroids *table.Table
	Labels    []int
	Distances *mat.Dense
	Score     float64
	Metric    Metric
	// Matches lists every same-group pair of differently named cards.
	Matches []Match
	// PriceColumn is the summary column shown next to candidate cards.
	PriceColumn string
	Fit         *Fit

	summary *table.Table
	idCols  []string
}

// Match pairs a source card with a candidate card from the same group.
// Source and Candidate are row positions in the summary table.
type Match struct {
	Source    int
	Candidate int
	Group     int
	Distance  float64
}

// Run clusters the summary view. Numeric columns with at most two distinct
// values are used as-is, every other numeric feature is z-scored first.
func Run(summary *table.Table, opts Options) (*Result, error) {
	if summary == nil {
		return nil, fmt.Errorf("cluster: nil summary table")
	}
	opts = opts.withDefaults()
	if opts.KMax < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKMax, opts.KMax)
	}
	for _, c := range opts.IDColumns {
		if !summary.Has(c) {
			return nil, &table.ColumnError{Column: c, Err: table.ErrColumnNotFound}
		}
	}
	priceCol, err := pickPriceColumn(summary, opts.PriceColumn)
	if err != nil {
		return nil, err
	}

	x, features, err := featureMatrix(summary, opts.IDColumns)
	if err != nil {
		return nil, err
	}

	elbow, err := Elbow(x, opts.KMax, opts.KMeans)
	if err != nil {
		return nil, err
	}
	k, err := opts.Selector.SelectK(elbow)
	if err != nil {
		return nil, err
	}
	log.Infof("Cluster: best k is %d", k)

	fit, err := KMeans(x, k, opts.KMeans)
	if err != nil {
		return nil, err
	}
	score, err := Score(x, fit.Labels, opts.Metric)
	if err != nil {
		return nil, err
	}
	log.WithField("metric", opts.Metric).Infof("Cluster: score %.4f (%s)", score, opts.Metric.Describe())

	centroids, err := centroidTable(fit.Centroids, features)
	if err != nil {
		return nil, err
	}
	dist := PairwiseDistances(x)
	names, err := summary.Strings(ColName)
	if err != nil {
		return nil, err
	}
	matches := sameGroupMatches(names, fit.Labels, dist)
	log.Debugf("Cluster: %d same-group pairs", len(matches))

	return &Result{
		K:           k,
		Elbow:       elbow,
		Features:    features,
		Centroids:   centroids,
		Labels:      fit.Labels,
		Distances:   dist,
		Score:       score,
		Metric:      opts.Metric,
		Matches:     matches,
		PriceColumn: priceCol,
		Fit:         fit,
		summary:     summary,
		idCols:      opts.IDColumns,
	}, nil
}

// GroupSizes counts members per label.
func (r *Result) GroupSizes() map[int]int {
	out := make(map[int]int, r.K)
	for _, l := range r.Labels {
		out[l]++
	}
	return out
}

func pickPriceColumn(t *table.Table, want string) (string, error) {
	if want != "" {
		if !t.Has(want) {
			return "", &table.ColumnError{Column: want, Err: table.ErrColumnNotFound}
		}
		return want, nil
	}
	for _, c := range t.Columns() {
		if strings.HasPrefix(c, "sell") {
			return c, nil
		}
	}
	return "", &table.ColumnError{Column: "sell*", Err: table.ErrColumnNotFound}
}

func featureMatrix(t *table.Table, idCols []string) (*mat.Dense, []string, error) {
	skip := make(map[string]bool, len(idCols))
	for _, c := range idCols {
		skip[c] = true
	}
	var binary, continuous []string
	for _, c := range t.Columns() {
		if skip[c] {
			continue
		}
		if !t.IsNumeric(c) {
			log.WithField("column", c).Debug("Cluster: skipping non-numeric column")
			continue
		}
		if t.Distinct(c) <= 2 {
			binary = append(binary, c)
		} else {
			continuous = append(continuous, c)
		}
	}
	features := append(append([]string{}, binary...), continuous...)
	if len(features) == 0 {
		return nil, nil, ErrNoFeatures
	}

	scaled, err := stats.ZScale(t, continuous, "")
	if err != nil {
		return nil, nil, err
	}
	x := mat.NewDense(t.Len(), len(features), nil)
	for j, c := range features {
		src := t
		if j >= len(binary) {
			src = scaled
		}
		vals, err := src.Floats(c)
		if err != nil {
			return nil, nil, err
		}
		for _, v := range vals {
			if math.IsNaN(v) {
				return nil, nil, &table.ColumnError{Column: c, Err: table.ErrNotNumeric}
			}
		}
		x.SetCol(j, vals)
	}
	return x, features, nil
}

func centroidTable(c *mat.Dense, features []string) (*table.Table, error) {
	k, _ := c.Dims()
	rows := make([][]any, k)
	for g := 0; g < k; g++ {
		row := make([]any, len(features))
		for j, v := range c.RawRowView(g) {
			row[j] = v
		}
		rows[g] = row
	}
	return table.FromRows(features, rows)
}

// sameGroupMatches walks each group's members in row order, pairing every
// source with the other members whose name differs.
func sameGroupMatches(names []string, labels []int, dist *mat.Dense) []Match {
	groups := groupRows(labels)
	size := 0
	for _, rows := range groups {
		size += len(rows) * (len(rows) - 1)
	}
	out := make([]Match, 0, size)
	for src, l := range labels {
		for _, cand := range groups[l] {
			if names[cand] == names[src] {
				continue
			}
			out = append(out, Match{Source: src, Candidate: cand, Group: l, Distance: dist.At(src, cand)})
		}
	}
	return out
}

// NeighborTable expands every card pair, candidate-major: for each candidate
// card, every source card. Columns are the id columns, then kmgroups, card,
// distance, matchgroup and price. It holds n*n rows, so callers that only
// need same-group pairs should use Matches.
func (r *Result) NeighborTable() (*table.Table, error) {
	if r.summary == nil {
		return nil, fmt.Errorf("cluster: result has no summary table")
	}
	t := r.summary
	names, err := t.Strings(ColName)
	if err != nil {
		return nil, err
	}
	prices, err := t.Column(r.PriceColumn)
	if err != nil {
		return nil, err
	}
	idPos := make([]int, len(r.idCols))
	for i, c := range r.idCols {
		pos, ok := t.Index(c)
		if !ok {
			return nil, &table.ColumnError{Column: c, Err: table.ErrColumnNotFound}
		}
		idPos[i] = pos
	}

	columns := append(append([]string{}, r.idCols...), ColGroup, ColCard, ColDistance, ColMatchGroup, ColPrice)
	n := t.Len()
	b, err := table.NewBuilder(n*n, columns...)
	if err != nil {
		return nil, err
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			row := make([]any, 0, len(columns))
			for _, p := range idPos {
				row = append(row, t.At(i, p))
			}
			row = append(row, float64(r.Labels[i]), names[j], r.Distances.At(i, j), float64(r.Labels[j]), prices[j])
			if err := b.Add(row...); err != nil {
				return nil, err
			}
		}
	}
	return b.Table(), nil
}
