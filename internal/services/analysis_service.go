package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/codyseavey/plebmtg/internal/cluster"
	"github.com/codyseavey/plebmtg/internal/config"
	"github.com/codyseavey/plebmtg/internal/database"
	"github.com/codyseavey/plebmtg/internal/metrics"
	"github.com/codyseavey/plebmtg/internal/models"
	"github.com/codyseavey/plebmtg/internal/regression"
	"github.com/codyseavey/plebmtg/internal/table"
	"github.com/codyseavey/plebmtg/internal/transform"
)

var ErrRunInProgress = errors.New("an analysis run is already in progress")

// keepRuns is how many successful runs survive pruning.
const keepRuns = 5

// AttributeFetcher produces the card attribute table.
type AttributeFetcher interface {
	FetchAttributes(ctx context.Context) (*table.Table, error)
}

// PriceFetcher produces the wide price table for a lookback window.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, days int) (*table.Table, error)
}

// AnalysisService fetches raw data, runs the transform, cluster and
// regression engines and stores their results.
type AnalysisService struct {
	db     *gorm.DB
	cfg    *config.Config
	attrs  AttributeFetcher
	prices PriceFetcher
	store  *RawStore
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

func NewAnalysisService(db *gorm.DB, cfg *config.Config, attrs AttributeFetcher, prices PriceFetcher, store *RawStore) *AnalysisService {
	return &AnalysisService{
		db:     db,
		cfg:    cfg,
		attrs:  attrs,
		prices: prices,
		store:  store,
		now:    time.Now,
	}
}

// Running reports whether a run is in progress.
func (s *AnalysisService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *AnalysisService) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *AnalysisService) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Fetch downloads both upstream datasets into the raw store.
func (s *AnalysisService) Fetch(ctx context.Context) error {
	if s.attrs == nil || s.prices == nil {
		return fmt.Errorf("analysis service: fetchers are not configured")
	}
	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	}()

	attrs, err := s.attrs.FetchAttributes(ctx)
	if err != nil {
		return err
	}
	prices, err := s.prices.FetchPrices(ctx, s.cfg.Fetch.Days)
	if err != nil {
		return err
	}
	if err := s.store.Save(RawAttributes, attrs); err != nil {
		return err
	}
	return s.store.Save(RawPrices, prices)
}

// Refresh fetches fresh data and analyzes it.
func (s *AnalysisService) Refresh(ctx context.Context, trigger string) (*models.AnalysisRun, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()

	if err := s.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return s.analyze(ctx, trigger)
}

// Analyze runs the pipeline on the stored raw datasets.
func (s *AnalysisService) Analyze(ctx context.Context, trigger string) (*models.AnalysisRun, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()
	return s.analyze(ctx, trigger)
}

func (s *AnalysisService) analyze(ctx context.Context, trigger string) (*models.AnalysisRun, error) {
	run := &models.AnalysisRun{
		ID:        uuid.New().String(),
		Status:    models.RunRunning,
		Trigger:   trigger,
		StartedAt: s.now(),
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	logger := log.WithField("run", run.ID)
	logger.Infof("Analysis service: run started (%s)", trigger)

	res, err := s.execute(ctx, run)
	if err == nil {
		err = s.persist(run, res)
	}

	finished := s.now()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		if uerr := s.db.Model(run).Select("status", "error", "finished_at").Updates(run).Error; uerr != nil {
			logger.Errorf("Analysis service: failed to mark run failed: %v", uerr)
		}
		metrics.AnalysisRunsTotal.WithLabelValues(string(models.RunFailed)).Inc()
		logger.Errorf("Analysis service: run failed: %v", err)
		return run, err
	}

	metrics.AnalysisRunsTotal.WithLabelValues(string(models.RunSucceeded)).Inc()
	metrics.AnalysisLastSuccess.Set(float64(finished.Unix()))
	logger.Infof("Analysis service: run finished in %s (k=%d, %s=%.4f)", run.Duration().Round(time.Millisecond), run.BestK, run.ScoreMetric, run.Score)

	if _, err := database.PruneRuns(s.db, keepRuns); err != nil {
		logger.Warnf("Analysis service: failed to prune old runs: %v", err)
	}
	return run, nil
}

type analysisResult struct {
	views   *transform.Views
	cluster *cluster.Result
	gee     *regression.Outcome
	ols     *regression.Outcome
}

func (s *AnalysisService) execute(ctx context.Context, run *models.AnalysisRun) (*analysisResult, error) {
	attrs, err := s.store.Load(RawAttributes)
	if err != nil {
		return nil, err
	}
	prices, err := s.store.Load(RawPrices)
	if err != nil {
		return nil, err
	}

	stage := time.Now()
	schema, err := transform.SchemaFromColumns(prices.Columns())
	if err != nil {
		return nil, fmt.Errorf("price table: %w", err)
	}
	if len(schema.Days) != s.cfg.Fetch.Days {
		log.WithField("run", run.ID).Warnf("Analysis service: stored prices cover %d days, config asks for %d", len(schema.Days), s.cfg.Fetch.Days)
	}
	views, err := transform.Pipeline(attrs, prices, schema, transform.CleanOptions{
		PercentKeep: s.cfg.Clean.PercentKeep,
		Now:         s.now,
	})
	if err != nil {
		return nil, err
	}
	metrics.PipelineStageDuration.WithLabelValues("transform").Observe(time.Since(stage).Seconds())
	metrics.CardsAnalyzed.Set(float64(views.Summary.Len()))
	log.WithField("run", run.ID).Infof("Analysis service: merged %d rows, %d summary rows", views.Merged.Len(), views.Summary.Len())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	metric, err := cluster.ParseMetric(s.cfg.Cluster.Metric)
	if err != nil {
		return nil, err
	}
	cres, err := cluster.Run(views.Summary, cluster.Options{
		KMax:   s.cfg.Cluster.KMax,
		Metric: metric,
		KMeans: cluster.Config{NInit: s.cfg.Cluster.NInit, Seed: s.cfg.Cluster.Seed},
	})
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	metrics.PipelineStageDuration.WithLabelValues("cluster").Observe(time.Since(stage).Seconds())
	metrics.ClusterBestK.Set(float64(cres.K))
	metrics.ClusterScore.WithLabelValues(string(cres.Metric)).Set(cres.Score)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	family, err := regression.ParseFamily(s.cfg.Regression.Family)
	if err != nil {
		return nil, err
	}
	corr, err := regression.ParseCorrelation(s.cfg.Regression.Correlation)
	if err != nil {
		return nil, err
	}
	opts := regression.Options{
		Family:            family,
		Correlation:       corr,
		Scale:             s.cfg.Regression.Scale,
		SignificanceLevel: s.cfg.Regression.SignificanceLevel,
		VIFThreshold:      s.cfg.Regression.VIFThreshold,
	}
	opts.Mode = regression.ModeGEE
	gee, err := regression.Run(views.Longitudinal, opts)
	if err != nil {
		return nil, fmt.Errorf("regression: %w", err)
	}
	// OLS is always gaussian.
	opts.Mode, opts.Family = regression.ModeOLS, regression.Gaussian
	ols, err := regression.Run(views.Summary, opts)
	if err != nil {
		return nil, fmt.Errorf("regression: %w", err)
	}
	metrics.PipelineStageDuration.WithLabelValues("regression").Observe(time.Since(stage).Seconds())
	metrics.RegressionSignificantEffects.WithLabelValues(string(regression.ModeGEE)).Set(float64(len(gee.Effects)))
	metrics.RegressionSignificantEffects.WithLabelValues(string(regression.ModeOLS)).Set(float64(len(ols.Effects)))

	run.Cards = views.Summary.Len()
	run.Features = len(cres.Features)
	run.BestK = cres.K
	run.ScoreMetric = string(cres.Metric)
	run.Score = cres.Score
	return &analysisResult{views: views, cluster: cres, gee: gee, ols: ols}, nil
}

const insertBatch = 500

func (s *AnalysisService) persist(run *models.AnalysisRun, res *analysisResult) error {
	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("store").Observe(time.Since(start).Seconds())
	}()

	merged := mergedCards(run.ID, res.views.Merged)
	names, err := cardNames(run.ID, res.views.Summary)
	if err != nil {
		return err
	}
	matches, err := clusterMatches(run.ID, res.views.Summary, res.cluster)
	if err != nil {
		return err
	}
	centroids := clusterCentroids(run.ID, res.cluster)
	effects := append(regressionEffects(run.ID, regression.ModeGEE, res.gee), regressionEffects(run.ID, regression.ModeOLS, res.ols)...)
	fitted, err := fittedModels(run.ID, res.gee.Model, res.ols.Model)
	if err != nil {
		return err
	}

	run.Status = models.RunSucceeded
	finished := s.now()
	run.FinishedAt = &finished
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := insertAll(tx, merged); err != nil {
			return err
		}
		if err := insertAll(tx, matches); err != nil {
			return err
		}
		if err := insertAll(tx, centroids); err != nil {
			return err
		}
		if err := insertAll(tx, effects); err != nil {
			return err
		}
		if err := insertAll(tx, fitted); err != nil {
			return err
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CardName{}).Error; err != nil {
			return err
		}
		if err := insertAll(tx, names); err != nil {
			return err
		}
		return tx.Save(run).Error
	})
}

func insertAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, insertBatch).Error
}

func mergedCards(runID string, merged *table.Table) []models.MergedCard {
	col := func(name string) []string {
		if !merged.Has(name) {
			return make([]string, merged.Len())
		}
		vals, _ := merged.Strings(name)
		return vals
	}
	ids, names, sets, rarities := col("scryfallId"), col("name"), col("set"), col("rarity")
	released, types, images := col("released_at"), col("pricetype"), col("image_url")

	out := make([]models.MergedCard, merged.Len())
	for i := range out {
		out[i] = models.MergedCard{
			RunID:      runID,
			ScryfallID: ids[i],
			Name:       names[i],
			SetCode:    sets[i],
			Rarity:     rarities[i],
			ReleasedAt: released[i],
			PriceType:  types[i],
			ImageURL:   images[i],
		}
	}
	return out
}

func cardNames(runID string, summary *table.Table) ([]models.CardName, error) {
	names, err := summary.Strings("name")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []models.CardName
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, models.CardName{Name: n, RunID: runID})
	}
	return out, nil
}

// clusterMatches stores the same-group pairs, the only ones a similar-card
// query can return.
func clusterMatches(runID string, summary *table.Table, res *cluster.Result) ([]models.ClusterMatch, error) {
	ids, err := summary.Strings(cluster.ColIdentifier)
	if err != nil {
		return nil, err
	}
	names, err := summary.Strings(cluster.ColName)
	if err != nil {
		return nil, err
	}
	prices, err := summary.Floats(res.PriceColumn)
	if err != nil {
		return nil, err
	}

	out := make([]models.ClusterMatch, len(res.Matches))
	for i, m := range res.Matches {
		out[i] = models.ClusterMatch{
			RunID:      runID,
			ScryfallID: ids[m.Source],
			Name:       names[m.Source],
			Group:      m.Group,
			Card:       names[m.Candidate],
			Distance:   m.Distance,
			MatchGroup: m.Group,
			Price:      zeroIfNaN(prices[m.Candidate]),
		}
	}
	return out, nil
}

func clusterCentroids(runID string, res *cluster.Result) []models.ClusterCentroid {
	sizes := res.GroupSizes()
	var out []models.ClusterCentroid
	for g := 0; g < res.Centroids.Len(); g++ {
		for _, f := range res.Features {
			v, _ := res.Centroids.Value(g, f).(float64)
			out = append(out, models.ClusterCentroid{
				RunID:   runID,
				Group:   g,
				Size:    sizes[g],
				Feature: f,
				Value:   v,
			})
		}
	}
	return out
}

func regressionEffects(runID string, mode regression.Mode, o *regression.Outcome) []models.RegressionEffect {
	if o.Kind == regression.Empty {
		return []models.RegressionEffect{{
			RunID:       runID,
			Model:       string(mode),
			Response:    o.Response,
			Explanation: o.Message,
			Placeholder: true,
		}}
	}
	odds := o.Model.Family == regression.Binomial
	out := make([]models.RegressionEffect, len(o.Effects))
	for i, e := range o.Effects {
		out[i] = models.RegressionEffect{
			RunID:       runID,
			Model:       string(mode),
			Response:    o.Response,
			Variable:    e.Variable,
			Estimate:    finitePtr(e.Estimate),
			Lower:       finitePtr(e.Lower),
			Upper:       finitePtr(e.Upper),
			PValue:      finitePtr(e.PValue),
			OddsRatio:   odds,
			Explanation: e.Explanation,
		}
	}
	return out
}

func fittedModels(runID string, fits ...*regression.Model) ([]models.FittedModel, error) {
	out := make([]models.FittedModel, 0, len(fits))
	for _, m := range fits {
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s model: %w", m.Kind, err)
		}
		out = append(out, models.FittedModel{
			RunID:   runID,
			Kind:    string(m.Kind),
			Formula: m.Formula.String(),
			Family:  string(m.Family),
			Payload: payload,
		})
	}
	return out, nil
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// NewAnalysisFromConfig wires the Scryfall and MTGJSON fetchers and the raw
// store under cfg.DataDir.
func NewAnalysisFromConfig(db *gorm.DB, cfg *config.Config) (*AnalysisService, error) {
	store, err := NewRawStore(filepath.Join(cfg.DataDir, "raw"))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Fetch.TimeoutSec) * time.Second
	scryfall := NewScryfallService(cfg.Fetch.ScryfallURL, timeout, cfg.Fetch.RequestsPerSecond)
	mtgjson := NewMTGJSONService(cfg.Fetch.IdentifiersURL, cfg.Fetch.PricesURL, timeout,
		cfg.Fetch.RetryCount, time.Duration(cfg.Fetch.RetryWaitMs)*time.Millisecond)
	return NewAnalysisService(db, cfg, scryfall, mtgjson, store), nil
}
