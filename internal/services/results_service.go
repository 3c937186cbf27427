package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/codyseavey/plebmtg/internal/cluster"
	"github.com/codyseavey/plebmtg/internal/metrics"
	"github.com/codyseavey/plebmtg/internal/models"
	"github.com/codyseavey/plebmtg/internal/regression"
	"github.com/codyseavey/plebmtg/internal/table"
)

var (
	ErrNoRun        = errors.New("no successful analysis run yet")
	ErrCardNotFound = errors.New("card not found in the latest run")
)

const DefaultSimilarCount = 5

// ResultsService answers queries against the latest successful run.
type ResultsService struct {
	db    *gorm.DB
	cache *lru.Cache[string, *models.SimilarCardsResult]
}

func NewResultsService(db *gorm.DB, cacheSize int) *ResultsService {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *models.SimilarCardsResult](cacheSize)
	if err != nil {
		log.Errorf("Results service: failed to create cache: %v", err)
	}
	return &ResultsService{db: db, cache: cache}
}

// Invalidate drops cached query results; call it after a new run.
func (s *ResultsService) Invalidate() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// LatestRun returns the newest successful run.
func (s *ResultsService) LatestRun() (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	err := s.db.Where("status = ?", models.RunSucceeded).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SearchNames returns card names containing q (case-insensitive), sorted.
func (s *ResultsService) SearchNames(q string, limit int) (*models.CardSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.db.Model(&models.CardName{})
	if q = strings.TrimSpace(q); q != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}
	names := []string{}
	if err := query.Order("name").Limit(limit).Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	return &models.CardSearchResult{
		Names:      names,
		TotalCount: int(total),
		HasMore:    int(total) > len(names),
	}, nil
}

// Similar returns up to n cards from the same cluster as name, closest first,
// with their image urls.
func (s *ResultsService) Similar(name string, n int) (*models.SimilarCardsResult, error) {
	name = strings.TrimSpace(name)
	if n <= 0 {
		n = DefaultSimilarCount
	}
	run, err := s.LatestRun()
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%d", run.ID, name, n)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			metrics.SimilarCacheHits.Inc()
			return cached, nil
		}
	}
	metrics.SimilarCacheMisses.Inc()

	var rows []models.ClusterMatch
	if err := s.db.Where("run_id = ? AND name = ?", run.ID, name).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		var count int64
		if err := s.db.Model(&models.CardName{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to look up card %s: %w", name, err)
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: %s", ErrCardNotFound, name)
		}
	}

	neighbors, err := matchTable(rows)
	if err != nil {
		return nil, err
	}
	top, err := cluster.SimilarCards(neighbors, name, n)
	if err != nil {
		return nil, err
	}

	cards, _ := top.Strings(cluster.ColCard)
	groups, _ := top.Floats(cluster.ColGroup)
	dist, _ := top.Floats(cluster.ColDistance)
	prices, _ := top.Floats(cluster.ColPrice)
	images, err := s.imageURLs(run.ID, append([]string{name}, cards...))
	if err != nil {
		return nil, err
	}

	result := &models.SimilarCardsResult{
		Name:     name,
		ImageURL: images[name],
		RunID:    run.ID,
		Cards:    make([]models.SimilarCard, len(cards)),
	}
	for i, c := range cards {
		result.Cards[i] = models.SimilarCard{
			Card:     c,
			Group:    int(groups[i]),
			Distance: dist[i],
			Price:    prices[i],
			ImageURL: images[c],
		}
	}
	if s.cache != nil {
		s.cache.Add(key, result)
	}
	return result, nil
}

func matchTable(rows []models.ClusterMatch) (*table.Table, error) {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.ScryfallID, r.Name, r.Group, r.Card, r.Distance, r.MatchGroup, r.Price}
	}
	return table.FromRows([]string{
		cluster.ColIdentifier, cluster.ColName, cluster.ColGroup, cluster.ColCard,
		cluster.ColDistance, cluster.ColMatchGroup, cluster.ColPrice,
	}, data)
}

// imageURLs maps each name to the first non-empty image url of the run.
func (s *ResultsService) imageURLs(runID string, names []string) (map[string]string, error) {
	var rows []models.MergedCard
	err := s.db.Select("name", "image_url").
		Where("run_id = ? AND name IN ? AND image_url <> ''", runID, names).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, r := range rows {
		if _, ok := out[r.Name]; !ok {
			out[r.Name] = r.ImageURL
		}
	}
	return out, nil
}

// Summary describes the latest run: cluster sizes, centroids and effects.
func (s *ResultsService) Summary() (*models.RunSummary, error) {
	run, err := s.LatestRun()
	if err != nil {
		return nil, err
	}
	var centroids []models.ClusterCentroid
	if err := s.db.Where("run_id = ?", run.ID).Order("cluster_group, id").Find(&centroids).Error; err != nil {
		return nil, err
	}
	var effects []models.RegressionEffect
	if err := s.db.Where("run_id = ?", run.ID).Order("id").Find(&effects).Error; err != nil {
		return nil, err
	}
	sizes := map[int]int{}
	for _, c := range centroids {
		sizes[c.Group] = c.Size
	}
	return &models.RunSummary{Run: *run, GroupSizes: sizes, Centroids: centroids, Effects: effects}, nil
}

// Effects returns the stored regression rows of the latest run for mode.
func (s *ResultsService) Effects(mode regression.Mode) ([]models.RegressionEffect, error) {
	run, err := s.LatestRun()
	if err != nil {
		return nil, err
	}
	var effects []models.RegressionEffect
	if err := s.db.Where("run_id = ? AND model = ?", run.ID, string(mode)).Order("id").Find(&effects).Error; err != nil {
		return nil, err
	}
	return effects, nil
}

// Model reloads the fitted model of kind from the latest run.
func (s *ResultsService) Model(kind regression.Kind) (*regression.Model, error) {
	run, err := s.LatestRun()
	if err != nil {
		return nil, err
	}
	var fm models.FittedModel
	err = s.db.Where("run_id = ? AND kind = ?", run.ID, string(kind)).First(&fm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no %s model stored for run %s", kind, run.ID)
	}
	if err != nil {
		return nil, err
	}
	var m regression.Model
	if err := json.Unmarshal(fm.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s model: %w", kind, err)
	}
	return &m, nil
}
