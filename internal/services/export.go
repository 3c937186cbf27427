package services

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/codyseavey/plebmtg/internal/models"
)

// Workbook sheet names.
const (
	SheetRun       = "run"
	SheetClusters  = "clusters"
	SheetCentroids = "centroids"
	SheetGEE       = "gee"
	SheetOLS       = "ols"
)

// ExportService writes the stored results of a run to an XLSX workbook.
type ExportService struct {
	db *gorm.DB
}

func NewExportService(db *gorm.DB) *ExportService {
	return &ExportService{db: db}
}

// Workbook builds the workbook for runID, or for the latest successful run
// when runID is empty. The caller closes the returned file.
func (s *ExportService) Workbook(runID string) (*excelize.File, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRun); err != nil {
		f.Close()
		return nil, err
	}
	for _, build := range []func(*excelize.File, *models.AnalysisRun) error{
		s.runSheet, s.clusterSheet, s.centroidSheet, s.effectSheet(SheetGEE), s.effectSheet(SheetOLS),
	} {
		if err := build(f, run); err != nil {
			f.Close()
			return nil, fmt.Errorf("export run %s: %w", run.ID, err)
		}
	}
	f.SetActiveSheet(0)
	log.WithField("run", run.ID).Info("Export service: built workbook")
	return f, nil
}

func (s *ExportService) run(runID string) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	var err error
	if runID == "" {
		err = s.db.Where("status = ?", models.RunSucceeded).Order("started_at DESC").First(&run).Error
	} else {
		err = s.db.Where("id = ?", runID).First(&run).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if runID == "" {
			return nil, ErrNoRun
		}
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunSucceeded {
		return nil, fmt.Errorf("run %s has status %s", run.ID, run.Status)
	}
	return &run, nil
}

func (s *ExportService) runSheet(f *excelize.File, run *models.AnalysisRun) error {
	finished := ""
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	rows := [][]any{
		{"field", "value"},
		{"id", run.ID},
		{"trigger", run.Trigger},
		{"started_at", run.StartedAt.Format(time.RFC3339)},
		{"finished_at", finished},
		{"cards", run.Cards},
		{"features", run.Features},
		{"best_k", run.BestK},
		{"score_metric", run.ScoreMetric},
		{"score", run.Score},
	}
	return writeRows(f, SheetRun, rows)
}

// clusterSheet lists each card with its group.
func (s *ExportService) clusterSheet(f *excelize.File, run *models.AnalysisRun) error {
	type member struct {
		Name  string
		Group int `gorm:"column:kmgroups"`
	}
	var members []member
	err := s.db.Model(&models.ClusterMatch{}).
		Distinct("name", "kmgroups").
		Where("run_id = ?", run.ID).
		Order("kmgroups, name").
		Scan(&members).Error
	if err != nil {
		return err
	}
	rows := [][]any{{"name", "kmgroups"}}
	for _, m := range members {
		rows = append(rows, []any{m.Name, m.Group})
	}
	return writeRows(f, SheetClusters, rows)
}

func (s *ExportService) centroidSheet(f *excelize.File, run *models.AnalysisRun) error {
	var centroids []models.ClusterCentroid
	if err := s.db.Where("run_id = ?", run.ID).Order("cluster_group, id").Find(&centroids).Error; err != nil {
		return err
	}
	rows := [][]any{{"group", "size", "feature", "value"}}
	for _, c := range centroids {
		rows = append(rows, []any{c.Group, c.Size, c.Feature, c.Value})
	}
	return writeRows(f, SheetCentroids, rows)
}

func (s *ExportService) effectSheet(model string) func(*excelize.File, *models.AnalysisRun) error {
	return func(f *excelize.File, run *models.AnalysisRun) error {
		var effects []models.RegressionEffect
		if err := s.db.Where("run_id = ? AND model = ?", run.ID, model).Order("id").Find(&effects).Error; err != nil {
			return err
		}
		rows := [][]any{{"variable", "estimate", "lower", "upper", "p_value", "explanation"}}
		for _, e := range effects {
			rows = append(rows, []any{e.Variable, cellValue(e.Estimate), cellValue(e.Lower), cellValue(e.Upper), cellValue(e.PValue), e.Explanation})
		}
		return writeRows(f, model, rows)
	}
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	return nil
}

func cellValue(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
