package models

import (
	"time"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Finished reports a terminal status.
func (s RunStatus) Finished() bool {
	return s == RunSucceeded || s == RunFailed
}

// AnalysisRun is one fetch-clean-cluster-regress pass. Result rows reference
// it by RunID.
type AnalysisRun struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	Status      RunStatus  `json:"status" gorm:"not null;index"`
	Trigger     string     `json:"trigger"` // "cli", "api" or "schedule"
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Cards       int        `json:"cards"`
	Features    int        `json:"features"`
	BestK       int        `json:"best_k"`
	ScoreMetric string     `json:"score_metric"`
	Score       float64    `json:"score"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Duration is zero until the run finishes.
func (r *AnalysisRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunSummary is the API view of the latest run and its results.
type RunSummary struct {
	Run        AnalysisRun        `json:"run"`
	GroupSizes map[int]int        `json:"group_sizes"`
	Centroids  []ClusterCentroid  `json:"centroids"`
	Effects    []RegressionEffect `json:"effects"`
}
