package database

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/plebmtg/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestOpenMigratesAllModels(t *testing.T) {
	db := openTestDB(t)
	for _, m := range Models() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T was not created", m)
		}
	}
	if !db.Migrator().HasColumn(&models.ClusterMatch{}, "kmgroups") {
		t.Error("expected kmgroups column on cluster_matches")
	}
}

func TestFailInterruptedRuns(t *testing.T) {
	db := openTestDB(t)
	runs := []models.AnalysisRun{
		{ID: "a", Status: models.RunRunning, StartedAt: time.Now()},
		{ID: "b", Status: models.RunSucceeded, StartedAt: time.Now()},
	}
	if err := db.Create(&runs).Error; err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	var a, b models.AnalysisRun
	db.First(&a, "id = ?", "a")
	db.First(&b, "id = ?", "b")
	if a.Status != models.RunFailed || a.Error != "interrupted" || a.FinishedAt == nil {
		t.Errorf("running run should be failed: %+v", a)
	}
	if b.Status != models.RunSucceeded {
		t.Errorf("succeeded run should be untouched, got %s", b.Status)
	}
}

func TestPruneRuns(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("run%d", i)
		run := models.AnalysisRun{ID: id, Status: models.RunSucceeded, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := db.Create(&run).Error; err != nil {
			t.Fatal(err)
		}
		db.Create(&models.ClusterMatch{RunID: id, Name: "Bolt", Card: "Shock"})
		db.Create(&models.RegressionEffect{RunID: id, Model: "ols", Placeholder: true})
	}

	removed, err := PruneRuns(db, 2)
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 pruned runs, got %d", removed)
	}

	var ids []string
	db.Model(&models.AnalysisRun{}).Order("id").Pluck("id", &ids)
	if len(ids) != 2 || ids[0] != "run2" || ids[1] != "run3" {
		t.Errorf("expected run2 and run3 to remain, got %v", ids)
	}
	var matches int64
	db.Model(&models.ClusterMatch{}).Where("run_id IN ?", []string{"run0", "run1"}).Count(&matches)
	if matches != 0 {
		t.Errorf("expected pruned run results to be deleted, %d left", matches)
	}
}

func TestPruneRunsKeepsEverythingWhenFew(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.AnalysisRun{ID: "only", Status: models.RunSucceeded, StartedAt: time.Now()})

	removed, err := PruneRuns(db, 3)
	if err != nil || removed != 0 {
		t.Errorf("expected nothing pruned, got %d (%v)", removed, err)
	}
}
