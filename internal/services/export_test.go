package services

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/codyseavey/plebmtg/internal/models"
)

func TestWorkbookLatestRun(t *testing.T) {
	db := openTestDB(t)
	seedRun(t, db, "r1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	f, err := NewExportService(db).Workbook("")
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}
	defer f.Close()

	want := []string{SheetRun, SheetClusters, SheetCentroids, SheetGEE, SheetOLS}
	got := f.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("sheets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sheet %d = %s, want %s", i, got[i], want[i])
		}
	}

	runRows, _ := f.GetRows(SheetRun)
	if len(runRows) < 2 || runRows[1][0] != "id" || runRows[1][1] != "r1" {
		t.Errorf("run sheet = %v", runRows)
	}

	clusters, _ := f.GetRows(SheetClusters)
	if len(clusters) != 3 || clusters[1][0] != "Bolt" || clusters[2][0] != "Shock" {
		t.Errorf("clusters sheet = %v", clusters)
	}

	centroids, _ := f.GetRows(SheetCentroids)
	if len(centroids) != 3 || centroids[2][2] != "cmc" || centroids[2][3] != "5" {
		t.Errorf("centroids sheet = %v", centroids)
	}

	gee, _ := f.GetRows(SheetGEE)
	if len(gee) != 2 || gee[1][0] != "cmc" || gee[1][4] != "0.01" {
		t.Errorf("gee sheet = %v", gee)
	}
	ols, _ := f.GetRows(SheetOLS)
	if len(ols) != 2 || ols[1][len(ols[1])-1] != "No variables are significant!" {
		t.Errorf("ols sheet = %v", ols)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil || buf.Len() == 0 {
		t.Errorf("Write: %v (%d bytes)", err, buf.Len())
	}
	reopened, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	reopened.Close()
}

func TestWorkbookErrors(t *testing.T) {
	db := openTestDB(t)
	svc := NewExportService(db)
	if _, err := svc.Workbook(""); !errors.Is(err, ErrNoRun) {
		t.Errorf("no run error = %v", err)
	}
	if _, err := svc.Workbook("missing"); err == nil {
		t.Error("expected error for unknown run")
	}
	db.Create(&models.AnalysisRun{ID: "bad", Status: models.RunFailed, StartedAt: time.Now()})
	if _, err := svc.Workbook("bad"); err == nil {
		t.Error("expected error for failed run")
	}
}
