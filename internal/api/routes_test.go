package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codyseavey/plebmtg/internal/config"
	"github.com/codyseavey/plebmtg/internal/database"
	"github.com/codyseavey/plebmtg/internal/models"
	"github.com/codyseavey/plebmtg/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubRefresher stands in for the analysis service behind the worker.
type stubRefresher struct {
	running bool
}

func (s *stubRefresher) Refresh(ctx context.Context, trigger string) (*models.AnalysisRun, error) {
	return &models.AnalysisRun{ID: "stub"}, nil
}

func (s *stubRefresher) Running() bool { return s.running }

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	refresh *stubRefresher
}

func newTestServer(t *testing.T, seed bool) *testServer {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.Open("sqlite", fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if seed {
		seedResults(t, db)
	}
	cfg := config.Default()
	results := services.NewResultsService(db, 16)
	refresh := &stubRefresher{}
	worker := services.NewRefreshWorker(refresh, results, 0)
	return &testServer{
		router:  SetupRouter(cfg, results, worker, services.NewExportService(db)),
		db:      db,
		refresh: refresh,
	}
}

func seedResults(t *testing.T, db *gorm.DB) {
	t.Helper()
	finished := time.Now()
	rows := []any{
		&models.AnalysisRun{ID: "r1", Status: models.RunSucceeded, StartedAt: finished.Add(-time.Minute), FinishedAt: &finished, BestK: 2, ScoreMetric: "silhouette", Score: 0.4},
		&[]models.CardName{{Name: "Bolt", RunID: "r1"}, {Name: "Shock", RunID: "r1"}, {Name: "Boltwave", RunID: "r1"}},
		&[]models.ClusterMatch{
			{RunID: "r1", ScryfallID: "a", Name: "Bolt", Group: 1, Card: "Shock", Distance: 0.5, MatchGroup: 1, Price: 0.25},
			{RunID: "r1", ScryfallID: "a", Name: "Bolt", Group: 1, Card: "Boltwave", Distance: 1.5, MatchGroup: 1, Price: 2},
		},
		&[]models.MergedCard{{RunID: "r1", ScryfallID: "a", Name: "Bolt", ImageURL: "https://img/bolt.jpg"}},
		&[]models.ClusterCentroid{{RunID: "r1", Group: 1, Size: 3, Feature: "cmc", Value: 1}},
		&[]models.RegressionEffect{{RunID: "r1", Model: "ols", Response: "sell_max", Variable: "cmc", Explanation: "One unit increase in cmc"}},
	}
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func (s *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(t, http.MethodGet, "/health"); w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
	w := s.do(t, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "plebmtg_http_requests_total") {
		t.Errorf("metrics = %d, missing request counter", w.Code)
	}
}

func TestRoutesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		seed   bool
		method string
		path   string
		want   int
	}{
		{"search", true, http.MethodGet, "/api/cards?q=bolt", http.StatusOK},
		{"search bad limit", true, http.MethodGet, "/api/cards?limit=x", http.StatusBadRequest},
		{"similar", true, http.MethodGet, "/api/cards/Bolt/similar?n=1", http.StatusOK},
		{"similar bad n", true, http.MethodGet, "/api/cards/Bolt/similar?n=0", http.StatusBadRequest},
		{"similar unknown", true, http.MethodGet, "/api/cards/Nope/similar", http.StatusNotFound},
		{"similar before any run", false, http.MethodGet, "/api/cards/Bolt/similar", http.StatusServiceUnavailable},
		{"latest", true, http.MethodGet, "/api/runs/latest", http.StatusOK},
		{"latest before any run", false, http.MethodGet, "/api/runs/latest", http.StatusNotFound},
		{"regression", true, http.MethodGet, "/api/regression/ols", http.StatusOK},
		{"regression bad model", true, http.MethodGet, "/api/regression/logit", http.StatusBadRequest},
		{"export before any run", false, http.MethodGet, "/api/runs/latest/export", http.StatusNotFound},
		{"status", false, http.MethodGet, "/api/runs/status", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.seed)
			if w := s.do(t, tt.method, tt.path); w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSearchCardsBody(t *testing.T) {
	s := newTestServer(t, true)
	body := decode(t, s.do(t, http.MethodGet, "/api/cards?q=bolt"))
	names, _ := body["names"].([]any)
	if len(names) != 2 || names[0] != "Bolt" || names[1] != "Boltwave" || body["total_count"] != 2.0 {
		t.Errorf("body = %v", body)
	}
}

func TestSimilarBody(t *testing.T) {
	s := newTestServer(t, true)
	body := decode(t, s.do(t, http.MethodGet, "/api/cards/Bolt/similar?n=1"))
	cards, _ := body["cards"].([]any)
	if len(cards) != 1 || body["image_url"] != "https://img/bolt.jpg" {
		t.Fatalf("body = %v", body)
	}
	first := cards[0].(map[string]any)
	if first["card"] != "Shock" || first["price"] != 0.25 || first["group"] != 1.0 {
		t.Errorf("first card = %v", first)
	}
}

func TestTriggerRun(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(t, http.MethodPost, "/api/runs"); w.Code != http.StatusAccepted {
		t.Fatalf("first trigger = %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, "/api/runs"); w.Code != http.StatusConflict {
		t.Errorf("second trigger = %d, want 409", w.Code)
	}
	status := decode(t, s.do(t, http.MethodGet, "/api/runs/status"))
	if status["queued"] != true || status["interval"] != "disabled" {
		t.Errorf("status = %v", status)
	}
}

func TestTriggerRunWhileRunning(t *testing.T) {
	s := newTestServer(t, false)
	s.refresh.running = true
	if w := s.do(t, http.MethodPost, "/api/runs"); w.Code != http.StatusConflict {
		t.Errorf("trigger while running = %d, want 409", w.Code)
	}
}

func TestExportLatest(t *testing.T) {
	s := newTestServer(t, true)
	w := s.do(t, http.MethodGet, "/api/runs/latest/export")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}
	// XLSX files are zip archives.
	if !strings.HasPrefix(w.Body.String(), "PK") {
		t.Error("body is not an xlsx archive")
	}
}

func TestRegressionBody(t *testing.T) {
	s := newTestServer(t, true)
	body := decode(t, s.do(t, http.MethodGet, "/api/regression/ols"))
	effects, _ := body["effects"].([]any)
	if body["model"] != "ols" || len(effects) != 1 {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["fit"]; ok {
		t.Error("fit present although no model was stored")
	}
}

func TestFrontendFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>plebmtg</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	db, err := database.Open("sqlite", "file:api_frontend?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := config.Default()
	cfg.Server.FrontendDir = dir
	results := services.NewResultsService(db, 4)
	router := SetupRouter(cfg, results, services.NewRefreshWorker(&stubRefresher{}, results, 0), services.NewExportService(db))

	for path, want := range map[string]int{"/": http.StatusOK, "/cards/Bolt": http.StatusOK, "/api/nope": http.StatusNotFound} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("GET %s = %d, want %d", path, w.Code, want)
		}
		if want == http.StatusOK && !strings.Contains(w.Body.String(), "plebmtg") {
			t.Errorf("GET %s did not serve index.html", path)
		}
	}
}
