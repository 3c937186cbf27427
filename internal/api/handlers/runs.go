package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type RunHandler struct {
	results *services.ResultsService
	worker  *services.RefreshWorker
	export  *services.ExportService
}

func NewRunHandler(results *services.ResultsService, worker *services.RefreshWorker, export *services.ExportService) *RunHandler {
	return &RunHandler{results: results, worker: worker, export: export}
}

// GetLatest returns the latest successful run with cluster sizes, centroids
// and regression effects.
func (h *RunHandler) GetLatest(c *gin.Context) {
	summary, err := h.results.Summary()
	if errors.Is(err, services.ErrNoRun) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// TriggerRun queues a fetch and analysis run.
func (h *RunHandler) TriggerRun(c *gin.Context) {
	if !h.worker.Trigger() {
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrRunInProgress.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "refresh queued",
		"status":  h.worker.Status(),
	})
}

// GetStatus returns the refresh worker status
func (h *RunHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Status())
}

// ExportLatest streams the latest run's results as an XLSX workbook.
func (h *RunHandler) ExportLatest(c *gin.Context) {
	f, err := h.export.Workbook(c.Query("run"))
	if errors.Is(err, services.ErrNoRun) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "plebmtg-results.xlsx"))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		log.Errorf("Export: failed to write workbook: %v", err)
	}
}
