package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/plebmtg/internal/regression"
	"github.com/codyseavey/plebmtg/internal/services"
)

type RegressionHandler struct {
	results *services.ResultsService
}

func NewRegressionHandler(results *services.ResultsService) *RegressionHandler {
	return &RegressionHandler{results: results}
}

// GetModel returns the effects and fitted model for gee or ols.
func (h *RegressionHandler) GetModel(c *gin.Context) {
	mode, err := regression.ParseMode(c.Param("model"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model must be 'gee' or 'ols'"})
		return
	}

	effects, err := h.results.Effects(mode)
	if errors.Is(err, services.ErrNoRun) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"model": mode, "effects": effects}
	if m, err := h.results.Model(regression.Kind(mode)); err == nil {
		resp["fit"] = m
		resp["formula"] = m.Formula.String()
	}
	c.JSON(http.StatusOK, resp)
}
