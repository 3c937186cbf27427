package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/plebmtg/internal/services"
)

const maxSimilar = 50

type CardHandler struct {
	results *services.ResultsService
}

func NewCardHandler(results *services.ResultsService) *CardHandler {
	return &CardHandler{results: results}
}

// SearchCards returns card names of the latest run matching q.
func (h *CardHandler) SearchCards(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 100)
	}

	result, err := h.results.SearchNames(c.Query("q"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSimilar returns the closest cards from the same cluster.
func (h *CardHandler) GetSimilar(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card name is required"})
		return
	}
	n := services.DefaultSimilarCount
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > maxSimilar {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be between 1 and 50"})
			return
		}
		n = parsed
	}

	result, err := h.results.Similar(name, n)
	switch {
	case errors.Is(err, services.ErrNoRun):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, result)
	}
}
