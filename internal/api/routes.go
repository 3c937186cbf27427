package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codyseavey/plebmtg/internal/api/handlers"
	"github.com/codyseavey/plebmtg/internal/config"
	"github.com/codyseavey/plebmtg/internal/services"
)

func SetupRouter(cfg *config.Config, results *services.ResultsService, worker *services.RefreshWorker, export *services.ExportService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), Metrics())

	frontendPath := cfg.Server.FrontendDir
	serveFrontend := frontendPath != "" && dirExists(frontendPath)

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSAllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.AllowCredentials = false
	router.Use(cors.New(corsConfig))

	cardHandler := handlers.NewCardHandler(results)
	runHandler := handlers.NewRunHandler(results, worker, export)
	regressionHandler := handlers.NewRegressionHandler(results)

	api := router.Group("/api")
	{
		cards := api.Group("/cards")
		{
			cards.GET("", cardHandler.SearchCards)
			cards.GET("/:name/similar", cardHandler.GetSimilar)
		}

		runs := api.Group("/runs")
		{
			runs.POST("", runHandler.TriggerRun)
			runs.GET("/status", runHandler.GetStatus)
			runs.GET("/latest", runHandler.GetLatest)
			runs.GET("/latest/export", runHandler.ExportLatest)
		}

		api.GET("/regression/:model", regressionHandler.GetModel)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if serveFrontend {
		indexPath := filepath.Join(frontendPath, "index.html")

		router.Static("/assets", filepath.Join(frontendPath, "assets"))
		router.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})

		// SPA fallback
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.File(indexPath)
		})
	}

	return router
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
