package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyseavey/plebmtg/internal/models"
	"github.com/codyseavey/plebmtg/internal/services"
)

var skipFetch bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download Scryfall attributes and MTGJSON prices into the raw store",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		analysis, err := services.NewAnalysisFromConfig(db, cfg)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		if err := analysis.Fetch(ctx); err != nil {
			return err
		}
		fmt.Println("Fetched raw datasets")
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Clean, cluster and regress, then store the results",
	Long: `analyze fetches fresh data (unless --skip-fetch) and runs the full pipeline:
merge and clean, elbow-selected k-means, GEE and OLS regressions. Results are
written to the database as a new run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		analysis, err := services.NewAnalysisFromConfig(db, cfg)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		var run *models.AnalysisRun
		if skipFetch {
			run, err = analysis.Analyze(ctx, "cli")
		} else {
			run, err = analysis.Refresh(ctx, "cli")
		}
		if err != nil {
			return err
		}
		fmt.Printf("Run %s: %d cards, k=%d, %s=%.4f (%s)\n",
			run.ID, run.Cards, run.BestK, run.ScoreMetric, run.Score, run.Duration().Round(time.Millisecond))
		return nil
	},
}

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create or migrate the result tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := openDB(); err != nil {
			return err
		}
		fmt.Printf("Database ready (%s)\n", cfg.Database.Driver)
		return nil
	},
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	analyzeCmd.Flags().BoolVar(&skipFetch, "skip-fetch", false, "analyze the datasets already in the raw store")
	rootCmd.AddCommand(fetchCmd, analyzeCmd, initdbCmd)
}
