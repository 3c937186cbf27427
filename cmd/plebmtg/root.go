package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/codyseavey/plebmtg/internal/config"
	"github.com/codyseavey/plebmtg/internal/database"
)

var (
	cfgFile string
	debug   bool

	// Loaded configuration
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "plebmtg",
	Short: "Card price insights from Scryfall and MTGJSON",
	Long: `plebmtg downloads card attributes from Scryfall and price history from MTGJSON,
clusters similar cards and fits regressions that explain what drives prices.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("no configuration loaded")
		}
		if err := cfg.ConfigureLogging(); err != nil {
			return err
		}
		if debug {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

// Execute is the entry point called by main.main()
func Execute() {
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./plebmtg.yaml and ./config/plebmtg.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func loadConfig() {
	c, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c
}

func openDB() (*gorm.DB, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
