package database

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/plebmtg/internal/models"
)

var DB *gorm.DB

// Open connects with the named driver ("sqlite" or "mysql") and migrates the
// schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	log.Infof("Database connected successfully (%s)", dialector.Name())

	if err := cleanupEmptyCardNames(db); err != nil {
		log.Warnf("Database: failed to clean empty card names: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	log.Info("Database migration completed")
	return db, nil
}

// Initialize opens the shared connection used by the server and CLI.
func Initialize(driver, dsn string) error {
	db, err := Open(driver, dsn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

func GetDB() *gorm.DB {
	return DB
}

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&models.AnalysisRun{},
		&models.MergedCard{},
		&models.CardName{},
		&models.ClusterMatch{},
		&models.ClusterCentroid{},
		&models.RegressionEffect{},
		&models.FittedModel{},
	}
}
