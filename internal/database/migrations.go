package database

import (
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/codyseavey/plebmtg/internal/models"
)

// cleanupEmptyCardNames removes blank autocomplete names before AutoMigrate
// touches the card_names primary key.
func cleanupEmptyCardNames(db *gorm.DB) error {
	if !db.Migrator().HasTable("card_names") {
		return nil
	}
	result := db.Exec(`DELETE FROM card_names WHERE name IS NULL OR name = ''`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Infof("Cleaned up %d empty card_names entries", result.RowsAffected)
	}
	return nil
}

// RunMigrations runs data fixes after schema changes.
func RunMigrations(db *gorm.DB) error {
	return failInterruptedRuns(db)
}

// failInterruptedRuns marks runs left "running" by a crashed process as
// failed so the latest-run query never reports them.
func failInterruptedRuns(db *gorm.DB) error {
	now := time.Now()
	result := db.Model(&models.AnalysisRun{}).
		Where("status IN ?", []models.RunStatus{models.RunPending, models.RunRunning}).
		Updates(map[string]any{"status": models.RunFailed, "error": "interrupted", "finished_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Warnf("Marked %d interrupted analysis runs as failed", result.RowsAffected)
	}
	return nil
}

// PruneRuns deletes every run (and its result rows) except the newest keep
// successful ones. Failed runs older than the oldest kept run go too.
func PruneRuns(db *gorm.DB, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var kept []models.AnalysisRun
	if err := db.Where("status = ?", models.RunSucceeded).
		Order("started_at DESC").Limit(keep).Find(&kept).Error; err != nil {
		return 0, err
	}
	if len(kept) < keep {
		return 0, nil
	}
	cutoff := kept[len(kept)-1].StartedAt

	var stale []string
	if err := db.Model(&models.AnalysisRun{}).
		Where("started_at < ?", cutoff).Pluck("id", &stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, m := range Models()[1:] {
			if err := tx.Where("run_id IN ?", stale).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Where("id IN ?", stale).Delete(&models.AnalysisRun{}).Error
	})
	if err != nil {
		return 0, err
	}
	log.Infof("Pruned %d old analysis runs", len(stale))
	return int64(len(stale)), nil
}
