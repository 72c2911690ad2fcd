package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/shapes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationResetUntrackedSnapshots = "2026-10-01_reset_untracked_room_snapshots"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations := []migrationDefinition{
		{name: migrationResetUntrackedSnapshots, apply: resetUntrackedSnapshots},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// resetUntrackedSnapshots drops snapshot rows written without removal
// markers. Such rows cannot refuse a stale re-insert of a deleted shape;
// the next read rebuilds them from the authoritative rows.
func resetUntrackedSnapshots(db *gorm.DB) error {
	return db.
		Where("removed_json IS NULL OR removed_json = '' OR removed_json = 'null'").
		Delete(&shapes.RoomSnapshot{}).Error
}
