package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/accountability-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createPromisesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_promises",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PromiseModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_promises_user_date ON promises (user_id, promise_date DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PromiseModel{})
		},
	}
}
