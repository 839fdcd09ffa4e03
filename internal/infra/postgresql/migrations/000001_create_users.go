package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/accountability-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createUsersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_users",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.UserModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_users_active_push ON users (id) WHERE active = true AND push_token IS NOT NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.UserModel{})
		},
	}
}
