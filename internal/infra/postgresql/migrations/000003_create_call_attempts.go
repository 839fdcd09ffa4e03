package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/accountability-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createCallAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_call_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CallAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_call_attempts_conversation_id ON call_attempts (conversation_id)`,
				`CREATE INDEX IF NOT EXISTS idx_call_attempts_due_originals ON call_attempts (timeout_at) WHERE acknowledged = false AND is_retry = false AND status = 'scheduled'`,
				`CREATE INDEX IF NOT EXISTS idx_call_attempts_due_retries ON call_attempts (timeout_at) WHERE acknowledged = false AND is_retry = true AND status = 'scheduled'`,
				`CREATE INDEX IF NOT EXISTS idx_call_attempts_chain ON call_attempts (root_call_id, retry_attempt_number)`,
				`CREATE INDEX IF NOT EXISTS idx_call_attempts_user_originals ON call_attempts (user_id, call_type, created_at) WHERE is_retry = false`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CallAttemptModel{})
		},
	}
}
