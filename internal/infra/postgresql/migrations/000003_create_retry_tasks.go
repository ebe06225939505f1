package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"gorm.io/gorm"
)

func createRetryTasksTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_retry_tasks",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RetryTaskModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_retry_tasks_active_notification ON retry_tasks (notification_id) WHERE status IN ('PENDING', 'IN_FLIGHT')`,
				`CREATE INDEX IF NOT EXISTS idx_retry_tasks_due ON retry_tasks (next_attempt_at, seq) WHERE status = 'PENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_retry_tasks_in_flight ON retry_tasks (updated_at) WHERE status = 'IN_FLIGHT'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RetryTaskModel{})
		},
	}
}
