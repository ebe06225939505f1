package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications (user_id, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_status_created ON notifications (status, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_rule_id ON notifications (rule_id) WHERE rule_id IS NOT NULL`,
				`ALTER TABLE notifications ADD CONSTRAINT chk_notifications_attempts CHECK (attempts_made >= 0 AND attempts_made <= max_attempts)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
