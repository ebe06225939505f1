package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addEventProcessingAndDispatchKeys() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_event_processing_and_dispatch_keys",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE activity_events ADD COLUMN IF NOT EXISTS processed_at timestamptz`,
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_notifications_event_rule ON notifications (event_id, rule_id) WHERE event_id IS NOT NULL AND rule_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_sending_updated ON notifications (updated_at) WHERE status = 'SENDING'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_notifications_sending_updated`,
				`DROP INDEX IF EXISTS uq_notifications_event_rule`,
				`ALTER TABLE activity_events DROP COLUMN IF EXISTS processed_at`,
			})
		},
	}
}
