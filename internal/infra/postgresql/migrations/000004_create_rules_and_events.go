package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"gorm.io/gorm"
)

// users is owned by the account service; the table is created here only when
// it does not exist yet so local environments can run end to end.
func createRuleAndEventTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_rules_and_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.UserModel{}, &repository.RuleModel{}, &repository.EventModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_rules_event_type_active ON notification_rules (event_type) WHERE active`,
				`CREATE INDEX IF NOT EXISTS idx_events_user_type_occurred ON activity_events (user_id, event_type, occurred_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EventModel{}, &repository.RuleModel{})
		},
	}
}
