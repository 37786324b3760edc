package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
	"gorm.io/gorm"
)

func createRecipientStatusesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_recipient_statuses",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecipientStatusModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_recipient_statuses_live_handle ON recipient_statuses (notification_id, recipient_id) WHERE activity_id IS NOT NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecipientStatusModel{})
		},
	}
}
