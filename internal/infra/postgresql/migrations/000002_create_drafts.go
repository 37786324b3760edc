package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
	"gorm.io/gorm"
)

func createDraftsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_drafts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.DraftModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DraftModel{})
		},
	}
}
