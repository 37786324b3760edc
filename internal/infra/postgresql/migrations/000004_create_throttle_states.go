package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
	"gorm.io/gorm"
)

func createThrottleStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_throttle_states",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ThrottleStateModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ThrottleStateModel{})
		},
	}
}
