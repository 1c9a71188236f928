package versions

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"corebase/control_plane/schema"
)

func allModels() []interface{} {
	return []interface{}{
		&schema.Project{},
		&schema.Database{},
		&schema.Collection{},
		&schema.Attribute{},
		&schema.Index{},
		&schema.Installation{},
		&schema.RepoLink{},
		&schema.Function{},
		&schema.Deployment{},
	}
}

// InitialMigration creates the full catalog schema. Fresh databases run this
// through gormigrate's InitSchema path; later versions append to Migrations.
func InitialMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "0_initial_migration",
		Migrate: func(txn *gorm.DB) error {
			return txn.AutoMigrate(allModels()...)
		},
		Rollback: func(txn *gorm.DB) error {
			for _, model := range allModels() {
				if err := txn.Migrator().DropTable(model); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// Migrations lists every schema version in order.
func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		InitialMigration(),
	}
}

// InitSchema builds the latest schema directly on an empty database.
func InitSchema(txn *gorm.DB) error {
	return txn.AutoMigrate(allModels()...)
}
