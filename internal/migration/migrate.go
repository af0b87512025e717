package migration

import (
	"fmt"

	"github.com/lexgig/lexgig-backend/internal/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the coordinator, in dependency order
func Models() []interface{} {
	return []interface{}{
		&domain.Gig{},
		&domain.Bid{},
		&domain.Conversation{},
		&domain.Message{},
	}
}

// Run executes AutoMigrate for all coordinator tables.
// Tables that already exist only get missing columns and indexes.
func Run(db *gorm.DB) error {
	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return nil
}

// Verify reports tables that are missing after a migration
func Verify(db *gorm.DB) []string {
	var missing []string
	for _, m := range Models() {
		if !db.Migrator().HasTable(m) {
			missing = append(missing, fmt.Sprintf("%T", m))
		}
	}
	return missing
}

// Rollback drops all coordinator tables (reverse dependency order)
func Rollback(db *gorm.DB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("drop %T: %w", models[i], err)
		}
	}
	return nil
}
