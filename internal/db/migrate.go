package db

import (
	"fmt"

	"github.com/zulandar/misunderstood/internal/models"
	"gorm.io/gorm"
)

// EventLogModels returns the externally owned tables this service reads.
func EventLogModels() []interface{} {
	return []interface{}{
		&models.ConversationEvent{},
	}
}

// MigrateEventLog creates the events table for local and test databases.
// Production event logs are owned by the bot runtime and must not be
// migrated from here.
func MigrateEventLog(db *gorm.DB) error {
	if err := db.AutoMigrate(EventLogModels()...); err != nil {
		return fmt.Errorf("db: migrate event log: %w", err)
	}
	return nil
}
