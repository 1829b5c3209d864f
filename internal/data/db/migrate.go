package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/paperbridge-backend/internal/domain/documents"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&documents.Document{},
		&documents.DocumentTag{},
		&documents.DocumentVersion{},
	)
}
