package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/paperbridge-backend/internal/data/repos"
	"github.com/yungbote/paperbridge-backend/internal/platform/keylock"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type Repos struct {
	Document        repos.DocumentRepo
	DocumentVersion repos.DocumentVersionRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger, locker keylock.Locker) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Document:        repos.NewDocumentRepo(db, log),
		DocumentVersion: repos.NewDocumentVersionRepo(db, log, locker),
	}
}
