package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/paperbridge-backend/internal/data/repos/documents"
	"github.com/yungbote/paperbridge-backend/internal/platform/keylock"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type DocumentRepo = documents.DocumentRepo
type DocumentVersionRepo = documents.DocumentVersionRepo

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return documents.NewDocumentRepo(db, baseLog)
}

func NewDocumentVersionRepo(db *gorm.DB, baseLog *logger.Logger, locker keylock.Locker) DocumentVersionRepo {
	return documents.NewDocumentVersionRepo(db, baseLog, locker)
}
