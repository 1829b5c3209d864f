package documents

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentVersion is one immutable ledger entry.
type DocumentVersion struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_document_version_number;uniqueIndex:idx_document_version_locator" json:"document_id"`
	VersionNumber     int            `gorm:"column:version_number;not null;uniqueIndex:idx_document_version_number" json:"version_number"`
	Content           string         `gorm:"column:content;type:text" json:"content"`
	Locator           string         `gorm:"column:locator;size:1024;not null;uniqueIndex:idx_document_version_locator" json:"file_path"`
	ChangeDescription string         `gorm:"column:change_description" json:"change_description"`
	Embedding         datatypes.JSON `gorm:"column:embedding" json:"embedding,omitempty"`
	EmbeddingDims     int            `gorm:"column:embedding_dims;not null;default:0" json:"embedding_dims"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (DocumentVersion) TableName() string { return "document_version" }

func (v *DocumentVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Vector decodes the stored embedding; nil when none was computed.
func (v *DocumentVersion) Vector() ([]float32, error) {
	if v == nil || len(v.Embedding) == 0 || v.EmbeddingDims == 0 {
		return nil, nil
	}
	var out []float32
	if err := json.Unmarshal(v.Embedding, &out); err != nil {
		return nil, err
	}
	return out, nil
}
