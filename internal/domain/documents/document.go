package documents

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document is the catalog entry: the current view of one logical document.
type Document struct {
	ID      uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Title   string        `gorm:"column:title;not null" json:"title"`
	Locator string        `gorm:"column:locator;size:1024;not null" json:"file_path"`
	Content string        `gorm:"column:content;type:text" json:"content"`
	Tags    []DocumentTag `gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string { return "document" }

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// TagNames returns the tag set sorted for stable output.
func (d *Document) TagNames() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.Tags))
	for _, t := range d.Tags {
		out = append(out, t.Tag)
	}
	sort.Strings(out)
	return out
}

type DocumentTag struct {
	DocumentID uuid.UUID `gorm:"type:uuid;primaryKey" json:"document_id"`
	Tag        string    `gorm:"column:tag;primaryKey;size:255;index" json:"tag"`
}

func (DocumentTag) TableName() string { return "document_tag" }

// NormalizeTags trims, drops blanks and de-duplicates, preserving first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DocumentUpdate carries a user edit. Nil fields are left unchanged; a non-nil
// Tags replaces the whole tag set.
type DocumentUpdate struct {
	Title   *string
	Content *string
	Locator *string
	Tags    *[]string
}

func (u DocumentUpdate) Empty() bool {
	return u.Title == nil && u.Content == nil && u.Locator == nil && u.Tags == nil
}
