package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/paperbridge-backend/internal/domain/documents"
)

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, title, locator string, tags ...string) *types.Document {
	tb.Helper()
	now := time.Now().UTC()
	doc := &types.Document{
		ID:        uuid.New(),
		Title:     title,
		Locator:   locator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	for _, t := range tags {
		if err := tx.WithContext(ctx).Create(&types.DocumentTag{DocumentID: doc.ID, Tag: t}).Error; err != nil {
			tb.Fatalf("seed tag: %v", err)
		}
	}
	return doc
}
