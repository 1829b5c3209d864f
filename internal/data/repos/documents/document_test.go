package documents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/paperbridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/paperbridge-backend/internal/domain/documents"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/dbctx"
)

func strPtr(s string) *string { return &s }

func TestDocumentRepoCreateAndGet(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewDocumentRepo(db, testutil.Logger(t))

	doc, err := repo.Create(dbc, &types.Document{Title: "invoice.pdf", Locator: "invoice-x.pdf"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.ID == uuid.Nil {
		t.Fatalf("Create: expected id to be assigned")
	}
	if doc.Content != "" || len(doc.Tags) != 0 {
		t.Fatalf("Create: expected empty content and tags, got content=%q tags=%v", doc.Content, doc.TagNames())
	}
	if doc.UpdatedAt.Before(doc.CreatedAt) {
		t.Fatalf("Create: updated_at %v before created_at %v", doc.UpdatedAt, doc.CreatedAt)
	}

	got, err := repo.GetByID(dbc, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "invoice.pdf" || got.Locator != "invoice-x.pdf" {
		t.Fatalf("GetByID: got title=%q locator=%q", got.Title, got.Locator)
	}

	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, perrors.ErrNotFound) {
		t.Fatalf("GetByID missing: want ErrNotFound, got %v", err)
	}
	if ok, err := repo.Exists(dbc, doc.ID); err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
}

func TestDocumentRepoTagSearchRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewDocumentRepo(db, testutil.Logger(t))

	doc := testutil.SeedDocument(t, ctx, tx, "receipt", "receipt-1.png")
	other := testutil.SeedDocument(t, ctx, tx, "memo", "memo-1.txt", "internal")

	tags := []string{"finance", "Q3-2024", "finance", "  "}
	updated, err := repo.Update(dbc, doc.ID, types.DocumentUpdate{Tags: &tags})
	if err != nil {
		t.Fatalf("Update tags: %v", err)
	}
	if names := updated.TagNames(); len(names) != 2 || names[0] != "Q3-2024" || names[1] != "finance" {
		t.Fatalf("Update tags: want [Q3-2024 finance], got %v", names)
	}

	found, err := repo.SearchByTag(dbc, "finance", false)
	if err != nil {
		t.Fatalf("SearchByTag exact: %v", err)
	}
	if len(found) != 1 || found[0].ID != doc.ID {
		t.Fatalf("SearchByTag exact: want [%s], got %d rows", doc.ID, len(found))
	}

	if found, err := repo.SearchByTag(dbc, "fin", false); err != nil || len(found) != 0 {
		t.Fatalf("SearchByTag exact partial: err=%v len=%d", err, len(found))
	}
	if found, err := repo.SearchByTag(dbc, "q3", true); err != nil || len(found) != 1 {
		t.Fatalf("SearchByTag contains: err=%v len=%d", err, len(found))
	}
	if found, err := repo.SearchByTag(dbc, "%", true); err != nil || len(found) != 0 {
		t.Fatalf("SearchByTag wildcard must be literal: err=%v len=%d", err, len(found))
	}

	if err := repo.Delete(dbc, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if found, err := repo.SearchByTag(dbc, "finance", false); err != nil || len(found) != 0 {
		t.Fatalf("SearchByTag after delete: err=%v len=%d", err, len(found))
	}
	if err := repo.Delete(dbc, doc.ID); !errors.Is(err, perrors.ErrNotFound) {
		t.Fatalf("Delete twice: want ErrNotFound, got %v", err)
	}

	if found, err := repo.SearchByTag(dbc, "internal", false); err != nil || len(found) != 1 || found[0].ID != other.ID {
		t.Fatalf("SearchByTag other: err=%v len=%d", err, len(found))
	}
}

func TestDocumentRepoUpdatePartial(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewDocumentRepo(db, testutil.Logger(t))

	doc := testutil.SeedDocument(t, ctx, tx, "draft", "draft-1.txt", "keep")
	before := doc.UpdatedAt
	time.Sleep(5 * time.Millisecond)

	updated, err := repo.Update(dbc, doc.ID, types.DocumentUpdate{Title: strPtr("final")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "final" {
		t.Fatalf("Update: title want=%q got=%q", "final", updated.Title)
	}
	if updated.Locator != "draft-1.txt" {
		t.Fatalf("Update: locator changed to %q", updated.Locator)
	}
	if names := updated.TagNames(); len(names) != 1 || names[0] != "keep" {
		t.Fatalf("Update: tags changed to %v", names)
	}
	if !updated.UpdatedAt.After(before) {
		t.Fatalf("Update: updated_at not advanced (%v -> %v)", before, updated.UpdatedAt)
	}

	if _, err := repo.Update(dbc, uuid.New(), types.DocumentUpdate{Title: strPtr("x")}); !errors.Is(err, perrors.ErrNotFound) {
		t.Fatalf("Update missing: want ErrNotFound, got %v", err)
	}
}

func TestDocumentRepoApplyProcessingResult(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewDocumentRepo(db, testutil.Logger(t))

	doc := testutil.SeedDocument(t, ctx, tx, "scan", "scan-1.png", "ocr")

	res := types.NewProcessingResult("versions/scan-2.png", "hello world", []float32{0.1, 0.2})
	got, err := repo.ApplyProcessingResult(dbc, doc.ID, res)
	if err != nil {
		t.Fatalf("ApplyProcessingResult: %v", err)
	}
	if got.Locator != "versions/scan-2.png" || got.Content != "hello world" {
		t.Fatalf("ApplyProcessingResult: locator=%q content=%q", got.Locator, got.Content)
	}
	if got.Title != "scan" {
		t.Fatalf("ApplyProcessingResult: title changed to %q", got.Title)
	}
	if names := got.TagNames(); len(names) != 1 || names[0] != "ocr" {
		t.Fatalf("ApplyProcessingResult: tags changed to %v", names)
	}

	if _, err := repo.ApplyProcessingResult(dbc, uuid.New(), res); !errors.Is(err, perrors.ErrNotFound) {
		t.Fatalf("ApplyProcessingResult missing: want ErrNotFound, got %v", err)
	}
}

func TestDocumentRepoListAndLocators(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewDocumentRepo(db, testutil.Logger(t))

	first := testutil.SeedDocument(t, ctx, tx, "a", "projects/a-1.txt")
	time.Sleep(2 * time.Millisecond)
	second := testutil.SeedDocument(t, ctx, tx, "b", "b-1.txt")

	rows, err := repo.List(dbc)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != second.ID || rows[1].ID != first.ID {
		t.Fatalf("List: want newest first")
	}

	locs, err := repo.ListLocators(dbc)
	if err != nil {
		t.Fatalf("ListLocators: %v", err)
	}
	if len(locs) != 2 || locs[0] != "b-1.txt" || locs[1] != "projects/a-1.txt" {
		t.Fatalf("ListLocators: got %v", locs)
	}
}
