package documents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/paperbridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/paperbridge-backend/internal/domain/documents"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/paperbridge-backend/internal/platform/keylock"
)

func TestDocumentVersionRepoAppendSequential(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewDocumentVersionRepo(db, testutil.Logger(t), keylock.NewLocal())

	doc := testutil.SeedDocument(t, ctx, db, "doc", "doc-0.txt")

	const n = 5
	for i := 1; i <= n; i++ {
		res := types.NewProcessingResult(fmt.Sprintf("versions/doc-%d.txt", i), fmt.Sprintf("text %d", i), nil)
		v, err := repo.Append(dbc, doc.ID, res, "run")
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if v.VersionNumber != i {
			t.Fatalf("Append %d: version want=%d got=%d", i, i, v.VersionNumber)
		}
	}

	rows, err := repo.ListByDocument(dbc, doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(rows) != n {
		t.Fatalf("ListByDocument: want %d rows, got %d", n, len(rows))
	}
	for i, v := range rows {
		if v.VersionNumber != i+1 {
			t.Fatalf("ListByDocument[%d]: version want=%d got=%d", i, i+1, v.VersionNumber)
		}
	}

	other := uuid.New()
	if rows, err := repo.ListByDocument(dbc, other); err != nil || len(rows) != 0 {
		t.Fatalf("ListByDocument other: err=%v len=%d", err, len(rows))
	}
}

func TestDocumentVersionRepoAppendConcurrent(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewDocumentVersionRepo(db, testutil.Logger(t), keylock.NewLocal())

	doc := testutil.SeedDocument(t, ctx, db, "doc", "doc-0.txt")

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := types.NewProcessingResult(fmt.Sprintf("versions/doc-%d.txt", i), "", nil)
			_, errs[i] = repo.Append(dbc, doc.ID, res, "concurrent")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	rows, err := repo.ListByDocument(dbc, doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(rows) != n {
		t.Fatalf("ListByDocument: want %d rows, got %d", n, len(rows))
	}
	seen := map[string]bool{}
	for i, v := range rows {
		if v.VersionNumber != i+1 {
			t.Fatalf("gap or duplicate at %d: version %d", i, v.VersionNumber)
		}
		if seen[v.Locator] {
			t.Fatalf("duplicate locator %q", v.Locator)
		}
		seen[v.Locator] = true
	}
}

func TestDocumentVersionRepoEmbeddingAndEmptyText(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewDocumentVersionRepo(db, testutil.Logger(t), nil)

	doc := testutil.SeedDocument(t, ctx, tx, "img", "img-0.png")

	var v *types.DocumentVersion
	err := repo.WithDocumentLock(ctx, doc.ID, func() error {
		var err error
		v, err = repo.Append(dbctx.Context{Ctx: ctx, Tx: tx}, doc.ID, types.NewProcessingResult("versions/img-1.png", "", []float32{1, 2, 3}), "ocr")
		return err
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if v.Content != "" || v.VersionNumber != 1 {
		t.Fatalf("Append: content=%q version=%d", v.Content, v.VersionNumber)
	}
	vec, err := v.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if len(vec) != 3 || v.EmbeddingDims != 3 || vec[2] != 3 {
		t.Fatalf("Vector: got %v dims=%d", vec, v.EmbeddingDims)
	}
}

func TestDocumentVersionRepoRejectsReusedLocator(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewDocumentVersionRepo(db, testutil.Logger(t), keylock.NewLocal())

	doc := testutil.SeedDocument(t, ctx, db, "doc", "doc-0.txt")
	res := types.NewProcessingResult("versions/same.txt", "a", nil)
	if _, err := repo.Append(dbc, doc.ID, res, "first"); err != nil {
		t.Fatalf("Append first: %v", err)
	}
	if _, err := repo.Append(dbc, doc.ID, res, "second"); !errors.Is(err, perrors.ErrConflict) {
		t.Fatalf("Append reused locator: want ErrConflict, got %v", err)
	}

	rows, err := repo.ListByDocument(dbc, doc.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListByDocument: err=%v len=%d", err, len(rows))
	}
	if _, err := repo.Append(dbc, doc.ID, types.NewProcessingResult("", "x", nil), "bad"); !errors.Is(err, perrors.ErrInvalidInput) {
		t.Fatalf("Append empty locator: want ErrInvalidInput, got %v", err)
	}
}

func TestDocumentVersionRepoDeleteByDocument(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewDocumentVersionRepo(db, testutil.Logger(t), nil)

	doc := testutil.SeedDocument(t, ctx, db, "doc", "doc-0.txt")
	for i := 0; i < 3; i++ {
		if _, err := repo.Append(dbc, doc.ID, types.NewProcessingResult(fmt.Sprintf("v-%d", i), "", nil), ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	locs, err := repo.ListLocatorsByDocument(dbc, doc.ID)
	if err != nil || len(locs) != 3 || locs[0] != "v-0" {
		t.Fatalf("ListLocatorsByDocument: err=%v locs=%v", err, locs)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return repo.DeleteByDocumentID(dbctx.Context{Ctx: ctx, Tx: tx}, doc.ID)
	})
	if err != nil {
		t.Fatalf("DeleteByDocumentID: %v", err)
	}
	if rows, err := repo.ListByDocument(dbc, doc.ID); err != nil || len(rows) != 0 {
		t.Fatalf("after delete: err=%v len=%d", err, len(rows))
	}
}
