package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shadowkit/shadow-agent/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestService_Reconcile_AddsUnknownInMtimeOrder(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()
	dir := t.TempDir()

	base := time.Now().Add(-time.Hour)
	newer := filepath.Join(dir, BuildArtifactName("ep1", 1000, 2000, CategorySource))
	older := filepath.Join(dir, BuildArtifactName("ep1", 5000, 6000, CategorySource))
	mic := filepath.Join(dir, BuildArtifactName("ep1", 1000, 2000, CategoryMic))
	touch(t, newer, base.Add(2*time.Minute))
	touch(t, older, base)
	touch(t, mic, base.Add(time.Minute))
	touch(t, filepath.Join(dir, LatestName(CategorySource)), base)
	touch(t, filepath.Join(dir, "notes.txt"), base)

	res, err := svc.Reconcile(ctx, dir)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Added != 3 || res.Removed != 0 {
		t.Errorf("result = %+v, want 3 added", res)
	}

	src, err := repo.ListArtifacts(ctx, CategorySource)
	if err != nil {
		t.Fatalf("ListArtifacts() error = %v", err)
	}
	if len(src) != 2 {
		t.Fatalf("source artifacts = %d, want 2", len(src))
	}
	if src[0].Path != older || src[1].Path != newer {
		t.Errorf("order = [%s %s], want oldest mtime first", src[0].Path, src[1].Path)
	}
	if src[0].StartMs != 5000 || src[0].EndMs != 6000 {
		t.Errorf("window = %d-%d, want 5000-6000", src[0].StartMs, src[0].EndMs)
	}

	again, err := svc.Reconcile(ctx, dir)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if again.Added != 0 || again.Removed != 0 {
		t.Errorf("second result = %+v, want no changes", again)
	}
}

func TestService_Reconcile_DropsMissingFiles(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()
	dir := t.TempDir()

	gone := filepath.Join(dir, BuildArtifactName("ep1", 0, 900, CategorySource))
	if err := repo.AddArtifact(ctx, &Artifact{Category: CategorySource, Path: gone, EndMs: 900}); err != nil {
		t.Fatalf("AddArtifact() error = %v", err)
	}

	res, err := svc.Reconcile(ctx, dir)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Removed != 1 {
		t.Errorf("removed = %d, want 1", res.Removed)
	}
	arts, _ := repo.ListArtifacts(ctx, CategorySource)
	if len(arts) != 0 {
		t.Errorf("artifacts = %d, want 0", len(arts))
	}
}

func TestService_Reconcile_MissingDir(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	res, err := svc.Reconcile(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Added != 0 {
		t.Errorf("added = %d, want 0", res.Added)
	}
}
