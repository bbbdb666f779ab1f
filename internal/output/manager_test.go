package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/db"
	"github.com/shadowkit/shadow-agent/internal/media"
	"github.com/shadowkit/shadow-agent/internal/metrics"
)

func newTestManager(t *testing.T, retention int) (*Manager, *catalog.SQLiteRepository, *metrics.Metrics) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mgr, err := NewManager(Options{
		Dir:          filepath.Join(t.TempDir(), "out"),
		RetentionCap: retention,
		Index:        repo,
		Metrics:      m,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr, repo, m
}

// writeClip creates the artifact file for window i and returns its path.
func writeClip(t *testing.T, mgr *Manager, i int, category catalog.Category) (string, media.CutWindow) {
	t.Helper()
	w := media.CutWindow{Start: float64(i), End: float64(i) + 0.5}
	path := mgr.PathFor("ep1", w, category)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("clip-%d", i)), 0644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path, w
}

func historical(t *testing.T, dir string, category catalog.Category) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var out []string
	for _, e := range entries {
		name, err := catalog.ParseArtifactName(e.Name())
		if err != nil || name.Category != category {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}

func TestManager_RetentionKeepsMostRecent(t *testing.T) {
	const retention = 5
	for _, n := range []int{1, 3, 5, 8, 12} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			mgr, _, m := newTestManager(t, retention)
			ctx := context.Background()

			var written []string
			for i := 0; i < n; i++ {
				path, w := writeClip(t, mgr, i, catalog.CategorySource)
				res, err := mgr.Commit(ctx, catalog.CategorySource, fmt.Sprintf("c%d", i), path, w)
				if err != nil {
					t.Fatalf("Commit(%d) error = %v", i, err)
				}
				if len(res.Errors) != 0 {
					t.Fatalf("Commit(%d) errors = %v", i, res.Errors)
				}
				written = append(written, path)
			}

			want := written
			if len(want) > retention {
				want = want[len(want)-retention:]
			}
			want = append([]string(nil), want...)
			sort.Strings(want)

			got := historical(t, mgr.Dir(), catalog.CategorySource)
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Errorf("kept = %v, want %v", got, want)
			}

			evictions := max(0, n-retention)
			if v := testutil.ToFloat64(m.RetentionEvictions); int(v) != evictions {
				t.Errorf("evictions = %v, want %d", v, evictions)
			}
		})
	}
}

func TestManager_LatestPointer(t *testing.T) {
	mgr, _, _ := newTestManager(t, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		path, w := writeClip(t, mgr, i, catalog.CategorySource)
		res, err := mgr.Commit(ctx, catalog.CategorySource, "c", path, w)
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if res.LatestPath != mgr.LatestPath(catalog.CategorySource) {
			t.Errorf("LatestPath = %q", res.LatestPath)
		}
		data, err := os.ReadFile(res.LatestPath)
		if err != nil {
			t.Fatalf("read latest: %v", err)
		}
		if string(data) != fmt.Sprintf("clip-%d", i) {
			t.Errorf("latest content = %q, want clip-%d", data, i)
		}
	}

	// The pointer is not counted by retention.
	if got := historical(t, mgr.Dir(), catalog.CategorySource); len(got) != 2 {
		t.Errorf("historical = %d, want 2", len(got))
	}
	if _, err := os.Stat(mgr.LatestPath(catalog.CategoryMic)); !os.IsNotExist(err) {
		t.Error("mic latest should not exist before a mic commit")
	}
}

func TestManager_CategoriesRetainedIndependently(t *testing.T) {
	mgr, _, _ := newTestManager(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		path, w := writeClip(t, mgr, i, catalog.CategorySource)
		if _, err := mgr.Commit(ctx, catalog.CategorySource, "c", path, w); err != nil {
			t.Fatal(err)
		}
	}
	path, w := writeClip(t, mgr, 0, catalog.CategoryMic)
	if _, err := mgr.Commit(ctx, catalog.CategoryMic, "c", path, w); err != nil {
		t.Fatal(err)
	}

	if got := historical(t, mgr.Dir(), catalog.CategorySource); len(got) != 2 {
		t.Errorf("source = %d, want 2", len(got))
	}
	if got := historical(t, mgr.Dir(), catalog.CategoryMic); len(got) != 1 {
		t.Errorf("mic = %d, want 1", len(got))
	}
	if _, err := os.Stat(mgr.LatestPath(catalog.CategoryMic)); err != nil {
		t.Errorf("latest_mic missing: %v", err)
	}
}

func TestManager_ConcurrentCommits(t *testing.T) {
	const retention = 3
	mgr, repo, _ := newTestManager(t, retention)
	ctx := context.Background()

	const n = 16
	paths := make([]string, n)
	windows := make([]media.CutWindow, n)
	for i := 0; i < n; i++ {
		paths[i], windows[i] = writeClip(t, mgr, i, catalog.CategorySource)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := mgr.Commit(ctx, catalog.CategorySource, "c", paths[i], windows[i]); err != nil {
				t.Errorf("Commit(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	arts, err := repo.ListArtifacts(ctx, catalog.CategorySource)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != retention {
		t.Errorf("indexed = %d, want %d", len(arts), retention)
	}
	onDisk := historical(t, mgr.Dir(), catalog.CategorySource)
	if len(onDisk) != retention {
		t.Errorf("on disk = %d, want %d", len(onDisk), retention)
	}
	for _, a := range arts {
		if _, err := os.Stat(a.Path); err != nil {
			t.Errorf("indexed artifact %s missing: %v", a.Path, err)
		}
	}
}

func TestManager_DeletionFailureIsNotFatal(t *testing.T) {
	mgr, repo, m := newTestManager(t, 1)
	ctx := context.Background()

	// A non-empty directory cannot be removed with os.Remove.
	stuck := filepath.Join(mgr.Dir(), "stuck")
	if err := os.MkdirAll(filepath.Join(stuck, "inner"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := repo.AddArtifact(ctx, &catalog.Artifact{Category: catalog.CategorySource, Path: stuck}); err != nil {
		t.Fatal(err)
	}

	path, w := writeClip(t, mgr, 1, catalog.CategorySource)
	res, err := mgr.Commit(ctx, catalog.CategorySource, "c", path, w)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want one retention error", res.Errors)
	}
	var rerr *RetentionIOError
	if !errors.As(res.Errors[0], &rerr) || rerr.Path != stuck || rerr.Op != "delete" {
		t.Errorf("error = %v, want RetentionIOError for %s", res.Errors[0], stuck)
	}
	if res.LatestPath == "" {
		t.Error("latest pointer should still be written")
	}
	if v := testutil.ToFloat64(m.RetentionErrors); v != 1 {
		t.Errorf("retention errors = %v, want 1", v)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("new artifact removed: %v", err)
	}
}

func TestManager_Store(t *testing.T) {
	mgr, repo, _ := newTestManager(t, 5)
	ctx := context.Background()

	w := media.CutWindow{Start: 1.2, End: 3.4}
	res, err := mgr.Store(ctx, catalog.CategoryMic, "cycle-9", "ep1", w, strings.NewReader("mic-bytes"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	want := filepath.Join(mgr.Dir(), "ep1_00001200_00003400_mic.wav")
	if res.Artifact.Path != want {
		t.Errorf("path = %q, want %q", res.Artifact.Path, want)
	}
	if data, _ := os.ReadFile(want); string(data) != "mic-bytes" {
		t.Errorf("content = %q", data)
	}
	if data, _ := os.ReadFile(mgr.LatestPath(catalog.CategoryMic)); string(data) != "mic-bytes" {
		t.Errorf("latest_mic content = %q", data)
	}
	arts, _ := repo.ListArtifacts(ctx, catalog.CategoryMic)
	if len(arts) != 1 || arts[0].CycleID != "cycle-9" {
		t.Errorf("indexed = %+v", arts)
	}

	entries, _ := os.ReadDir(mgr.Dir())
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Errorf("staging file left behind: %s", e.Name())
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestManager_StoreFailureLeavesNothing(t *testing.T) {
	mgr, repo, _ := newTestManager(t, 5)
	ctx := context.Background()

	w := media.CutWindow{Start: 0, End: 1}
	if _, err := mgr.Store(ctx, catalog.CategoryMic, "c", "ep1", w, failingReader{}); err == nil {
		t.Fatal("Store() should fail")
	}
	entries, _ := os.ReadDir(mgr.Dir())
	for _, e := range entries {
		if e.Name() != LogFilename {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
	if arts, _ := repo.ListArtifacts(ctx, catalog.CategoryMic); len(arts) != 0 {
		t.Errorf("indexed = %d, want 0", len(arts))
	}
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(Options{Index: nil, Dir: t.TempDir()}); err == nil {
		t.Error("expected error without index")
	}
	if _, err := NewManager(Options{}); err == nil {
		t.Error("expected error without directory")
	}
}
