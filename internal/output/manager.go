// Package output names, stores and evicts audio artifacts and keeps the
// append-only cycle log.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/media"
	"github.com/shadowkit/shadow-agent/internal/metrics"
)

// RetentionIOError reports a failed deletion or rename. It is never fatal to
// the cycle that triggered it.
type RetentionIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *RetentionIOError) Error() string {
	return fmt.Sprintf("retention %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RetentionIOError) Unwrap() error {
	return e.Err
}

// Index is the ordered record of historical artifacts.
type Index interface {
	AddArtifact(ctx context.Context, a *catalog.Artifact) error
	ListArtifacts(ctx context.Context, category catalog.Category) ([]*catalog.Artifact, error)
	DeleteArtifact(ctx context.Context, path string) error
}

type Options struct {
	Dir          string
	RetentionCap int
	Index        Index
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Manager owns the output directory. Commits are serialised so retention
// never races between cycles finishing out of order.
type Manager struct {
	mu      sync.Mutex
	dir     string
	cap     int
	index   Index
	log     *CycleLog
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// CommitResult describes what a commit did to the output directory.
type CommitResult struct {
	Artifact   *catalog.Artifact
	LatestPath string
	Evicted    []string
	Errors     []error
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Index == nil {
		return nil, errors.New("artifact index is required")
	}
	if opts.RetentionCap < 1 {
		opts.RetentionCap = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	cl, err := OpenCycleLog(filepath.Join(opts.Dir, LogFilename))
	if err != nil {
		return nil, err
	}

	return &Manager{
		dir:     opts.Dir,
		cap:     opts.RetentionCap,
		index:   opts.Index,
		log:     cl,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) RetentionCap() int {
	return m.cap
}

// PathFor returns where the artifact for a window of base belongs.
func (m *Manager) PathFor(base string, w media.CutWindow, category catalog.Category) string {
	return filepath.Join(m.dir, catalog.BuildArtifactName(base, w.StartMs(), w.EndMs(), category))
}

// LatestPath returns the always-overwritten pointer for category.
func (m *Manager) LatestPath(category catalog.Category) string {
	return filepath.Join(m.dir, catalog.LatestName(category))
}

// Commit registers a completed artifact at path, refreshes the latest
// pointer and applies retention. Only an index failure is returned as an
// error; filesystem problems are collected in the result and logged.
func (m *Manager) Commit(ctx context.Context, category catalog.Category, cycleID, path string, w media.CutWindow) (*CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := &catalog.Artifact{
		Category:  category,
		Path:      path,
		CycleID:   cycleID,
		StartMs:   w.StartMs(),
		EndMs:     w.EndMs(),
		CreatedAt: time.Now(),
	}
	if err := m.index.AddArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("index artifact: %w", err)
	}

	res := &CommitResult{Artifact: a}

	latest := m.LatestPath(category)
	if err := replaceWithCopy(path, latest); err != nil {
		res.Errors = append(res.Errors, m.retentionError(latest, "copy latest", err))
	} else {
		res.LatestPath = latest
	}

	evicted, errs := m.enforceRetention(ctx, category)
	res.Evicted = evicted
	res.Errors = append(res.Errors, errs...)

	m.logger.Info("artifact committed",
		"category", category,
		"path", path,
		"evicted", len(evicted),
		"errors", len(res.Errors))
	return res, nil
}

// Store writes r into the artifact slot for base and window, then commits it.
// The data is staged in a temporary file so a failed upload leaves nothing
// behind under the final name.
func (m *Manager) Store(ctx context.Context, category catalog.Category, cycleID, base string, w media.CutWindow, r io.Reader) (*CommitResult, error) {
	final := m.PathFor(base, w, category)

	tmp, err := os.CreateTemp(m.dir, ".store-*.part")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("move artifact into place: %w", err)
	}

	return m.Commit(ctx, category, cycleID, final, w)
}

// enforceRetention deletes the oldest artifacts of category beyond the cap.
// Caller holds m.mu.
func (m *Manager) enforceRetention(ctx context.Context, category catalog.Category) ([]string, []error) {
	arts, err := m.index.ListArtifacts(ctx, category)
	if err != nil {
		return nil, []error{m.retentionError(m.dir, "list", err)}
	}
	excess := len(arts) - m.cap
	if excess <= 0 {
		return nil, nil
	}

	var evicted []string
	var errs []error
	for _, a := range arts[:excess] {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, m.retentionError(a.Path, "delete", err))
			continue
		}
		if err := m.index.DeleteArtifact(ctx, a.Path); err != nil {
			errs = append(errs, m.retentionError(a.Path, "unindex", err))
			continue
		}
		evicted = append(evicted, a.Path)
		if m.metrics != nil {
			m.metrics.RetentionEvictions.Inc()
		}
	}
	return evicted, errs
}

func (m *Manager) retentionError(path, op string, err error) error {
	rerr := &RetentionIOError{Path: path, Op: op, Err: err}
	m.logger.Warn("retention failure", "op", op, "path", path, "error", err)
	if m.metrics != nil {
		m.metrics.RetentionErrors.Inc()
	}
	return rerr
}

// AppendLog writes one record to the cycle log.
func (m *Manager) AppendLog(rec LogRecord) {
	m.log.Append(rec)
}

func (m *Manager) LogPath() string {
	return m.log.Path()
}

func (m *Manager) Close() error {
	return m.log.Close()
}

// replaceWithCopy copies src over dst through a temporary file in dst's
// directory, so readers of dst see either the old or the new content.
func replaceWithCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".latest-*.part")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
