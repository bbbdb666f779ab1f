package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ReconcileResult reports what Reconcile changed in the index.
type ReconcileResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Repository() Repository {
	return s.repo
}

// Reconcile brings the artifact index in line with dir: files that follow
// the naming scheme but are unknown are added in modification-time order, and
// rows whose file no longer exists are dropped. Latest pointers are ignored.
func (s *Service) Reconcile(ctx context.Context, dir string) (ReconcileResult, error) {
	var res ReconcileResult

	known := make(map[string]bool)
	for _, cat := range Categories {
		arts, err := s.repo.ListArtifacts(ctx, cat)
		if err != nil {
			return res, err
		}
		for _, a := range arts {
			if _, err := os.Stat(a.Path); os.IsNotExist(err) {
				if err := s.repo.DeleteArtifact(ctx, a.Path); err != nil {
					return res, err
				}
				res.Removed++
				continue
			}
			known[a.Path] = true
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, err
	}

	type found struct {
		path  string
		name  ArtifactName
		mtime time.Time
	}
	var unknown []found
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if known[path] {
			continue
		}
		name, err := ParseArtifactName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		unknown = append(unknown, found{path: path, name: name, mtime: info.ModTime()})
	}
	sort.Slice(unknown, func(i, j int) bool {
		if unknown[i].mtime.Equal(unknown[j].mtime) {
			return unknown[i].path < unknown[j].path
		}
		return unknown[i].mtime.Before(unknown[j].mtime)
	})

	for _, f := range unknown {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		a := &Artifact{
			Category:  f.name.Category,
			Path:      f.path,
			StartMs:   f.name.StartMs,
			EndMs:     f.name.EndMs,
			CreatedAt: f.mtime,
		}
		if err := s.repo.AddArtifact(ctx, a); err != nil {
			if s.logger != nil {
				s.logger.Warn("failed to index artifact", "path", f.path, "error", err)
			}
			continue
		}
		res.Added++
	}

	if s.logger != nil && (res.Added > 0 || res.Removed > 0) {
		s.logger.Info("artifact index reconciled", "added", res.Added, "removed", res.Removed)
	}
	return res, nil
}

// RecentCycles returns up to limit cycles, newest first.
func (s *Service) RecentCycles(ctx context.Context, limit int) ([]*Cycle, error) {
	return s.repo.ListCycles(ctx, limit)
}

func (s *Service) GetCycle(ctx context.Context, id string) (*Cycle, error) {
	return s.repo.GetCycle(ctx, id)
}

func (s *Service) GetArtifact(ctx context.Context, seq int64) (*Artifact, error) {
	return s.repo.GetArtifact(ctx, seq)
}
