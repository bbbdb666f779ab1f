package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Repository interface {
	AddArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, seq int64) (*Artifact, error)
	ListArtifacts(ctx context.Context, category Category) ([]*Artifact, error)
	DeleteArtifact(ctx context.Context, path string) error

	SaveCycle(ctx context.Context, c *Cycle) error
	GetCycle(ctx context.Context, id string) (*Cycle, error)
	ListCycles(ctx context.Context, limit int) ([]*Cycle, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// AddArtifact records a new artifact. Re-adding a path moves it to the end of
// the retention order, since the file was rewritten.
func (r *SQLiteRepository) AddArtifact(ctx context.Context, a *Artifact) error {
	if !a.Category.Valid() {
		return fmt.Errorf("invalid artifact category %q", a.Category)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM artifacts WHERE path = ?", a.Path); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (category, path, cycle_id, start_ms, end_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(a.Category), a.Path, nullString(a.CycleID), a.StartMs, a.EndMs, a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return err
	}
	if a.Seq, err = res.LastInsertId(); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetArtifact(ctx context.Context, seq int64) (*Artifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT seq, category, path, cycle_id, start_ms, end_ms, created_at
		FROM artifacts WHERE seq = ?
	`, seq)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListArtifacts returns the artifacts of category, oldest first.
func (r *SQLiteRepository) ListArtifacts(ctx context.Context, category Category) ([]*Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, category, path, cycle_id, start_ms, end_ms, created_at
		FROM artifacts WHERE category = ? ORDER BY seq ASC
	`, string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteArtifact(ctx context.Context, path string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM artifacts WHERE path = ?", path)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*Artifact, error) {
	var a Artifact
	var category, createdAt string
	var cycleID sql.NullString
	if err := s.Scan(&a.Seq, &category, &a.Path, &cycleID, &a.StartMs, &a.EndMs, &createdAt); err != nil {
		return nil, err
	}
	a.Category = Category(category)
	a.CycleID = cycleID.String
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &a, nil
}

// SaveCycle inserts or replaces the record for c.ID.
func (r *SQLiteRepository) SaveCycle(ctx context.Context, c *Cycle) error {
	c.UpdatedAt = time.Now()
	if c.TriggeredAt.IsZero() {
		c.TriggeredAt = c.UpdatedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycles (id, event, status, media_path, sub_text, window_start_ms, window_end_ms,
			track_map, first_byte_ms, rms, peak, f0_median_hz, voiced_pct, source_path, mic_path,
			mic_rms, mic_f0_median_hz, mic_voiced_pct, error, triggered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			media_path = excluded.media_path,
			sub_text = excluded.sub_text,
			window_start_ms = excluded.window_start_ms,
			window_end_ms = excluded.window_end_ms,
			track_map = excluded.track_map,
			first_byte_ms = excluded.first_byte_ms,
			rms = excluded.rms,
			peak = excluded.peak,
			f0_median_hz = excluded.f0_median_hz,
			voiced_pct = excluded.voiced_pct,
			source_path = excluded.source_path,
			mic_path = excluded.mic_path,
			mic_rms = excluded.mic_rms,
			mic_f0_median_hz = excluded.mic_f0_median_hz,
			mic_voiced_pct = excluded.mic_voiced_pct,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, c.ID, c.Event, c.Status, nullString(c.MediaPath), nullString(c.SubText),
		c.WindowStartMs, c.WindowEndMs, nullString(c.TrackMap), c.FirstByteMs,
		c.RMS, c.Peak, nullFloat(c.F0MedianHz), c.VoicedPct,
		nullString(c.SourcePath), nullString(c.MicPath),
		nullFloat(c.MicRMS), nullFloat(c.MicF0MedianHz), nullFloat(c.MicVoicedPct),
		nullString(c.Error),
		c.TriggeredAt.UTC().Format(timeLayout), c.UpdatedAt.UTC().Format(timeLayout))
	return err
}

const cycleColumns = `id, event, status, media_path, sub_text, window_start_ms, window_end_ms,
	track_map, first_byte_ms, rms, peak, f0_median_hz, voiced_pct, source_path, mic_path,
	mic_rms, mic_f0_median_hz, mic_voiced_pct, error, triggered_at, updated_at`

func (r *SQLiteRepository) GetCycle(ctx context.Context, id string) (*Cycle, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+cycleColumns+" FROM cycles WHERE id = ?", id)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListCycles returns the most recent cycles, newest first.
func (r *SQLiteRepository) ListCycles(ctx context.Context, limit int) ([]*Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+cycleColumns+" FROM cycles ORDER BY triggered_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCycle(s scanner) (*Cycle, error) {
	var c Cycle
	var mediaPath, subText, trackMap, sourcePath, micPath, errMsg sql.NullString
	var startMs, endMs, firstByte sql.NullInt64
	var rms, peak, voiced, f0, micRMS, micF0, micVoiced sql.NullFloat64
	var triggeredAt, updatedAt string

	err := s.Scan(&c.ID, &c.Event, &c.Status, &mediaPath, &subText, &startMs, &endMs,
		&trackMap, &firstByte, &rms, &peak, &f0, &voiced, &sourcePath, &micPath,
		&micRMS, &micF0, &micVoiced, &errMsg, &triggeredAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.MediaPath = mediaPath.String
	c.SubText = subText.String
	c.WindowStartMs = startMs.Int64
	c.WindowEndMs = endMs.Int64
	c.TrackMap = trackMap.String
	c.FirstByteMs = firstByte.Int64
	c.RMS = rms.Float64
	c.Peak = peak.Float64
	c.F0MedianHz = floatPtr(f0)
	c.VoicedPct = voiced.Float64
	c.SourcePath = sourcePath.String
	c.MicPath = micPath.String
	c.MicRMS = floatPtr(micRMS)
	c.MicF0MedianHz = floatPtr(micF0)
	c.MicVoicedPct = floatPtr(micVoiced)
	c.Error = errMsg.String
	c.TriggeredAt, _ = time.Parse(timeLayout, triggeredAt)
	c.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &c, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
