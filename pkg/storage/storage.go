// Package storage persists package changelogs in SQLite. Deltas are
// append-only rows keyed by (package, position); the version index is the
// only row that ever changes. It implements changelog.Store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/refpages/apidelta/pkg/changelog"
	"github.com/refpages/apidelta/pkg/delta"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS changelog_deltas (
  id               INTEGER PRIMARY KEY,
  package_id       TEXT NOT NULL,
  position         INTEGER NOT NULL,
  version          TEXT NOT NULL,
  previous_version TEXT,
  sha              TEXT,
  release_date     DATETIME,
  breaking_count   INTEGER NOT NULL DEFAULT 0,
  delta            TEXT NOT NULL,
  created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(package_id, position),
  UNIQUE(package_id, version)
);
CREATE INDEX IF NOT EXISTS idx_deltas_package ON changelog_deltas(package_id, position);
CREATE INDEX IF NOT EXISTS idx_deltas_created ON changelog_deltas(created_at);
CREATE TABLE IF NOT EXISTS version_index (
  package_id     TEXT PRIMARY KEY,
  latest_version TEXT NOT NULL,
  latest_sha     TEXT,
  build_id       TEXT NOT NULL,
  updated_at     DATETIME NOT NULL
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Fetch loads the stored changelog and version index of one package. A
// package with neither deltas nor an index row reports
// changelog.ErrNotFound. The index may be nil when only deltas exist.
func (d *DB) Fetch(ctx context.Context, packageID string) (*changelog.PackageChangelog, *changelog.PackageVersionIndex, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT delta FROM changelog_deltas WHERE package_id = ? ORDER BY position", packageID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cl := &changelog.PackageChangelog{PackageID: packageID}
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, nil, err
		}
		var vd delta.VersionDelta
		if err := json.Unmarshal([]byte(blob), &vd); err != nil {
			return nil, nil, fmt.Errorf("stored delta for %s is corrupt: %w", packageID, err)
		}
		cl.Deltas = append(cl.Deltas, &vd)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	idx, err := d.fetchIndex(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	if len(cl.Deltas) == 0 && idx == nil {
		return nil, nil, changelog.ErrNotFound
	}
	return cl, idx, nil
}

func (d *DB) fetchIndex(ctx context.Context, packageID string) (*changelog.PackageVersionIndex, error) {
	idx := &changelog.PackageVersionIndex{PackageID: packageID}
	var sha sql.NullString
	var updatedAt string
	err := d.sql.QueryRowContext(ctx,
		"SELECT latest_version, latest_sha, build_id, updated_at FROM version_index WHERE package_id = ?",
		packageID).Scan(&idx.Latest.Version, &sha, &idx.BuildID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	idx.Latest.SHA = sha.String
	idx.UpdatedAt = parseTime(updatedAt)
	return idx, nil
}

// Save persists the changelog and its index in one transaction. Deltas are
// append-only: a position already stored must carry a byte-identical
// payload or Save fails loudly; only new positions are inserted. The index
// row is upserted.
func (d *DB) Save(ctx context.Context, cl *changelog.PackageChangelog, idx *changelog.PackageVersionIndex) error {
	if cl == nil || idx == nil {
		return errors.New("storage: nothing to save")
	}
	if cl.PackageID == "" || cl.PackageID != idx.PackageID {
		return fmt.Errorf("storage: changelog is for %q but index is for %q", cl.PackageID, idx.PackageID)
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stored := make(map[int]string)
	rows, err := tx.QueryContext(ctx, "SELECT position, delta FROM changelog_deltas WHERE package_id = ?", cl.PackageID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var pos int
		var blob string
		if err = rows.Scan(&pos, &blob); err != nil {
			rows.Close()
			return err
		}
		stored[pos] = blob
	}
	if err = rows.Close(); err != nil {
		return err
	}

	if len(cl.Deltas) < len(stored) {
		err = fmt.Errorf("storage: changelog for %s carries %d deltas but %d are stored; stored deltas are never removed", cl.PackageID, len(cl.Deltas), len(stored))
		return err
	}

	for pos, vd := range cl.Deltas {
		var blob []byte
		blob, err = json.Marshal(vd)
		if err != nil {
			return err
		}
		if prev, ok := stored[pos]; ok {
			if prev != string(blob) {
				err = fmt.Errorf("storage: delta at position %d of %s (version %s) differs from the stored one; deltas are immutable", pos, cl.PackageID, vd.Version)
				return err
			}
			continue
		}
		var release interface{}
		if !vd.ReleaseDate.IsZero() {
			release = vd.ReleaseDate.UTC().Format(time.RFC3339)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO changelog_deltas(package_id, position, version, previous_version, sha, release_date, breaking_count, delta) VALUES(?,?,?,?,?,?,?,?)`,
			cl.PackageID, pos, vd.Version, nullIfEmpty(vd.PreviousVersion), nullIfEmpty(vd.SHA), release, vd.BreakingCount(), string(blob))
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO version_index(package_id, latest_version, latest_sha, build_id, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(package_id) DO UPDATE SET latest_version=excluded.latest_version, latest_sha=excluded.latest_sha, build_id=excluded.build_id, updated_at=excluded.updated_at`,
		idx.PackageID, idx.Latest.Version, nullIfEmpty(idx.Latest.SHA), idx.BuildID, idx.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// DeltaSummary is one row of the recent-changes listing.
type DeltaSummary struct {
	PackageID       string
	Version         string
	PreviousVersion string
	SHA             string
	ReleaseDate     time.Time
	BreakingCount   int
	CreatedAt       time.Time
}

// ListRecentDeltas returns the most recently recorded deltas across all
// packages, optionally only those carrying breaking changes.
func (d *DB) ListRecentDeltas(ctx context.Context, limit int, breakingOnly bool) ([]DeltaSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	q := "SELECT package_id, version, previous_version, sha, release_date, breaking_count, created_at FROM changelog_deltas"
	if breakingOnly {
		q += " WHERE breaking_count > 0"
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"

	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []DeltaSummary{}
	for rows.Next() {
		var s DeltaSummary
		var prev, sha, release sql.NullString
		var createdAt string
		if err := rows.Scan(&s.PackageID, &s.Version, &prev, &sha, &release, &s.BreakingCount, &createdAt); err != nil {
			return nil, err
		}
		s.PreviousVersion = prev.String
		s.SHA = sha.String
		if release.Valid {
			s.ReleaseDate = parseTime(release.String)
		}
		s.CreatedAt = parseTime(createdAt)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// ListPackages returns every package id with stored deltas.
func (d *DB) ListPackages(ctx context.Context) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT DISTINCT package_id FROM changelog_deltas ORDER BY package_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListIndexes returns every latest-version pointer, ordered by package id.
func (d *DB) ListIndexes(ctx context.Context) ([]changelog.PackageVersionIndex, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT package_id, latest_version, latest_sha, build_id, updated_at FROM version_index ORDER BY package_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []changelog.PackageVersionIndex
	for rows.Next() {
		var idx changelog.PackageVersionIndex
		var sha sql.NullString
		var updatedAt string
		if err := rows.Scan(&idx.PackageID, &idx.Latest.Version, &sha, &idx.BuildID, &updatedAt); err != nil {
			return nil, err
		}
		idx.Latest.SHA = sha.String
		idx.UpdatedAt = parseTime(updatedAt)
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type PackageStats struct {
	PackageID     string
	VersionCount  int
	BreakingCount int
	LatestVersion string
	UpdatedAt     time.Time
}

func (d *DB) GetStats(ctx context.Context) ([]PackageStats, error) {
	query := `
		SELECT
			d.package_id,
			COUNT(*),
			COALESCE(SUM(d.breaking_count), 0),
			COALESCE(i.latest_version, ''),
			COALESCE(i.updated_at, '')
		FROM
			changelog_deltas d
		LEFT JOIN
			version_index i ON i.package_id = d.package_id
		GROUP BY
			d.package_id
		ORDER BY
			d.package_id;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []PackageStats
	for rows.Next() {
		var s PackageStats
		var updatedAt string
		if err := rows.Scan(&s.PackageID, &s.VersionCount, &s.BreakingCount, &s.LatestVersion, &updatedAt); err != nil {
			return nil, err
		}
		if updatedAt != "" {
			s.UpdatedAt = parseTime(updatedAt)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// parseTime handles both RFC3339 strings and the SQLite CURRENT_TIMESTAMP
// format ("2006-01-02 15:04:05").
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
