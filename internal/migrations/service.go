package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

var ErrChecksumMismatch = errors.New("applied migration was modified")

func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

type FileInfo struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

type Status struct {
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	Applied   bool   `json:"applied"`
	AppliedAt string `json:"applied_at,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

type appliedRecord struct {
	checksum  string
	appliedAt time.Time
}

type Service struct {
	fsys    fs.FS
	db      *sql.DB
	nowFunc func() time.Time
}

// NewService lists migrations without a database; nothing is reported as
// applied and Apply fails.
func NewService(fsys fs.FS) *Service {
	return &Service{fsys: fsys, nowFunc: time.Now}
}

func NewServiceWithPostgres(fsys fs.FS, db *sql.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &Service{fsys: fsys, db: db, nowFunc: time.Now}, nil
}

func (s *Service) List() ([]FileInfo, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(s.fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, FileInfo{Name: e.Name(), Checksum: checksum(b)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) Status(ctx context.Context) ([]Status, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}

	applied := map[string]appliedRecord{}
	if s.db != nil {
		if err := s.ensureSchema(ctx); err != nil {
			return nil, err
		}
		if applied, err = s.loadApplied(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]Status, 0, len(files))
	for _, f := range files {
		st := Status{Name: f.Name, Checksum: f.Checksum}
		if rec, ok := applied[f.Name]; ok {
			st.Applied = true
			st.AppliedAt = rec.appliedAt.UTC().Format(time.RFC3339)
			st.Modified = rec.checksum != f.Checksum
		}
		out = append(out, st)
	}
	return out, nil
}

// Apply runs every pending migration in name order, each in its own
// transaction, and returns the names it applied. It refuses to continue if an
// already applied file has changed.
func (s *Service) Apply(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("apply migrations: database is required")
	}
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	applied, err := s.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, f := range files {
		if rec, ok := applied[f.Name]; ok {
			if rec.checksum != f.Checksum {
				return done, fmt.Errorf("%w: %s", ErrChecksumMismatch, f.Name)
			}
			continue
		}
		if err := s.applyOne(ctx, f); err != nil {
			return done, err
		}
		done = append(done, f.Name)
	}
	return done, nil
}

func (s *Service) applyOne(ctx context.Context, f FileInfo) error {
	body, err := fs.ReadFile(s.fsys, f.Name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", f.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("run migration %s: %w", f.Name, err)
	}
	const q = `
INSERT INTO schema_migrations (name, checksum, applied_at)
VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, q, f.Name, f.Checksum, s.nowFunc().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", f.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", f.Name, err)
	}
	return nil
}

func (s *Service) ensureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (s *Service) loadApplied(ctx context.Context) (map[string]appliedRecord, error) {
	const q = `SELECT name, checksum, applied_at FROM schema_migrations`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query migration state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedRecord)
	for rows.Next() {
		var name string
		var rec appliedRecord
		if err := rows.Scan(&name, &rec.checksum, &rec.appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration state: %w", err)
		}
		out[name] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration state: %w", err)
	}
	return out, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
