// Package reports persists analyzer runs in SQLite so the latest integrity
// scores survive restarts.
package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a report id is unknown.
var ErrNotFound = errors.New("report not found")

// Report is one stored analyzer run.
type Report struct {
	ID             string          `json:"id"`
	Analyzer       string          `json:"analyzer"`
	Status         string          `json:"status"`
	IntegrityScore float64         `json:"integrity_score"`
	Source         string          `json:"source,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Store provides SQLite-backed report persistence.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens the store at path and applies migrations. ":memory:" is accepted
// for throwaway stores.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save stores payload as a new report and returns it with its id and timestamp set.
func (s *Store) Save(ctx context.Context, analyzer, status string, score float64, source string, payload any) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Report{}, fmt.Errorf("storage is not configured")
	}
	analyzer = strings.TrimSpace(analyzer)
	if analyzer == "" {
		return Report{}, fmt.Errorf("analyzer is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Report{}, fmt.Errorf("encode payload: %w", err)
	}

	r := Report{
		ID:             uuid.NewString(),
		Analyzer:       analyzer,
		Status:         status,
		IntegrityScore: score,
		Source:         source,
		CreatedAt:      s.now().Truncate(time.Millisecond),
		Payload:        data,
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO reports (
	id,
	analyzer,
	status,
	integrity_score,
	source,
	payload,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		r.ID,
		r.Analyzer,
		r.Status,
		r.IntegrityScore,
		r.Source,
		string(r.Payload),
		r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Report{}, fmt.Errorf("save report: %w", err)
	}
	return r, nil
}

// Get loads one report with its payload.
func (s *Store) Get(ctx context.Context, id string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Report{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, analyzer, status, integrity_score, source, payload, created_at
FROM reports
WHERE id = ?
`, strings.TrimSpace(id))

	r, err := scanReport(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// List returns newest-first reports without payloads. An empty analyzer lists all.
func (s *Store) List(ctx context.Context, analyzer string, limit int) ([]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, analyzer, status, integrity_score, source, '', created_at
FROM reports
WHERE ? = '' OR analyzer = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, analyzer, analyzer, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := make([]Report, 0, limit)
	for rows.Next() {
		r, err := scanReport(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

// Latest returns the newest report per analyzer, keyed by analyzer name.
func (s *Store) Latest(ctx context.Context) (map[string]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, analyzer, status, integrity_score, source, '', created_at
FROM reports AS r
WHERE r.rowid = (
	SELECT rowid FROM reports
	WHERE analyzer = r.analyzer
	ORDER BY created_at DESC, rowid DESC
	LIMIT 1
)
`)
	if err != nil {
		return nil, fmt.Errorf("latest reports: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Report)
	for rows.Next() {
		r, err := scanReport(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out[r.Analyzer] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner, withPayload bool) (Report, error) {
	var (
		r         Report
		payload   string
		createdAt int64
	)
	if err := row.Scan(&r.ID, &r.Analyzer, &r.Status, &r.IntegrityScore, &r.Source, &payload, &createdAt); err != nil {
		return Report{}, err
	}
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	if withPayload && payload != "" {
		r.Payload = json.RawMessage(payload)
	}
	return r, nil
}
