package noise

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoRuns is returned when the store holds no run yet.
var ErrNoRuns = errors.New("no runs stored")

// Run is one stored pipeline run.
type Run struct {
	ID        string             `json:"runId"`
	CreatedAt time.Time          `json:"createdAt"`
	Params    Params             `json:"params"`
	Summary   Summary            `json:"summary"`
	Profiles  []EdgeNoiseProfile `json:"-"`
}

// Store persists runs and their edge profiles in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenStore opens or creates the database at path.
func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MigrateUp applies every pending schema migration.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close s.db

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, 0 before any migration.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}
	return m, nil
}

type migrateLogger struct {
	logger zerolog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// SaveRun stores a run with its profiles and issues in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) (err error) {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	summary := run.Summary
	issues := summary.Issues
	summary.Issues = nil
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, params, summary) VALUES (?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Unix(), string(params), string(summaryJSON),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO edge_profiles
		(run_id, seq, edge_id, length, db_40, db_50, db_55, db_60, db_65, db_70, ambient, dominant_band, source_lengths)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing profile insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, p := range run.Profiles {
		var sources sql.NullString
		if len(p.SourceLengths) > 0 {
			b, mErr := json.Marshal(p.SourceLengths)
			if mErr != nil {
				return fmt.Errorf("encoding sources of edge %d: %w", p.EdgeID, mErr)
			}
			sources = sql.NullString{String: string(b), Valid: true}
		}
		args := []interface{}{run.ID, i, p.EdgeID, p.Length}
		for _, band := range Bands {
			args = append(args, bandColumn(p.Bands, band))
		}
		args = append(args, p.Ambient, p.DominantBand(), sources)
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting profile of edge %d: %w", p.EdgeID, err)
		}
	}

	for i, msg := range issues {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_issues (run_id, seq, message) VALUES (?, ?, ?)`, run.ID, i, msg,
		); err != nil {
			return fmt.Errorf("inserting issue: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func bandColumn(bands map[int]float64, band int) sql.NullFloat64 {
	l, ok := bands[band]
	return sql.NullFloat64{Float64: l, Valid: ok}
}

// LatestRun returns the most recent run without its profiles.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var (
		run       Run
		createdAt int64
		params    string
		summary   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, created_at, params, summary FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&run.ID, &createdAt, &params, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying latest run: %w", err)
	}
	run.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return Run{}, fmt.Errorf("decoding params of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return Run{}, fmt.Errorf("decoding summary of run %s: %w", run.ID, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT message FROM run_issues WHERE run_id = ? ORDER BY seq`, run.ID)
	if err != nil {
		return Run{}, fmt.Errorf("querying issues: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return Run{}, fmt.Errorf("scanning issue: %w", err)
		}
		run.Summary.Issues = append(run.Summary.Issues, msg)
	}
	return run, rows.Err()
}

// EdgeProfiles returns the profiles of a run in the order they were saved.
func (s *Store) EdgeProfiles(ctx context.Context, runID string) ([]EdgeNoiseProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT edge_id, length, db_40, db_50, db_55, db_60, db_65, db_70, ambient, source_lengths
		FROM edge_profiles WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []EdgeNoiseProfile
	for rows.Next() {
		var (
			p       EdgeNoiseProfile
			bands   = make([]sql.NullFloat64, len(Bands))
			sources sql.NullString
		)
		dest := []interface{}{&p.EdgeID, &p.Length}
		for i := range bands {
			dest = append(dest, &bands[i])
		}
		dest = append(dest, &p.Ambient, &sources)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}

		p.Bands = make(map[int]float64)
		for i, b := range bands {
			if b.Valid {
				p.Bands[Bands[i]] = b.Float64
			}
		}
		if sources.Valid {
			if err := json.Unmarshal([]byte(sources.String), &p.SourceLengths); err != nil {
				return nil, fmt.Errorf("decoding sources of edge %d: %w", p.EdgeID, err)
			}
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
