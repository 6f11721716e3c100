package source

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	pkgerrors "github.com/pulsecache/pulsecache/pkg/errors"
)

// Target is one brand's resolved connection info, produced once at startup
// by the configuration step.
type Target struct {
	DSN string

	// CustomQuery, when set, replaces the generic count queries as the
	// fallback for brands without an overall_summary table.
	CustomQuery string
}

// MySQLSource fetches snapshots from per-brand MySQL databases. Connections
// are pooled per distinct DSN and reused across calls; the pool per target is
// kept small because the worker pool above fans out across many brands.
type MySQLSource struct {
	targets map[string]Target
	logger  *slog.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

const (
	// maxConnsPerTarget bounds simultaneous connections to one brand's
	// database regardless of worker pool size.
	maxConnsPerTarget = 2

	queryTimeout = 10 * time.Second
)

// NewMySQLSource creates a source over an immutable brand -> target mapping.
func NewMySQLSource(targets map[string]Target, logger *slog.Logger) *MySQLSource {
	return &MySQLSource{
		targets: targets,
		logger:  logger.With("component", "source"),
		dbs:     make(map[string]*sql.DB),
	}
}

// db returns the pooled handle for a DSN, opening it on first use.
// sql.Open does not dial, so construction cannot fail on a dead database.
func (s *MySQLSource) db(dsn string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConnsPerTarget)
	db.SetMaxIdleConns(maxConnsPerTarget)
	db.SetConnMaxLifetime(5 * time.Minute)

	s.dbs[dsn] = db
	return db, nil
}

// Fetch produces the snapshot for a brand on a date. The preferred shape is
// the overall_summary row for that date; brands without one fall back to
// their custom query, then to generic table counts. Individual count
// failures degrade to null rather than failing the snapshot.
func (s *MySQLSource) Fetch(ctx context.Context, brand string, date time.Time) (Snapshot, error) {
	target, ok := s.targets[brand]
	if !ok || target.DSN == "" {
		return nil, ErrMissingConfig
	}

	db, err := s.db(target.DSN)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.ErrCodeSourceUnavailable, "open failed").
			WithContext("brand", brand).WithCause(err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	snap := Snapshot{
		"brand":     brand,
		"date":      date.Format("2006-01-02"),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	row, err := s.summaryRow(ctx, db, date)
	if err == nil && row != nil {
		snap["overall_summary"] = row
		return snap, nil
	}
	if err != nil {
		s.logger.Warn("overall_summary read failed, trying fallback",
			"brand", brand, "error", err)
	}

	if target.CustomQuery != "" {
		rows, qerr := s.queryRows(ctx, db, target.CustomQuery)
		if qerr != nil {
			return nil, pkgerrors.New(pkgerrors.ErrCodeSourceQuery, "custom query failed").
				WithContext("brand", brand).WithCause(qerr)
		}
		snap["custom_rows"] = rows
		return snap, nil
	}

	snap["counts"] = s.genericCounts(ctx, db)
	return snap, nil
}

// summaryRow reads the overall_summary row for the date, falling back to the
// latest row when no dated row exists. Returns (nil, nil) when the table is
// empty.
func (s *MySQLSource) summaryRow(ctx context.Context, db *sql.DB, date time.Time) (map[string]interface{}, error) {
	rows, err := s.queryRows(ctx, db,
		"SELECT * FROM overall_summary WHERE date = ? ORDER BY date DESC LIMIT 1",
		date.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		rows, err = s.queryRows(ctx, db, "SELECT * FROM overall_summary ORDER BY date DESC LIMIT 1")
		if err != nil || len(rows) == 0 {
			return nil, err
		}
	}
	return rows[0], nil
}

// genericCounts produces COUNT(*) for the conventional storefront tables.
// Each count is individually fallible and degrades to null.
func (s *MySQLSource) genericCounts(ctx context.Context, db *sql.DB) map[string]interface{} {
	counts := make(map[string]interface{}, 3)
	for _, table := range []string{"products", "orders", "customers"} {
		var n sql.NullInt64
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
		if err != nil || !n.Valid {
			counts[table] = nil
			continue
		}
		counts[table] = n.Int64
	}
	return counts
}

// queryRows runs a query and decodes every row into a normalized map.
func (s *MySQLSource) queryRows(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			record[col] = Normalize(values[i])
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Close releases every pooled database handle.
func (s *MySQLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for dsn, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, dsn)
	}
	return first
}
