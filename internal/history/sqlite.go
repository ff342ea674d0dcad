package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tickrun/internal/job"
	logx "tickrun/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	keepRuns   int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	keep := cfg.KeepRuns
	if keep <= 0 {
		keep = 1000
	}
	st := &sqliteStore{db: db, log: log, keepRuns: keep, pruneEvery: 100}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, o job.Outcome) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, job, status, reason, exit_code, http_status, output, err, started, finished)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		o.RunID, o.Job, string(o.Status), nullStr(string(o.Reason)), o.ExitCode, o.HTTPStatus,
		nullStr(o.Output), nullStr(o.Err),
		o.Started.Format(time.RFC3339Nano), o.Finished.Format(time.RFC3339Nano),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = s.prune(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]job.Outcome, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job, status, COALESCE(reason,''), exit_code, http_status,
		        COALESCE(output,''), COALESCE(err,''), started, finished
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Outcome
	for rows.Next() {
		var o job.Outcome
		var status, reason, started, finished string
		if err := rows.Scan(&o.RunID, &o.Job, &status, &reason, &o.ExitCode, &o.HTTPStatus,
			&o.Output, &o.Err, &started, &finished); err != nil {
			return nil, err
		}
		o.Status = job.Status(status)
		o.Reason = job.Reason(reason)
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			o.Started = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			o.Finished = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// prune keeps the newest keepRuns rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT MAX(id) FROM runs) - ?`, s.keepRuns)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
