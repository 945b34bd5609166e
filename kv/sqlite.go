package kv

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/go-taskcache/logger"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db        *sql.DB
	logger    logger.Logger
	cfg       config
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	available atomic.Bool
}

var _ Store = (*sqliteStore)(nil)

// NewSQLite returns a Store persisted in a SQLite database at dbPath. An
// empty dbPath or ":memory:" keeps the data in process. Expiry is stored per
// row; expired rows are ignored on read and removed every sweep interval.
func NewSQLite(log logger.Logger, dbPath string, opts ...Option) (Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "kv: opening sqlite database %q", dbPath)
	}
	// one connection: an in-memory database is private to its connection,
	// and it serializes increments
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "kv: preparing sqlite database")
		}
	}

	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	s := &sqliteStore{
		db:     db,
		logger: log.WithPrefix("[kv]"),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	s.available.Store(true)
	if cfg.sweepInterval > 0 {
		s.waitGroup.Add(1)
		go s.run()
	}
	return s, nil
}

func (s *sqliteStore) Connect(_ context.Context) {}

func (s *sqliteStore) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.available.Store(false)
		s.cancel()
		s.waitGroup.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *sqliteStore) Available() bool {
	return s.available.Load()
}

func (s *sqliteStore) do(ctx context.Context, op string, key string, fn func(context.Context) error) error {
	if !s.available.Load() {
		return ErrUnavailable
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
	defer cancel()
	qctx, span := tracer.Start(qctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "sqlite"), attribute.String("kv.key", key)),
	)
	defer span.End()

	err := fn(qctx)
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	return errors.Wrapf(err, "kv: %s %q", op, key)
}

func (s *sqliteStore) failed(op string, key string, err error) {
	if errors.Is(err, ErrUnavailable) {
		s.logger.Trace("%s %s skipped: store unavailable", op, key)
		return
	}
	s.logger.Warn("%s error for key %s: %v", op, key, err)
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.do(ctx, "kv.Ping", "", s.db.PingContext)
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	err := s.do(ctx, "kv.Get", key, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT value FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
			s.cfg.key(key), s.cfg.now().UnixNano(),
		).Scan(&value)
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.failed("get", key, err)
		}
		return nil, false
	}
	return value, true
}

func (s *sqliteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.cfg.now().Add(ttl).UnixNano()
	}
	if value == nil {
		value = []byte{}
	}
	err := s.do(ctx, "kv.Set", key, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			s.cfg.key(key), value, expiresAt,
		)
		return err
	})
	if err != nil {
		s.failed("set", key, err)
		return false
	}
	return true
}

func (s *sqliteStore) Delete(ctx context.Context, keys ...string) int {
	var n int
	now := s.cfg.now().UnixNano()
	for _, key := range keys {
		err := s.do(ctx, "kv.Delete", key, func(ctx context.Context) error {
			res, err := s.db.ExecContext(ctx,
				`DELETE FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
				s.cfg.key(key), now,
			)
			if err != nil {
				return err
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return err
			}
			n += int(rows)
			return nil
		})
		if err != nil {
			s.failed("delete", key, err)
			return n
		}
	}
	return n
}

// DeleteByPattern matches keys with Match rather than SQL GLOB, whose
// escaping rules differ from Redis patterns.
func (s *sqliteStore) DeleteByPattern(ctx context.Context, pattern string) int {
	match := s.cfg.pattern(pattern)
	now := s.cfg.now().UnixNano()
	var n int
	err := s.do(ctx, "kv.DeleteByPattern", pattern, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		rows, err := tx.QueryContext(ctx, `SELECT key, expires_at FROM kv`)
		if err != nil {
			return err
		}
		var matched []string
		var live int
		for rows.Next() {
			var k string
			var expiresAt int64
			if err := rows.Scan(&k, &expiresAt); err != nil {
				rows.Close()
				return err
			}
			if Match(match, k) {
				matched = append(matched, k)
				if expiresAt == 0 || expiresAt > now {
					live++
				}
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, k := range matched {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		n = live
		return nil
	})
	if err != nil {
		s.failed("delete pattern", pattern, err)
		return 0
	}
	return n
}

func (s *sqliteStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, errors.Newf("kv: increment of %q needs a positive ttl", key)
	}
	now := s.cfg.now()
	var n int64
	err := s.do(ctx, "kv.IncrementWithExpiry", key, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO kv (key, value, expires_at) VALUES (?1, '1', ?3)
			ON CONFLICT(key) DO UPDATE SET
				value = CASE WHEN kv.expires_at != 0 AND kv.expires_at <= ?2
					THEN '1' ELSE CAST(CAST(kv.value AS INTEGER) + 1 AS TEXT) END,
				expires_at = CASE WHEN kv.expires_at = 0 OR kv.expires_at <= ?2
					THEN excluded.expires_at ELSE kv.expires_at END
			WHERE (kv.expires_at != 0 AND kv.expires_at <= ?2)
				OR CAST(CAST(kv.value AS INTEGER) AS TEXT) = CAST(kv.value AS TEXT)
			RETURNING CAST(value AS INTEGER)`,
			s.cfg.key(key), now.UnixNano(), now.Add(ttl).UnixNano(),
		).Scan(&n)
	})
	if errors.Is(err, sql.ErrNoRows) {
		// the conflict update was skipped: the live value is not a counter
		return 0, errors.Newf("kv: value at %q is not an integer", key)
	}
	if err != nil {
		s.failed("increment", key, err)
		if !errors.Is(err, ErrUnavailable) {
			err = errors.Wrapf(ErrUnavailable, "%v", err)
		}
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.db.ExecContext(s.ctx,
				`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, s.cfg.now().UnixNano(),
			); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("sweep error: %v", err)
			}
		}
	}
}
