package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

const entriesTable = "page_cache_entries"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// PostgresStore keeps entries in a single table indexed by created_at.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	logger.Info("Postgres store initialized")

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func runMigrations(dsn string) error {
	// golang-migrate needs a database/sql handle, separate from the pool
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql.Open pgx: %w", err)
	}
	defer sqldb.Close()

	driver, err := postgres.WithInstance(sqldb, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}

	src, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *PostgresStore) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (s *PostgresStore) Put(ctx context.Context, entry *Entry) error {
	sqlStr, args, err := s.qb().Insert(entriesTable).
		Columns("key", "pages", "compressed_payload", "compressed", "session_id", "size_bytes", "created_at").
		Values(entry.Key, entry.Pages, entry.CompressedPayload, entry.Compressed, entry.SessionID, entry.SizeBytes, entry.Timestamp).
		Suffix(`ON CONFLICT (key) DO UPDATE SET
			pages = EXCLUDED.pages,
			compressed_payload = EXCLUDED.compressed_payload,
			compressed = EXCLUDED.compressed,
			session_id = EXCLUDED.session_id,
			size_bytes = EXCLUDED.size_bytes,
			created_at = EXCLUDED.created_at`).
		ToSql()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to build insert")
	}

	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to store entry")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	sqlStr, args, err := s.qb().
		Select("key", "pages", "compressed_payload", "compressed", "session_id", "size_bytes", "created_at").
		From(entriesTable).
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build select")
	}

	var entry Entry
	err = s.pool.QueryRow(ctx, sqlStr, args...).Scan(
		&entry.Key, &entry.Pages, &entry.CompressedPayload, &entry.Compressed,
		&entry.SessionID, &entry.SizeBytes, &entry.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to load entry")
	}
	return &entry, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	sqlStr, args, err := s.qb().Select("1").From(entriesTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeInternal, "failed to build exists")
	}

	var one int
	err = s.pool.QueryRow(ctx, sqlStr, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "failed to check entry")
	}
	return true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	sqlStr, args, err := s.qb().Delete(entriesTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to build delete")
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to delete entry")
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	sqlStr, args, err := s.qb().Select("COUNT(*)").From(entriesTable).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to build count")
	}

	var n int
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabase, "failed to count entries")
	}
	return n, nil
}

func (s *PostgresStore) ScanByTimestamp(ctx context.Context) ([]Meta, error) {
	sqlStr, args, err := s.qb().
		Select("key", "session_id", "size_bytes", "created_at").
		From(entriesTable).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build scan")
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to scan entries")
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		if err := rows.Scan(&m.Key, &m.SessionID, &m.SizeBytes, &m.Timestamp); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "failed to read entry row")
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to scan entries")
	}
	return metas, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	sqlStr, args, err := s.qb().Delete(entriesTable).ToSql()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to build delete")
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to clear entries")
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Wrap(ErrUnavailable, errors.CodeUnavailable, err.Error())
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
