package sqlite

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/zuid/internal/provider/storage"

	_ "modernc.org/sqlite"
)

var _ storage.Storage = (*Storage)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS registry_record (
	registry   TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (registry, name)
)`

// Storage mirrors records into a SQLite database file. Ids are kept as
// decimal text because SQLite integers are signed 64-bit.
type Storage struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewStorage creates a new SQLite storage provider.
func NewStorage(logger *zap.Logger) *Storage {
	return &Storage{
		logger: logger,
	}
}

// Name of SQLite storage provider.
func (*Storage) Name() string {
	return "sqlite"
}

// Configure opens the database named by the "dsn" key and creates the
// record table.
func (s *Storage) Configure(ctx context.Context, config map[string]interface{}) error {
	dsn, ok := config["dsn"].(string)
	if !ok || dsn == "" {
		return errors.New("sqlite storage requires a dsn")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.WithStack(err)
	}
	// A single connection keeps writes serialized and lets ":memory:" work.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return errors.WithStack(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return errors.WithStack(err)
	}
	s.logger.Info("[SQLite Record Storage]Opened", zap.String("dsn", dsn))
	s.db = db
	return nil
}

// Close the storage connection.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) StoreRecord(ctx context.Context, r *storage.Record) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query, args, err := sq.Insert("registry_record").
		Columns("registry", "name", "id", "created_at").
		Values(r.Registry, r.Name, strconv.FormatUint(r.ID, 10), createdAt.UnixNano()).
		Suffix("ON CONFLICT (registry, name) DO NOTHING").
		ToSql()
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WithStack(err)
	}
	s.logger.Debug(
		"SQLite Storage Store",
		zap.String("registry", r.Registry),
		zap.String("name", r.Name),
		zap.Uint64("id", r.ID),
	)
	return nil
}

func (s *Storage) QueryRecords(ctx context.Context, opts storage.QueryOptions) ([]*storage.Record, error) {
	query, args, err := queryParse(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var records []*storage.Record
	for rows.Next() {
		var (
			r         storage.Record
			id        string
			createdAt int64
		)
		if err := rows.Scan(&r.Registry, &r.Name, &id, &createdAt); err != nil {
			return nil, errors.WithStack(err)
		}
		r.ID, err = strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "record %s/%s", r.Registry, r.Name)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, &r)
	}
	return records, errors.WithStack(rows.Err())
}

func queryParse(opts storage.QueryOptions) (string, []interface{}, error) {
	sqlBuilder := sq.Select("registry, name, id, created_at").From("registry_record")
	if opts.Registry != "" {
		sqlBuilder = sqlBuilder.Where("registry = ?", opts.Registry)
	}
	if opts.Name != "" {
		sqlBuilder = sqlBuilder.Where("name = ?", opts.Name)
	}
	if !opts.From.IsZero() {
		sqlBuilder = sqlBuilder.Where("created_at >= ?", opts.From.UnixNano())
	}
	if !opts.Until.IsZero() {
		sqlBuilder = sqlBuilder.Where("created_at < ?", opts.Until.UnixNano())
	}
	sqlBuilder = sqlBuilder.OrderBy("created_at", "registry", "name")

	limit := opts.Limit
	if limit == 0 && opts.Offset != 0 {
		// SQLite only accepts OFFSET after a LIMIT.
		limit = math.MaxInt64
	}
	if limit != 0 {
		sqlBuilder = sqlBuilder.Limit(limit)
	}
	if opts.Offset != 0 {
		sqlBuilder = sqlBuilder.Offset(opts.Offset)
	}
	return sqlBuilder.ToSql()
}
