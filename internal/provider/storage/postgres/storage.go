package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/zuid/internal/provider/storage"
)

var _ storage.Storage = (*Storage)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Storage struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewStorage creates a new PostgresQL storage provider.
func NewStorage(logger *zap.Logger) *Storage {
	return &Storage{
		logger: logger,
	}
}

// Name of PostgresQL storage provider.
func (*Storage) Name() string {
	return "postgres"
}

// Configure connects to the database and creates the record table.
func (s *Storage) Configure(ctx context.Context, config map[string]interface{}) error {
	connStr, err := generateConnString(ctx, config)
	if err != nil {
		return errors.WithStack(err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.WithStack(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return errors.WithStack(err)
	}
	s.logger.Info("[Postgres Record Storage]Connected To Postgres")
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
	query, args, err := insertParse(r, createdAt)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WithStack(err)
	}
	s.logger.Debug(
		"Postgres Storage Store",
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
			r  storage.Record
			id string
		)
		if err := rows.Scan(&r.Registry, &r.Name, &id, &r.CreatedAt); err != nil {
			return nil, errors.WithStack(err)
		}
		r.ID, err = strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "record %s/%s", r.Registry, r.Name)
		}
		records = append(records, &r)
	}
	return records, errors.WithStack(rows.Err())
}

func insertParse(r *storage.Record, createdAt time.Time) (string, []interface{}, error) {
	return psql.Insert("registry_record").
		Columns("registry", "name", "id", "created_at").
		Values(r.Registry, r.Name, strconv.FormatUint(r.ID, 10), createdAt).
		Suffix("ON CONFLICT (registry, name) DO NOTHING").
		ToSql()
}

func queryParse(opts storage.QueryOptions) (string, []interface{}, error) {
	sqlBuilder := psql.Select("registry, name, id::text, created_at").From("registry_record")
	if opts.Registry != "" {
		sqlBuilder = sqlBuilder.Where("registry = ?", opts.Registry)
	}
	if opts.Name != "" {
		sqlBuilder = sqlBuilder.Where("name = ?", opts.Name)
	}
	if !opts.From.IsZero() {
		sqlBuilder = sqlBuilder.Where("created_at >= ?", opts.From)
	}
	if !opts.Until.IsZero() {
		sqlBuilder = sqlBuilder.Where("created_at < ?", opts.Until)
	}
	sqlBuilder = sqlBuilder.OrderBy("created_at", "registry", "name")

	if opts.Limit != 0 {
		sqlBuilder = sqlBuilder.Limit(opts.Limit)
	}

	if opts.Offset != 0 {
		sqlBuilder = sqlBuilder.Offset(opts.Offset)
	}

	return sqlBuilder.ToSql()
}
