// Package postgres provides the Postgres-backed entity and run store.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/market-radar/internal/radar"
	"github.com/JakeFAU/market-radar/internal/storage/sqlstore"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements radar.EntityStore and radar.RunStore on Postgres.
type Store struct {
	pool pgxPool
	sb   sq.StatementBuilderType
}

var (
	_ radar.EntityStore = (*Store)(nil)
	_ radar.RunStore    = (*Store)(nil)
)

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Migrate applies embedded migrations that have not run yet. Each migration
// runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	all, err := sqlstore.LoadMigrations(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+sqlstore.MigrationsTable+
		` (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT version FROM `+sqlstore.MigrationsTable)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	var done []string
	for _, m := range sqlstore.Pending(all, applied) {
		if err := s.applyMigration(ctx, m); err != nil {
			return done, err
		}
		done = append(done, m.Version)
	}
	return done, nil
}

func (s *Store) applyMigration(ctx context.Context, m sqlstore.Migration) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.Version, err)
	}
	if _, err = tx.Exec(ctx, `INSERT INTO `+sqlstore.MigrationsTable+` (version) VALUES ($1)`, m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Version, err)
	}
	return nil
}

// FindByURLs returns the stored entities keyed by URL, with histories.
func (s *Store) FindByURLs(ctx context.Context, urls []string) (map[string]radar.Entity, error) {
	out := make(map[string]radar.Entity, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	entities, err := s.selectEntities(ctx, s.sb.Select(sqlstore.EntityColumns...).
		From(sqlstore.EntitiesTable).
		Where(sq.Eq{"url": urls}))
	if err != nil {
		return nil, fmt.Errorf("find entities by url: %w", err)
	}
	for _, e := range entities {
		out[e.URL] = e
	}
	return out, nil
}

// Create inserts a new entity.
func (s *Store) Create(ctx context.Context, entity radar.Entity) error {
	values, err := sqlstore.EntityValues(entity)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Insert(sqlstore.EntitiesTable).
		Columns(sqlstore.EntityInsertColumns...).
		Values(values...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert entity: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("entity url %q: %w", entity.URL, radar.ErrAlreadyExists)
		}
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// Update writes the mutable columns of an existing entity.
func (s *Store) Update(ctx context.Context, entity radar.Entity) error {
	set, err := sqlstore.EntityUpdates(entity)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Update(sqlstore.EntitiesTable).
		SetMap(set).
		Where(sq.Eq{"id": entity.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update entity: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", entity.ID, radar.ErrNotFound)
	}
	return nil
}

// AppendMetric inserts one metric observation.
func (s *Store) AppendMetric(ctx context.Context, entityID string, metric radar.MetricObservation) error {
	query, args, err := s.sb.Insert(sqlstore.MetricsTable).
		Columns(sqlstore.MetricColumns...).
		Values(sqlstore.MetricValues(entityID, metric)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert metric: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert metric: %w", mapForeignKey(entityID, err))
	}
	return nil
}

// AppendEvaluation inserts one evaluation.
func (s *Store) AppendEvaluation(ctx context.Context, entityID string, evaluation radar.Evaluation) error {
	query, args, err := s.sb.Insert(sqlstore.EvaluationsTable).
		Columns(sqlstore.EvaluationColumns...).
		Values(sqlstore.EvaluationValues(entityID, evaluation)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert evaluation: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("evaluation %s v%d: %w", entityID, evaluation.Version, radar.ErrAlreadyExists)
		}
		return fmt.Errorf("insert evaluation: %w", mapForeignKey(entityID, err))
	}
	return nil
}

// CountEvaluations returns the number of evaluations for an existing entity.
func (s *Store) CountEvaluations(ctx context.Context, entityID string) (int, error) {
	query, args, err := s.sb.Select("(SELECT COUNT(*) FROM " + sqlstore.EvaluationsTable + " v WHERE v.entity_id = e.id)").
		From(sqlstore.EntitiesTable + " e").
		Where(sq.Eq{"e.id": entityID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count evaluations: %w", err)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("entity %s: %w", entityID, radar.ErrNotFound)
		}
		return 0, fmt.Errorf("count evaluations: %w", err)
	}
	return int(n), nil
}

// Get fetches an entity with its histories.
func (s *Store) Get(ctx context.Context, id string) (radar.Entity, error) {
	entities, err := s.selectEntities(ctx, s.sb.Select(sqlstore.EntityColumns...).
		From(sqlstore.EntitiesTable).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return radar.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	if len(entities) == 0 {
		return radar.Entity{}, fmt.Errorf("entity %s: %w", id, radar.ErrNotFound)
	}
	return entities[0], nil
}

// List returns a sorted page of entities with their histories.
func (s *Store) List(ctx context.Context, opts radar.ListOptions) ([]radar.Entity, error) {
	order, err := sqlstore.OrderBy(opts.Sort)
	if err != nil {
		return nil, err
	}
	b := s.sb.Select(sqlstore.EntityColumns...).From(sqlstore.EntitiesTable).OrderBy(order...)
	entities, err := s.selectEntities(ctx, sqlstore.Page(b, opts.Limit, opts.Offset))
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return entities, nil
}

// ListEvaluations returns the evaluation history ascending by version.
func (s *Store) ListEvaluations(ctx context.Context, entityID string) ([]radar.Evaluation, error) {
	if _, err := s.CountEvaluations(ctx, entityID); err != nil {
		return nil, err
	}
	byEntity, err := s.evaluationsFor(ctx, []string{entityID})
	if err != nil {
		return nil, err
	}
	evs := byEntity[entityID]
	if evs == nil {
		evs = []radar.Evaluation{}
	}
	return evs, nil
}

// SaveRun upserts a run.
func (s *Store) SaveRun(ctx context.Context, run radar.Run) error {
	values, err := sqlstore.RunValues(run)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Insert(sqlstore.RunsTable).
		Columns(sqlstore.RunColumns...).
		Values(values...).
		Suffix(`ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at, counters = EXCLUDED.counters,
			sources = EXCLUDED.sources, error_text = EXCLUDED.error_text`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save run: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (radar.Run, error) {
	query, args, err := s.sb.Select(sqlstore.RunColumns...).
		From(sqlstore.RunsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return radar.Run{}, fmt.Errorf("build get run: %w", err)
	}
	run, err := sqlstore.ScanRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return radar.Run{}, fmt.Errorf("run %s: %w", id, radar.ErrNotFound)
		}
		return radar.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]radar.Run, error) {
	b := s.sb.Select(sqlstore.RunColumns...).
		From(sqlstore.RunsTable).
		OrderBy("started_at DESC", "id DESC")
	query, args, err := sqlstore.Page(b, limit, offset).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	runs := []radar.Run{}
	for rows.Next() {
		run, err := sqlstore.ScanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) selectEntities(ctx context.Context, b sq.SelectBuilder) ([]radar.Entity, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select entities: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	entities := []radar.Entity{}
	for rows.Next() {
		e, err := sqlstore.ScanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return entities, nil
	}

	ids := sqlstore.IDs(entities)
	metrics, err := s.metricsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	evaluations, err := s.evaluationsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	sqlstore.AttachHistories(entities, metrics, evaluations)
	return entities, nil
}

func (s *Store) metricsFor(ctx context.Context, ids []string) (map[string][]radar.MetricObservation, error) {
	query, args, err := s.sb.Select(sqlstore.MetricColumns...).
		From(sqlstore.MetricsTable).
		Where(sq.Eq{"entity_id": ids}).
		OrderBy("recorded_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select metrics: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select metrics: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]radar.MetricObservation)
	for rows.Next() {
		id, m, err := sqlstore.ScanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out[id] = append(out[id], m)
	}
	return out, rows.Err()
}

func (s *Store) evaluationsFor(ctx context.Context, ids []string) (map[string][]radar.Evaluation, error) {
	query, args, err := s.sb.Select(sqlstore.EvaluationColumns...).
		From(sqlstore.EvaluationsTable).
		Where(sq.Eq{"entity_id": ids}).
		OrderBy("version ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select evaluations: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select evaluations: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]radar.Evaluation)
	for rows.Next() {
		id, ev, err := sqlstore.ScanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		out[id] = append(out[id], ev)
	}
	return out, rows.Err()
}

// mapForeignKey turns a foreign key violation on entity_id into ErrNotFound.
func mapForeignKey(entityID string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("entity %s: %w", entityID, radar.ErrNotFound)
	}
	return err
}
