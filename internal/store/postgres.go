package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-scout/internal/db"
	"github.com/sells-group/signal-scout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Batches above this size go through the COPY temp-table path.
const bulkInsertThreshold = 200

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"touch_crawled":  `UPDATE sources SET last_crawled_at = $1, updated_at = $2 WHERE id = $3`,
	"get_source":     `SELECT id, owner_id, kind, profile_url, term, term_kind, max_posts, crawl_interval_secs, last_crawled_at, active, created_at, updated_at FROM sources WHERE id = $1`,
	"insert_signal":  `INSERT INTO signals (id, post_id, is_event_related, event_type, event_timing, event_date, date_inferred, companies, people, relevance_score, summary, raw_response, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) ON CONFLICT (post_id) DO NOTHING`,
	"begin_run":      `INSERT INTO job_runs (id, kind, subject_id, state, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_run":   `UPDATE job_runs SET state = $1, finished_at = $2, items_processed = $3, items_failed = $4, error = $5 WHERE id = $6`,
	"get_run":        `SELECT id, kind, subject_id, state, started_at, finished_at, items_processed, items_failed, error FROM job_runs WHERE id = $1`,
	"pending_posts":  `SELECT p.id, p.source_id, p.external_id, p.author_name, p.author_url, p.content, p.posted_at, p.like_count, p.comment_count, p.ingested_at, p.raw_data FROM posts p LEFT JOIN signals s ON s.post_id = p.id WHERE s.id IS NULL ORDER BY p.ingested_at ASC LIMIT $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL DEFAULT '',
	kind                TEXT NOT NULL,
	profile_url         TEXT NOT NULL DEFAULT '',
	term                TEXT NOT NULL DEFAULT '',
	term_kind           TEXT NOT NULL DEFAULT '',
	max_posts           INTEGER NOT NULL DEFAULT 20,
	crawl_interval_secs BIGINT NOT NULL,
	last_crawled_at     TIMESTAMPTZ,
	active              BOOLEAN NOT NULL DEFAULT true,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS posts (
	id            TEXT PRIMARY KEY,
	source_id     TEXT REFERENCES sources(id) ON DELETE SET NULL,
	external_id   TEXT NOT NULL UNIQUE,
	author_name   TEXT NOT NULL DEFAULT '',
	author_url    TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	posted_at     TIMESTAMPTZ,
	like_count    INTEGER NOT NULL DEFAULT 0,
	comment_count INTEGER NOT NULL DEFAULT 0,
	ingested_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_data      JSONB
);

CREATE TABLE IF NOT EXISTS signals (
	id               TEXT PRIMARY KEY,
	post_id          TEXT NOT NULL UNIQUE REFERENCES posts(id),
	is_event_related BOOLEAN NOT NULL,
	event_type       TEXT NOT NULL DEFAULT '',
	event_timing     TEXT NOT NULL DEFAULT 'unknown',
	event_date       TIMESTAMPTZ,
	date_inferred    BOOLEAN NOT NULL DEFAULT false,
	companies        JSONB,
	people           JSONB,
	relevance_score  DOUBLE PRECISION NOT NULL,
	summary          TEXT NOT NULL DEFAULT '',
	raw_response     JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_runs (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	subject_id      TEXT,
	state           TEXT NOT NULL DEFAULT 'running',
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at     TIMESTAMPTZ,
	items_processed INTEGER NOT NULL DEFAULT 0,
	items_failed    INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT ''
);

-- One running job per (kind, subject) at any time. BeginRun relies on the
-- unique violation to lose the race cleanly.
CREATE UNIQUE INDEX IF NOT EXISTS idx_job_runs_inflight
	ON job_runs (kind, COALESCE(subject_id, '')) WHERE state = 'running';

CREATE INDEX IF NOT EXISTS idx_sources_active ON sources(active);
CREATE INDEX IF NOT EXISTS idx_sources_last_crawled ON sources(last_crawled_at);
CREATE INDEX IF NOT EXISTS idx_posts_source_id ON posts(source_id);
CREATE INDEX IF NOT EXISTS idx_posts_ingested_at ON posts(ingested_at);
CREATE INDEX IF NOT EXISTS idx_signals_event_type ON signals(event_type);
CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at);
CREATE INDEX IF NOT EXISTS idx_job_runs_kind_state ON job_runs(kind, state);
CREATE INDEX IF NOT EXISTS idx_job_runs_started_at ON job_runs(started_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Sources

const sourceColumns = `id, owner_id, kind, profile_url, term, term_kind, max_posts, crawl_interval_secs, last_crawled_at, active, created_at, updated_at`

func (s *PostgresStore) CreateSource(ctx context.Context, src *model.Source) error {
	src.Normalize()
	if err := src.Validate(); err != nil {
		return err
	}
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (`+sourceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		src.ID, src.OwnerID, string(src.Kind), src.ProfileURL, src.Term, string(src.TermKind),
		src.MaxPosts, int64(src.CrawlInterval/time.Second), src.LastCrawledAt, src.Active, now, now,
	)
	return eris.Wrap(err, "postgres: insert source")
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get source %s", id)
	}
	return src, nil
}

func (s *PostgresStore) UpdateSource(ctx context.Context, src *model.Source) error {
	src.Normalize()
	if err := src.Validate(); err != nil {
		return err
	}
	src.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET owner_id = $1, kind = $2, profile_url = $3, term = $4, term_kind = $5,
		 max_posts = $6, crawl_interval_secs = $7, active = $8, updated_at = $9 WHERE id = $10`,
		src.OwnerID, string(src.Kind), src.ProfileURL, src.Term, string(src.TermKind),
		src.MaxPosts, int64(src.CrawlInterval/time.Second), src.Active, src.UpdatedAt, src.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source %s", src.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete source %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Active != nil {
		query += fmt.Sprintf(` AND active = $%d`, argIdx)
		args = append(args, *filter.Active)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) ListDueSources(ctx context.Context, now time.Time) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources
		 WHERE active
		   AND (last_crawled_at IS NULL
		        OR last_crawled_at + crawl_interval_secs * interval '1 second' <= $1)
		 ORDER BY last_crawled_at ASC NULLS FIRST`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan due source")
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: list due sources iterate")
}

func (s *PostgresStore) TouchCrawled(ctx context.Context, sourceID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_crawled_at = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), time.Now().UTC(), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch crawled %s", sourceID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Posts

var postColumns = []string{"id", "source_id", "external_id", "author_name", "author_url", "content", "posted_at", "like_count", "comment_count", "ingested_at", "raw_data"}

// InsertPosts inserts posts atomically, skipping any whose external_id is
// already present. Returns the number of rows actually inserted. The first
// writer keeps attribution: colliding rows never overwrite.
func (s *PostgresStore) InsertPosts(ctx context.Context, posts []model.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.IngestedAt.IsZero() {
			p.IngestedAt = now
		}
		rows = append(rows, []any{
			p.ID, p.SourceID, p.ExternalID, p.AuthorName, p.AuthorURL, p.Content,
			p.PostedAt, p.LikeCount, p.CommentCount, p.IngestedAt, rawOrNil(p.RawData),
		})
	}

	insert := db.InsertIgnore
	if len(rows) > bulkInsertThreshold {
		insert = db.BulkInsertIgnore
	}
	n, err := insert(ctx, s.pool, "posts", postColumns, []string{"external_id"}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert posts")
	}
	return int(n), nil
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_id, external_id, author_name, author_url, content, posted_at, like_count, comment_count, ingested_at, raw_data
		 FROM posts WHERE id = $1`, id)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get post %s", id)
	}
	return p, nil
}

// ListUnsignaledPosts returns posts that do not yet have a signal, oldest
// ingested first.
func (s *PostgresStore) ListUnsignaledPosts(ctx context.Context, limit int) ([]model.Post, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.source_id, p.external_id, p.author_name, p.author_url, p.content, p.posted_at, p.like_count, p.comment_count, p.ingested_at, p.raw_data
		 FROM posts p
		 LEFT JOIN signals s ON s.post_id = p.id
		 WHERE s.id IS NULL
		 ORDER BY p.ingested_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unsignaled posts")
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan post")
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), "postgres: list unsignaled posts iterate")
}

// Signals

// InsertSignal inserts a signal unless one already exists for the post.
// Returns whether the row was inserted.
func (s *PostgresStore) InsertSignal(ctx context.Context, sig *model.Signal) (bool, error) {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	companiesJSON, err := json.Marshal(sig.Companies)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal companies")
	}
	peopleJSON, err := json.Marshal(sig.People)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal people")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO signals (id, post_id, is_event_related, event_type, event_timing, event_date, date_inferred, companies, people, relevance_score, summary, raw_response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (post_id) DO NOTHING`,
		sig.ID, sig.PostID, sig.IsEventRelated, sig.EventType, string(sig.EventTiming),
		sig.EventDate, sig.DateInferred, companiesJSON, peopleJSON,
		sig.RelevanceScore, sig.Summary, rawOrNil(sig.RawResponse), sig.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert signal for post %s", sig.PostID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error) {
	query := `SELECT s.id, s.post_id, s.is_event_related, s.event_type, s.event_timing, s.event_date, s.date_inferred, s.companies, s.people, s.relevance_score, s.summary, s.raw_response, s.created_at
	          FROM signals s`
	args := []any{}
	argIdx := 1

	if filter.SourceID != "" {
		query += ` JOIN posts p ON p.id = s.post_id`
	}
	query += ` WHERE true`

	if filter.SourceID != "" {
		query += fmt.Sprintf(` AND p.source_id = $%d`, argIdx)
		args = append(args, filter.SourceID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(` AND s.event_type = $%d`, argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if filter.EventsOnly {
		query += ` AND s.is_event_related`
	}
	if filter.MinScore > 0 {
		query += fmt.Sprintf(` AND s.relevance_score >= $%d`, argIdx)
		args = append(args, filter.MinScore)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND s.created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY s.created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list signals")
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal")
		}
		signals = append(signals, *sig)
	}
	return signals, eris.Wrap(rows.Err(), "postgres: list signals iterate")
}

// Job runs

// BeginRun records the start of a job run. It doubles as the mutual exclusion
// lock: the partial unique index on running rows makes the insert fail with a
// unique violation when a run for the same (kind, subject) is in flight, which
// surfaces as ErrRunInFlight.
func (s *PostgresStore) BeginRun(ctx context.Context, kind model.RunKind, subjectID *string) (*model.JobRun, error) {
	run := &model.JobRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		SubjectID: subjectID,
		State:     model.RunStateRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, kind, subject_id, state, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Kind), run.SubjectID, string(run.State), run.StartedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrRunInFlight
		}
		return nil, eris.Wrapf(err, "postgres: begin %s run", kind)
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, state model.RunState, processed, failed int, runErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET state = $1, finished_at = $2, items_processed = $3, items_failed = $4, error = $5 WHERE id = $6`,
		string(state), time.Now().UTC(), processed, failed, runErr, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.JobRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, subject_id, state, started_at, finished_at, items_processed, items_failed, error FROM job_runs WHERE id = $1`,
		runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error) {
	query := `SELECT id, kind, subject_id, state, started_at, finished_at, items_processed, items_failed, error FROM job_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.SubjectID != "" {
		query += fmt.Sprintf(` AND subject_id = $%d`, argIdx)
		args = append(args, filter.SubjectID)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// ReconcileStaleRuns marks running runs older than the grace period as failed.
// Called at startup so locks abandoned by a crashed runner do not starve their
// subjects forever.
func (s *PostgresStore) ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET state = 'failed', finished_at = now(), error = 'abandoned: runner restarted'
		 WHERE state = 'running' AND started_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reconcile stale runs")
	}
	return int(tag.RowsAffected()), nil
}

// Reporting

func (s *PostgresStore) Summary(ctx context.Context, ownerID string) (*Summary, error) {
	var sum Summary
	var err error
	if ownerID == "" {
		err = s.pool.QueryRow(ctx,
			`SELECT
				(SELECT COUNT(*) FROM sources),
				(SELECT COUNT(*) FROM sources WHERE active),
				(SELECT COUNT(*) FROM posts),
				(SELECT COUNT(*) FROM posts p LEFT JOIN signals s ON s.post_id = p.id WHERE s.id IS NULL),
				(SELECT COUNT(*) FROM signals),
				(SELECT COUNT(*) FROM signals WHERE is_event_related),
				(SELECT COUNT(*) FROM job_runs WHERE state = 'running')`,
		).Scan(&sum.Sources, &sum.ActiveSources, &sum.Posts, &sum.PendingPosts,
			&sum.Signals, &sum.EventSignals, &sum.RunningJobs)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT
				(SELECT COUNT(*) FROM sources WHERE owner_id = $1),
				(SELECT COUNT(*) FROM sources WHERE owner_id = $1 AND active),
				(SELECT COUNT(*) FROM posts p JOIN sources src ON src.id = p.source_id WHERE src.owner_id = $1),
				(SELECT COUNT(*) FROM posts p JOIN sources src ON src.id = p.source_id
					LEFT JOIN signals s ON s.post_id = p.id WHERE src.owner_id = $1 AND s.id IS NULL),
				(SELECT COUNT(*) FROM signals s JOIN posts p ON p.id = s.post_id
					JOIN sources src ON src.id = p.source_id WHERE src.owner_id = $1),
				(SELECT COUNT(*) FROM signals s JOIN posts p ON p.id = s.post_id
					JOIN sources src ON src.id = p.source_id WHERE src.owner_id = $1 AND s.is_event_related),
				(SELECT COUNT(*) FROM job_runs r JOIN sources src ON src.id = r.subject_id
					WHERE src.owner_id = $1 AND r.state = 'running')`,
			ownerID,
		).Scan(&sum.Sources, &sum.ActiveSources, &sum.Posts, &sum.PendingPosts,
			&sum.Signals, &sum.EventSignals, &sum.RunningJobs)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summary")
	}
	return &sum, nil
}

// rawOrNil keeps NULL for empty raw JSON instead of an invalid empty JSONB.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// scan helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var (
		src          model.Source
		kind         string
		termKind     string
		intervalSecs int64
	)
	err := row.Scan(&src.ID, &src.OwnerID, &kind, &src.ProfileURL, &src.Term, &termKind,
		&src.MaxPosts, &intervalSecs, &src.LastCrawledAt, &src.Active, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	src.Kind = model.SourceKind(kind)
	src.TermKind = model.TermKind(termKind)
	src.CrawlInterval = time.Duration(intervalSecs) * time.Second
	return &src, nil
}

func scanPost(row scannable) (*model.Post, error) {
	var (
		p   model.Post
		raw []byte
	)
	err := row.Scan(&p.ID, &p.SourceID, &p.ExternalID, &p.AuthorName, &p.AuthorURL, &p.Content,
		&p.PostedAt, &p.LikeCount, &p.CommentCount, &p.IngestedAt, &raw)
	if err != nil {
		return nil, err
	}
	p.RawData = json.RawMessage(raw)
	return &p, nil
}

func scanSignal(row scannable) (*model.Signal, error) {
	var (
		sig           model.Signal
		timing        string
		companiesJSON []byte
		peopleJSON    []byte
		rawResponse   []byte
	)
	err := row.Scan(&sig.ID, &sig.PostID, &sig.IsEventRelated, &sig.EventType, &timing,
		&sig.EventDate, &sig.DateInferred, &companiesJSON, &peopleJSON,
		&sig.RelevanceScore, &sig.Summary, &rawResponse, &sig.CreatedAt)
	if err != nil {
		return nil, err
	}
	sig.EventTiming = model.EventTiming(timing)
	if len(companiesJSON) > 0 {
		if err := json.Unmarshal(companiesJSON, &sig.Companies); err != nil {
			return nil, eris.Wrap(err, "unmarshal companies")
		}
	}
	if len(peopleJSON) > 0 {
		if err := json.Unmarshal(peopleJSON, &sig.People); err != nil {
			return nil, eris.Wrap(err, "unmarshal people")
		}
	}
	sig.RawResponse = json.RawMessage(rawResponse)
	return &sig, nil
}

func scanRun(row scannable) (*model.JobRun, error) {
	var (
		run   model.JobRun
		kind  string
		state string
	)
	err := row.Scan(&run.ID, &kind, &run.SubjectID, &state, &run.StartedAt, &run.FinishedAt,
		&run.ItemsProcessed, &run.ItemsFailed, &run.Error)
	if err != nil {
		return nil, err
	}
	run.Kind = model.RunKind(kind)
	run.State = model.RunState(state)
	return &run, nil
}
