package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/signal-scout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL DEFAULT '',
	kind                TEXT NOT NULL,
	profile_url         TEXT NOT NULL DEFAULT '',
	term                TEXT NOT NULL DEFAULT '',
	term_kind           TEXT NOT NULL DEFAULT '',
	max_posts           INTEGER NOT NULL DEFAULT 20,
	crawl_interval_secs INTEGER NOT NULL,
	last_crawled_at     DATETIME,
	active              INTEGER NOT NULL DEFAULT 1,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS posts (
	id            TEXT PRIMARY KEY,
	source_id     TEXT REFERENCES sources(id) ON DELETE SET NULL,
	external_id   TEXT NOT NULL UNIQUE,
	author_name   TEXT NOT NULL DEFAULT '',
	author_url    TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	posted_at     DATETIME,
	like_count    INTEGER NOT NULL DEFAULT 0,
	comment_count INTEGER NOT NULL DEFAULT 0,
	ingested_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	raw_data      TEXT
);

CREATE TABLE IF NOT EXISTS signals (
	id               TEXT PRIMARY KEY,
	post_id          TEXT NOT NULL UNIQUE REFERENCES posts(id),
	is_event_related INTEGER NOT NULL,
	event_type       TEXT NOT NULL DEFAULT '',
	event_timing     TEXT NOT NULL DEFAULT 'unknown',
	event_date       DATETIME,
	date_inferred    INTEGER NOT NULL DEFAULT 0,
	companies        TEXT,
	people           TEXT,
	relevance_score  REAL NOT NULL,
	summary          TEXT NOT NULL DEFAULT '',
	raw_response     TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_runs (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	subject_id      TEXT,
	state           TEXT NOT NULL DEFAULT 'running',
	started_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at     DATETIME,
	items_processed INTEGER NOT NULL DEFAULT 0,
	items_failed    INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_job_runs_inflight
	ON job_runs (kind, COALESCE(subject_id, '')) WHERE state = 'running';

CREATE INDEX IF NOT EXISTS idx_sources_active ON sources(active);
CREATE INDEX IF NOT EXISTS idx_posts_source_id ON posts(source_id);
CREATE INDEX IF NOT EXISTS idx_posts_ingested_at ON posts(ingested_at);
CREATE INDEX IF NOT EXISTS idx_signals_event_type ON signals(event_type);
CREATE INDEX IF NOT EXISTS idx_job_runs_kind_state ON job_runs(kind, state);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Sources

func (s *SQLiteStore) CreateSource(ctx context.Context, src *model.Source) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, owner_id, kind, profile_url, term, term_kind, max_posts, crawl_interval_secs, last_crawled_at, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.OwnerID, string(src.Kind), src.ProfileURL, src.Term, string(src.TermKind),
		src.MaxPosts, int64(src.CrawlInterval/time.Second), timePtr(src.LastCrawledAt), src.Active, now, now,
	)
	return eris.Wrap(err, "sqlite: insert source")
}

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, kind, profile_url, term, term_kind, max_posts, crawl_interval_secs, last_crawled_at, active, created_at, updated_at
		 FROM sources WHERE id = ?`, id)
	src, err := scanSQLiteSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get source %s", id)
	}
	return src, nil
}

func (s *SQLiteStore) UpdateSource(ctx context.Context, src *model.Source) error {
	src.Normalize()
	if err := src.Validate(); err != nil {
		return err
	}
	src.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET owner_id = ?, kind = ?, profile_url = ?, term = ?, term_kind = ?,
		 max_posts = ?, crawl_interval_secs = ?, active = ?, updated_at = ? WHERE id = ?`,
		src.OwnerID, string(src.Kind), src.ProfileURL, src.Term, string(src.TermKind),
		src.MaxPosts, int64(src.CrawlInterval/time.Second), src.Active, src.UpdatedAt, src.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source %s", src.ID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete source %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	query := `SELECT id, owner_id, kind, profile_url, term, term_kind, max_posts, crawl_interval_secs, last_crawled_at, active, created_at, updated_at
	          FROM sources WHERE 1=1`
	var args []any

	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Active != nil {
		query += ` AND active = ?`
		args = append(args, *filter.Active)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSQLiteSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

// ListDueSources selects active sources and applies the interval check in Go.
// SQLite stores timestamps as text, so date arithmetic is done on the scanned
// values rather than in SQL.
func (s *SQLiteStore) ListDueSources(ctx context.Context, now time.Time) ([]model.Source, error) {
	active := true
	all, err := s.ListSources(ctx, SourceFilter{Active: &active, Limit: 10000})
	if err != nil {
		return nil, err
	}

	var due []model.Source
	for _, src := range all {
		if src.Due(now) {
			due = append(due, src)
		}
	}
	return due, nil
}

func (s *SQLiteStore) TouchCrawled(ctx context.Context, sourceID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_crawled_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch crawled %s", sourceID)
	}
	return checkRowsAffected(res)
}

// Posts

func (s *SQLiteStore) InsertPosts(ctx context.Context, posts []model.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert posts begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inserted := 0
	for i := range posts {
		p := &posts[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.IngestedAt.IsZero() {
			p.IngestedAt = now
		}

		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO posts (id, source_id, external_id, author_name, author_url, content, posted_at, like_count, comment_count, ingested_at, raw_data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SourceID, p.ExternalID, p.AuthorName, p.AuthorURL, p.Content,
			timePtr(p.PostedAt), p.LikeCount, p.CommentCount, p.IngestedAt, nullString(p.RawData),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert post %s", p.ExternalID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert posts commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, external_id, author_name, author_url, content, posted_at, like_count, comment_count, ingested_at, raw_data
		 FROM posts WHERE id = ?`, id)
	p, err := scanSQLitePost(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get post %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListUnsignaledPosts(ctx context.Context, limit int) ([]model.Post, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.source_id, p.external_id, p.author_name, p.author_url, p.content, p.posted_at, p.like_count, p.comment_count, p.ingested_at, p.raw_data
		 FROM posts p
		 LEFT JOIN signals s ON s.post_id = p.id
		 WHERE s.id IS NULL
		 ORDER BY p.ingested_at ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unsignaled posts")
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanSQLitePost(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan post")
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), "sqlite: list unsignaled posts iterate")
}

// Signals

func (s *SQLiteStore) InsertSignal(ctx context.Context, sig *model.Signal) (bool, error) {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	companiesJSON, err := json.Marshal(sig.Companies)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal companies")
	}
	peopleJSON, err := json.Marshal(sig.People)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal people")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO signals (id, post_id, is_event_related, event_type, event_timing, event_date, date_inferred, companies, people, relevance_score, summary, raw_response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.PostID, sig.IsEventRelated, sig.EventType, string(sig.EventTiming),
		timePtr(sig.EventDate), sig.DateInferred, string(companiesJSON), string(peopleJSON),
		sig.RelevanceScore, sig.Summary, nullString(sig.RawResponse), sig.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert signal for post %s", sig.PostID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error) {
	query := `SELECT s.id, s.post_id, s.is_event_related, s.event_type, s.event_timing, s.event_date, s.date_inferred, s.companies, s.people, s.relevance_score, s.summary, s.raw_response, s.created_at
	          FROM signals s`
	var args []any

	if filter.SourceID != "" {
		query += ` JOIN posts p ON p.id = s.post_id`
	}
	query += ` WHERE 1=1`

	if filter.SourceID != "" {
		query += ` AND p.source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.EventType != "" {
		query += ` AND s.event_type = ?`
		args = append(args, filter.EventType)
	}
	if filter.EventsOnly {
		query += ` AND s.is_event_related = 1`
	}
	if filter.MinScore > 0 {
		query += ` AND s.relevance_score >= ?`
		args = append(args, filter.MinScore)
	}
	if filter.Since != nil {
		query += ` AND s.created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY s.created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list signals")
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		sig, err := scanSQLiteSignal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal")
		}
		signals = append(signals, *sig)
	}
	return signals, eris.Wrap(rows.Err(), "sqlite: list signals iterate")
}

// Job runs

func (s *SQLiteStore) BeginRun(ctx context.Context, kind model.RunKind, subjectID *string) (*model.JobRun, error) {
	run := &model.JobRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		SubjectID: subjectID,
		State:     model.RunStateRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, kind, subject_id, state, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.SubjectID, string(run.State), run.StartedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrRunInFlight
		}
		return nil, eris.Wrapf(err, "sqlite: begin %s run", kind)
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, state model.RunState, processed, failed int, runErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET state = ?, finished_at = ?, items_processed = ?, items_failed = ?, error = ? WHERE id = ?`,
		string(state), time.Now().UTC(), processed, failed, runErr, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.JobRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, subject_id, state, started_at, finished_at, items_processed, items_failed, error FROM job_runs WHERE id = ?`,
		runID)
	run, err := scanSQLiteRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error) {
	query := `SELECT id, kind, subject_id, state, started_at, finished_at, items_processed, items_failed, error FROM job_runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.SubjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, filter.SubjectID)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET state = 'failed', finished_at = ?, error = 'abandoned: runner restarted'
		 WHERE state = 'running' AND started_at <= ?`,
		time.Now().UTC(), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reconcile stale runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Reporting

func (s *SQLiteStore) Summary(ctx context.Context, ownerID string) (*Summary, error) {
	var sum Summary
	var err error
	if ownerID == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT
				(SELECT COUNT(*) FROM sources),
				(SELECT COUNT(*) FROM sources WHERE active = 1),
				(SELECT COUNT(*) FROM posts),
				(SELECT COUNT(*) FROM posts p LEFT JOIN signals s ON s.post_id = p.id WHERE s.id IS NULL),
				(SELECT COUNT(*) FROM signals),
				(SELECT COUNT(*) FROM signals WHERE is_event_related = 1),
				(SELECT COUNT(*) FROM job_runs WHERE state = 'running')`,
		).Scan(&sum.Sources, &sum.ActiveSources, &sum.Posts, &sum.PendingPosts,
			&sum.Signals, &sum.EventSignals, &sum.RunningJobs)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT
				(SELECT COUNT(*) FROM sources WHERE owner_id = ?),
				(SELECT COUNT(*) FROM sources WHERE owner_id = ? AND active = 1),
				(SELECT COUNT(*) FROM posts p JOIN sources src ON src.id = p.source_id WHERE src.owner_id = ?),
				(SELECT COUNT(*) FROM posts p JOIN sources src ON src.id = p.source_id
					LEFT JOIN signals s ON s.post_id = p.id WHERE src.owner_id = ? AND s.id IS NULL),
				(SELECT COUNT(*) FROM signals s JOIN posts p ON p.id = s.post_id
					JOIN sources src ON src.id = p.source_id WHERE src.owner_id = ?),
				(SELECT COUNT(*) FROM signals s JOIN posts p ON p.id = s.post_id
					JOIN sources src ON src.id = p.source_id WHERE src.owner_id = ? AND s.is_event_related = 1),
				(SELECT COUNT(*) FROM job_runs r JOIN sources src ON src.id = r.subject_id
					WHERE src.owner_id = ? AND r.state = 'running')`,
			ownerID, ownerID, ownerID, ownerID, ownerID, ownerID, ownerID,
		).Scan(&sum.Sources, &sum.ActiveSources, &sum.Posts, &sum.PendingPosts,
			&sum.Signals, &sum.EventSignals, &sum.RunningJobs)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summary")
	}
	return &sum, nil
}

// helpers

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// timePtr converts a *time.Time into a driver-friendly value, keeping NULL
// for nil.
func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// nullString stores empty raw JSON as NULL.
func nullString(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanSQLiteSource(row scannable) (*model.Source, error) {
	var (
		src          model.Source
		kind         string
		termKind     string
		intervalSecs int64
		lastCrawled  sql.NullTime
	)
	err := row.Scan(&src.ID, &src.OwnerID, &kind, &src.ProfileURL, &src.Term, &termKind,
		&src.MaxPosts, &intervalSecs, &lastCrawled, &src.Active, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	src.Kind = model.SourceKind(kind)
	src.TermKind = model.TermKind(termKind)
	src.CrawlInterval = time.Duration(intervalSecs) * time.Second
	if lastCrawled.Valid {
		t := lastCrawled.Time.UTC()
		src.LastCrawledAt = &t
	}
	return &src, nil
}

func scanSQLitePost(row scannable) (*model.Post, error) {
	var (
		p        model.Post
		postedAt sql.NullTime
		raw      sql.NullString
	)
	err := row.Scan(&p.ID, &p.SourceID, &p.ExternalID, &p.AuthorName, &p.AuthorURL, &p.Content,
		&postedAt, &p.LikeCount, &p.CommentCount, &p.IngestedAt, &raw)
	if err != nil {
		return nil, err
	}
	if postedAt.Valid {
		t := postedAt.Time.UTC()
		p.PostedAt = &t
	}
	if raw.Valid {
		p.RawData = json.RawMessage(raw.String)
	}
	return &p, nil
}

func scanSQLiteSignal(row scannable) (*model.Signal, error) {
	var (
		sig           model.Signal
		timing        string
		eventDate     sql.NullTime
		companiesJSON sql.NullString
		peopleJSON    sql.NullString
		rawResponse   sql.NullString
	)
	err := row.Scan(&sig.ID, &sig.PostID, &sig.IsEventRelated, &sig.EventType, &timing,
		&eventDate, &sig.DateInferred, &companiesJSON, &peopleJSON,
		&sig.RelevanceScore, &sig.Summary, &rawResponse, &sig.CreatedAt)
	if err != nil {
		return nil, err
	}
	sig.EventTiming = model.EventTiming(timing)
	if eventDate.Valid {
		t := eventDate.Time.UTC()
		sig.EventDate = &t
	}
	if companiesJSON.Valid && companiesJSON.String != "" {
		if err := json.Unmarshal([]byte(companiesJSON.String), &sig.Companies); err != nil {
			return nil, eris.Wrap(err, "unmarshal companies")
		}
	}
	if peopleJSON.Valid && peopleJSON.String != "" {
		if err := json.Unmarshal([]byte(peopleJSON.String), &sig.People); err != nil {
			return nil, eris.Wrap(err, "unmarshal people")
		}
	}
	if rawResponse.Valid {
		sig.RawResponse = json.RawMessage(rawResponse.String)
	}
	return &sig, nil
}

func scanSQLiteRun(row scannable) (*model.JobRun, error) {
	var (
		run      model.JobRun
		kind     string
		state    string
		finished sql.NullTime
	)
	err := row.Scan(&run.ID, &kind, &run.SubjectID, &state, &run.StartedAt, &finished,
		&run.ItemsProcessed, &run.ItemsFailed, &run.Error)
	if err != nil {
		return nil, err
	}
	run.Kind = model.RunKind(kind)
	run.State = model.RunState(state)
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}
