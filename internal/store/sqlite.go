// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"

	"github.com/pdiddy/lumi-engine/pkg/types"
)


// articleColumns is the select list shared by every article query; scanArticle
// reads columns in this order.
var articleColumns = []string{
	"id", "source_url", "title", "source", "published_at", "image_url", "snippet", "created_at",
	"raw_content", "summary", "simplified_body", "deep_dive", "why_it_matters", "rabbit_hole",
	"topic_tags", "entities", "weight_score", "processed_at",
	"enrich_attempts", "last_attempt_at", "last_error",
}

// SQLite is the SQLite-backed Store. Timestamps are stored as Unix
// milliseconds so range queries compare numerically.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and creates the schema
// if it does not exist. The parent directory is created as needed.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer connection; SQLite serializes writes anyway and this keeps
	// the busy handler from spinning across pooled connections.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			published_at INTEGER NOT NULL,
			image_url TEXT,
			snippet TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			raw_content TEXT,
			summary TEXT,
			simplified_body TEXT,
			deep_dive TEXT,
			why_it_matters TEXT,
			rabbit_hole TEXT,
			topic_tags TEXT,
			entities TEXT,
			weight_score REAL,
			processed_at INTEGER,
			enrich_attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_at INTEGER,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_processed_at ON articles(processed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at)`,
		`CREATE TABLE IF NOT EXISTS topic_preferences (
			user_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, topic)
		)`,
		`CREATE TABLE IF NOT EXISTS reading_history (
			user_id TEXT NOT NULL,
			article_id TEXT NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			reaction TEXT,
			read_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, article_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reading_history_read_at ON reading_history(user_id, read_at)`,
		`CREATE TABLE IF NOT EXISTS reading_streaks (
			user_id TEXT PRIMARY KEY,
			streak INTEGER NOT NULL,
			last_read_date TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// --- articles ---

// CreateStub inserts the stub unless an article with the same id or source
// URL exists. The conflict check and the insert are one statement.
func (s *SQLite) CreateStub(ctx context.Context, a types.Article) (bool, error) {
	query, args, err := sq.Insert("articles").
		Columns("id", "source_url", "title", "source", "published_at", "image_url", "snippet", "created_at").
		Values(a.ID, a.SourceURL, a.Title, a.Source, millis(a.PublishedAt), nullString(a.ImageURL), a.Snippet, millis(a.CreatedAt)).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building stub insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrap("create stub", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("create stub", err)
	}
	return n == 1, nil
}

// CompleteEnrichment writes every enrichment column in one UPDATE guarded
// by processed_at IS NULL.
func (s *SQLite) CompleteEnrichment(ctx context.Context, id, rawContent, imageURL string, e types.Enrichment) error {
	tags, err := json.Marshal(nonNil(e.TopicTags))
	if err != nil {
		return fmt.Errorf("encoding topic tags: %w", err)
	}
	entities, err := json.Marshal(nonNil(e.Entities))
	if err != nil {
		return fmt.Errorf("encoding entities: %w", err)
	}

	query, args, err := sq.Update("articles").
		SetMap(map[string]any{
			"raw_content":     rawContent,
			"image_url":       sq.Expr("COALESCE(?, image_url)", nullString(imageURL)),
			"summary":         e.Summary,
			"simplified_body": e.SimplifiedBody,
			"deep_dive":       e.DeepDive,
			"why_it_matters":  e.WhyItMatters,
			"rabbit_hole":     e.RabbitHole,
			"topic_tags":      string(tags),
			"entities":        string(entities),
			"weight_score":    e.WeightScore,
			"processed_at":    millis(e.ProcessedAt),
			"last_error":      nil,
		}).
		Where(sq.Eq{"id": id, "processed_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building enrichment update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrap("complete enrichment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("complete enrichment", err)
	}
	if n == 1 {
		return nil
	}

	var processed sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT processed_at FROM articles WHERE id = ?`, id).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return wrap("complete enrichment", err)
	}
	return ErrAlreadyEnriched
}

// RecordAttemptFailure bumps the attempt counter of an unenriched article.
func (s *SQLite) RecordAttemptFailure(ctx context.Context, id string, at time.Time, reason string) error {
	reason = ClipReason(reason)
	query, args, err := sq.Update("articles").
		Set("enrich_attempts", sq.Expr("enrich_attempts + 1")).
		Set("last_attempt_at", millis(at)).
		Set("last_error", reason).
		Where(sq.Eq{"id": id, "processed_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building attempt update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrap("record attempt failure", err)
	}
	return nil
}

// Article returns the article with the given id.
func (s *SQLite) Article(ctx context.Context, id string) (types.Article, error) {
	query, args, err := sq.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return types.Article{}, fmt.Errorf("building article query: %w", err)
	}
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Article{}, ErrNotFound
	}
	if err != nil {
		return types.Article{}, wrap("load article", err)
	}
	return a, nil
}

// EnrichedSince returns enriched articles newest-enriched first.
func (s *SQLite) EnrichedSince(ctx context.Context, since time.Time, limit int) ([]types.Article, error) {
	b := sq.Select(articleColumns...).From("articles").
		Where(sq.NotEq{"processed_at": nil}).
		Where(sq.GtOrEq{"processed_at": millis(since)}).
		OrderBy("processed_at DESC", "id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryArticles(ctx, "load enriched articles", b)
}

// StaleStubs returns retry candidates oldest first.
func (s *SQLite) StaleStubs(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]types.Article, error) {
	b := sq.Select(articleColumns...).From("articles").
		Where(sq.Eq{"processed_at": nil}).
		Where(sq.Lt{"enrich_attempts": maxAttempts}).
		Where(sq.Expr("COALESCE(last_attempt_at, created_at) <= ?", millis(cutoff))).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryArticles(ctx, "load stale stubs", b)
}

func (s *SQLite) queryArticles(ctx context.Context, op string, b sq.SelectBuilder) ([]types.Article, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building %s query: %w", op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []types.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (types.Article, error) {
	var (
		a                                            types.Article
		published, created                           int64
		imageURL, raw, summary, simplified, deepDive sql.NullString
		why, rabbit, tags, entities, lastErr         sql.NullString
		weight                                       sql.NullFloat64
		processed, lastAttempt                       sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &a.SourceURL, &a.Title, &a.Source, &published, &imageURL, &a.Snippet, &created,
		&raw, &summary, &simplified, &deepDive, &why, &rabbit,
		&tags, &entities, &weight, &processed,
		&a.EnrichAttempts, &lastAttempt, &lastErr,
	)
	if err != nil {
		return types.Article{}, err
	}

	a.PublishedAt = fromMillis(published)
	a.CreatedAt = fromMillis(created)
	a.ImageURL = imageURL.String
	a.RawContent = raw.String
	a.LastError = lastErr.String
	if lastAttempt.Valid {
		a.LastAttemptAt = fromMillis(lastAttempt.Int64)
	}

	if !processed.Valid {
		return a, nil
	}
	e := &types.Enrichment{
		Summary:        summary.String,
		SimplifiedBody: simplified.String,
		DeepDive:       deepDive.String,
		WhyItMatters:   why.String,
		RabbitHole:     rabbit.String,
		WeightScore:    types.DefaultWeightScore,
		ProcessedAt:    fromMillis(processed.Int64),
	}
	if weight.Valid {
		e.WeightScore = weight.Float64
	}
	if err := decodeList(tags, &e.TopicTags); err != nil {
		return types.Article{}, fmt.Errorf("decoding topic tags of %s: %w", a.ID, err)
	}
	if err := decodeList(entities, &e.Entities); err != nil {
		return types.Article{}, fmt.Errorf("decoding entities of %s: %w", a.ID, err)
	}
	a.Enrichment = e
	return a, nil
}

// --- preferences ---

// TopicWeights returns the user's topic weights.
func (s *SQLite) TopicWeights(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topic, weight FROM topic_preferences WHERE user_id = ?`, userID)
	if err != nil {
		return nil, wrap("load topic weights", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var topic string
		var w float64
		if err := rows.Scan(&topic, &w); err != nil {
			return nil, wrap("load topic weights", err)
		}
		weights[topic] = w
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load topic weights", err)
	}
	return weights, nil
}

// IncrementTopicWeight adds delta in a single upsert so concurrent signals
// for the same topic never lose an update.
func (s *SQLite) IncrementTopicWeight(ctx context.Context, userID, topic string, delta float64) error {
	query, args, err := sq.Insert("topic_preferences").
		Columns("user_id", "topic", "weight", "updated_at").
		Values(userID, topic, types.DefaultTopicWeight+delta, millis(time.Now())).
		Suffix("ON CONFLICT(user_id, topic) DO UPDATE SET weight = topic_preferences.weight + ?, updated_at = excluded.updated_at", delta).
		ToSql()
	if err != nil {
		return fmt.Errorf("building weight upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrap("increment topic weight", err)
	}
	return nil
}

// EnsureTopics inserts missing topics at the default weight in one transaction.
func (s *SQLite) EnsureTopics(ctx context.Context, userID string, topics []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("ensure topics", err)
	}
	defer tx.Rollback()

	now := millis(time.Now())
	for _, topic := range topics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO topic_preferences (user_id, topic, weight, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, topic) DO NOTHING`,
			userID, topic, types.DefaultTopicWeight, now,
		); err != nil {
			return wrap("ensure topics", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap("ensure topics", err)
	}
	return nil
}

// --- history ---

// RecordReading merges the entry: completed is sticky, an empty reaction
// keeps the stored one, read_at is refreshed.
func (s *SQLite) RecordReading(ctx context.Context, e types.ReadingEntry) error {
	query, args, err := sq.Insert("reading_history").
		Columns("user_id", "article_id", "completed", "reaction", "read_at").
		Values(e.UserID, e.ArticleID, e.Completed, nullString(e.Reaction), millis(e.ReadAt)).
		Suffix(`ON CONFLICT(user_id, article_id) DO UPDATE SET
			completed = MAX(reading_history.completed, excluded.completed),
			reaction = COALESCE(excluded.reaction, reading_history.reaction),
			read_at = excluded.read_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building history upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrap("record reading", err)
	}
	return nil
}

// ReadingEntry returns one history entry.
func (s *SQLite) ReadingEntry(ctx context.Context, userID, articleID string) (types.ReadingEntry, error) {
	e := types.ReadingEntry{UserID: userID, ArticleID: articleID}
	var reaction sql.NullString
	var readAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT completed, reaction, read_at FROM reading_history WHERE user_id = ? AND article_id = ?`,
		userID, articleID,
	).Scan(&e.Completed, &reaction, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ReadingEntry{}, ErrNotFound
	}
	if err != nil {
		return types.ReadingEntry{}, wrap("load reading entry", err)
	}
	e.Reaction = reaction.String
	e.ReadAt = fromMillis(readAt)
	return e, nil
}

// ReadArticleIDs returns the set of article ids in the user's history.
func (s *SQLite) ReadArticleIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT article_id FROM reading_history WHERE user_id = ?`, userID)
	if err != nil {
		return nil, wrap("load reading history", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("load reading history", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load reading history", err)
	}
	return ids, nil
}

// ReadCountSince counts entries read at or after since.
func (s *SQLite) ReadCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("reading_history").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.GtOrEq{"read_at": millis(since)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building read count query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrap("count readings", err)
	}
	return n, nil
}

// AdvanceStreak upserts the streak row in one statement; ISO dates compare
// as strings.
func (s *SQLite) AdvanceStreak(ctx context.Context, userID string, at time.Time) (int, error) {
	today, yesterday := ReadingDays(at)
	query, args, err := sq.Insert("reading_streaks").
		Columns("user_id", "streak", "last_read_date").
		Values(userID, 1, today).
		Suffix(`ON CONFLICT(user_id) DO UPDATE SET
			streak = CASE WHEN reading_streaks.last_read_date = ? THEN reading_streaks.streak + 1 ELSE 1 END,
			last_read_date = excluded.last_read_date
			WHERE excluded.last_read_date > reading_streaks.last_read_date`, yesterday).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building streak upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, wrap("advance streak", err)
	}
	return s.ReadingStreak(ctx, userID)
}

// ReadingStreak returns the stored streak.
func (s *SQLite) ReadingStreak(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT streak FROM reading_streaks WHERE user_id = ?`, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("load streak", err)
	}
	return n, nil
}

// --- helpers ---

func wrap(op string, err error) error {
	return &PersistenceError{Op: op, Retryable: sqliteBusy(err), Err: err}
}

func sqliteBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func decodeList(v sql.NullString, dst *[]string) error {
	if !v.Valid || v.String == "" {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(v.String), dst)
}
