// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package postgres implements store.Store on PostgreSQL through gorm. It is
// the multi-instance deployment option: the dedup gate and the weight
// increments rely on INSERT ... ON CONFLICT, so concurrent ingestion
// processes against one database stay consistent.
package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

type articleRow struct {
	ID             string    `gorm:"primaryKey"`
	SourceURL      string    `gorm:"uniqueIndex;not null"`
	Title          string    `gorm:"not null"`
	Source         string    `gorm:"not null"`
	PublishedAt    time.Time `gorm:"not null"`
	ImageURL       *string
	Snippet        string    `gorm:"not null;default:''"`
	CreatedAt      time.Time `gorm:"not null;index"`
	RawContent     *string
	Summary        *string
	SimplifiedBody *string
	DeepDive       *string
	WhyItMatters   *string
	RabbitHole     *string
	TopicTags      []string `gorm:"serializer:json"`
	Entities       []string `gorm:"serializer:json"`
	WeightScore    *float64
	ProcessedAt    *time.Time `gorm:"index"`
	EnrichAttempts int        `gorm:"not null;default:0"`
	LastAttemptAt  *time.Time
	LastError      *string
}

func (articleRow) TableName() string { return "articles" }

type preferenceRow struct {
	UserID    string    `gorm:"primaryKey"`
	Topic     string    `gorm:"primaryKey"`
	Weight    float64   `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (preferenceRow) TableName() string { return "topic_preferences" }

type historyRow struct {
	UserID    string `gorm:"primaryKey"`
	ArticleID string `gorm:"primaryKey"`
	Completed bool   `gorm:"not null;default:false"`
	Reaction  *string
	ReadAt    time.Time `gorm:"not null;index"`
}

func (historyRow) TableName() string { return "reading_history" }

type streakRow struct {
	UserID       string `gorm:"primaryKey"`
	Streak       int    `gorm:"not null"`
	LastReadDate string `gorm:"not null"`
}

func (streakRow) TableName() string { return "reading_streaks" }

// Store is the Postgres-backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := db.AutoMigrate(&articleRow{}, &preferenceRow{}, &historyRow{}, &streakRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- articles ---

// CreateStub inserts the stub with ON CONFLICT DO NOTHING.
func (s *Store) CreateStub(ctx context.Context, a types.Article) (bool, error) {
	row := articleRow{
		ID:          a.ID,
		SourceURL:   a.SourceURL,
		Title:       a.Title,
		Source:      a.Source,
		PublishedAt: a.PublishedAt.UTC(),
		ImageURL:    optional(a.ImageURL),
		Snippet:     a.Snippet,
		CreatedAt:   a.CreatedAt.UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, wrap("create stub", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteEnrichment updates every enrichment column of an unenriched row.
func (s *Store) CompleteEnrichment(ctx context.Context, id, rawContent, imageURL string, e types.Enrichment) error {
	processed := e.ProcessedAt.UTC()
	weight := e.WeightScore
	row := articleRow{
		RawContent:     &rawContent,
		Summary:        &e.Summary,
		SimplifiedBody: &e.SimplifiedBody,
		DeepDive:       &e.DeepDive,
		WhyItMatters:   &e.WhyItMatters,
		RabbitHole:     &e.RabbitHole,
		TopicTags:      nonNil(e.TopicTags),
		Entities:       nonNil(e.Entities),
		WeightScore:    &weight,
		ProcessedAt:    &processed,
	}
	columns := []string{
		"raw_content", "summary", "simplified_body", "deep_dive", "why_it_matters",
		"rabbit_hole", "topic_tags", "entities", "weight_score", "processed_at", "last_error",
	}
	if imageURL != "" {
		row.ImageURL = &imageURL
		columns = append(columns, "image_url")
	}

	res := s.db.WithContext(ctx).Model(&articleRow{}).
		Where("id = ? AND processed_at IS NULL", id).
		Select(columns).
		Updates(&row)
	if res.Error != nil {
		return wrap("complete enrichment", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&articleRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return wrap("complete enrichment", err)
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return store.ErrAlreadyEnriched
}

// RecordAttemptFailure bumps the attempt counter of an unenriched row.
func (s *Store) RecordAttemptFailure(ctx context.Context, id string, at time.Time, reason string) error {
	reason = store.ClipReason(reason)
	res := s.db.WithContext(ctx).Model(&articleRow{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]any{
			"enrich_attempts": gorm.Expr("enrich_attempts + 1"),
			"last_attempt_at": at.UTC(),
			"last_error":      reason,
		})
	if res.Error != nil {
		return wrap("record attempt failure", res.Error)
	}
	return nil
}

// Article loads one article.
func (s *Store) Article(ctx context.Context, id string) (types.Article, error) {
	var row articleRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Article{}, store.ErrNotFound
	}
	if err != nil {
		return types.Article{}, wrap("load article", err)
	}
	return row.article(), nil
}

// EnrichedSince returns enriched articles newest-enriched first.
func (s *Store) EnrichedSince(ctx context.Context, since time.Time, limit int) ([]types.Article, error) {
	q := s.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at >= ?", since.UTC()).
		Order("processed_at DESC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []articleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("load enriched articles", err)
	}
	return articles(rows), nil
}

// StaleStubs returns retry candidates oldest first.
func (s *Store) StaleStubs(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]types.Article, error) {
	q := s.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Where("enrich_attempts < ?", maxAttempts).
		Where("COALESCE(last_attempt_at, created_at) <= ?", cutoff.UTC()).
		Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []articleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("load stale stubs", err)
	}
	return articles(rows), nil
}

// --- preferences ---

// TopicWeights returns the user's topic weights.
func (s *Store) TopicWeights(ctx context.Context, userID string) (map[string]float64, error) {
	var rows []preferenceRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, wrap("load topic weights", err)
	}
	weights := make(map[string]float64, len(rows))
	for _, r := range rows {
		weights[r.Topic] = r.Weight
	}
	return weights, nil
}

// IncrementTopicWeight upserts with weight = weight + delta.
func (s *Store) IncrementTopicWeight(ctx context.Context, userID, topic string, delta float64) error {
	now := time.Now().UTC()
	row := preferenceRow{UserID: userID, Topic: topic, Weight: types.DefaultTopicWeight + delta, UpdatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "topic"}},
		DoUpdates: clause.Assignments(map[string]any{
			"weight":     gorm.Expr("topic_preferences.weight + ?", delta),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return wrap("increment topic weight", err)
	}
	return nil
}

// EnsureTopics inserts missing topics at the default weight.
func (s *Store) EnsureTopics(ctx context.Context, userID string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]preferenceRow, 0, len(topics))
	for _, t := range topics {
		rows = append(rows, preferenceRow{UserID: userID, Topic: t, Weight: types.DefaultTopicWeight, UpdatedAt: now})
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return wrap("ensure topics", err)
	}
	return nil
}

// --- history ---

// RecordReading merges the entry the same way the SQLite store does.
func (s *Store) RecordReading(ctx context.Context, e types.ReadingEntry) error {
	row := historyRow{
		UserID:    e.UserID,
		ArticleID: e.ArticleID,
		Completed: e.Completed,
		Reaction:  optional(e.Reaction),
		ReadAt:    e.ReadAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "article_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"completed": gorm.Expr("reading_history.completed OR excluded.completed"),
			"reaction":  gorm.Expr("COALESCE(excluded.reaction, reading_history.reaction)"),
			"read_at":   gorm.Expr("excluded.read_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return wrap("record reading", err)
	}
	return nil
}

// ReadingEntry loads one history entry.
func (s *Store) ReadingEntry(ctx context.Context, userID, articleID string) (types.ReadingEntry, error) {
	var row historyRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND article_id = ?", userID, articleID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.ReadingEntry{}, store.ErrNotFound
	}
	if err != nil {
		return types.ReadingEntry{}, wrap("load reading entry", err)
	}
	e := types.ReadingEntry{UserID: row.UserID, ArticleID: row.ArticleID, Completed: row.Completed, ReadAt: row.ReadAt.UTC()}
	if row.Reaction != nil {
		e.Reaction = *row.Reaction
	}
	return e, nil
}

// ReadArticleIDs returns the set of article ids the user has read.
func (s *Store) ReadArticleIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&historyRow{}).Where("user_id = ?", userID).Pluck("article_id", &ids).Error; err != nil {
		return nil, wrap("load reading history", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ReadCountSince counts entries read at or after since.
func (s *Store) ReadCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&historyRow{}).
		Where("user_id = ? AND read_at >= ?", userID, since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, wrap("count readings", err)
	}
	return int(n), nil
}

// AdvanceStreak upserts the streak row; a same-day or older reading day
// leaves it untouched.
func (s *Store) AdvanceStreak(ctx context.Context, userID string, at time.Time) (int, error) {
	today, yesterday := store.ReadingDays(at)
	row := streakRow{UserID: userID, Streak: 1, LastReadDate: today}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "excluded.last_read_date > reading_streaks.last_read_date"},
		}},
		DoUpdates: clause.Assignments(map[string]any{
			"streak":         gorm.Expr("CASE WHEN reading_streaks.last_read_date = ? THEN reading_streaks.streak + 1 ELSE 1 END", yesterday),
			"last_read_date": gorm.Expr("excluded.last_read_date"),
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, wrap("advance streak", err)
	}
	return s.ReadingStreak(ctx, userID)
}

// ReadingStreak returns the stored streak.
func (s *Store) ReadingStreak(ctx context.Context, userID string) (int, error) {
	var row streakRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("load streak", err)
	}
	return row.Streak, nil
}

// --- helpers ---

func (r articleRow) article() types.Article {
	a := types.Article{
		ID:             r.ID,
		SourceURL:      r.SourceURL,
		Title:          r.Title,
		Source:         r.Source,
		PublishedAt:    r.PublishedAt.UTC(),
		ImageURL:       deref(r.ImageURL),
		Snippet:        r.Snippet,
		CreatedAt:      r.CreatedAt.UTC(),
		RawContent:     deref(r.RawContent),
		EnrichAttempts: r.EnrichAttempts,
		LastError:      deref(r.LastError),
	}
	if r.LastAttemptAt != nil {
		a.LastAttemptAt = r.LastAttemptAt.UTC()
	}
	if r.ProcessedAt == nil {
		return a
	}
	e := &types.Enrichment{
		Summary:        deref(r.Summary),
		SimplifiedBody: deref(r.SimplifiedBody),
		DeepDive:       deref(r.DeepDive),
		WhyItMatters:   deref(r.WhyItMatters),
		RabbitHole:     deref(r.RabbitHole),
		TopicTags:      nonNil(r.TopicTags),
		Entities:       nonNil(r.Entities),
		WeightScore:    types.DefaultWeightScore,
		ProcessedAt:    r.ProcessedAt.UTC(),
	}
	if r.WeightScore != nil {
		e.WeightScore = *r.WeightScore
	}
	a.Enrichment = e
	return a
}

func articles(rows []articleRow) []types.Article {
	out := make([]types.Article, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.article())
	}
	return out
}

// sqlStater matches driver errors that carry a SQLSTATE code, such as
// *pgconn.PgError.
type sqlStater interface {
	SQLState() string
}

func wrap(op string, err error) error {
	return &store.PersistenceError{Op: op, Retryable: retryable(err), Err: err}
}

// retryable reports serialization failures, deadlocks, lock timeouts, and
// connection-class errors.
func retryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se sqlStater
	if errors.As(err, &se) {
		code := se.SQLState()
		return code == "40001" || code == "40P01" || code == "55P03" || strings.HasPrefix(code, "08")
	}
	return false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
