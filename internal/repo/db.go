package repo

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DB represents a database connection
type DB struct {
	pool *pgxpool.Pool
}

// NewDB opens a connection pool and verifies it with a ping.
func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Repository implementation
type repository struct {
	db *DB
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func NewRepository(db *DB) Repository {
	return &repository{db: db}
}

func (r *repository) Ping(ctx context.Context) error {
	return r.db.pool.Ping(ctx)
}

func (r *repository) UpsertQueueEntry(ctx context.Context, arg UpsertQueueEntryParams) error {
	const query = `INSERT INTO article_queue (article_url, article_title, article_snippet, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (article_url) DO UPDATE
		SET article_title = EXCLUDED.article_title,
		    article_snippet = EXCLUDED.article_snippet,
		    status = EXCLUDED.status`

	if _, err := r.db.pool.Exec(ctx, query, arg.ArticleURL, arg.ArticleTitle, arg.ArticleSnippet, string(arg.Status)); err != nil {
		return &PersistenceError{Op: "upsert queue entry", Err: err}
	}
	return nil
}

func (r *repository) MarkQueueProcessed(ctx context.Context, arg MarkQueueProcessedParams) error {
	const query = `UPDATE article_queue SET status = $2, processed_at = $3 WHERE article_url = $1`

	if _, err := r.db.pool.Exec(ctx, query, arg.ArticleURL, string(QueueProcessed), arg.ProcessedAt); err != nil {
		return &PersistenceError{Op: "update queue status", Err: err}
	}
	return nil
}

func (r *repository) GetQueueEntry(ctx context.Context, articleURL string) (QueueEntry, error) {
	const query = `SELECT article_url, COALESCE(article_title, ''), article_snippet, COALESCE(status, ''), processed_at, created_at
		FROM article_queue WHERE article_url = $1`

	var entry QueueEntry
	var status string
	err := r.db.pool.QueryRow(ctx, query, articleURL).Scan(
		&entry.ArticleURL, &entry.ArticleTitle, &entry.ArticleSnippet, &status, &entry.ProcessedAt, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return QueueEntry{}, fmt.Errorf("queue entry %s: %w", articleURL, ErrNotFound)
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("get queue entry: %w", err)
	}
	entry.Status = QueueStatus(status)
	return entry, nil
}

// FindIncidentCandidates returns incidents on the same date whose city
// contains the given city. Oldest first.
func (r *repository) FindIncidentCandidates(ctx context.Context, arg FindIncidentCandidatesParams) ([]IncidentCandidate, error) {
	if strings.TrimSpace(arg.City) == "" {
		return nil, nil
	}

	const query = `SELECT id::text, city, event_date::text
		FROM incidents
		WHERE event_date = $1
		  AND city <> ''
		  AND strpos(lower(city), lower($2)) > 0
		ORDER BY created_at
		LIMIT $3`

	rows, err := r.db.pool.Query(ctx, query, arg.EventDate, strings.TrimSpace(arg.City), arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("query incident candidates: %w", err)
	}
	defer rows.Close()

	var results []IncidentCandidate
	for rows.Next() {
		var c IncidentCandidate
		if err := rows.Scan(&c.ID, &c.City, &c.EventDate); err != nil {
			return nil, fmt.Errorf("scan incident candidate: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

func (r *repository) CreateIncident(ctx context.Context, arg CreateIncidentParams) (Incident, error) {
	victims, err := json.Marshal(arg.VictimDetails)
	if err != nil {
		return Incident{}, &PersistenceError{Op: "create incident", Err: err}
	}

	query := `INSERT INTO incidents (
			event_date, event_time, city, province, region, road_name, deceased_count, injured_count,
			accident_type, dynamics_description, victim_details, ai_summary, confidence_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::accident_type, $10, $11::jsonb, $12, $13)
		RETURNING ` + incidentColumns

	row := r.db.pool.QueryRow(ctx, query,
		arg.EventDate, arg.EventTime, arg.City, arg.Province, arg.Region, arg.RoadName,
		arg.DeceasedCount, arg.InjuredCount, arg.AccidentType, arg.DynamicsDescription,
		string(victims), arg.AISummary, arg.ConfidenceScore,
	)
	incident, err := scanIncident(row)
	if err != nil {
		return Incident{}, &PersistenceError{Op: "create incident", Err: err}
	}
	return incident, nil
}

func (r *repository) CreateIncidentSource(ctx context.Context, arg CreateIncidentSourceParams) (IncidentSource, error) {
	fetchedAt := arg.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `INSERT INTO incident_sources (
			incident_id, source_name, article_url, article_title, published_at, raw_snippet, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sourceColumns

	row := r.db.pool.QueryRow(ctx, query,
		arg.IncidentID, arg.SourceName, arg.ArticleURL, arg.ArticleTitle, arg.PublishedAt, arg.RawSnippet, fetchedAt,
	)
	source, err := scanSource(row)
	if err != nil {
		return IncidentSource{}, &PersistenceError{Op: "create incident source", Err: err}
	}
	return source, nil
}

func (r *repository) ListIncidents(ctx context.Context, arg ListIncidentsParams) ([]Incident, error) {
	builder := psql.Select(incidentColumns).
		From("incidents").
		Where("COALESCE(is_archived, FALSE) = FALSE").
		OrderBy("event_date DESC", "created_at DESC")

	if arg.DateFrom != "" {
		builder = builder.Where("event_date >= ?::date", arg.DateFrom)
	}
	if arg.DateTo != "" {
		builder = builder.Where("event_date <= ?::date", arg.DateTo)
	}
	if arg.Region != "" {
		builder = builder.Where(sq.Eq{"region": arg.Region})
	}
	if arg.Province != "" {
		builder = builder.Where(sq.Eq{"province": arg.Province})
	}
	if arg.MinFatalities > 0 {
		builder = builder.Where(sq.GtOrEq{"deceased_count": arg.MinFatalities})
	}
	if arg.AccidentType != "" {
		builder = builder.Where("accident_type::text = ?", arg.AccidentType)
	}
	if arg.Search != "" {
		pattern := "%" + escapeLike(arg.Search) + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"city": pattern},
			sq.ILike{"dynamics_description": pattern},
		})
	}
	if arg.Limit > 0 {
		builder = builder.Limit(uint64(arg.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build incidents query: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	results := []Incident{}
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		results = append(results, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

func (r *repository) GetIncident(ctx context.Context, id string) (Incident, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}

	row := r.db.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	incident, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Incident{}, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

func (r *repository) ListIncidentSources(ctx context.Context, incidentID string) ([]IncidentSource, error) {
	if _, err := uuid.Parse(incidentID); err != nil {
		return []IncidentSource{}, nil
	}

	rows, err := r.db.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM incident_sources WHERE incident_id = $1 ORDER BY fetched_at DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query incident sources: %w", err)
	}
	defer rows.Close()

	results := []IncidentSource{}
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident source: %w", err)
		}
		results = append(results, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

func (r *repository) GetIncidentStats(ctx context.Context) (IncidentStats, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT region, COALESCE(accident_type::text, ''), deceased_count
		FROM incidents WHERE COALESCE(is_archived, FALSE) = FALSE`)
	if err != nil {
		return IncidentStats{}, fmt.Errorf("query incident stats: %w", err)
	}
	defer rows.Close()

	stats := IncidentStats{ByRegion: map[string]int{}, ByType: map[string]int{}}
	for rows.Next() {
		var (
			region       *string
			accidentType string
			deceased     int
		)
		if err := rows.Scan(&region, &accidentType, &deceased); err != nil {
			return IncidentStats{}, fmt.Errorf("scan incident stats: %w", err)
		}
		stats.add(region, accidentType, deceased)
	}
	if err := rows.Err(); err != nil {
		return IncidentStats{}, fmt.Errorf("rows iteration: %w", err)
	}
	return stats, nil
}

const feedColumns = `id::text, name, feed_url, feed_type, COALESCE(is_active, TRUE), last_fetched_at, created_at`

const incidentColumns = `id::text, event_date::text, to_char(event_time, 'HH24:MI'), city, province, region,
	road_name, deceased_count, injured_count, COALESCE(accident_type::text, 'altro'), dynamics_description,
	victim_details, ai_summary, confidence_score, COALESCE(is_verified, FALSE), COALESCE(is_archived, FALSE),
	cluster_id::text, created_at, updated_at`

const sourceColumns = `id::text, incident_id::text, source_name, article_url, article_title, published_at,
	raw_snippet, fetched_at, created_at`

func scanIncident(row pgx.Row) (Incident, error) {
	var (
		inc     Incident
		victims []byte
	)
	err := row.Scan(
		&inc.ID, &inc.EventDate, &inc.EventTime, &inc.City, &inc.Province, &inc.Region,
		&inc.RoadName, &inc.DeceasedCount, &inc.InjuredCount, &inc.AccidentType, &inc.DynamicsDescription,
		&victims, &inc.AISummary, &inc.ConfidenceScore, &inc.IsVerified, &inc.IsArchived,
		&inc.ClusterID, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		return Incident{}, err
	}
	if len(victims) > 0 {
		if err := json.Unmarshal(victims, &inc.VictimDetails); err != nil {
			return Incident{}, fmt.Errorf("decode victim_details: %w", err)
		}
	}
	return inc, nil
}

func scanSource(row pgx.Row) (IncidentSource, error) {
	var src IncidentSource
	err := row.Scan(
		&src.ID, &src.IncidentID, &src.SourceName, &src.ArticleURL, &src.ArticleTitle, &src.PublishedAt,
		&src.RawSnippet, &src.FetchedAt, &src.CreatedAt,
	)
	return src, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *repository) ListNewsFeeds(ctx context.Context) ([]NewsFeed, error) {
	query, args, err := psql.Select(feedColumns).
		From("news_feeds").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feeds query: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	results := []NewsFeed{}
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		results = append(results, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

func (r *repository) CreateNewsFeed(ctx context.Context, arg CreateNewsFeedParams) (NewsFeed, error) {
	query, args, err := psql.Insert("news_feeds").
		Columns("name", "feed_url", "feed_type", "is_active").
		Values(arg.Name, arg.FeedURL, arg.FeedType, true).
		Suffix("RETURNING " + feedColumns).
		ToSql()
	if err != nil {
		return NewsFeed{}, fmt.Errorf("build feed insert: %w", err)
	}

	feed, err := scanFeed(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return NewsFeed{}, &PersistenceError{Op: "create news feed", Err: err}
	}
	return feed, nil
}

func (r *repository) SetNewsFeedActive(ctx context.Context, id string, active bool) (NewsFeed, error) {
	if _, err := uuid.Parse(id); err != nil {
		return NewsFeed{}, fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}

	query, args, err := psql.Update("news_feeds").
		Set("is_active", active).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + feedColumns).
		ToSql()
	if err != nil {
		return NewsFeed{}, fmt.Errorf("build feed update: %w", err)
	}

	feed, err := scanFeed(r.db.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return NewsFeed{}, fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return NewsFeed{}, &PersistenceError{Op: "update news feed", Err: err}
	}
	return feed, nil
}

func (r *repository) DeleteNewsFeed(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}

	query, args, err := psql.Delete("news_feeds").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build feed delete: %w", err)
	}

	tag, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return &PersistenceError{Op: "delete news feed", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanFeed(row pgx.Row) (NewsFeed, error) {
	var feed NewsFeed
	err := row.Scan(&feed.ID, &feed.Name, &feed.FeedURL, &feed.FeedType, &feed.IsActive, &feed.LastFetchedAt, &feed.CreatedAt)
	return feed, err
}
