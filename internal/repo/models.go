package repo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a failed write against the backing store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QueueStatus tracks an article URL through classification and extraction.
type QueueStatus string

const (
	QueueClassifiedPositive QueueStatus = "classified_positive"
	QueueClassifiedNegative QueueStatus = "classified_negative"
	QueueProcessed          QueueStatus = "processed"
)

// QueueEntry is the bookkeeping row for one article URL.
type QueueEntry struct {
	ArticleURL     string      `json:"article_url"`
	ArticleTitle   string      `json:"article_title"`
	ArticleSnippet *string     `json:"article_snippet"`
	Status         QueueStatus `json:"status"`
	ProcessedAt    *time.Time  `json:"processed_at"`
	CreatedAt      time.Time   `json:"created_at"`
}

// VictimDetail describes one victim without personal data.
type VictimDetail struct {
	AgeRange string `json:"age_range,omitempty"`
	Role     string `json:"role"`
}

// Incident is one fatal road-traffic event. EventDate is YYYY-MM-DD and
// EventTime is HH:MM.
type Incident struct {
	ID                  string         `json:"id"`
	EventDate           string         `json:"event_date"`
	EventTime           *string        `json:"event_time"`
	City                string         `json:"city"`
	Province            *string        `json:"province"`
	Region              *string        `json:"region"`
	RoadName            *string        `json:"road_name"`
	DeceasedCount       int            `json:"deceased_count"`
	InjuredCount        *int           `json:"injured_count"`
	AccidentType        string         `json:"accident_type"`
	DynamicsDescription *string        `json:"dynamics_description"`
	VictimDetails       []VictimDetail `json:"victim_details"`
	AISummary           *string        `json:"ai_summary"`
	ConfidenceScore     *float64       `json:"confidence_score"`
	IsVerified          bool           `json:"is_verified"`
	IsArchived          bool           `json:"is_archived"`
	ClusterID           *string        `json:"cluster_id"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IncidentSource links one article to the incident it reports.
type IncidentSource struct {
	ID           string     `json:"id"`
	IncidentID   string     `json:"incident_id"`
	SourceName   string     `json:"source_name"`
	ArticleURL   string     `json:"article_url"`
	ArticleTitle *string    `json:"article_title"`
	PublishedAt  *time.Time `json:"published_at"`
	RawSnippet   *string    `json:"raw_snippet"`
	FetchedAt    time.Time  `json:"fetched_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewsFeed is a monitored news source.
type NewsFeed struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	FeedURL       string     `json:"feed_url"`
	FeedType      string     `json:"feed_type"`
	IsActive      bool       `json:"is_active"`
	LastFetchedAt *time.Time `json:"last_fetched_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IncidentCandidate is the projection used by the duplicate lookup.
type IncidentCandidate struct {
	ID        string
	City      string
	EventDate string
}

// IncidentStats aggregates non-archived incidents.
type IncidentStats struct {
	TotalIncidents int            `json:"total_incidents"`
	TotalDeceased  int            `json:"total_deceased"`
	ByRegion       map[string]int `json:"by_region"`
	ByType         map[string]int `json:"by_type"`
}

// Parameter structs for queries
type UpsertQueueEntryParams struct {
	ArticleURL     string
	ArticleTitle   string
	ArticleSnippet *string
	Status         QueueStatus
}

type MarkQueueProcessedParams struct {
	ArticleURL  string
	ProcessedAt time.Time
}

type FindIncidentCandidatesParams struct {
	EventDate string
	City      string
	Limit     int32
}

type CreateIncidentParams struct {
	EventDate           string
	EventTime           *string
	City                string
	Province            *string
	Region              *string
	RoadName            *string
	DeceasedCount       int
	InjuredCount        *int
	AccidentType        string
	DynamicsDescription *string
	VictimDetails       []VictimDetail
	AISummary           *string
	ConfidenceScore     *float64
}

type CreateIncidentSourceParams struct {
	IncidentID   string
	SourceName   string
	ArticleURL   string
	ArticleTitle *string
	PublishedAt  *time.Time
	RawSnippet   *string
	FetchedAt    time.Time
}

// CreateNewsFeedParams adds an active feed.
type CreateNewsFeedParams struct {
	Name     string
	FeedURL  string
	FeedType string
}

// ListIncidentsParams filters non-archived incidents. Zero values are ignored.
type ListIncidentsParams struct {
	DateFrom      string
	DateTo        string
	Region        string
	Province      string
	MinFatalities int
	AccidentType  string
	Search        string
	Limit         int32
}

// QueueStore is the article_queue bookkeeping used by classification.
type QueueStore interface {
	UpsertQueueEntry(ctx context.Context, arg UpsertQueueEntryParams) error
	MarkQueueProcessed(ctx context.Context, arg MarkQueueProcessedParams) error
}

// IncidentStore is the write side used by extraction.
type IncidentStore interface {
	FindIncidentCandidates(ctx context.Context, arg FindIncidentCandidatesParams) ([]IncidentCandidate, error)
	CreateIncident(ctx context.Context, arg CreateIncidentParams) (Incident, error)
	CreateIncidentSource(ctx context.Context, arg CreateIncidentSourceParams) (IncidentSource, error)
}

// IngestStore is everything the ingestion pipeline touches.
type IngestStore interface {
	QueueStore
	IncidentStore
}

// FeedStore manages the news_feeds table.
type FeedStore interface {
	ListNewsFeeds(ctx context.Context) ([]NewsFeed, error)
	CreateNewsFeed(ctx context.Context, arg CreateNewsFeedParams) (NewsFeed, error)
	SetNewsFeedActive(ctx context.Context, id string, active bool) (NewsFeed, error)
	DeleteNewsFeed(ctx context.Context, id string) error
}

// Repository interface for database operations
type Repository interface {
	IngestStore
	FeedStore
	GetQueueEntry(ctx context.Context, articleURL string) (QueueEntry, error)
	ListIncidents(ctx context.Context, arg ListIncidentsParams) ([]Incident, error)
	GetIncident(ctx context.Context, id string) (Incident, error)
	ListIncidentSources(ctx context.Context, incidentID string) ([]IncidentSource, error)
	GetIncidentStats(ctx context.Context) (IncidentStats, error)
	Ping(ctx context.Context) error
}
