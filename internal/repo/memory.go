package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory. It backs tests and
// `serve --memory`.
type MemoryRepository struct {
	mu        sync.RWMutex
	queue     map[string]QueueEntry
	incidents []Incident
	sources   []IncidentSource
	feeds     []NewsFeed
	now       func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		queue: make(map[string]QueueEntry),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) UpsertQueueEntry(ctx context.Context, arg UpsertQueueEntryParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.queue[arg.ArticleURL]
	if !exists {
		entry = QueueEntry{ArticleURL: arg.ArticleURL, CreatedAt: r.now()}
	}
	entry.ArticleTitle = arg.ArticleTitle
	entry.ArticleSnippet = arg.ArticleSnippet
	entry.Status = arg.Status
	r.queue[arg.ArticleURL] = entry
	return nil
}

func (r *MemoryRepository) MarkQueueProcessed(ctx context.Context, arg MarkQueueProcessedParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.queue[arg.ArticleURL]
	if !exists {
		return nil
	}
	processedAt := arg.ProcessedAt
	entry.Status = QueueProcessed
	entry.ProcessedAt = &processedAt
	r.queue[arg.ArticleURL] = entry
	return nil
}

func (r *MemoryRepository) GetQueueEntry(ctx context.Context, articleURL string) (QueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.queue[articleURL]
	if !exists {
		return QueueEntry{}, fmt.Errorf("queue entry %s: %w", articleURL, ErrNotFound)
	}
	return entry, nil
}

// QueueLen reports the number of queue rows.
func (r *MemoryRepository) QueueLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queue)
}

func (r *MemoryRepository) FindIncidentCandidates(ctx context.Context, arg FindIncidentCandidatesParams) ([]IncidentCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []IncidentCandidate
	for _, inc := range r.incidents {
		if inc.EventDate != arg.EventDate || !CityMatches(inc.City, arg.City) {
			continue
		}
		results = append(results, IncidentCandidate{ID: inc.ID, City: inc.City, EventDate: inc.EventDate})
		if arg.Limit > 0 && len(results) >= int(arg.Limit) {
			break
		}
	}
	return results, nil
}

func (r *MemoryRepository) CreateIncident(ctx context.Context, arg CreateIncidentParams) (Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	incident := Incident{
		ID:                  uuid.NewString(),
		EventDate:           arg.EventDate,
		EventTime:           arg.EventTime,
		City:                arg.City,
		Province:            arg.Province,
		Region:              arg.Region,
		RoadName:            arg.RoadName,
		DeceasedCount:       arg.DeceasedCount,
		InjuredCount:        arg.InjuredCount,
		AccidentType:        arg.AccidentType,
		DynamicsDescription: arg.DynamicsDescription,
		VictimDetails:       arg.VictimDetails,
		AISummary:           arg.AISummary,
		ConfidenceScore:     arg.ConfidenceScore,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	r.incidents = append(r.incidents, incident)
	return incident, nil
}

func (r *MemoryRepository) CreateIncidentSource(ctx context.Context, arg CreateIncidentSourceParams) (IncidentSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(arg.IncidentID) < 0 {
		return IncidentSource{}, fmt.Errorf("incident %s: %w", arg.IncidentID, ErrNotFound)
	}

	fetchedAt := arg.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = r.now()
	}
	source := IncidentSource{
		ID:           uuid.NewString(),
		IncidentID:   arg.IncidentID,
		SourceName:   arg.SourceName,
		ArticleURL:   arg.ArticleURL,
		ArticleTitle: arg.ArticleTitle,
		PublishedAt:  arg.PublishedAt,
		RawSnippet:   arg.RawSnippet,
		FetchedAt:    fetchedAt,
		CreatedAt:    r.now(),
	}
	r.sources = append(r.sources, source)
	return source, nil
}

func (r *MemoryRepository) ListIncidents(ctx context.Context, arg ListIncidentsParams) ([]Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(arg.Search)
	results := []Incident{}
	for _, inc := range r.incidents {
		if inc.IsArchived {
			continue
		}
		if arg.DateFrom != "" && inc.EventDate < arg.DateFrom {
			continue
		}
		if arg.DateTo != "" && inc.EventDate > arg.DateTo {
			continue
		}
		if arg.Region != "" && deref(inc.Region) != arg.Region {
			continue
		}
		if arg.Province != "" && deref(inc.Province) != arg.Province {
			continue
		}
		if arg.MinFatalities > 0 && inc.DeceasedCount < arg.MinFatalities {
			continue
		}
		if arg.AccidentType != "" && inc.AccidentType != arg.AccidentType {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(inc.City), search) &&
			!strings.Contains(strings.ToLower(deref(inc.DynamicsDescription)), search) {
			continue
		}
		results = append(results, inc)
	}

	// Sort by event date (most recent first)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].EventDate > results[j].EventDate
	})

	if arg.Limit > 0 && len(results) > int(arg.Limit) {
		results = results[:arg.Limit]
	}
	return results, nil
}

func (r *MemoryRepository) GetIncident(ctx context.Context, id string) (Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return r.incidents[idx], nil
}

func (r *MemoryRepository) ListIncidentSources(ctx context.Context, incidentID string) ([]IncidentSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []IncidentSource{}
	for _, src := range r.sources {
		if src.IncidentID == incidentID {
			results = append(results, src)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FetchedAt.After(results[j].FetchedAt)
	})
	return results, nil
}

func (r *MemoryRepository) GetIncidentStats(ctx context.Context) (IncidentStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := IncidentStats{ByRegion: map[string]int{}, ByType: map[string]int{}}
	for _, inc := range r.incidents {
		if inc.IsArchived {
			continue
		}
		stats.add(inc.Region, inc.AccidentType, inc.DeceasedCount)
	}
	return stats, nil
}

func (r *MemoryRepository) indexOf(id string) int {
	for i := range r.incidents {
		if r.incidents[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *IncidentStats) add(region *string, accidentType string, deceased int) {
	s.TotalIncidents++
	s.TotalDeceased += deceased
	if region != nil && *region != "" {
		s.ByRegion[*region]++
	}
	if accidentType != "" {
		s.ByType[accidentType]++
	}
}

// CityMatches is the duplicate heuristic on city names: the stored city
// contains the extracted one, ignoring case. Empty names never match.
func CityMatches(existing, extracted string) bool {
	a := strings.ToLower(strings.TrimSpace(existing))
	b := strings.ToLower(strings.TrimSpace(extracted))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *MemoryRepository) ListNewsFeeds(ctx context.Context) ([]NewsFeed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Newest first; later inserts win ties on created_at
	results := make([]NewsFeed, 0, len(r.feeds))
	for i := len(r.feeds) - 1; i >= 0; i-- {
		results = append(results, r.feeds[i])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func (r *MemoryRepository) CreateNewsFeed(ctx context.Context, arg CreateNewsFeedParams) (NewsFeed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	feed := NewsFeed{
		ID:        uuid.NewString(),
		Name:      arg.Name,
		FeedURL:   arg.FeedURL,
		FeedType:  arg.FeedType,
		IsActive:  true,
		CreatedAt: r.now(),
	}
	r.feeds = append(r.feeds, feed)
	return feed, nil
}

func (r *MemoryRepository) SetNewsFeedActive(ctx context.Context, id string, active bool) (NewsFeed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.feeds {
		if r.feeds[i].ID == id {
			r.feeds[i].IsActive = active
			return r.feeds[i], nil
		}
	}
	return NewsFeed{}, fmt.Errorf("feed %s: %w", id, ErrNotFound)
}

func (r *MemoryRepository) DeleteNewsFeed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.feeds {
		if r.feeds[i].ID == id {
			r.feeds = append(r.feeds[:i], r.feeds[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("feed %s: %w", id, ErrNotFound)
}
