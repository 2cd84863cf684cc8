package incidents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"incident-monitor/internal/cache"
	"incident-monitor/internal/repo"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrInvalidFilter is returned when a list filter cannot be parsed.
var ErrInvalidFilter = errors.New("invalid filter")

// Store is the read side of the repository.
type Store interface {
	ListIncidents(ctx context.Context, arg repo.ListIncidentsParams) ([]repo.Incident, error)
	GetIncident(ctx context.Context, id string) (repo.Incident, error)
	ListIncidentSources(ctx context.Context, incidentID string) ([]repo.IncidentSource, error)
	GetIncidentStats(ctx context.Context) (repo.IncidentStats, error)
}

type statsCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Service handles incident retrieval for the dashboard API
type Service struct {
	store Store
	cache statsCache
}

// NewService creates a Service. redisCache may be nil.
func NewService(store Store, redisCache *cache.RedisCache) *Service {
	s := &Service{store: store}
	// Keep the interface nil when there is no Redis
	if redisCache != nil {
		s.cache = redisCache
	}
	return s
}

// ListRequest holds the raw query filters of a list call
type ListRequest struct {
	DateFrom      string
	DateTo        string
	Region        string
	Province      string
	MinFatalities string
	AccidentType  string
	Query         string
	Limit         string
}

// ListResponse represents the list payload
type ListResponse struct {
	Incidents []repo.Incident `json:"incidents"`
	Meta      MetaInfo        `json:"meta"`
}

// MetaInfo represents metadata about the response
type MetaInfo struct {
	Total int `json:"total"`
	Limit int `json:"limit"`
}

func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	params, err := req.params()
	if err != nil {
		return nil, err
	}

	incidents, err := s.store.ListIncidents(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	if incidents == nil {
		incidents = []repo.Incident{}
	}

	return &ListResponse{
		Incidents: incidents,
		Meta:      MetaInfo{Total: len(incidents), Limit: int(params.Limit)},
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*repo.Incident, error) {
	incident, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// Sources lists the articles linked to an incident, newest first.
func (s *Service) Sources(ctx context.Context, id string) ([]repo.IncidentSource, error) {
	if _, err := s.store.GetIncident(ctx, id); err != nil {
		return nil, err
	}
	sources, err := s.store.ListIncidentSources(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	if sources == nil {
		sources = []repo.IncidentSource{}
	}
	return sources, nil
}

// Stats returns the aggregate counters, served from Redis when cached.
func (s *Service) Stats(ctx context.Context) (*repo.IncidentStats, error) {
	key := cache.StatsKey()
	if s.cache != nil {
		var cached repo.IncidentStats
		err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrKeyNotFound) {
			log.Warn().Err(err).Msg("Stats cache read failed")
		}
	}

	stats, err := s.store.GetIncidentStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, cache.StatsTTL); err != nil {
			log.Warn().Err(err).Msg("Stats cache write failed")
		}
	}
	return &stats, nil
}

// InvalidateStats drops the cached stats so the next read recomputes them.
func (s *Service) InvalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cache.StatsKey()); err != nil {
		log.Warn().Err(err).Msg("Stats cache invalidation failed")
	}
}

func (r ListRequest) params() (repo.ListIncidentsParams, error) {
	p := repo.ListIncidentsParams{
		Region:       strings.TrimSpace(r.Region),
		Province:     strings.ToUpper(strings.TrimSpace(r.Province)),
		AccidentType: strings.TrimSpace(r.AccidentType),
		Search:       strings.TrimSpace(r.Query),
		Limit:        DefaultLimit,
	}

	for _, d := range []struct {
		name  string
		value string
		dst   *string
	}{
		{"date_from", r.DateFrom, &p.DateFrom},
		{"date_to", r.DateTo, &p.DateTo},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d.value); err != nil {
			return p, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidFilter, d.name)
		}
		*d.dst = d.value
	}

	if r.MinFatalities != "" {
		n, err := strconv.Atoi(r.MinFatalities)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: min_fatalities must be a non-negative integer", ErrInvalidFilter)
		}
		p.MinFatalities = n
	}

	if r.Limit != "" {
		n, err := strconv.Atoi(r.Limit)
		if err != nil || n <= 0 {
			return p, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidFilter)
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		p.Limit = int32(n)
	}
	return p, nil
}
