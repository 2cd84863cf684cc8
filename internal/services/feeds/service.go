// Package feeds manages the news sources the dashboard monitors.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"incident-monitor/internal/repo"
)

const (
	TypeWeb        = "web"
	TypeRSS        = "rss"
	TypeGoogleNews = "google-news"
)

// ErrInvalidFeed is returned when a new feed is missing its name or has an unusable URL or type.
var ErrInvalidFeed = errors.New("invalid feed")

type Service struct {
	store repo.FeedStore
}

func NewService(store repo.FeedStore) *Service {
	return &Service{store: store}
}

// CreateRequest is the body of an add-feed call
type CreateRequest struct {
	Name     string `json:"name"`
	FeedURL  string `json:"feed_url"`
	FeedType string `json:"feed_type"`
}

// List returns every feed, newest first.
func (s *Service) List(ctx context.Context) ([]repo.NewsFeed, error) {
	feeds, err := s.store.ListNewsFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	if feeds == nil {
		feeds = []repo.NewsFeed{}
	}
	return feeds, nil
}

// Create adds an active feed. An empty type means a plain web page.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*repo.NewsFeed, error) {
	params, err := req.params()
	if err != nil {
		return nil, err
	}

	feed, err := s.store.CreateNewsFeed(ctx, params)
	if err != nil {
		return nil, err
	}
	log.Info().Str("feed_id", feed.ID).Str("feed_url", feed.FeedURL).Msg("Feed added")
	return &feed, nil
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (*repo.NewsFeed, error) {
	feed, err := s.store.SetNewsFeedActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	log.Info().Str("feed_id", id).Bool("active", active).Msg("Feed toggled")
	return &feed, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteNewsFeed(ctx, id); err != nil {
		return err
	}
	log.Info().Str("feed_id", id).Msg("Feed deleted")
	return nil
}

func (r CreateRequest) params() (repo.CreateNewsFeedParams, error) {
	p := repo.CreateNewsFeedParams{
		Name:     strings.TrimSpace(r.Name),
		FeedURL:  strings.TrimSpace(r.FeedURL),
		FeedType: strings.ToLower(strings.TrimSpace(r.FeedType)),
	}
	if p.Name == "" || p.FeedURL == "" {
		return p, fmt.Errorf("%w: name and feed_url are required", ErrInvalidFeed)
	}

	u, err := url.Parse(p.FeedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return p, fmt.Errorf("%w: feed_url must be an http or https URL", ErrInvalidFeed)
	}

	switch p.FeedType {
	case "":
		p.FeedType = TypeWeb
	case TypeWeb, TypeRSS, TypeGoogleNews:
	default:
		return p, fmt.Errorf("%w: feed_type must be one of %s, %s, %s", ErrInvalidFeed, TypeWeb, TypeRSS, TypeGoogleNews)
	}
	return p, nil
}
