package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SeenSet remembers listing URLs stored by earlier runs, per source
type SeenSet struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewSeenSet creates a new Redis-based seen-set
func NewSeenSet(client *redis.Client, prefix string, defaultTTL time.Duration) *SeenSet {
	if prefix == "" {
		prefix = "seen"
	}
	if defaultTTL == 0 {
		defaultTTL = 24 * time.Hour * 30 // 30 days default
	}
	return &SeenSet{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
	}
}

// IsSeen checks if a listing URL has been seen before
func (s *SeenSet) IsSeen(ctx context.Context, source domain.SourceKey, url string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.makeKey(source, url)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return exists > 0, nil
}

// AllSeen reports whether every URL was seen. An empty page is never
// considered unchanged.
func (s *SeenSet) AllSeen(ctx context.Context, source domain.SourceKey, urls []string) (bool, error) {
	if len(urls) == 0 {
		return false, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(urls))
	for i, u := range urls {
		cmds[i] = pipe.Exists(ctx, s.makeKey(source, u))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	for _, c := range cmds {
		if c.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}

// MarkSeen marks listing URLs as seen with the default TTL, refreshing
// the TTL of those already known
func (s *SeenSet) MarkSeen(ctx context.Context, source domain.SourceKey, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	now := time.Now().Unix()
	pipe := s.client.Pipeline()
	for _, u := range urls {
		pipe.Set(ctx, s.makeKey(source, u), now, s.defaultTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// MarkListings marks every listing under its own source
func (s *SeenSet) MarkListings(ctx context.Context, listings []domain.Listing) error {
	bySource := make(map[domain.SourceKey][]string)
	for _, l := range listings {
		bySource[l.Source] = append(bySource[l.Source], l.URL)
	}
	for source, urls := range bySource {
		if err := s.MarkSeen(ctx, source, urls); err != nil {
			return err
		}
	}
	return nil
}

func (s *SeenSet) makeKey(source domain.SourceKey, url string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, source, hashContent(url))
}
