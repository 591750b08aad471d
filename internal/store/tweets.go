package store

import (
	"context"
	"fmt"
	"sync"

	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
	"golang.org/x/sync/errgroup"
)

// lookupConcurrency caps parallel point reads in GetTweets.
const lookupConcurrency = 16

// SaveTweet stores a new tweet under a fresh time-ordered id.
func (s *Store) SaveTweet(ctx context.Context, author, body string) (gocql.UUID, error) {
	id := s.IDs.NewID()
	if err := s.exec(ctx,
		`INSERT INTO tweets (id, username, body) VALUES (?, ?, ?)`,
		id, author, body,
	); err != nil {
		logg.Error("store", "Failed to save tweet", err)
		return gocql.UUID{}, fmt.Errorf("save tweet: %w", err)
	}
	return id, nil
}

func (s *Store) GetTweet(ctx context.Context, id gocql.UUID) (models.Tweet, error) {
	t := models.Tweet{ID: id}
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		return s.Session.Query(
			`SELECT username, body FROM tweets WHERE id = ?`,
			id,
		).WithContext(ctx).Scan(&t.Author, &t.Body)
	})
	if err != nil {
		return models.Tweet{}, fmt.Errorf("get tweet %s: %w", id, err)
	}
	return t, nil
}

// GetTweets fans point lookups out over a bounded pool. Missing ids are
// left out of the result.
func (s *Store) GetTweets(ctx context.Context, ids []gocql.UUID) (map[gocql.UUID]models.Tweet, error) {
	var mu sync.Mutex
	res := make(map[gocql.UUID]models.Tweet, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			t, err := s.GetTweet(gctx, id)
			if isNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			res[id] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logg.Error("store", "Failed to look up tweets", err)
		return nil, err
	}
	return res, nil
}
