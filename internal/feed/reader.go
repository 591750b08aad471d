// Package feed implements the denormalized timeline core: the paginated
// line reader and the fan-out writer that projects each tweet into the
// author's userline, the public feed and every follower's timeline.
package feed

import (
	"context"
	"fmt"

	"example.com/twissandra/internal/logger"
	"example.com/twissandra/internal/models"
	"example.com/twissandra/internal/store"
	"github.com/gocql/gocql"
)

var logg = logger.New()

// DefaultPageSize is used when a caller asks for a non-positive limit.
const DefaultPageSize = 40

// Reader assembles pages of tweets from a line scan and a tweet lookup.
type Reader struct {
	lines  store.LineStore
	tweets store.TweetStore
}

func NewReader(lines store.LineStore, tweets store.TweetStore) *Reader {
	return &Reader{lines: lines, tweets: tweets}
}

// GetPage returns up to limit tweets from the owner's line, newest first,
// beginning at cursor. A zero cursor starts at the newest marker. One extra
// marker is read to tell whether another page exists; its id becomes Next.
func (r *Reader) GetPage(ctx context.Context, line models.Line, owner models.FeedOwner, cursor gocql.UUID, limit int) (models.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	ids, err := r.lines.ScanLine(ctx, line, owner, cursor, limit+1)
	if err != nil {
		return models.Page{}, err
	}
	if len(ids) == 0 {
		return models.Page{Tweets: []models.Tweet{}}, nil
	}

	var next *gocql.UUID
	if len(ids) > limit {
		n := ids[limit]
		next = &n
		ids = ids[:limit]
	}

	found, err := r.tweets.GetTweets(ctx, ids)
	if err != nil {
		return models.Page{}, err
	}

	tweets := make([]models.Tweet, 0, len(ids))
	for _, id := range ids {
		t, ok := found[id]
		if !ok {
			logg.Error("feed", "Marker in "+string(line)+" references a missing tweet", nil)
			return models.Page{}, fmt.Errorf("%s of %s references tweet %s: %w", line, owner, id, store.ErrIntegrity)
		}
		tweets = append(tweets, t)
	}
	return models.Page{Tweets: tweets, Next: next}, nil
}

// Userline returns a page of the user's own tweets.
func (r *Reader) Userline(ctx context.Context, username string, cursor gocql.UUID, limit int) (models.Page, error) {
	return r.GetPage(ctx, models.Userline, models.UserFeed(username), cursor, limit)
}

// Timeline returns a page of tweets from everyone the user follows, plus their own.
func (r *Reader) Timeline(ctx context.Context, username string, cursor gocql.UUID, limit int) (models.Page, error) {
	return r.GetPage(ctx, models.Timeline, models.UserFeed(username), cursor, limit)
}

// Public returns a page of the global feed.
func (r *Reader) Public(ctx context.Context, cursor gocql.UUID, limit int) (models.Page, error) {
	return r.GetPage(ctx, models.Userline, models.PublicFeed, cursor, limit)
}
