package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"example.com/twissandra/internal/models"
	"example.com/twissandra/internal/store"
)

const (
	DefaultConcurrency   = 20
	DefaultFollowerLimit = store.DefaultFriendLimit
)

// Report describes what happened to the follower fan-out of one tweet.
type Report struct {
	Delivered int
	Failures  []models.FanoutFailure
	Deferred  bool
}

// Dispatcher delivers a tweet to the timelines of its author and followers.
// A returned error means the fan-out could not be attempted in full; it never
// undoes the tweet.
//
// Report.Failures is only populated by inline delivery. A queued dispatch
// returns Deferred and the worker logs any timelines it misses, so callers
// never see those failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.FanoutJob) (Report, error)
}

// Writer posts tweets: it saves the tweet, writes the author's userline and
// the public feed, then hands follower fan-out to a Dispatcher.
type Writer struct {
	tweets     store.TweetStore
	lines      store.LineStore
	dispatcher Dispatcher
}

func NewWriter(tweets store.TweetStore, lines store.LineStore, dispatcher Dispatcher) *Writer {
	return &Writer{tweets: tweets, lines: lines, dispatcher: dispatcher}
}

// Post stores the tweet and projects it into every feed. Failures before the
// follower fan-out abort the post with ErrFatal; fan-out failures are attached
// to the result instead.
func (w *Writer) Post(ctx context.Context, author, body string) (models.PostResult, error) {
	if author == models.PublicOwnerKey {
		return models.PostResult{}, fmt.Errorf("post as %q: %w", author, store.ErrReservedOwner)
	}

	id, err := w.tweets.SaveTweet(ctx, author, body)
	if err != nil {
		return models.PostResult{}, fatal("save tweet", err)
	}
	if err := w.lines.AddToLine(ctx, models.Userline, models.UserFeed(author), id); err != nil {
		return models.PostResult{}, fatal("write userline", err)
	}
	if err := w.lines.AddToLine(ctx, models.Userline, models.PublicFeed, id); err != nil {
		return models.PostResult{}, fatal("write public feed", err)
	}

	report, err := w.dispatcher.Dispatch(ctx, models.FanoutJob{TweetID: id, Author: author})
	res := models.PostResult{
		TweetID:   id,
		Failures:  report.Failures,
		FanoutErr: err,
		Deferred:  report.Deferred,
	}
	if err != nil {
		logg.Warn("feed", "Follower fan-out could not run; tweet saved", err)
	} else if len(res.Failures) > 0 {
		logg.Warn("feed", fmt.Sprintf("Tweet missing from %d timelines", len(res.Failures)), res.Failures[0])
	}
	return res, nil
}

func fatal(step string, err error) error {
	if errors.Is(err, store.ErrFatal) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%s: %w: %w", step, store.ErrFatal, err)
}

// Deliverer writes timeline markers for {author} ∪ followers using a bounded
// pool of writers. It is the inline Dispatcher and the worker's job handler.
type Deliverer struct {
	friends       store.FriendGraph
	lines         store.LineStore
	concurrency   int
	followerLimit int
}

func NewDeliverer(friends store.FriendGraph, lines store.LineStore, concurrency, followerLimit int) *Deliverer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if followerLimit <= 0 {
		followerLimit = DefaultFollowerLimit
	}
	return &Deliverer{
		friends:       friends,
		lines:         lines,
		concurrency:   concurrency,
		followerLimit: followerLimit,
	}
}

func (d *Deliverer) Dispatch(ctx context.Context, job models.FanoutJob) (Report, error) {
	return d.Deliver(ctx, job)
}

// Deliver reads the author's followers and writes the tweet into every
// target timeline. If the follower read fails the author's own timeline is
// still written and the error is returned alongside the report.
func (d *Deliverer) Deliver(ctx context.Context, job models.FanoutJob) (Report, error) {
	followers, ferr := d.friends.GetFollowers(ctx, job.Author, d.followerLimit)
	if ferr != nil {
		ferr = fmt.Errorf("read followers of %s: %w", job.Author, ferr)
		followers = nil
	}

	targets := targetSet(job.Author, followers)
	failures := d.writeAll(ctx, job, targets)
	return Report{
		Delivered: len(targets) - len(failures),
		Failures:  failures,
	}, ferr
}

func (d *Deliverer) writeAll(ctx context.Context, job models.FanoutJob, targets []string) []models.FanoutFailure {
	var (
		mu       sync.Mutex
		failures []models.FanoutFailure
		wg       sync.WaitGroup
	)
	fail := func(target string, err error) {
		mu.Lock()
		failures = append(failures, models.FanoutFailure{Target: target, Err: err})
		mu.Unlock()
	}

	semaphore := make(chan struct{}, d.concurrency)
	for _, target := range targets {
		select {
		case <-ctx.Done():
			fail(target, ctx.Err())
			continue
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			if err := d.lines.AddToLine(ctx, models.Timeline, models.UserFeed(u), job.TweetID); err != nil {
				logg.Error("feed", "Failed to add tweet to timeline", err)
				fail(u, err)
			}
		}(target)
	}
	wg.Wait()
	return failures
}

// targetSet returns the author followed by each distinct follower.
func targetSet(author string, followers []string) []string {
	seen := map[string]struct{}{author: {}}
	targets := []string{author}
	for _, f := range followers {
		if _, ok := seen[f]; ok || f == "" {
			continue
		}
		seen[f] = struct{}{}
		targets = append(targets, f)
	}
	return targets
}
