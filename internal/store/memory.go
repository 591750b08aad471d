package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// Operation names passed to a Fault.
const (
	OpGetUser      = "GetUser"
	OpSaveUser     = "SaveUser"
	OpGetFollowees = "GetFollowees"
	OpGetFollowers = "GetFollowers"
	OpAddFriends   = "AddFriends"
	OpRemoveFriend = "RemoveFriend"
	OpSaveTweet    = "SaveTweet"
	OpGetTweet     = "GetTweet"
	OpAddToLine    = "AddToLine"
	OpScanLine     = "ScanLine"
)

// Fault lets tests fail individual storage calls. key is the username, tweet
// id, or "line/owner" the call targets. It must be safe for concurrent use.
type Fault func(op, key string) error

// MemStore is an in-process implementation of StoreInterface. It backs
// STORE_BACKEND=memory and the tests.
type MemStore struct {
	IDs   IDGenerator
	Retry RetryPolicy
	Fault Fault

	mu     sync.RWMutex
	users  map[string]string
	edges  map[gocql.UUID]models.FollowEdge
	tweets map[gocql.UUID]models.Tweet
	lines  map[string][]gocql.UUID // "line/owner" -> ids, newest first
}

// NewMemory returns an empty MemStore with wall-clock ids and a fast retry policy.
func NewMemory() *MemStore {
	return &MemStore{
		IDs: TimeIDs{},
		Retry: RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
		},
		users:  make(map[string]string),
		edges:  make(map[gocql.UUID]models.FollowEdge),
		tweets: make(map[gocql.UUID]models.Tweet),
		lines:  make(map[string][]gocql.UUID),
	}
}

func (m *MemStore) Close() {}

func (m *MemStore) do(ctx context.Context, op, key string, fn func() error) error {
	return m.Retry.Do(ctx, func(ctx context.Context) error {
		if m.Fault != nil {
			if err := m.Fault(op, key); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn()
	})
}

// --- UserDirectory ---

func (m *MemStore) GetUser(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := m.do(ctx, OpGetUser, username, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		pw, ok := m.users[username]
		if !ok {
			return ErrNotFound
		}
		u = models.User{Username: username, Password: pw}
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (m *MemStore) SaveUser(ctx context.Context, username, password string) error {
	if username == models.PublicOwnerKey {
		return fmt.Errorf("save user %q: %w", username, ErrReservedOwner)
	}
	return m.do(ctx, OpSaveUser, username, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.users[username] = password
		return nil
	})
}

// --- FriendGraph ---

func (m *MemStore) GetFollowees(ctx context.Context, username string, limit int) ([]string, error) {
	return m.friends(ctx, OpGetFollowees, username, limit, func(e models.FollowEdge) (string, bool) {
		return e.Followee, e.Follower == username
	})
}

func (m *MemStore) GetFollowers(ctx context.Context, username string, limit int) ([]string, error) {
	return m.friends(ctx, OpGetFollowers, username, limit, func(e models.FollowEdge) (string, bool) {
		return e.Follower, e.Followee == username
	})
}

func (m *MemStore) friends(ctx context.Context, op, username string, limit int, match func(models.FollowEdge) (string, bool)) ([]string, error) {
	if limit <= 0 {
		limit = DefaultFriendLimit
	}
	var res []string
	err := m.do(ctx, op, username, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		res = res[:0]
		seen := make(map[string]struct{})
		for _, e := range m.edges {
			name, ok := match(e)
			if !ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			res = append(res, name)
			if len(res) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read follow edges: %w", err)
	}
	return res, nil
}

func (m *MemStore) AddFriends(ctx context.Context, from string, to []string) error {
	if err := checkEdgeOwners(from, to); err != nil {
		return err
	}
	for _, followee := range to {
		err := m.do(ctx, OpAddFriends, from, func() error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if len(m.edgeIDsLocked(from, followee)) > 0 {
				return nil
			}
			id := gocql.UUID(uuid.New())
			m.edges[id] = models.FollowEdge{ID: id, Follower: from, Followee: followee}
			return nil
		})
		if err != nil {
			return fmt.Errorf("add friend: %w", err)
		}
	}
	return nil
}

// InsertEdge stores an edge as-is, bypassing the duplicate check in AddFriends.
func (m *MemStore) InsertEdge(e models.FollowEdge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == (gocql.UUID{}) {
		e.ID = gocql.UUID(uuid.New())
	}
	m.edges[e.ID] = e
}

func (m *MemStore) RemoveFriend(ctx context.Context, from, to string) (int, error) {
	removed := 0
	err := m.do(ctx, OpRemoveFriend, from, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		ids := m.edgeIDsLocked(from, to)
		if len(ids) == 0 {
			return fmt.Errorf("follow edge %s -> %s: %w", from, to, ErrNotFound)
		}
		for _, id := range ids {
			delete(m.edges, id)
		}
		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 1 {
		return removed, fmt.Errorf("follow edge %s -> %s had %d copies: %w", from, to, removed, ErrIntegrity)
	}
	return removed, nil
}

func (m *MemStore) edgeIDsLocked(from, to string) []gocql.UUID {
	var ids []gocql.UUID
	for id, e := range m.edges {
		if e.Follower == from && e.Followee == to {
			ids = append(ids, id)
		}
	}
	return ids
}

// --- TweetStore ---

func (m *MemStore) SaveTweet(ctx context.Context, author, body string) (gocql.UUID, error) {
	id := m.IDs.NewID()
	err := m.do(ctx, OpSaveTweet, author, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.tweets[id] = models.Tweet{ID: id, Author: author, Body: body}
		return nil
	})
	if err != nil {
		return gocql.UUID{}, fmt.Errorf("save tweet: %w", err)
	}
	return id, nil
}

func (m *MemStore) GetTweet(ctx context.Context, id gocql.UUID) (models.Tweet, error) {
	var t models.Tweet
	err := m.do(ctx, OpGetTweet, id.String(), func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		found, ok := m.tweets[id]
		if !ok {
			return ErrNotFound
		}
		t = found
		return nil
	})
	if err != nil {
		return models.Tweet{}, fmt.Errorf("get tweet %s: %w", id, err)
	}
	return t, nil
}

func (m *MemStore) GetTweets(ctx context.Context, ids []gocql.UUID) (map[gocql.UUID]models.Tweet, error) {
	res := make(map[gocql.UUID]models.Tweet, len(ids))
	for _, id := range ids {
		t, err := m.GetTweet(ctx, id)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res[id] = t
	}
	return res, nil
}

// --- LineStore ---

func lineKey(line models.Line, owner models.FeedOwner) string {
	return string(line) + "/" + owner.Key()
}

func (m *MemStore) AddToLine(ctx context.Context, line models.Line, owner models.FeedOwner, id gocql.UUID) error {
	if _, err := lineTable(line); err != nil {
		return err
	}
	key := lineKey(line, owner)
	err := m.do(ctx, OpAddToLine, key, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		ids := m.lines[key]
		i := sort.Search(len(ids), func(i int) bool { return compareIDs(ids[i], id) <= 0 })
		if i < len(ids) && ids[i] == id {
			return nil
		}
		ids = append(ids, gocql.UUID{})
		copy(ids[i+1:], ids[i:])
		ids[i] = id
		m.lines[key] = ids
		return nil
	})
	if err != nil {
		return fmt.Errorf("add to %s: %w", line, err)
	}
	return nil
}

func (m *MemStore) ScanLine(ctx context.Context, line models.Line, owner models.FeedOwner, start gocql.UUID, limit int) ([]gocql.UUID, error) {
	if _, err := lineTable(line); err != nil {
		return nil, err
	}
	key := lineKey(line, owner)
	var res []gocql.UUID
	err := m.do(ctx, OpScanLine, key, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		ids := m.lines[key]
		i := 0
		if start != (gocql.UUID{}) {
			i = sort.Search(len(ids), func(i int) bool { return compareIDs(ids[i], start) <= 0 })
		}
		end := len(ids)
		if limit > 0 && i+limit < end {
			end = i + limit
		}
		res = append([]gocql.UUID(nil), ids[i:end]...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", line, err)
	}
	return res, nil
}

// FailTimes returns a Fault that fails the first n calls of op on key with err.
// An empty key matches every key; a negative n fails forever.
func FailTimes(n int, op, key string, err error) Fault {
	var mu sync.Mutex
	left := n
	return func(gotOp, gotKey string) error {
		if gotOp != op || (key != "" && gotKey != key) {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if left == 0 {
			return nil
		}
		if left > 0 {
			left--
		}
		return err
	}
}

// LineKey exposes the key Fault receives for AddToLine and ScanLine.
func LineKey(line models.Line, owner models.FeedOwner) string { return lineKey(line, owner) }
