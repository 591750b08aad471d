package store

import (
	"context"
	"fmt"

	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// DefaultFriendLimit bounds follower and followee snapshot reads.
const DefaultFriendLimit = 5000

// GetFollowees returns up to limit usernames that username follows.
func (s *Store) GetFollowees(ctx context.Context, username string, limit int) ([]string, error) {
	return s.friendColumn(ctx,
		`SELECT followed FROM following WHERE followed_by = ? LIMIT ?`,
		username, limit,
	)
}

// GetFollowers returns up to limit usernames following username.
func (s *Store) GetFollowers(ctx context.Context, username string, limit int) ([]string, error) {
	return s.friendColumn(ctx,
		`SELECT followed_by FROM following WHERE followed = ? LIMIT ?`,
		username, limit,
	)
}

func (s *Store) friendColumn(ctx context.Context, stmt, username string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultFriendLimit
	}

	var res []string
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		res = res[:0]
		seen := make(map[string]struct{})
		iter := s.Session.Query(stmt, username, limit).WithContext(ctx).Iter()
		var name string
		for iter.Scan(&name) {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			res = append(res, name)
		}
		return iter.Close()
	})
	if err != nil {
		logg.Error("store", "Failed to read follow edges", err)
		return nil, fmt.Errorf("read follow edges: %w", err)
	}
	return res, nil
}

// AddFriends creates a follow edge from -> to for each target that is not
// already followed.
func (s *Store) AddFriends(ctx context.Context, from string, to []string) error {
	if err := checkEdgeOwners(from, to); err != nil {
		return err
	}
	for _, followee := range to {
		existing, err := s.edgeIDs(ctx, from, followee)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		id := gocql.UUID(uuid.New())
		if err := s.exec(ctx,
			`INSERT INTO following (id, followed, followed_by) VALUES (?, ?, ?)`,
			id, followee, from,
		); err != nil {
			logg.Error("store", "Failed to create follow edge", err)
			return fmt.Errorf("add friend: %w", err)
		}
	}
	return nil
}

// RemoveFriend deletes the edge from -> to and returns how many edges were
// removed. Zero matches is ErrNotFound. More than one match means duplicate
// edges slipped in; all are removed and ErrIntegrity is returned with the count.
func (s *Store) RemoveFriend(ctx context.Context, from, to string) (int, error) {
	ids, err := s.edgeIDs(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("follow edge %s -> %s: %w", from, to, ErrNotFound)
	}

	removed := 0
	for _, id := range ids {
		if err := s.exec(ctx, `DELETE FROM following WHERE id = ?`, id); err != nil {
			logg.Error("store", "Failed to delete follow edge", err)
			return removed, fmt.Errorf("remove friend: %w", err)
		}
		removed++
	}

	if removed > 1 {
		logg.Warn("store", fmt.Sprintf("Removed %d duplicate follow edges", removed), nil)
		return removed, fmt.Errorf("follow edge %s -> %s had %d copies: %w", from, to, removed, ErrIntegrity)
	}
	return removed, nil
}

func (s *Store) edgeIDs(ctx context.Context, from, to string) ([]gocql.UUID, error) {
	var ids []gocql.UUID
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		ids = ids[:0]
		iter := s.Session.Query(
			`SELECT id FROM following WHERE followed = ? AND followed_by = ? ALLOW FILTERING`,
			to, from,
		).WithContext(ctx).Iter()
		var id gocql.UUID
		for iter.Scan(&id) {
			ids = append(ids, id)
		}
		return iter.Close()
	})
	if err != nil {
		logg.Error("store", "Failed to look up follow edge", err)
		return nil, fmt.Errorf("look up follow edge: %w", err)
	}
	return ids, nil
}

// checkEdgeOwners rejects follow edges touching the public feed key, which
// would otherwise fan tweets out into a timeline row named after it.
func checkEdgeOwners(from string, to []string) error {
	if from == models.PublicOwnerKey {
		return fmt.Errorf("follow from %q: %w", from, ErrReservedOwner)
	}
	for _, followee := range to {
		if followee == models.PublicOwnerKey {
			return fmt.Errorf("follow %q: %w", followee, ErrReservedOwner)
		}
	}
	return nil
}
