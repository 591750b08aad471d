package store

import (
	"context"
	"errors"
	"fmt"

	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
)

// AddToLine writes a membership marker for id into the owner's line.
func (s *Store) AddToLine(ctx context.Context, line models.Line, owner models.FeedOwner, id gocql.UUID) error {
	table, err := lineTable(line)
	if err != nil {
		return err
	}
	if err := s.exec(ctx,
		`INSERT INTO `+table+` (username, tweet_id) VALUES (?, ?)`,
		owner.Key(), id,
	); err != nil {
		logg.Error("store", "Failed to add marker to "+table, err)
		return fmt.Errorf("add to %s: %w", table, err)
	}
	return nil
}

// ScanLine reads markers newest first. Rows are clustered by tweet_id DESC,
// so an inclusive upper bound resumes exactly at the cursor.
func (s *Store) ScanLine(ctx context.Context, line models.Line, owner models.FeedOwner, start gocql.UUID, limit int) ([]gocql.UUID, error) {
	table, err := lineTable(line)
	if err != nil {
		return nil, err
	}

	stmt := `SELECT tweet_id FROM ` + table + ` WHERE username = ? LIMIT ?`
	values := []interface{}{owner.Key(), limit}
	if start != (gocql.UUID{}) {
		stmt = `SELECT tweet_id FROM ` + table + ` WHERE username = ? AND tweet_id <= ? LIMIT ?`
		values = []interface{}{owner.Key(), start, limit}
	}

	ids := make([]gocql.UUID, 0, limit)
	err = s.Retry.Do(ctx, func(ctx context.Context) error {
		ids = ids[:0]
		iter := s.Session.Query(stmt, values...).WithContext(ctx).Iter()
		var id gocql.UUID
		for iter.Scan(&id) {
			ids = append(ids, id)
		}
		return iter.Close()
	})
	if err != nil {
		logg.Error("store", "Failed to scan "+table, err)
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return ids, nil
}

func lineTable(line models.Line) (string, error) {
	switch line {
	case models.Userline, models.Timeline:
		return string(line), nil
	}
	return "", fmt.Errorf("unknown line %q", line)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
