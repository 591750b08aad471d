package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	config "example.com/twissandra/internal/init"
	"example.com/twissandra/internal/logger"
	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var logg = logger.New()

// --- Interfaces ---

type SessionInterface interface {
	Query(stmt string, values ...interface{}) *gocql.Query
	Close()
}

// UserDirectory stores user credential records.
type UserDirectory interface {
	GetUser(ctx context.Context, username string) (models.User, error)
	SaveUser(ctx context.Context, username, password string) error
}

// FriendGraph stores follow edges.
type FriendGraph interface {
	GetFollowees(ctx context.Context, username string, limit int) ([]string, error)
	GetFollowers(ctx context.Context, username string, limit int) ([]string, error)
	AddFriends(ctx context.Context, from string, to []string) error
	RemoveFriend(ctx context.Context, from, to string) (int, error)
}

// TweetStore stores immutable tweet records.
type TweetStore interface {
	SaveTweet(ctx context.Context, author, body string) (gocql.UUID, error)
	GetTweet(ctx context.Context, id gocql.UUID) (models.Tweet, error)
	// GetTweets returns the tweets it found; unknown ids are absent from the map.
	GetTweets(ctx context.Context, ids []gocql.UUID) (map[gocql.UUID]models.Tweet, error)
}

// LineStore holds owner-keyed, newest-first sets of tweet id markers.
type LineStore interface {
	AddToLine(ctx context.Context, line models.Line, owner models.FeedOwner, id gocql.UUID) error
	// ScanLine returns up to limit ids, newest first, starting at start
	// inclusive. A zero start scans from the newest marker.
	ScanLine(ctx context.Context, line models.Line, owner models.FeedOwner, start gocql.UUID, limit int) ([]gocql.UUID, error)
}

type StoreInterface interface {
	UserDirectory
	FriendGraph
	TweetStore
	LineStore
	Close()
}

// --- Store Implementation ---

type Store struct {
	Session SessionInterface
	IDs     IDGenerator
	Retry   RetryPolicy
}

// New initializes the configured storage backend.
func New(cfg *config.Config) (StoreInterface, error) {
	policy := PolicyFromConfig(cfg)
	if cfg.StoreBackend == config.BackendMemory {
		logg.Info("store", "Using in-memory store")
		m := NewMemory()
		m.Retry = policy
		return m, nil
	}

	if cfg.CassandraMigrate {
		if err := ensureKeyspace(cfg); err != nil {
			return nil, fmt.Errorf("failed to ensure keyspace: %w", err)
		}
		if err := runMigrations(cfg); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	sess, err := newCluster(cfg, cfg.CassandraKeyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	logg.Info("store", "Connected to Cassandra keyspace (host anonymized)")
	return &Store{Session: sess, IDs: TimeIDs{}, Retry: policy}, nil
}

// PolicyFromConfig builds the retry policy every storage call runs under.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.StoreRetryTries,
		CallTimeout:     cfg.StoreCallTimeout,
		InitialInterval: cfg.StoreRetryInitial,
		MaxInterval:     cfg.StoreRetryMax,
	}
}

func newCluster(cfg *config.Config, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = cfg.CassandraTimeout
	cluster.ConnectTimeout = cfg.CassandraTimeout

	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.CassandraUsername,
			Password: cfg.CassandraPassword,
		}
	}

	if cfg.CassandraDC != "" {
		cluster.HostFilter = gocql.DataCentreHostFilter(cfg.CassandraDC)
	}
	return cluster
}

// --- Ensure keyspace exists before migrations ---

func ensureKeyspace(cfg *config.Config) error {
	sess, err := newCluster(cfg, "system").CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect to Cassandra system keyspace: %w", err)
	}
	defer sess.Close()

	query := fmt.Sprintf(`
        CREATE KEYSPACE IF NOT EXISTS %s
        WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1};
    `, cfg.CassandraKeyspace)

	if err := sess.Query(query).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	logg.Info("store", "Ensured Cassandra keyspace exists (keyspace name anonymized)")
	return nil
}

// --- Migration runner ---

func runMigrations(cfg *config.Config) error {
	sourceURL := fmt.Sprintf("file://%s", filepath.Clean(cfg.CassandraMigrations))
	dbURL := fmt.Sprintf(
		"cassandra://%s/%s?x-migrations-table=schema_migrations&x-multi-statement=true",
		cfg.CassandraHost, cfg.CassandraKeyspace,
	)

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logg.Info("store", "No new migrations to apply")
	} else {
		logg.Info("store", "Migrations applied successfully")
	}
	return nil
}

// exec runs one statement under the retry policy.
func (s *Store) exec(ctx context.Context, stmt string, values ...interface{}) error {
	return s.Retry.Do(ctx, func(ctx context.Context) error {
		return s.Session.Query(stmt, values...).WithContext(ctx).Exec()
	})
}

// Close gracefully closes Cassandra session.
func (s *Store) Close() {
	if s.Session != nil {
		s.Session.Close()
		logg.Info("store", "Cassandra session closed")
	}
}
