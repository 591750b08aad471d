package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// App mode & server
	Mode          string
	ServerAddr    string
	ServerTLSCert string
	ServerTLSKey  string

	// Storage
	StoreBackend      string
	StoreCallTimeout  time.Duration
	StoreRetryTries   int
	StoreRetryInitial time.Duration
	StoreRetryMax     time.Duration

	// Cassandra
	CassandraHost       string
	CassandraKeyspace   string
	CassandraUsername   string
	CassandraPassword   string
	CassandraTimeout    time.Duration
	CassandraDC         string
	CassandraMigrate    bool
	CassandraMigrations string

	// Fan-out and feeds
	FanoutMode          string
	FanoutConcurrency   int
	FanoutFollowerLimit int
	FeedPageSize        int
	FeedMaxPageSize     int

	// Kafka
	KafkaBroker  string
	KafkaTopic   string
	KafkaGroupID string
	KafkaReadTO  time.Duration
	KafkaWriteTO time.Duration

	// Fan-out worker
	WorkerCount        int
	WorkerQueueSize    int
	WorkerDrainTimeout time.Duration
}

const (
	BackendCassandra = "cassandra"
	BackendMemory    = "memory"

	FanoutInline = "inline"
	FanoutQueue  = "queue"
)

var cfg *Config

// Init loads the config using Viper and returns it
func Init() *Config {
	v := viper.New()
	setDefaults(v)

	// Load env variables
	v.AutomaticEnv()

	// Optional config file support
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // ignore error if no file

	cfg = load(v)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("MODE", "server")
	v.SetDefault("SERVER_ADDR", ":8080")

	v.SetDefault("STORE_BACKEND", BackendCassandra)
	v.SetDefault("STORE_CALL_TIMEOUT", "2s")
	v.SetDefault("STORE_RETRY_ATTEMPTS", 3)
	v.SetDefault("STORE_RETRY_INITIAL", "50ms")
	v.SetDefault("STORE_RETRY_MAX", "1s")

	v.SetDefault("CASSANDRA_HOST", "localhost")
	v.SetDefault("CASSANDRA_KEYSPACE", "twissandra")
	v.SetDefault("CASSANDRA_TIMEOUT", "10s")
	v.SetDefault("CASSANDRA_MIGRATE", true)
	v.SetDefault("CASSANDRA_MIGRATIONS", "./migrations/cassandra")
	// Optional: Cassandra username/password/DC can be empty

	v.SetDefault("FANOUT_MODE", FanoutInline)
	v.SetDefault("FANOUT_CONCURRENCY", 20)
	v.SetDefault("FANOUT_FOLLOWER_LIMIT", 5000)
	v.SetDefault("FEED_PAGE_SIZE", 40)
	v.SetDefault("FEED_MAX_PAGE_SIZE", 200)

	v.SetDefault("KAFKA_BROKER", "localhost:29092")
	v.SetDefault("KAFKA_TOPIC", "fanout-jobs")
	v.SetDefault("KAFKA_GROUP_ID", "fanout-workers")
	v.SetDefault("KAFKA_READ_TIMEOUT", "10s")
	v.SetDefault("KAFKA_WRITE_TIMEOUT", "10s")

	// Zero worker count and queue size mean NumCPU and 10 per worker
	v.SetDefault("WORKER_COUNT", 0)
	v.SetDefault("WORKER_QUEUE_SIZE", 0)
	v.SetDefault("WORKER_DRAIN_TIMEOUT", "30s")
}

func load(v *viper.Viper) *Config {
	return &Config{
		Mode:                v.GetString("MODE"),
		ServerAddr:          v.GetString("SERVER_ADDR"),
		ServerTLSCert:       v.GetString("SERVER_TLS_CERT"),
		ServerTLSKey:        v.GetString("SERVER_TLS_KEY"),
		StoreBackend:        v.GetString("STORE_BACKEND"),
		StoreCallTimeout:    parseDuration(v.GetString("STORE_CALL_TIMEOUT"), 2*time.Second),
		StoreRetryTries:     positive(v.GetInt("STORE_RETRY_ATTEMPTS"), 3),
		StoreRetryInitial:   parseDuration(v.GetString("STORE_RETRY_INITIAL"), 50*time.Millisecond),
		StoreRetryMax:       parseDuration(v.GetString("STORE_RETRY_MAX"), time.Second),
		CassandraHost:       v.GetString("CASSANDRA_HOST"),
		CassandraKeyspace:   v.GetString("CASSANDRA_KEYSPACE"),
		CassandraUsername:   v.GetString("CASSANDRA_USERNAME"),
		CassandraPassword:   v.GetString("CASSANDRA_PASSWORD"),
		CassandraTimeout:    parseDuration(v.GetString("CASSANDRA_TIMEOUT"), 10*time.Second),
		CassandraDC:         v.GetString("CASSANDRA_DC"),
		CassandraMigrate:    v.GetBool("CASSANDRA_MIGRATE"),
		CassandraMigrations: v.GetString("CASSANDRA_MIGRATIONS"),
		FanoutMode:          v.GetString("FANOUT_MODE"),
		FanoutConcurrency:   positive(v.GetInt("FANOUT_CONCURRENCY"), 20),
		FanoutFollowerLimit: positive(v.GetInt("FANOUT_FOLLOWER_LIMIT"), 5000),
		FeedPageSize:        positive(v.GetInt("FEED_PAGE_SIZE"), 40),
		FeedMaxPageSize:     positive(v.GetInt("FEED_MAX_PAGE_SIZE"), 200),
		KafkaBroker:         v.GetString("KAFKA_BROKER"),
		KafkaTopic:          v.GetString("KAFKA_TOPIC"),
		KafkaGroupID:        v.GetString("KAFKA_GROUP_ID"),
		KafkaReadTO:         parseDuration(v.GetString("KAFKA_READ_TIMEOUT"), 10*time.Second),
		KafkaWriteTO:        parseDuration(v.GetString("KAFKA_WRITE_TIMEOUT"), 10*time.Second),
		WorkerCount:         max(v.GetInt("WORKER_COUNT"), 0),
		WorkerQueueSize:     max(v.GetInt("WORKER_QUEUE_SIZE"), 0),
		WorkerDrainTimeout:  parseDuration(v.GetString("WORKER_DRAIN_TIMEOUT"), 30*time.Second),
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func positive(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

// Get returns the loaded config instance
func Get() *Config {
	return cfg
}
