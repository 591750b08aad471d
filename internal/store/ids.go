package store

import (
	"bytes"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

// IDGenerator produces tweet ids. Larger ids must mean later or equal post time.
type IDGenerator interface {
	NewID() gocql.UUID
}

// TimeIDs generates version 1 time UUIDs from the wall clock.
type TimeIDs struct{}

func (TimeIDs) NewID() gocql.UUID { return gocql.TimeUUID() }

// SequentialIDs hands out time UUIDs whose timestamps advance by Step from Start,
// so ordering is deterministic regardless of how fast ids are requested.
type SequentialIDs struct {
	Start time.Time
	Step  time.Duration

	mu sync.Mutex
	n  int64
}

func NewSequentialIDs(start time.Time) *SequentialIDs {
	return &SequentialIDs{Start: start, Step: time.Millisecond}
}

func (g *SequentialIDs) NewID() gocql.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	step := g.Step
	if step <= 0 {
		step = time.Millisecond
	}
	id := gocql.UUIDFromTime(g.Start.Add(time.Duration(g.n) * step))
	g.n++
	return id
}

// compareIDs orders time UUIDs by timestamp, then by raw bytes, the way the
// timeuuid comparator does.
func compareIDs(a, b gocql.UUID) int {
	ta, tb := a.Timestamp(), b.Timestamp()
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	}
	return bytes.Compare(a[:], b[:])
}
