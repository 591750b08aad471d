package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
)

func newTestMemory() *MemStore {
	m := NewMemory()
	m.IDs = NewSequentialIDs(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return m
}

// ---------- UserDirectory ----------

func TestMemStore_SaveUserOverwrites(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	if err := m.SaveUser(ctx, "alice", "p1"); err != nil {
		t.Fatalf("save p1: %v", err)
	}
	if err := m.SaveUser(ctx, "alice", "p2"); err != nil {
		t.Fatalf("save p2: %v", err)
	}

	u, err := m.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Password != "p2" {
		t.Fatalf("expected password p2, got %q", u.Password)
	}
}

func TestMemStore_GetUserNotFound(t *testing.T) {
	_, err := newTestMemory().GetUser(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_SaveUserRejectsPublicKey(t *testing.T) {
	err := newTestMemory().SaveUser(context.Background(), models.PublicOwnerKey, "x")
	if !errors.Is(err, ErrReservedOwner) {
		t.Fatalf("expected ErrReservedOwner, got %v", err)
	}
}

// ---------- FriendGraph ----------

func TestMemStore_FollowersAndFollowees(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	if err := m.AddFriends(ctx, "bob", []string{"alice", "carol"}); err != nil {
		t.Fatalf("add friends: %v", err)
	}
	if err := m.AddFriends(ctx, "dave", []string{"alice"}); err != nil {
		t.Fatalf("add friends: %v", err)
	}

	followees, err := m.GetFollowees(ctx, "bob", 0)
	if err != nil {
		t.Fatalf("followees: %v", err)
	}
	sort.Strings(followees)
	if len(followees) != 2 || followees[0] != "alice" || followees[1] != "carol" {
		t.Fatalf("unexpected followees: %v", followees)
	}

	followers, err := m.GetFollowers(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("followers: %v", err)
	}
	sort.Strings(followers)
	if len(followers) != 2 || followers[0] != "bob" || followers[1] != "dave" {
		t.Fatalf("unexpected followers: %v", followers)
	}

	limited, _ := m.GetFollowers(ctx, "alice", 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to truncate to 1, got %v", limited)
	}
}

func TestMemStore_AddFriendsSkipsExistingEdge(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	_ = m.AddFriends(ctx, "bob", []string{"alice"})
	_ = m.AddFriends(ctx, "bob", []string{"alice"})

	n, err := m.RemoveFriend(ctx, "bob", "alice")
	if err != nil || n != 1 {
		t.Fatalf("expected exactly one edge removed, got %d (%v)", n, err)
	}
}

func TestMemStore_AddFriendsRejectsPublicKey(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	if err := m.AddFriends(ctx, models.PublicOwnerKey, []string{"alice"}); !errors.Is(err, ErrReservedOwner) {
		t.Fatalf("follower: expected ErrReservedOwner, got %v", err)
	}
	if err := m.AddFriends(ctx, "bob", []string{"alice", models.PublicOwnerKey}); !errors.Is(err, ErrReservedOwner) {
		t.Fatalf("followee: expected ErrReservedOwner, got %v", err)
	}
	if got, _ := m.GetFollowees(ctx, "bob", 0); len(got) != 0 {
		t.Fatalf("rejected batch must not create edges, got %v", got)
	}
}

func TestMemStore_RemoveFriendMissingEdge(t *testing.T) {
	_, err := newTestMemory().RemoveFriend(context.Background(), "bob", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_RemoveFriendDuplicateEdges(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	m.InsertEdge(models.FollowEdge{Follower: "bob", Followee: "alice"})
	m.InsertEdge(models.FollowEdge{Follower: "bob", Followee: "alice"})

	n, err := m.RemoveFriend(ctx, "bob", "alice")
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both duplicates removed, got %d", n)
	}

	followers, _ := m.GetFollowers(ctx, "alice", 0)
	if len(followers) != 0 {
		t.Fatalf("expected no followers left, got %v", followers)
	}
}

// ---------- TweetStore ----------

func TestMemStore_SaveAndGetTweet(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	id, err := m.SaveTweet(ctx, "alice", "hello")
	if err != nil {
		t.Fatalf("save tweet: %v", err)
	}
	tw, err := m.GetTweet(ctx, id)
	if err != nil {
		t.Fatalf("get tweet: %v", err)
	}
	if tw.Author != "alice" || tw.Body != "hello" || tw.ID != id {
		t.Fatalf("unexpected tweet: %+v", tw)
	}

	if _, err := m.GetTweet(ctx, gocql.TimeUUID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_GetTweetsOmitsMissing(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	a, _ := m.SaveTweet(ctx, "alice", "one")
	missing := gocql.TimeUUID()

	got, err := m.GetTweets(ctx, []gocql.UUID{a, missing})
	if err != nil {
		t.Fatalf("get tweets: %v", err)
	}
	if _, ok := got[a]; !ok || len(got) != 1 {
		t.Fatalf("expected only the stored tweet, got %v", got)
	}
}

func TestMemStore_SaveTweetRetriesTransient(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	m.Fault = FailTimes(2, OpSaveTweet, "", ErrTransient)

	if _, err := m.SaveTweet(ctx, "alice", "hello"); err != nil {
		t.Fatalf("expected retries to absorb two transient failures, got %v", err)
	}
}

// ---------- LineStore ----------

func TestMemStore_ScanLineNewestFirstInclusiveStart(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	owner := models.UserFeed("alice")

	var ids []gocql.UUID
	for i := 0; i < 5; i++ {
		id := m.IDs.NewID()
		ids = append(ids, id)
	}
	// insert out of order; markers must still come back newest first
	for _, i := range []int{2, 0, 4, 1, 3, 3} {
		if err := m.AddToLine(ctx, models.Userline, owner, ids[i]); err != nil {
			t.Fatalf("add to line: %v", err)
		}
	}

	all, err := m.ScanLine(ctx, models.Userline, owner, gocql.UUID{}, 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected duplicate marker to be collapsed, got %d", len(all))
	}
	for i := range all {
		if all[i] != ids[4-i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[4-i], all[i])
		}
	}

	from, _ := m.ScanLine(ctx, models.Userline, owner, ids[2], 2)
	if len(from) != 2 || from[0] != ids[2] || from[1] != ids[1] {
		t.Fatalf("expected scan to start at cursor inclusive, got %v", from)
	}

	other, _ := m.ScanLine(ctx, models.Timeline, owner, gocql.UUID{}, 10)
	if len(other) != 0 {
		t.Fatalf("timeline and userline must be separate, got %v", other)
	}
}

func TestMemStore_PublicFeedSeparateFromUsers(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	id := m.IDs.NewID()

	_ = m.AddToLine(ctx, models.Userline, models.PublicFeed, id)

	pub, _ := m.ScanLine(ctx, models.Userline, models.PublicFeed, gocql.UUID{}, 10)
	if len(pub) != 1 {
		t.Fatalf("expected marker in public feed, got %v", pub)
	}
	usr, _ := m.ScanLine(ctx, models.Userline, models.UserFeed("alice"), gocql.UUID{}, 10)
	if len(usr) != 0 {
		t.Fatalf("expected empty user feed, got %v", usr)
	}
}

func TestMemStore_UnknownLine(t *testing.T) {
	err := newTestMemory().AddToLine(context.Background(), models.Line("bogus"), models.PublicFeed, gocql.TimeUUID())
	if err == nil {
		t.Fatal("expected error for unknown line")
	}
}
