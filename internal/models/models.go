package models

import "github.com/gocql/gocql"

// PublicOwnerKey is the row key the public feed is stored under.
const PublicOwnerKey = "!PUBLIC!"

type User struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

type Tweet struct {
	ID     gocql.UUID `json:"id"`
	Author string     `json:"author"`
	Body   string     `json:"body"`
}

// FollowEdge records that Follower follows Followee.
type FollowEdge struct {
	ID       gocql.UUID `json:"id"`
	Follower string     `json:"follower"`
	Followee string     `json:"followee"`
}

// Line names one of the two feed tables.
type Line string

const (
	Userline Line = "userline"
	Timeline Line = "timeline"
)

// FeedOwner identifies whose feed a marker belongs to: a user or the public feed.
type FeedOwner struct {
	username string
	public   bool
}

// PublicFeed is the global feed every tweet is projected into.
var PublicFeed = FeedOwner{public: true}

// UserFeed returns the feed owned by username.
func UserFeed(username string) FeedOwner {
	return FeedOwner{username: username}
}

func (o FeedOwner) IsPublic() bool { return o.public }

// Key is the storage row key for the owner.
func (o FeedOwner) Key() string {
	if o.public {
		return PublicOwnerKey
	}
	return o.username
}

func (o FeedOwner) String() string { return o.Key() }

// Page is one newest-first slice of a feed. Next is nil once the feed is exhausted.
type Page struct {
	Tweets []Tweet     `json:"tweets"`
	Next   *gocql.UUID `json:"next,omitempty"`
}

// FanoutJob is the unit of follower fan-out, published to Kafka in queue mode.
type FanoutJob struct {
	TweetID gocql.UUID `json:"tweet_id"`
	Author  string     `json:"author"`
}

// FanoutFailure is a timeline that did not receive a marker.
type FanoutFailure struct {
	Target string `json:"target"`
	Err    error  `json:"-"`
}

func (f FanoutFailure) Error() string {
	if f.Err == nil {
		return f.Target
	}
	return f.Target + ": " + f.Err.Error()
}

// PostResult is returned by a successful post. Failures and FanoutErr describe
// timelines that missed the tweet; the tweet itself is durable either way.
type PostResult struct {
	TweetID   gocql.UUID      `json:"id"`
	Failures  []FanoutFailure `json:"failures,omitempty"`
	FanoutErr error           `json:"-"`
	Deferred  bool            `json:"deferred,omitempty"`
}

// Complete reports whether every timeline received the tweet.
func (r PostResult) Complete() bool {
	return !r.Deferred && r.FanoutErr == nil && len(r.Failures) == 0
}
