package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"example.com/twissandra/internal/models"
	"example.com/twissandra/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/gocql/gocql"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxUsernameLen = 50
	maxTweetLen    = 140
	bcryptCost     = 10
)

// --- HTTP Handlers ---

// createUserHandler registers or updates a user.
// Expects JSON body: {"username": "alice", "password": "secret"}
// The store keeps the password opaque; it is hashed here before saving.
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/users", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body.Username) == 0 || len(body.Username) > maxUsernameLen {
		logg.Info("http/users", "Invalid username length")
		http.Error(w, "username must be 1-50 characters", http.StatusBadRequest)
		return
	}
	if body.Password == "" {
		http.Error(w, "password is required", http.StatusBadRequest)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcryptCost)
	if err != nil {
		logg.Error("http/users", "Failed to hash password", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.users.SaveUser(r.Context(), body.Username, string(hashed)); err != nil {
		logg.Error("http/users", "Failed to save user", err)
		writeError(w, err)
		return
	}

	logg.Info("http/users", "User saved (username anonymized)")
	writeJSON(w, http.StatusCreated, map[string]string{"username": body.Username})
}

// getUserHandler returns the public part of a user record.
func (s *Server) getUserHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) followeesHandler(w http.ResponseWriter, r *http.Request) {
	s.friendList(w, r, s.friends.GetFollowees)
}

func (s *Server) followersHandler(w http.ResponseWriter, r *http.Request) {
	s.friendList(w, r, s.friends.GetFollowers)
}

type friendLister func(ctx context.Context, username string, limit int) ([]string, error)

// friendList serves a bounded follower or followee snapshot.
// Query parameters: ?limit=5000
func (s *Server) friendList(w http.ResponseWriter, r *http.Request, list friendLister) {
	limit, err := queryInt(r, "limit", store.DefaultFriendLimit)
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	names, err := list(r.Context(), chi.URLParam(r, "username"), min(limit, store.DefaultFriendLimit))
	if err != nil {
		logg.Error("http/friends", "Failed to list follow edges", err)
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"usernames": names})
}

// addFriendsHandler makes the user follow each listed username.
// Expects JSON body: {"usernames": ["bob", "carol"]}
func (s *Server) addFriendsHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Usernames []string `json:"usernames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/friends", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body.Usernames) == 0 {
		http.Error(w, "usernames must not be empty", http.StatusBadRequest)
		return
	}

	if err := s.friends.AddFriends(r.Context(), chi.URLParam(r, "username"), body.Usernames); err != nil {
		logg.Error("http/friends", "Failed to add friends", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeFriendHandler(w http.ResponseWriter, r *http.Request) {
	_, err := s.friends.RemoveFriend(r.Context(), chi.URLParam(r, "username"), chi.URLParam(r, "friend"))
	if err != nil {
		logg.Error("http/friends", "Failed to remove friend", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createTweetHandler posts a tweet and fans it out.
// Expects JSON body: {"body": "tweet content"}
// Returns the tweet id plus any timelines that missed it.
func (s *Server) createTweetHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/tweets", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if n := utf8.RuneCountInString(body.Body); n == 0 || n > maxTweetLen {
		logg.Info("http/tweets", "Tweet body length invalid")
		http.Error(w, "tweet body must be 1-140 characters", http.StatusBadRequest)
		return
	}

	res, err := s.writer.Post(r.Context(), chi.URLParam(r, "username"), body.Body)
	if err != nil {
		logg.Error("http/tweets", "Failed to post tweet", err)
		writeError(w, err)
		return
	}

	resp := postResponse{ID: res.TweetID, Deferred: res.Deferred}
	for _, f := range res.Failures {
		resp.MissedTimelines = append(resp.MissedTimelines, f.Target)
	}
	if res.FanoutErr != nil {
		resp.Warning = "follower fan-out incomplete"
	}
	writeJSON(w, http.StatusCreated, resp)
}

type postResponse struct {
	ID              gocql.UUID `json:"id"`
	Deferred        bool       `json:"deferred,omitempty"`
	MissedTimelines []string   `json:"missed_timelines,omitempty"`
	Warning         string     `json:"warning,omitempty"`
}

func (s *Server) getTweetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := gocql.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid tweet id", http.StatusBadRequest)
		return
	}
	t, err := s.tweets.GetTweet(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Feed pages ---
// Query parameters: ?start=<tweet id>&limit=40

func (s *Server) userlineHandler(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, models.Userline, models.UserFeed(chi.URLParam(r, "username")))
}

func (s *Server) timelineHandler(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, models.Timeline, models.UserFeed(chi.URLParam(r, "username")))
}

func (s *Server) publicHandler(w http.ResponseWriter, r *http.Request) {
	s.page(w, r, models.Userline, models.PublicFeed)
}

func (s *Server) page(w http.ResponseWriter, r *http.Request, line models.Line, owner models.FeedOwner) {
	if !owner.IsPublic() && owner.Key() == models.PublicOwnerKey {
		http.Error(w, "reserved username", http.StatusBadRequest)
		return
	}

	var cursor gocql.UUID
	if start := r.URL.Query().Get("start"); start != "" {
		parsed, err := gocql.ParseUUID(start)
		if err != nil {
			http.Error(w, "invalid start cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	limit, err := queryInt(r, "limit", s.pageSize)
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	limit = min(limit, s.maxPageSize)

	p, err := s.reader.GetPage(r.Context(), line, owner, cursor, limit)
	if err != nil {
		logg.Error("http/"+string(line), "Failed to read page", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- helpers ---

// queryInt reads a positive integer query parameter, defaulting when absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the storage taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrReservedOwner):
		http.Error(w, "reserved username", http.StatusBadRequest)
	case errors.Is(err, store.ErrIntegrity):
		http.Error(w, "feed inconsistency", http.StatusConflict)
	case errors.Is(err, store.ErrFatal), errors.Is(err, store.ErrTransient):
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
