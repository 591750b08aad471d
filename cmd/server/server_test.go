package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appkafka "example.com/twissandra/internal/broker"
	"example.com/twissandra/internal/feed"
	"example.com/twissandra/internal/models"
	"example.com/twissandra/internal/store"
	"github.com/gocql/gocql"
)

//
// --- Helpers ---
//

// sendJSONRequest sends body as JSON and fails unless the expected status is returned.
func sendJSONRequest(t *testing.T, method, url string, body any, expectedStatus int) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal failed: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != expectedStatus {
		b, _ := io.ReadAll(resp.Body)
		defer resp.Body.Close()
		t.Fatalf("%s %s: expected %d, got %d: %s", method, url, expectedStatus, resp.StatusCode, string(b))
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return v
}

//
// --- Setup test server ---
//

func newTestStore() *store.MemStore {
	st := store.NewMemory()
	st.IDs = store.NewSequentialIDs(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return st
}

func setupTestServer(t *testing.T, st *store.MemStore, dispatcher feed.Dispatcher) *httptest.Server {
	t.Helper()
	if dispatcher == nil {
		dispatcher = feed.NewDeliverer(st, st, 4, 0)
	}
	s := New(Options{
		Store:       st,
		Reader:      feed.NewReader(st, st),
		Writer:      feed.NewWriter(st, st, dispatcher),
		PageSize:    10,
		MaxPageSize: 20,
	})
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func createUser(t *testing.T, ts *httptest.Server, name string) {
	t.Helper()
	resp := sendJSONRequest(t, http.MethodPost, ts.URL+"/users",
		map[string]string{"username": name, "password": "secret"}, http.StatusCreated)
	resp.Body.Close()
}

func follow(t *testing.T, ts *httptest.Server, from string, to ...string) {
	t.Helper()
	resp := sendJSONRequest(t, http.MethodPost, ts.URL+"/users/"+from+"/friends",
		map[string][]string{"usernames": to}, http.StatusNoContent)
	resp.Body.Close()
}

func post(t *testing.T, ts *httptest.Server, author, body string) postResponse {
	t.Helper()
	resp := sendJSONRequest(t, http.MethodPost, ts.URL+"/users/"+author+"/tweets",
		map[string]string{"body": body}, http.StatusCreated)
	return decode[postResponse](t, resp)
}

func getPage(t *testing.T, url string) models.Page {
	t.Helper()
	return decode[models.Page](t, sendJSONRequest(t, http.MethodGet, url, nil, http.StatusOK))
}

func bodies(p models.Page) []string {
	out := make([]string, 0, len(p.Tweets))
	for _, tw := range p.Tweets {
		out = append(out, tw.Body)
	}
	return out
}

//
// --- Tests ---
//

func TestCreateUser(t *testing.T) {
	st := newTestStore()
	ts := setupTestServer(t, st, nil)

	createUser(t, ts, "alice")

	u := decode[map[string]any](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/users/alice", nil, http.StatusOK))
	if u["username"] != "alice" {
		t.Fatalf("unexpected user: %v", u)
	}
	if _, ok := u["password"]; ok {
		t.Fatal("password must not be exposed")
	}

	stored, err := st.GetUser(t.Context(), "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.Password == "secret" || !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", stored.Password)
	}
}

func TestCreateUser_InvalidJSON(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)

	resp, err := http.Post(ts.URL+"/users", "application/json", bytes.NewBufferString(`{"username":123}`))
	if err != nil {
		t.Fatalf("http.Post failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateUser_ReservedName(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	resp := sendJSONRequest(t, http.MethodPost, ts.URL+"/users",
		map[string]string{"username": models.PublicOwnerKey, "password": "x"}, http.StatusBadRequest)
	resp.Body.Close()
}

func TestGetUser_NotFound(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/users/ghost", nil, http.StatusNotFound).Body.Close()
}

// full flow: follow -> post -> timeline, userline and public feed
func TestFollowAndFeedFlow(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	for _, u := range []string{"alice", "bob", "carol"} {
		createUser(t, ts, u)
	}
	follow(t, ts, "bob", "alice")

	res := post(t, ts, "alice", "hello")
	if res.ID == (gocql.UUID{}) || len(res.MissedTimelines) != 0 || res.Deferred {
		t.Fatalf("unexpected post response: %+v", res)
	}

	for _, url := range []string{
		ts.URL + "/users/bob/timeline",
		ts.URL + "/users/alice/timeline",
		ts.URL + "/users/alice/userline",
		ts.URL + "/public",
	} {
		p := getPage(t, url)
		if got := bodies(p); len(got) != 1 || got[0] != "hello" {
			t.Fatalf("%s: got %v", url, got)
		}
		if p.Next != nil {
			t.Fatalf("%s: expected terminal page", url)
		}
	}

	if got := getPage(t, ts.URL+"/users/carol/timeline"); len(got.Tweets) != 0 {
		t.Fatalf("carol should see nothing, got %v", bodies(got))
	}

	tw := decode[models.Tweet](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/tweets/"+res.ID.String(), nil, http.StatusOK))
	if tw.Author != "alice" || tw.Body != "hello" {
		t.Fatalf("unexpected tweet: %+v", tw)
	}

	followers := decode[map[string][]string](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/users/alice/followers", nil, http.StatusOK))
	if got := followers["usernames"]; len(got) != 1 || got[0] != "bob" {
		t.Fatalf("unexpected followers: %v", got)
	}
	followees := decode[map[string][]string](t, sendJSONRequest(t, http.MethodGet, ts.URL+"/users/carol/followees", nil, http.StatusOK))
	if got, ok := followees["usernames"]; !ok || len(got) != 0 {
		t.Fatalf("expected empty followee list, got %v", followees)
	}
}

func TestPagination(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	for i := 0; i < 5; i++ {
		post(t, ts, "alice", fmt.Sprintf("tweet %d", i))
	}

	var seen []string
	url := ts.URL + "/users/alice/userline?limit=2"
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		p := getPage(t, url)
		seen = append(seen, bodies(p)...)
		if p.Next == nil {
			break
		}
		url = ts.URL + "/users/alice/userline?limit=2&start=" + p.Next.String()
	}

	want := []string{"tweet 4", "tweet 3", "tweet 2", "tweet 1", "tweet 0"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", seen, want)
	}
}

func TestPage_BadParams(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/public?start=not-a-uuid", nil, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodGet, ts.URL+"/public?limit=-1", nil, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodGet, ts.URL+"/users/"+models.PublicOwnerKey+"/timeline", nil, http.StatusBadRequest).Body.Close()
}

func TestCreateTweet_Validation(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	url := ts.URL + "/users/alice/tweets"

	sendJSONRequest(t, http.MethodPost, url, map[string]string{"body": ""}, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodPost, url, map[string]string{"body": strings.Repeat("x", maxTweetLen+1)}, http.StatusBadRequest).Body.Close()
	// 140 multi-byte runes is still a valid tweet.
	sendJSONRequest(t, http.MethodPost, url, map[string]string{"body": strings.Repeat("é", maxTweetLen)}, http.StatusCreated).Body.Close()
}

func TestCreateTweet_StoreFailure(t *testing.T) {
	st := newTestStore()
	st.Fault = store.FailTimes(-1, store.OpSaveTweet, "", store.ErrTransient)
	ts := setupTestServer(t, st, nil)

	sendJSONRequest(t, http.MethodPost, ts.URL+"/users/alice/tweets",
		map[string]string{"body": "lost"}, http.StatusServiceUnavailable).Body.Close()
}

func TestCreateTweet_PartialFanout(t *testing.T) {
	st := newTestStore()
	ts := setupTestServer(t, st, nil)
	follow(t, ts, "bob", "alice")
	st.Fault = store.FailTimes(-1, store.OpAddToLine, store.LineKey(models.Timeline, models.UserFeed("bob")), store.ErrTransient)

	res := post(t, ts, "alice", "partial")
	if len(res.MissedTimelines) != 1 || res.MissedTimelines[0] != "bob" {
		t.Fatalf("expected bob to be reported missing, got %+v", res)
	}
}

func TestCreateTweet_QueueDispatch(t *testing.T) {
	st := newTestStore()
	mockKafka := &appkafka.MockKafka{}
	ts := setupTestServer(t, st, &feed.QueueDispatcher{Writer: mockKafka})
	follow(t, ts, "bob", "alice")

	res := post(t, ts, "alice", "queued")
	if !res.Deferred {
		t.Fatalf("expected deferred fan-out, got %+v", res)
	}
	if n := len(mockKafka.Written()); n != 1 {
		t.Fatalf("expected 1 published job, got %d", n)
	}
	if got := getPage(t, ts.URL+"/users/bob/timeline"); len(got.Tweets) != 0 {
		t.Fatal("timeline should wait for the worker")
	}
	if got := getPage(t, ts.URL+"/public"); len(got.Tweets) != 1 {
		t.Fatal("public feed is written synchronously")
	}
}

func TestRemoveFriend(t *testing.T) {
	st := newTestStore()
	ts := setupTestServer(t, st, nil)
	follow(t, ts, "bob", "alice")

	sendJSONRequest(t, http.MethodDelete, ts.URL+"/users/bob/friends/alice", nil, http.StatusNoContent).Body.Close()
	sendJSONRequest(t, http.MethodDelete, ts.URL+"/users/bob/friends/alice", nil, http.StatusNotFound).Body.Close()

	st.InsertEdge(models.FollowEdge{ID: st.IDs.NewID(), Follower: "bob", Followee: "carol"})
	st.InsertEdge(models.FollowEdge{ID: st.IDs.NewID(), Follower: "bob", Followee: "carol"})
	sendJSONRequest(t, http.MethodDelete, ts.URL+"/users/bob/friends/carol", nil, http.StatusConflict).Body.Close()
}

func TestAddFriends_InvalidBody(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	url := ts.URL + "/users/bob/friends"
	sendJSONRequest(t, http.MethodPost, url, map[string][]string{"usernames": {}}, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodPost, ts.URL+"/users/"+models.PublicOwnerKey+"/friends",
		map[string][]string{"usernames": {"alice"}}, http.StatusBadRequest).Body.Close()

	resp, err := http.Post(url, "application/json", bytes.NewBufferString(`{"usernames":"alice"}`))
	if err != nil {
		t.Fatalf("http.Post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetTweet_BadID(t *testing.T) {
	ts := setupTestServer(t, newTestStore(), nil)
	sendJSONRequest(t, http.MethodGet, ts.URL+"/tweets/xyz", nil, http.StatusBadRequest).Body.Close()
	sendJSONRequest(t, http.MethodGet, ts.URL+"/tweets/"+gocql.TimeUUID().String(), nil, http.StatusNotFound).Body.Close()
}
