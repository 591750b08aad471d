package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appkafka "example.com/twissandra/internal/broker"
	"example.com/twissandra/internal/feed"
)

// TestServer_GracefulShutdown verifies that the HTTP server shuts down gracefully
// and that associated resources (memory store and Kafka) can be closed without errors.
func TestServer_GracefulShutdown(t *testing.T) {
	st := newTestStore()
	mockKafka := &appkafka.MockKafka{}

	s := New(Options{
		Store:  st,
		Reader: feed.NewReader(st, st),
		Writer: feed.NewWriter(st, st, &feed.QueueDispatcher{Writer: mockKafka}),
	})

	// Start an unstarted HTTP test server to control shutdown timing
	server := httptest.NewUnstartedServer(s.Routes())
	server.Start()
	defer server.Close()

	// Create a context with a short timeout to simulate a shutdown signal
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		server.Close()
		close(done)
	}()

	// Make a request before shutdown to ensure the server is running
	resp, err := http.Post(server.URL+"/users/alice/tweets", "application/json",
		bytesReader(`{"body":"last words"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	select {
	case <-done:
		st.Close()
		if err := mockKafka.Close(); err != nil {
			t.Fatalf("Kafka close error: %v", err)
		}
		if len(mockKafka.Written()) != 1 {
			t.Fatal("expected the fan-out job to be published before shutdown")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("server did not shutdown gracefully within the expected time")
	}
}

// TestRun_StopsOnCancel checks that Run returns once its context is canceled.
func TestRun_StopsOnCancel(t *testing.T) {
	st := newTestStore()
	s := New(Options{
		Store:  st,
		Reader: feed.NewReader(st, st),
		Writer: feed.NewWriter(st, st, feed.NewDeliverer(st, st, 1, 0)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, s, "127.0.0.1:0", TLS{})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// bytesReader creates an io.Reader from a string, used for HTTP request bodies.
func bytesReader(s string) *bytes.Buffer {
	return bytes.NewBuffer([]byte(s))
}
