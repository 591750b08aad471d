package server

import (
	"context"
	"net/http"
	"time"

	"example.com/twissandra/internal/feed"
	"example.com/twissandra/internal/logger"
	"example.com/twissandra/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Server exposes the timeline core over a thin JSON API.
type Server struct {
	users       store.UserDirectory
	friends     store.FriendGraph
	tweets      store.TweetStore
	reader      *feed.Reader
	writer      *feed.Writer
	pageSize    int
	maxPageSize int
}

// Options carries the collaborators a Server is built from.
type Options struct {
	Store       store.StoreInterface
	Reader      *feed.Reader
	Writer      *feed.Writer
	PageSize    int
	MaxPageSize int
}

// TLS names the certificate pair to serve with; empty means plain HTTP.
type TLS struct {
	CertFile string
	KeyFile  string
}

var logg = logger.New()

func New(opts Options) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = feed.DefaultPageSize
	}
	if opts.MaxPageSize < opts.PageSize {
		opts.MaxPageSize = opts.PageSize
	}
	return &Server{
		users:       opts.Store,
		friends:     opts.Store,
		tweets:      opts.Store,
		reader:      opts.Reader,
		writer:      opts.Writer,
		pageSize:    opts.PageSize,
		maxPageSize: opts.MaxPageSize,
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/users", s.createUserHandler)
	r.Get("/public", s.publicHandler)
	r.Get("/tweets/{id}", s.getTweetHandler)

	r.Route("/users/{username}", func(r chi.Router) {
		r.Get("/", s.getUserHandler)
		r.Get("/followees", s.followeesHandler)
		r.Get("/followers", s.followersHandler)
		r.Post("/friends", s.addFriendsHandler)
		r.Delete("/friends/{friend}", s.removeFriendHandler)
		r.Post("/tweets", s.createTweetHandler)
		r.Get("/userline", s.userlineHandler)
		r.Get("/timeline", s.timelineHandler)
	})

	return r
}

// Run starts the HTTP(S) server and shuts it down gracefully when ctx is done.
func Run(ctx context.Context, s *Server, addr string, tls TLS) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if tls.CertFile != "" && tls.KeyFile != "" {
			logg.Info("server", "Starting HTTPS server on "+addr)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			logg.Info("server", "Starting HTTP server on "+addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}
