package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/swr/pkg/broadcast"
)

func serveCmd() *cobra.Command {
	var (
		addr     string
		failRate float64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo collection server",
		Long: `Run an in-memory todo collection server.

Use --fail-rate to make a fraction of write requests fail with a 500,
which is handy for watching clients roll their optimistic inserts back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, failRate)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Listen address")
	cmd.Flags().Float64Var(&failRate, "fail-rate", 0, "Fraction of writes to fail (0..1)")

	return cmd
}

// todo is the demo item: provisional identity, label, owner reference,
// completion flag.
type todo struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner"`
	Done  bool   `json:"done"`
}

// todoStore is the in-memory collection behind the demo endpoints.
type todoStore struct {
	mu     sync.Mutex
	items  []todo
	nextID int64
}

func (s *todoStore) list() []todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]todo, len(s.items))
	copy(out, s.items)
	return out
}

func (s *todoStore) create(item todo) todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = s.nextID
	s.items = append(s.items, item)
	return item
}

func (s *todoStore) update(id int64, item todo) (todo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			item.ID = id
			s.items[i] = item
			return item, true
		}
	}
	return todo{}, false
}

func (s *todoStore) remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func runServe(addr string, failRate float64) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := &todoStore{}
	hub := broadcast.NewHub(logger)
	defer hub.Close()

	key := []string{"todos"}
	invalidate := func() {
		hub.Broadcast(broadcast.Invalidation{Key: key})
	}

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	// Simulated flakiness for the optimistic-rollback demo.
	maybeFail := func(w http.ResponseWriter) bool {
		if failRate > 0 && rand.Float64() < failRate {
			http.Error(w, "synthetic failure", http.StatusInternalServerError)
			return true
		}
		return false
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/todos", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, store.list())
	})
	r.Post("/todos", func(w http.ResponseWriter, req *http.Request) {
		if maybeFail(w) {
			return
		}
		var item todo
		if err := json.NewDecoder(req.Body).Decode(&item); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		created := store.create(item)
		logger.Info("todo created", "id", created.ID, "title", created.Title)
		writeJSON(w, http.StatusCreated, created)
		invalidate()
	})
	r.Put("/todos/{id}", func(w http.ResponseWriter, req *http.Request) {
		if maybeFail(w) {
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		var item todo
		if err := json.NewDecoder(req.Body).Decode(&item); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		updated, ok := store.update(id, item)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, updated)
		invalidate()
	})
	r.Delete("/todos/{id}", func(w http.ResponseWriter, req *http.Request) {
		if maybeFail(w) {
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		if !store.remove(id) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		invalidate()
	})

	r.Handle("/ws", hub)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "fail_rate", failRate)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
