package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/categories"
	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/metrics"
	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/scheduler"
	"github.com/cyderes/catalog-sync/internal/storage"
)

// Task is the view of a scheduled task the server needs.
type Task interface {
	RunNow() bool
	State() scheduler.State
	Runs() int64
}

// Server handles HTTP requests
type Server struct {
	config  config.ServerConfig
	storage storage.Storage
	tasks   map[string]Task
	hub     *Hub
	log     logrus.FieldLogger
	server  *http.Server
}

// NewServer creates a new HTTP server. tasks maps task names to the
// running tasks; hub may be nil when progress streaming is off.
func NewServer(cfg config.ServerConfig, store storage.Storage, tasks map[string]Task, hub *Hub, log logrus.FieldLogger) *Server {
	s := &Server{
		config:  cfg,
		storage: store,
		tasks:   tasks,
		hub:     hub,
		log:     log.WithField("component", "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/products", s.handleProducts)
	mux.HandleFunc("/products/", s.handleProductByID)
	mux.HandleFunc("/categories", s.handleCategories)
	mux.HandleFunc("/categories/", s.handleCategoryByURI)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sync/", s.handleSync)
	mux.Handle("/metrics", metrics.Handler())
	if hub != nil {
		mux.Handle("/progress", hub)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.WithField("port", s.config.Port).Info("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleProducts lists stored products, paged by limit and offset.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 10 // default
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	offset := 0 // default
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	recs, err := s.storage.Collection(storage.ProductsCollection).List(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list products")
		http.Error(w, fmt.Sprintf("Failed to retrieve products: %v", err), http.StatusInternalServerError)
		return
	}

	total := len(recs)
	page := []models.Record{}
	if offset < total {
		n := limit
		if n > total-offset {
			n = total - offset
		}
		page = recs[offset : offset+n]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": page,
		"count":    len(page),
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleProductByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/products/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}

	rec, err := s.storage.Collection(storage.ProductsCollection).Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve product: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recs, err := categories.List(r.Context(), s.storage.Collection(storage.CategoriesCollection))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve categories: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": recs,
		"count":      len(recs),
	})
}

// handleCategoryByURI serves /categories/{uri}. The URI may contain slashes.
func (s *Server) handleCategoryByURI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uri := strings.Trim(strings.TrimPrefix(r.URL.Path, "/categories/"), "/")
	if uri == "" {
		http.Error(w, "Invalid category URI", http.StatusBadRequest)
		return
	}

	rec, err := categories.GetByURI(r.Context(), s.storage.Collection(storage.CategoriesCollection), uri)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Category not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve category: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// TaskStatus combines the persisted outcome of a task with its live state.
type TaskStatus struct {
	models.SyncStatus
	State string `json:"state"`
	Runs  int64  `json:"runs"`
}

// handleStatus reports every task this server knows about.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	coll := s.storage.Collection(storage.StatusCollection)
	out := make(map[string]TaskStatus, len(names))
	for _, name := range names {
		status, err := storage.GetSyncStatus(r.Context(), coll, name)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to retrieve status: %v", err), http.StatusInternalServerError)
			return
		}
		task := s.tasks[name]
		out[name] = TaskStatus{SyncStatus: *status, State: task.State().String(), Runs: task.Runs()}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleSync requests an early run of the task named by the path.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/sync/")
	task, ok := s.tasks[name]
	if !ok {
		http.Error(w, "Unknown task", http.StatusNotFound)
		return
	}
	if !task.RunNow() {
		http.Error(w, "Task is stopped", http.StatusConflict)
		return
	}

	s.log.WithField("task", name).Info("Sync requested over HTTP")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"task":   name,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
