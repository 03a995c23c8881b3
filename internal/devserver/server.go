// Package devserver is an in-memory stand-in for the nest backend, used for
// local development and end-to-end testing of the setup flow. It mirrors the
// backend's contract: merged parent upsert, numeric child ids, Idempotency-Key
// dedupe on create, 401 for a missing profile, and {"detail": "..."} error
// bodies.
package devserver

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/nestapp/nest/internal/api"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Server holds the in-memory backend state.
type Server struct {
	token string

	mu       sync.Mutex
	parent   *api.Parent
	children []api.Child
	nextID   int
	// seenKeys maps an Idempotency-Key to the id it created, so a retried
	// create returns the original child instead of a duplicate.
	seenKeys map[string]api.ChildID
}

// New creates a Server. An empty token disables authentication.
func New(token string) *Server {
	return &Server{
		token:    token,
		seenKeys: map[string]api.ChildID{},
	}
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.token != "" {
		r.Use(bearerAuth(s.token))
	}

	r.Get("/profile/parent", s.handleGetParent)
	r.Post("/profile/parent", s.handleSaveParent)
	r.Get("/profile/children", s.handleListChildren)
	r.Post("/profile/children", s.handleCreateChild)
	r.Put("/profile/children/{id}", s.handleUpdateChild)
	r.Delete("/profile/children/{id}", s.handleDeleteChild)

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// httpError writes the backend's error shape: {"detail": "..."}.
func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"detail": fmt.Sprintf(format, args...),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetParent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The real backend answers 401 rather than 404 when no profile exists
	// yet; first-time clients rely on it.
	if s.parent == nil {
		httpError(w, http.StatusUnauthorized, "no parent profile for this account")
		return
	}
	writeJSON(w, http.StatusOK, s.parent)
}

func (s *Server) handleSaveParent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var payload api.ParentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Create-or-update: one profile per account.
	s.parent = &api.Parent{
		Nickname:  payload.Nickname,
		Role:      payload.Role,
		BirthYear: payload.BirthYear,
		Region:    payload.Region,
		Language:  payload.Language,

		AddressLine1: payload.AddressLine1,
		AddressLine2: payload.AddressLine2,
		City:         payload.City,
		State:        payload.State,
		PostalCode:   payload.PostalCode,
		Country:      payload.Country,
	}
	writeJSON(w, http.StatusOK, s.parent)
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parent == nil {
		httpError(w, http.StatusUnauthorized, "no parent profile for this account")
		return
	}
	children := s.children
	if children == nil {
		children = []api.Child{}
	}
	writeJSON(w, http.StatusOK, children)
}

func (s *Server) handleCreateChild(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var child api.Child
	if err := json.NewDecoder(r.Body).Decode(&child); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(child.Name) == "" {
		httpError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key := r.Header.Get(api.IdempotencyKeyHeader); key != "" {
		if id, ok := s.seenKeys[key]; ok {
			for _, existing := range s.children {
				if existing.ID == id {
					writeJSON(w, http.StatusCreated, existing)
					return
				}
			}
		}
	}

	s.nextID++
	child.ID = api.ChildID(fmt.Sprintf("%d", s.nextID))
	s.children = append(s.children, child)
	if key := r.Header.Get(api.IdempotencyKeyHeader); key != "" {
		s.seenKeys[key] = child.ID
	}
	writeJSON(w, http.StatusCreated, child)
}

func (s *Server) handleUpdateChild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var child api.Child
	if err := json.NewDecoder(r.Body).Decode(&child); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.children {
		if string(s.children[i].ID) == id {
			child.ID = s.children[i].ID
			s.children[i] = child
			writeJSON(w, http.StatusOK, child)
			return
		}
	}
	httpError(w, http.StatusNotFound, "child %s not found", id)
}

func (s *Server) handleDeleteChild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.children {
		if string(s.children[i].ID) == id {
			s.children = append(s.children[:i], s.children[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
			return
		}
	}
	httpError(w, http.StatusNotFound, "child %s not found", id)
}
