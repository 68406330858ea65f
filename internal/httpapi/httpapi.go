// Package httpapi is the thin HTTP front door: a one-shot download
// trigger guarded by a single shared secret.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/you/ytmediabot/internal/fetch"
	"github.com/you/ytmediabot/internal/store"
)

// Server handles the one-shot download endpoint.
type Server struct {
	fetcher *fetch.Engine
	store   *store.Store
	secret  string
}

func New(fetcher *fetch.Engine, st *store.Store, secret string) *Server {
	return &Server{fetcher: fetcher, store: st, secret: secret}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Post("/download", s.handleDownload)
	return r
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	expected := "Bearer " + s.secret
	auth := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) == 1
}

type downloadRequest struct {
	URL       string `json:"url"`
	EventDate string `json:"eventDate"`
	Title     string `json:"title"`
}

type downloadResponse struct {
	FileName   string          `json:"fileName"`
	OutputPath string          `json:"outputPath"`
	Metadata   *fetch.Metadata `json:"metadata"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}

	var body downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	if err := s.fetcher.Validate(body.URL); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	ctx := r.Context()
	meta, err := s.fetcher.FetchMetadata(ctx, body.URL)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}

	if err := s.store.EnsureDir(); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	if err := s.store.VerifyWritable(); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}

	fileName := fetch.FileName(body.EventDate, body.Title, meta.Title)
	outputPath := filepath.Join(s.store.Dir, fileName)

	if !s.store.ShouldReuseVideo(outputPath) {
		if err := s.fetcher.DownloadWithRetry(ctx, body.URL, outputPath); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, fetch.ErrInvalidSource) {
				status = http.StatusBadRequest
			}
			respondJSON(w, status, map[string]string{"message": err.Error()})
			return
		}
	} else {
		log.Info().Str("path", outputPath).Msg("reusing local copy")
	}

	respondJSON(w, http.StatusOK, downloadResponse{
		FileName:   fileName,
		OutputPath: outputPath,
		Metadata:   &meta,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}
