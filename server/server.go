package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/voket/relay/budget"
	"github.com/voket/relay/cooldown"
	"github.com/voket/relay/monitoring"
	"github.com/voket/relay/pattern"
	"github.com/voket/relay/registry"
)

const defaultPatternCount = 5

// Server exposes the pattern feedback and provider status surface over HTTP.
// Dispatching itself stays a library API: the invoke closure cannot cross a
// process boundary.
type Server struct {
	registry *registry.Registry
	budget   *budget.Tracker
	cooldown *cooldown.Manager
	patterns *pattern.Store
	metrics  *monitoring.Metrics

	// API key callers must present with the Bearer scheme. Empty disables
	// the check.
	apiKey string

	logger *zap.SugaredLogger
}

func NewServer(reg *registry.Registry, tracker *budget.Tracker, manager *cooldown.Manager, patterns *pattern.Store, metrics *monitoring.Metrics, apiKey string, logger *zap.SugaredLogger) *Server {
	return &Server{
		registry: reg,
		budget:   tracker,
		cooldown: manager,
		patterns: patterns,
		metrics:  metrics,
		apiKey:   apiKey,
		logger:   logger,
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/feedback", s.HandleFeedback).Methods(http.MethodPost)
	api.HandleFunc("/patterns/{category}", s.HandlePatterns).Methods(http.MethodGet)
	api.HandleFunc("/providers", s.HandleProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers/{provider}/reset", s.HandleReset).Methods(http.MethodPost)
	return router
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(httpResponse http.ResponseWriter, httpRequest *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(httpResponse, httpRequest)
			return
		}

		headerSplit := strings.Split(httpRequest.Header.Get("Authorization"), " ")
		if len(headerSplit) != 2 ||
			strings.ToLower(headerSplit[0]) != "bearer" ||
			headerSplit[1] != s.apiKey {
			http.Error(httpResponse, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(httpResponse, httpRequest)
	})
}

func (s *Server) HandleHealth(httpResponse http.ResponseWriter, _ *http.Request) {
	httpResponse.WriteHeader(http.StatusOK)
	httpResponse.Write([]byte("ok"))
}

type feedbackRequest struct {
	Category string  `json:"category"`
	Payload  string  `json:"payload"`
	Score    float64 `json:"score"`
}

// HandleFeedback ingests one scored pattern. Fire-and-forget: the caller
// gets 202 as soon as the entry is recorded.
func (s *Server) HandleFeedback(httpResponse http.ResponseWriter, httpRequest *http.Request) {
	defer httpRequest.Body.Close()

	var feedback feedbackRequest
	if err := json.NewDecoder(httpRequest.Body).Decode(&feedback); err != nil {
		s.logger.Warnw("Invalid feedback body", "error", err)
		http.Error(httpResponse, "Invalid request body", http.StatusBadRequest)
		return
	}
	if feedback.Category == "" {
		http.Error(httpResponse, "Category is required", http.StatusBadRequest)
		return
	}

	s.patterns.Record(feedback.Category, feedback.Payload, feedback.Score)
	s.metrics.SetPatternEntries(s.patterns.Size())
	httpResponse.WriteHeader(http.StatusAccepted)
}

// HandlePatterns returns up to k entries of a category, ranked by decayed
// score.
func (s *Server) HandlePatterns(httpResponse http.ResponseWriter, httpRequest *http.Request) {
	category := mux.Vars(httpRequest)["category"]

	k := defaultPatternCount
	if raw := httpRequest.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(httpResponse, "Invalid k", http.StatusBadRequest)
			return
		}
		k = parsed
	}

	writeJson(httpResponse, s.logger, map[string]any{
		"category": category,
		"patterns": s.patterns.TopK(category, k),
	})
}

type providerStatus struct {
	Usage    []budget.PeriodUsage   `json:"usage"`
	Cooldown cooldown.ProviderState `json:"cooldown"`
}

// HandleProviders reports usage counters and health state per provider.
func (s *Server) HandleProviders(httpResponse http.ResponseWriter, _ *http.Request) {
	states := s.cooldown.States()

	statuses := make(map[string]providerStatus)
	for _, id := range s.registry.Providers() {
		usage, err := s.budget.Usage(id)
		if err != nil {
			s.logger.Warnw("Failed to read budget usage", "provider", id, "error", err)
			continue
		}
		statuses[id] = providerStatus{
			Usage:    usage,
			Cooldown: states[id],
		}
	}

	writeJson(httpResponse, s.logger, statuses)
}

// HandleReset clears a provider's quarantine after external reconfiguration,
// e.g. rotated credentials.
func (s *Server) HandleReset(httpResponse http.ResponseWriter, httpRequest *http.Request) {
	providerID := mux.Vars(httpRequest)["provider"]
	if _, ok := s.registry.Provider(providerID); !ok {
		http.Error(httpResponse, "Unknown provider", http.StatusNotFound)
		return
	}

	s.cooldown.Reset(providerID)
	s.logger.Infow("Provider reset", "provider", providerID)
	httpResponse.WriteHeader(http.StatusNoContent)
}

func writeJson(httpResponse http.ResponseWriter, logger *zap.SugaredLogger, payload any) {
	httpResponse.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(httpResponse).Encode(payload); err != nil {
		logger.Errorw("Failed to encode response", "error", err)
		http.Error(httpResponse, "Internal server error", http.StatusInternalServerError)
	}
}
