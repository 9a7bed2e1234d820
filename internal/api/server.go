package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coachwire/internal/assessment"
	"coachwire/internal/registry"
	"coachwire/internal/session"
	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

// Server is the REST surface for session lifecycle and assessments. It does
// HTTP handling and JSON only; all session behavior lives behind the
// registry and the store.
type Server struct {
	store    interfaces.SessionStore
	registry *registry.Registry
	assessor *assessment.Assessor
	router   *http.ServeMux
	validate *validator.Validate
	log      *logrus.Entry
}

func NewServer(store interfaces.SessionStore, reg *registry.Registry, assessor *assessment.Assessor) *Server {
	s := &Server{
		store:    store,
		registry: reg,
		assessor: assessor,
		router:   http.NewServeMux(),
		validate: validator.New(),
		log:      logrus.WithField("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	sessionID := parts[0]
	if sessionID == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	if len(parts) > 1 && parts[1] == "assessment" {
		s.handleAssessment(w, r, sessionID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSession(w, r, sessionID)
	case http.MethodDelete:
		s.endSession(w, r, sessionID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type CreateSessionRequest struct {
	Kind        string              `json:"kind" validate:"required,oneof=interview lesson"`
	OwnerUserID string              `json:"owner_user_id" validate:"required"`
	Config      types.SessionConfig `json:"config"`
}

type SessionResponse struct {
	Session         *types.Session `json:"session"`
	Turns           []*types.Turn  `json:"turns,omitempty"`
	ConnectionCount int            `json:"connection_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionWithConnections `json:"sessions"`
}

type SessionWithConnections struct {
	*types.Session
	ConnectionCount int `json:"connection_count"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createSession records a new session in idle state. The session becomes
// live when its owner connects and sends start_session.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.validate.Struct(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.OwnerUserID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Config.Validate(req.Kind); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := &types.Session{
		ID:          uuid.New().String(),
		Kind:        req.Kind,
		OwnerUserID: req.OwnerUserID,
		Config:      req.Config,
		StartedAt:   time.Now(),
		Status:      types.StatusIdle,
	}
	if sess.Kind == types.KindInterview && sess.Config.Voice == "" {
		sess.Config.Voice = "male"
	}

	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		s.log.WithError(err).Error("session creation failed")
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	s.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"kind":    sess.Kind,
		"owner":   sess.OwnerUserID,
	}).Info("session created")

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SessionResponse{Session: sess})
}

// getSession prefers the live machine's view when one exists; the store may
// lag behind by an in-flight async write.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var sess *types.Session
	var turns []*types.Turn

	if machine, ok := s.registry.Lookup(sessionID); ok {
		live := machine.Session()
		sess = &live
		turns = machine.TurnLog()
	} else {
		var err error
		sess, err = s.store.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, interfaces.ErrSessionNotFound) {
				s.sendError(w, "Session not found", http.StatusNotFound)
			} else {
				s.sendError(w, "Failed to get session", http.StatusInternalServerError)
			}
			return
		}
		turns, err = s.store.GetTurnLog(r.Context(), sessionID)
		if err != nil {
			s.sendError(w, "Failed to get turn log", http.StatusInternalServerError)
			return
		}
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Session:         sess,
		Turns:           turns,
		ConnectionCount: s.registry.ConnectionCount(sessionID),
	})
}

// endSession completes a session from the REST side, equivalent to the
// owner finishing it over the socket.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if machine, ok := s.registry.Lookup(sessionID); ok {
		if err := machine.Complete(); err != nil {
			if session.IsInvalidTransition(err) {
				s.sendError(w, err.Error(), http.StatusConflict)
			} else {
				s.sendError(w, "Failed to end session", http.StatusInternalServerError)
			}
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "Session completed"})
		return
	}

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		}
		return
	}
	if sess.Terminal() {
		s.sendError(w, "Session already ended", http.StatusConflict)
		return
	}

	now := time.Now()
	sess.Status = types.StatusCompleted
	sess.CompletedAt = &now
	if err := s.store.UpdateSession(r.Context(), sess); err != nil {
		s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"message": "Session completed"})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListActiveSessions(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	out := make([]SessionWithConnections, len(sessions))
	for i, sess := range sessions {
		out[i] = SessionWithConnections{
			Session:         sess,
			ConnectionCount: s.registry.ConnectionCount(sess.ID),
		}
	}
	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: out})
}

// handleAssessment serves POST (generate) and GET on
// /api/sessions/{id}/assessment.
func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodPost:
		a, err := s.assessor.Generate(r.Context(), sessionID)
		if err != nil {
			s.sendAssessmentError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(a)
	case http.MethodGet:
		a, err := s.assessor.Get(r.Context(), sessionID)
		if err != nil {
			s.sendAssessmentError(w, err)
			return
		}
		json.NewEncoder(w).Encode(a)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) sendAssessmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrAssessmentNotFound):
		s.sendError(w, "Assessment not found", http.StatusNotFound)
	case errors.Is(err, assessment.ErrNotInterview),
		errors.Is(err, assessment.ErrSessionNotCompleted),
		errors.Is(err, assessment.ErrEmptyTranscript):
		s.sendError(w, err.Error(), http.StatusConflict)
	default:
		s.log.WithError(err).Error("assessment request failed")
		s.sendError(w, "Failed to generate assessment", http.StatusBadGateway)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storeStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		storeStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Store:       storeStatus,
		Connections: s.registry.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
