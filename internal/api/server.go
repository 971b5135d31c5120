package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"relayd/internal/presence"
	"relayd/pkg/types"
)

// Server is the HTTP read surface over the presence registry. No business
// logic lives here, only HTTP handling and JSON serialization.
type Server struct {
	registry *presence.Registry
	privacy  bool
	version  string
	router   *http.ServeMux
	logger   zerolog.Logger
}

// NewServer creates the API server and sets up its routes.
func NewServer(registry *presence.Registry, privacy bool, version string, logger zerolog.Logger) *Server {
	s := &Server{
		registry: registry,
		privacy:  privacy,
		version:  version,
		router:   http.NewServeMux(),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/users/online", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.usersOnline))))
	s.router.Handle("/users/find", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.usersFind))))
}

// ServeHTTP implements http.Handler for integration with the standard HTTP
// server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string `json:"status"`
	Users     int    `json:"users"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

type UsersOnlineResponse struct {
	Users []types.PresenceEntry `json:"users"`
	Count int                   `json:"count"`
}

type FindUserRequest struct {
	PublicKey string `json:"publicKey"`
}

type FindUserResponse struct {
	Found bool                 `json:"found"`
	User  *types.PresenceEntry `json:"user,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health - liveness probe with the live registry count.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "online",
		Users:     s.registry.Count(),
		Timestamp: time.Now().UnixMilli(),
		Version:   s.version,
	})
}

// GET /users/online - snapshot of registered identities. Public keys are
// omitted in privacy mode.
func (s *Server) usersOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	users := s.registry.Snapshot("", s.privacy)

	json.NewEncoder(w).Encode(UsersOnlineResponse{
		Users: users,
		Count: len(users),
	})
}

// POST /users/find - resolve an identity by routing public key. Refused
// outright in privacy mode so keys cannot be probed.
func (s *Server) usersFind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.privacy {
		s.sendError(w, "User lookup is disabled in privacy mode", http.StatusForbidden)
		return
	}

	var req FindUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.PublicKey == "" {
		s.sendError(w, "Public key is required", http.StatusBadRequest)
		return
	}

	user, ok := s.registry.FindByPublicKey(req.PublicKey)
	if !ok {
		json.NewEncoder(w).Encode(FindUserResponse{Found: false})
		return
	}

	json.NewEncoder(w).Encode(FindUserResponse{
		Found: true,
		User: &types.PresenceEntry{
			ID:        user.ID,
			PublicKey: user.PublicKey,
			LastSeen:  user.LastSeen,
		},
	})
}

// sendError writes the consistent error response format.
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables web client access. All origins are allowed; the
// relay carries only ciphertext.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware sets the JSON content type on all API responses.
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
