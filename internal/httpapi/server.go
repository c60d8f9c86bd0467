// Package httpapi exposes the thin admin HTTP surface: health, Prometheus
// metrics, and a gateway status endpoint. This is deliberately narrow —
// the full admin REST surface (login, per-gateway send, static SPA) is an
// external collaborator outside this package's scope.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vegafield/lora-gateway-bridge/internal/gatewayctl"
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
)

// StatusSource supplies the gateway status payload for /status.
type StatusSource interface {
	Status() gatewayctl.StatusResponse
}

// Server is the admin HTTP surface.
type Server struct {
	router    *mux.Router
	gateway   StatusSource
	jwtSecret []byte
	log       *logger.Logger
}

// New constructs a Server. jwtSecret may be empty, in which case /status
// is unauthenticated.
func New(gateway StatusSource, jwtSecret string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	s := &Server{gateway: gateway, log: log}
	if jwtSecret != "" {
		s.jwtSecret = []byte(jwtSecret)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", s.authenticated(s.handleStatus)).Methods(http.MethodGet)
	s.router = r

	return s
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.gateway.Status())
}

// authenticated wraps next with a Bearer-JWT check when jwtSecret is
// configured; with no secret configured the route is open, matching an
// admin surface intended for a trusted local network.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	if len(s.jwtSecret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
