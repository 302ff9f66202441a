package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startHTTPServer serves /ws, /health and (with metrics enabled) /metrics
func (s *Server) startHTTPServer() error {
	if s.config.HTTPPort <= 0 {
		debugLog.Printf("HTTP server disabled (http_port=%d)", s.config.HTTPPort)
		return nil
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.HTTPPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpListener = listener

	s.httpServer = &http.Server{
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("HTTP server listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// HTTPHandler returns the mux for the HTTP listener
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthHandler)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":          "healthy",
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.sessions.CountOnlineUsers(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		errorLog.Printf("Error encoding health JSON: %v", err)
	}
}
