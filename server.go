package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"i4.energy/across/smsrx/modem"
	"i4.energy/across/smsrx/sink"
)

// Server exposes the state of the receiver over HTTP
type Server struct {
	Logger *slog.Logger
	Modem  *modem.Modem
	Recent *sink.Recent
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /messages", s.handleMessages)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// handleHealth reports whether the modem session is up
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.Modem.Connected() {
		s.sendError(w, "modem not connected", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleMessages lists the most recently received messages, oldest first
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages := s.Recent.List()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(messages); err != nil {
		s.Logger.Error("Failed to encode messages", "error", err)
	}
}
