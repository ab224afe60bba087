// Copyright 2025 The w3chat Authors
// This file is part of the w3chat library.
//
// The w3chat library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The w3chat library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the w3chat library. If not, see <http://www.gnu.org/licenses/>.

// Package node wires the relay core to its process surface: one HTTP server
// carrying the login endpoint and the websocket chat endpoint.
package node

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/w3chat/relay/auth"
	"github.com/w3chat/relay/relay"
)

// Server is the relay node. It owns the registry, the router and the HTTP
// listener, and tears them down together.
type Server struct {
	cfg    Config
	auth   *auth.Service
	reg    *relay.Registry
	router *relay.Router

	httpServer *http.Server
	listener   net.Listener

	startStop sync.Mutex
	running   bool
}

// New creates a relay node with the given config and auth service.
func New(cfg Config, authSvc *auth.Service) *Server {
	reg := relay.NewRegistry()
	return &Server{
		cfg:    cfg,
		auth:   authSvc,
		reg:    reg,
		router: relay.NewRouter(reg),
	}
}

// Registry exposes the node's registry, mainly for tests and ops tooling.
func (s *Server) Registry() *relay.Registry {
	return s.reg
}

// Start binds the endpoint and begins serving. It returns once the listener
// is accepting connections.
func (s *Server) Start() error {
	s.startStop.Lock()
	defer s.startStop.Unlock()
	if s.running {
		return errors.New("node: already started")
	}

	listener, err := net.Listen("tcp", s.cfg.endpoint())
	if err != nil {
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/auth/login", s.handleLogin)
	handler := newGzipHandler(newCorsHandler(mux, s.cfg.CORSOrigins))

	wsHandler := s.websocketHandler()
	s.httpServer = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Websocket upgrades bypass the gzip/CORS stack: the wrapped
			// response writer cannot be hijacked.
			if r.URL.Path == "/ws/chat" && isWebsocketUpgrade(r) {
				wsHandler.ServeHTTP(w, r)
				return
			}
			handler.ServeHTTP(w, r)
		}),
	}
	go s.httpServer.Serve(listener)
	s.running = true
	log.Info("HTTP endpoint opened", "url", fmt.Sprintf("http://%v/", listener.Addr()))
	return nil
}

// Stop shuts the HTTP server down and stops accepting connections. Live
// websocket sessions are closed by their read loops failing.
func (s *Server) Stop() error {
	s.startStop.Lock()
	defer s.startStop.Unlock()
	if !s.running {
		return nil
	}
	err := s.httpServer.Shutdown(context.Background())
	s.running = false
	log.Info("HTTP endpoint closed", "url", fmt.Sprintf("http://%v/", s.listener.Addr()))
	return err
}

// Endpoint returns the address the node is listening on.
func (s *Server) Endpoint() string {
	if s.listener == nil {
		return s.cfg.endpoint()
	}
	return s.listener.Addr().String()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Web3 Chat API"})
}

type loginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	token, err := s.auth.Login(req.Address, req.Message, req.Signature)
	if err != nil {
		log.Debug("Login rejected", "address", req.Address, "err", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	// Disable CORS support if the user has not specified a custom CORS
	// configuration.
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		MaxAge:         600,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(srv)
}

var gzPool = sync.Pool{
	New: func() interface{} {
		return gzip.NewWriter(io.Discard)
	},
}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func newGzipHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")

		gz := gzPool.Get().(*gzip.Writer)
		defer gzPool.Put(gz)

		gz.Reset(w)
		defer gz.Close()

		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

// isWebsocketUpgrade checks the header of an http request for a websocket
// upgrade request.
func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
