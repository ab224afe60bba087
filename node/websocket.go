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

package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/w3chat/relay/relay"
)

const (
	wsReadBuffer       = 1024
	wsWriteBuffer      = 1024
	wsPingInterval     = 30 * time.Second
	wsPingWriteTimeout = 5 * time.Second
	wsPongTimeout      = 30 * time.Second
	wsMessageSizeLimit = 1 * 1024 * 1024
)

var wsBufferPool = new(sync.Pool)

// websocketHandler returns the handler that upgrades chat connections and
// runs their read loops. The credential is taken from the token query
// parameter; a connection that fails authentication is closed with a policy
// violation before it is admitted to the registry.
func (s *Server) websocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     wsHandshakeValidator(s.cfg.WSOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("WebSocket upgrade failed", "err", err)
			return
		}
		identity, err := s.auth.Authenticate(r.URL.Query().Get("token"))
		if err != nil {
			log.Warn("Rejected unauthenticated WebSocket connection", "remote", conn.RemoteAddr(), "err", err)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsPingWriteTimeout))
			conn.Close()
			return
		}
		s.serveConn(newWSConn(conn, identity))
	})
}

// serveConn registers a connection and pumps its inbound frames through the
// router until the peer goes away. Anything unexpected thrown by message
// processing is caught here and treated as a disconnect.
func (s *Server) serveConn(c *wsConn) {
	s.reg.AddConnection(c.identity, c)
	c.logger.Info("WebSocket connection established")

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Unexpected error in WebSocket handler", "err", rec)
		}
		s.reg.RemoveConnection(c.identity, c)
		c.close()
		c.logger.Info("WebSocket connection closed")
	}()

	for {
		var env relay.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !isDecodeError(err) {
				return
			}
			// The frame was read but did not decode; the connection is
			// still usable.
			c.SendJSON(&relay.Envelope{Type: relay.TypeError, Message: "Invalid message format"})
			continue
		}
		s.router.ServeEnvelope(c, c.identity, &env)
	}
}

// isDecodeError reports whether a ReadJSON failure is a payload problem
// rather than a dead connection.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// wsConn is one live websocket session. Writes from the router and the ping
// loop are serialized by encMu, so outbound frames keep the order they were
// enqueued in.
type wsConn struct {
	id       uuid.UUID
	identity common.Address
	conn     *websocket.Conn
	logger   log.Logger

	encMu        sync.Mutex
	pingReset    chan struct{}
	pongReceived chan struct{}
	closed       chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

func newWSConn(conn *websocket.Conn, identity common.Address) *wsConn {
	c := &wsConn{
		id:           uuid.New(),
		identity:     identity,
		conn:         conn,
		logger:       log.New("identity", identity, "remote", conn.RemoteAddr()),
		pingReset:    make(chan struct{}, 1),
		pongReceived: make(chan struct{}),
		closed:       make(chan struct{}),
	}
	conn.SetReadLimit(wsMessageSizeLimit)
	conn.SetPongHandler(func(appData string) error {
		select {
		case c.pongReceived <- struct{}{}:
		case <-c.closed:
		}
		return nil
	})
	c.wg.Add(1)
	go c.pingLoop()
	return c
}

// ID implements relay.Conn.
func (c *wsConn) ID() uuid.UUID {
	return c.id
}

// SendJSON implements relay.Conn. It may fail when the peer is gone; the
// registry side skips such connections during fan-out.
func (c *wsConn) SendJSON(v interface{}) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout))
	err := c.conn.WriteJSON(v)
	if err == nil {
		// Notify pingLoop to delay the next idle ping.
		select {
		case c.pingReset <- struct{}{}:
		default:
		}
	}
	return err
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	c.wg.Wait()
}

// pingLoop sends periodic ping frames when the connection is idle.
func (c *wsConn) pingLoop() {
	var pingTimer = time.NewTimer(wsPingInterval)
	defer c.wg.Done()
	defer pingTimer.Stop()

	for {
		select {
		case <-c.closed:
			return

		case <-c.pingReset:
			if !pingTimer.Stop() {
				<-pingTimer.C
			}
			pingTimer.Reset(wsPingInterval)

		case <-pingTimer.C:
			c.encMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout))
			c.conn.WriteMessage(websocket.PingMessage, nil)
			c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			c.encMu.Unlock()
			pingTimer.Reset(wsPingInterval)

		case <-c.pongReceived:
			c.conn.SetReadDeadline(time.Time{})
		}
	}
}

// wsHandshakeValidator returns a handler that verifies the origin during the
// websocket upgrade process. When a '*' is specified as an allowed origin all
// connections are accepted.
func wsHandshakeValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAllOrigins := false

	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAllOrigins = true
		}
		if origin != "" {
			origins.Add(strings.ToLower(origin))
		}
	}
	// allow localhost if no allowedOrigins are specified.
	if origins.Cardinality() == 0 {
		origins.Add("http://localhost")
		if hostname, err := os.Hostname(); err == nil {
			origins.Add("http://" + strings.ToLower(hostname))
		}
	}

	return func(req *http.Request) bool {
		// Skip origin verification if no Origin header is present. The origin
		// check is supposed to protect against browser based attacks; browsers
		// always set Origin.
		if _, ok := req.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(req.Header.Get("Origin"))
		if allowAllOrigins || origins.Contains(origin) {
			return true
		}
		log.Warn("Rejected WebSocket connection", "origin", origin)
		return false
	}
}
