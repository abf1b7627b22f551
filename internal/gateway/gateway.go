// Package gateway keeps persistent client connections and pushes events to
// the users that own them.
//
// A connection is authenticated before the protocol upgrade. Once accepted it
// is registered under its user in a sharded Registry and stays there until
// the client goes away or the gateway shuts down. EmitToUsers writes only to
// the connections of the listed users.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/mtlprog/taskmesh/internal/auth"
	"github.com/mtlprog/taskmesh/internal/middleware"
)

var errConnClosed = errors.New("connection closed")

// Frame is the message written to clients.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type inboundFrame struct {
	Type string `json:"type"`
}

// Gateway serves the websocket endpoint.
type Gateway struct {
	verifier auth.Verifier
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// New creates a Gateway with a DefaultShards registry.
func New(verifier auth.Verifier, logger *slog.Logger) *Gateway {
	return &Gateway{
		verifier: verifier,
		registry: NewRegistry(DefaultShards),
		logger:   logger.With("component", "gateway"),
	}
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

func tokenFromRequest(r *http.Request) string {
	if token := middleware.BearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// ServeHTTP authenticates the request and upgrades it. A rejected request
// gets 401 with the body "unauthorized" and nothing else.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := newConn(uuid.NewString())
	logger := g.logger.With("conn_id", c.ID())

	claims, err := g.verifier.Verify(r.Context(), tokenFromRequest(r))
	if err != nil {
		c.close()
		logger.Info("connection rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c.authenticate(claims.UserID)

	if !g.track() {
		c.close()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.active.Done()

	server := websocket.Server{
		// Non-browser clients send no Origin; the credential is what we check.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			g.serve(c, ws, logger.With("user_id", c.UserID()))
		},
	}
	server.ServeHTTP(w, r)
}

func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.active.Add(1)
	return true
}

func (g *Gateway) serve(c *Conn, ws *websocket.Conn, logger *slog.Logger) {
	c.attach(ws)
	g.registry.Add(c)
	logger.Info("connection opened")

	defer func() {
		g.registry.Remove(c)
		c.close()
		logger.Info("connection closed")
	}()

	if g.isClosing() {
		return
	}

	// The HTTP server's read timeout survives the hijack.
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		logger.Warn("failed to clear read deadline", "error", err)
	}

	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			return
		}

		var in inboundFrame
		if err := json.Unmarshal([]byte(msg), &in); err != nil {
			continue
		}
		if in.Type == "ping" {
			if err := g.write(c, Frame{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func (g *Gateway) write(c *Conn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.send(data)
}

// EmitToUsers pushes one frame to every live connection of each listed user
// and returns the number of successful writes. A connection whose write
// fails is closed.
func (g *Gateway) EmitToUsers(userIDs []string, eventType string, payload any) int {
	data, err := json.Marshal(Frame{Type: eventType, Payload: payload})
	if err != nil {
		g.logger.Error("failed to encode frame", "type", eventType, "error", err)
		return 0
	}

	recipients := slices.Clone(userIDs)
	slices.Sort(recipients)
	recipients = slices.Compact(recipients)

	delivered := 0
	for _, userID := range recipients {
		for _, c := range g.registry.Connections(userID) {
			if err := c.send(data); err != nil {
				g.logger.Warn("push failed, dropping connection",
					"conn_id", c.ID(),
					"user_id", userID,
					"type", eventType,
					"error", err,
				)
				g.registry.Remove(c)
				c.close()
				continue
			}
			delivered++
		}
	}
	return delivered
}

// Shutdown stops accepting connections, closes the open ones and waits for
// their handlers to return or ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	for _, c := range g.registry.All() {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
