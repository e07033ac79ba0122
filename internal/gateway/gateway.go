// Package gateway implements the Connection Gateway (C6): the websocket
// upgrade, authentication/authorization boundary, and the outward event
// framing for a session stream. Uses the same upgrader and two-goroutine
// duplex pump structure as a PTY-over-websocket terminal, generalized from
// a raw byte stream to JSON internal/events frames and coordinated with
// golang.org/x/sync/errgroup instead of a bare done channel.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentserver/sessionrt/internal/auth"
	"github.com/agentserver/sessionrt/internal/db"
	"github.com/agentserver/sessionrt/internal/events"
	"github.com/agentserver/sessionrt/internal/runtime"
	"github.com/agentserver/sessionrt/internal/skills"
	"github.com/agentserver/sessionrt/internal/watch"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const sendBuffer = 64

// SkillLookup resolves a skill by name for skill_invoke commands; the
// Gateway doesn't own skill storage, it only plumbs lookups through.
type SkillLookup func(name string) (*skills.Skill, bool)

// Gateway upgrades authenticated, authorized requests into a bound Runtime
// connection and wires the workspace watcher for the session's lifetime.
type Gateway struct {
	auth          *auth.Auth
	db            *db.DB
	table         *runtime.Table
	watcher       *watch.Registry
	workspaceRoot func(sessionID string) (string, error)
	resolveSkill  SkillLookup
	log           zerolog.Logger
}

func New(a *auth.Auth, database *db.DB, table *runtime.Table, watcher *watch.Registry, workspaceRoot func(string) (string, error), resolveSkill SkillLookup, log zerolog.Logger) *Gateway {
	return &Gateway{
		auth:          a,
		db:            database,
		table:         table,
		watcher:       watcher,
		workspaceRoot: workspaceRoot,
		resolveSkill:  resolveSkill,
		log:           log.With().Str("component", "gateway").Logger(),
	}
}

// wsConn adapts a *websocket.Conn into runtime.Conn: Send enqueues onto a
// bounded channel and never blocks the caller, dropping the event when the
// channel is full or the connection is already closed, per the "drop at the
// send gate" rule. Close tears down the underlying websocket connection too,
// so a displaced connection's blocked ReadMessage call in readPump returns
// immediately instead of waiting for a read timeout.
type wsConn struct {
	mu     sync.Mutex
	closed bool
	out    chan events.Event
	raw    *websocket.Conn
}

func newWSConn(raw *websocket.Conn) *wsConn {
	return &wsConn{out: make(chan events.Event, sendBuffer), raw: raw}
}

func (c *wsConn) Send(e events.Event) {
	// mu is held across the non-blocking send so Close cannot close c.out
	// between the closed check and the send.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- e:
	default:
		// buffer full: drop rather than block the agent's event loop.
	}
}

func (c *wsConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close is idempotent: ServeHTTP calls it again on its own way out after a
// displaced connection is already closed by a rebind.
func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.out)
	if c.raw != nil {
		c.raw.Close()
	}
}

// ServeHTTP implements the handshake: bearer-token auth, then
// session-ownership authorization (a NotFound response, not Forbidden, for
// sessions the caller doesn't own, so ownership is never leaked),
// then OpenOrRebind, then the duplex pump for the connection's lifetime.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request, sessionID string) {
	user, ok := g.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := g.db.GetSession(sessionID)
	if err != nil || sess == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	// A session owned by another user is reported NotFound, identically to a
	// session that doesn't exist
	if sess.UserID.Valid && sess.UserID.String != user.ID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	wsc := newWSConn(conn)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rt, err := g.table.OpenOrRebind(ctx, sessionID, user.ID, wsc)
	if err != nil {
		g.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to open runtime")
		return
	}

	workspaceDir, err := g.workspaceRoot(sessionID)
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to resolve workspace root")
	} else {
		unwatch, err := g.watcher.Subscribe(workspaceDir, func(paths []string) {
			rt.FilesChanged(paths)
		})
		if err != nil {
			g.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to subscribe workspace watcher")
		} else {
			defer unwatch()
		}
	}

	if err := g.db.TouchSession(sessionID); err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to touch session")
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return g.readPump(gctx, conn, rt) })
	group.Go(func() error { return g.writePump(gctx, conn, wsc) })
	_ = group.Wait()

	wsc.Close()
	cancel()
}

func (g *Gateway) authenticate(r *http.Request) (*db.User, bool) {
	var token string
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else {
		// browsers can't set custom headers on a websocket handshake, so the
		// token may also arrive as a query parameter.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, false
	}
	return g.auth.Validate(token)
}

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, rt *runtime.Runtime) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var cmd runtime.InboundCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			rt.EmitError("malformed command")
			continue
		}
		rt.HandleCommand(ctx, cmd, g.resolveSkill)
	}
}

func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, wsc *wsConn) error {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-wsc.out:
			if !ok {
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
