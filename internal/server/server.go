// Package server wires the thin HTTP surface: session/file/mcp/auth REST
// endpoints plus the websocket stream route delegated to internal/gateway.
// Uses a chi router with middleware.Logger/Recoverer, a plain
// json.NewEncoder response idiom, and a handleLogin/handleRegister/handleMe
// auth shape, rebuilt over sessions, files, and MCP servers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentserver/sessionrt/internal/apierr"
	"github.com/agentserver/sessionrt/internal/auth"
	"github.com/agentserver/sessionrt/internal/db"
	"github.com/agentserver/sessionrt/internal/gateway"
	"github.com/agentserver/sessionrt/internal/runtime"
	"github.com/agentserver/sessionrt/internal/sandbox"
	"github.com/agentserver/sessionrt/internal/workspace"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Server struct {
	Auth      *auth.Auth
	DB        *db.DB
	Workspace *workspace.Service
	Sandbox   *sandbox.Manager
	Table     *runtime.Table
	Gateway   *gateway.Gateway
	log       zerolog.Logger
}

func New(a *auth.Auth, database *db.DB, ws *workspace.Service, sb *sandbox.Manager, table *runtime.Table, gw *gateway.Gateway, log zerolog.Logger) *Server {
	return &Server{
		Auth:      a,
		DB:        database,
		Workspace: ws,
		Sandbox:   sb,
		Table:     table,
		Gateway:   gw,
		log:       log.With().Str("component", "server").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	// The stream route authenticates inside internal/gateway, which also
	// accepts the token as a ?token= query parameter.
	r.Get("/api/sessions/{id}/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/auth/me", s.handleMe)

		r.Get("/api/sessions", s.handleListSessions)
		r.Post("/api/sessions", s.handleCreateSession)
		r.Get("/api/sessions/{id}", s.handleGetSession)
		r.Patch("/api/sessions/{id}", s.handleRenameSession)
		r.Delete("/api/sessions/{id}", s.handleDeleteSession)
		r.Post("/api/sessions/{id}/fork", s.handleForkSession)

		r.Get("/api/sessions/{id}/messages", s.handleListMessages)
		r.Post("/api/sessions/{id}/messages", s.handleAppendMessage)

		r.Get("/api/files", s.handleFilesTree)
		r.Get("/api/files/content", s.handleFileRead)
		r.Put("/api/files/content", s.handleFileWrite)
		r.Delete("/api/files/content", s.handleFileDelete)
		r.Get("/api/files/preview", s.handleFilePreview)
		r.Post("/api/files/upload", s.handleFileUpload)

		r.Get("/api/mcp/servers", s.handleListMCPServers)
		r.Post("/api/mcp/servers", s.handleCreateMCPServer)
		r.Patch("/api/mcp/servers/{name}", s.handleSetMCPServerEnabled)
		r.Delete("/api/mcp/servers/{name}", s.handleDeleteMCPServer)
	})

	return r
}

type ctxKey int

const userCtxKey ctxKey = 0

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		token := strings.TrimPrefix(h, "Bearer ")
		if token == "" || !strings.HasPrefix(h, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok := s.Auth.Validate(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromRequest(r *http.Request) *db.User {
	u, _ := r.Context().Value(userCtxKey).(*db.User)
	return u
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the apierr taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, apierr.ErrInvalidPath), errors.Is(err, apierr.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, apierr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apierr.ErrForbidden):
		return http.StatusNotFound // never leak existence to non-owners
	case errors.Is(err, apierr.ErrNotFound), errors.Is(err, apierr.ErrNoSandbox):
		return http.StatusNotFound
	case errors.Is(err, apierr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, &apierr.Timeout{}):
		return http.StatusGatewayTimeout
	case errors.Is(err, apierr.ErrAborted):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	if existing, err := s.DB.GetUserByUsername(req.Username); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	id := uuid.New().String()
	if err := s.Auth.Register(id, req.Username, req.Password); err != nil {
		s.log.Error().Err(err).Msg("register failed")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "username": req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	user, ok := s.Auth.Authenticate(req.Username, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.Auth.IssueToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	writeJSON(w, http.StatusOK, map[string]string{"id": user.ID, "username": user.Username, "role": user.Role})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	sessions, err := s.DB.ListSessionsWithPreview(user.ID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	var req struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Name == "" {
		req.Name = "untitled session"
	}

	id := uuid.New().String()
	if _, err := s.Workspace.Root(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.DB.CreateSession(id, user.ID, req.Name, id+"/workspace", ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess, err := s.DB.GetSession(id)
	if err != nil || sess == nil {
		writeError(w, http.StatusInternalServerError, "failed to load created session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) sessionByID(w http.ResponseWriter, r *http.Request, id string) (*db.Session, bool) {
	sess, err := s.DB.GetSession(id)
	if err != nil || sess == nil {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	user := userFromRequest(r)
	if sess.UserID.Valid && sess.UserID.String != user.ID {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	if !sess.UserID.Valid {
		s.log.Warn().Msgf("legacy session %s accessed by %s, owner unset", sess.ID, user.ID)
	}
	return sess, true
}

// sessionOr404 resolves the session named by the route's {id} segment, used
// by the session-scoped CRUD routes.
func (s *Server) sessionOr404(w http.ResponseWriter, r *http.Request) (*db.Session, bool) {
	return s.sessionByID(w, r, chi.URLParam(r, "id"))
}

// sessionFromQueryOr404 resolves the session named by a ?sessionId= query
// parameter, used by the file routes (/api/files/*), which have no {id}
// path segment of their own.
func (s *Server) sessionFromQueryOr404(w http.ResponseWriter, r *http.Request) (*db.Session, bool) {
	return s.sessionByID(w, r, r.URL.Query().Get("sessionId"))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if err := s.DB.RenameSession(sess.ID, req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeleteSession disposes the runtime before the workspace tree is
// removed, then deletes the DB row last. It does not stop the workspace
// watcher: a connected stream keeps its watcher subscription until that
// connection closes.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	s.Table.Dispose(sess.ID)
	if err := s.Workspace.RemoveRoot(sess.ID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to remove workspace root")
	}
	if err := s.DB.DeleteSession(sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForkSession(w http.ResponseWriter, r *http.Request) {
	source, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	user := userFromRequest(r)
	var req struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Name == "" {
		req.Name = source.Name + " (fork)"
	}

	newID := uuid.New().String()
	if _, err := s.Workspace.Root(newID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := copyTree(s.Workspace, source.ID, newID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.DB.ForkSession(source.ID, newID, req.Name, newID+"/workspace", user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess, err := s.DB.GetSession(newID)
	if err != nil || sess == nil {
		writeError(w, http.StatusInternalServerError, "failed to load forked session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	msgs, err := s.DB.ListMessages(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		writeError(w, http.StatusBadRequest, "role and content required")
		return
	}
	if err := s.DB.AppendMessage(sess.ID, req.Role, req.Content, time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.Gateway.ServeHTTP(w, r, id)
}

func (s *Server) handleFilesTree(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQueryOr404(w, r)
	if !ok {
		return
	}
	entries, err := s.Workspace.Tree(sess.ID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQueryOr404(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	data, err := s.Workspace.Read(sess.ID, path)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Write(data)
}

func (s *Server) handleFileWrite(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQueryOr404(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	data, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var expected *time.Time
	if v := r.URL.Query().Get("expectedMtime"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			t := time.UnixMilli(ms)
			expected = &t
		}
	}

	mtime, err := s.Workspace.Write(sess.ID, path, data, expected)
	if err != nil {
		var conflict *apierr.Conflict
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, map[string]int64{"serverModified": conflict.ServerMtime})
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"mtime": mtime.UnixMilli()})
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQueryOr404(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if err := s.Workspace.Delete(sess.ID, path); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQueryOr404(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	preview, err := s.Workspace.Preview(sess.ID, path)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQueryOr404(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	parts := workspace.PartsFromForm(r.MultipartForm)
	if err := s.Workspace.Upload(sess.ID, parts); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListMCPServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.DB.ListMCPServers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleCreateMCPServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string            `json:"name"`
		Command   string            `json:"command"`
		URL       string            `json:"url"`
		Args      []string          `json:"args"`
		Env       map[string]string `json:"env"`
		Headers   map[string]string `json:"headers"`
		Transport string            `json:"transport"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	rec := &db.MCPServer{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Args:      req.Args,
		Env:       req.Env,
		Headers:   req.Headers,
		Transport: req.Transport,
		Enabled:   true,
	}
	if req.Command != "" {
		rec.Command.String, rec.Command.Valid = req.Command, true
	}
	if req.URL != "" {
		rec.URL.String, rec.URL.Valid = req.URL, true
	}
	if err := s.DB.CreateMCPServer(rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleSetMCPServerEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := s.DB.SetMCPServerEnabled(name, req.Enabled); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteMCPServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.DB.DeleteMCPServer(name); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
