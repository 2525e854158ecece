// Package server exposes sessions, tasks and repository operations over a
// JSON HTTP API with a websocket terminal channel.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/conduitworks/foreman/internal/agent"
	gitpkg "github.com/conduitworks/foreman/internal/git"
	"github.com/conduitworks/foreman/internal/notify"
	"github.com/conduitworks/foreman/internal/session"
	"github.com/conduitworks/foreman/internal/store"
	"github.com/conduitworks/foreman/internal/task"
)

type Server struct {
	sessions *session.Manager
	git      *gitpkg.Service
	tasks    *task.Service
	store    *store.Store
	notify   *notify.Manager
	logger   *slog.Logger
	httpSrv  *http.Server
	version  string
}

type Config struct {
	Addr          string
	Logger        *slog.Logger
	Version       string
	Store         *store.Store // nil disables task records
	NotifyManager *notify.Manager
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions := session.NewManager(logger)
	gitSvc := gitpkg.NewService(logger)

	s := &Server{
		sessions: sessions,
		git:      gitSvc,
		tasks:    task.NewService(gitSvc, sessions, cfg.Store, logger),
		store:    cfg.Store,
		notify:   cfg.NotifyManager,
		logger:   logger,
		version:  cfg.Version,
	}

	// send push notification when a session exits
	if s.notify != nil {
		s.sessions.OnSessionExit = func(sess *session.Session) {
			info := sess.Info()
			s.notify.SessionExited(notify.SessionExit{
				AgentID:  info.ID,
				TaskID:   info.TaskID,
				Command:  info.Command,
				ExitCode: info.ExitCode,
				Signal:   info.Signal,
			})
		}
	}

	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("GET /api/v1/info", s.handleInfo)
	mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)

	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/v1/sessions", s.handleSpawnSession)
	mux.HandleFunc("GET /api/v1/sessions/count", s.handleCountSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleKillSession)
	mux.HandleFunc("DELETE /api/v1/sessions", s.handleKillAllSessions)
	mux.HandleFunc("POST /api/v1/sessions/{id}/input", s.handleSessionInput)
	mux.HandleFunc("POST /api/v1/sessions/{id}/resize", s.handleSessionResize)
	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	// Tasks
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.handleDeleteTask)

	// Git
	mux.HandleFunc("GET /api/v1/git/branch", s.handleGitBranch)
	mux.HandleFunc("GET /api/v1/git/changed-files", s.handleGitChangedFiles)
	mux.HandleFunc("GET /api/v1/git/diff", s.handleGitDiff)
	mux.HandleFunc("GET /api/v1/git/worktree-status", s.handleGitWorktreeStatus)
	mux.HandleFunc("GET /api/v1/git/merge-status", s.handleGitMergeStatus)
	mux.HandleFunc("GET /api/v1/git/branch-log", s.handleGitBranchLog)
	mux.HandleFunc("GET /api/v1/git/gitignored-dirs", s.handleGitIgnoredDirs)
	mux.HandleFunc("POST /api/v1/git/merge", s.handleGitMerge)
	mux.HandleFunc("POST /api/v1/git/rebase", s.handleGitRebase)
	mux.HandleFunc("POST /api/v1/git/push", s.handleGitPush)

	// Web Push notifications
	mux.HandleFunc("GET /api/v1/push/vapid", s.handleVAPIDKey)
	mux.HandleFunc("POST /api/v1/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("POST /api/v1/push/unsubscribe", s.handlePushUnsubscribe)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server started", "addr", ln.Addr().String())
	return s.httpSrv.Serve(ln)
}

func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) SetTLSConfig(tlsCfg *tls.Config) {
	s.httpSrv.TLSConfig = tlsCfg
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down...")
	s.sessions.KillAll()
	return s.httpSrv.Shutdown(ctx)
}

// --- Info / Agents ---

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	homeDir, _ := os.UserHomeDir()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"version":  s.version,
		"hostname": hostname,
		"homeDir":  homeDir,
		"agents":   agent.Availability(),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"agents":       agent.Defaults(),
		"availability": agent.Availability(),
	})
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	infos := make([]session.Info, len(list))
	for i, sess := range list {
		infos[i] = sess.Info()
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"sessions": infos})
}

type spawnRequest struct {
	TaskID  string            `json:"taskId"`
	AgentID string            `json:"agentId"`
	Agent   string            `json:"agent"` // catalog id; empty means raw command
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Dir     string            `json:"dir"`
	Env     map[string]string `json:"env"`
	Resume  bool              `json:"resume"`
	Cols    uint16            `json:"cols"`
	Rows    uint16            `json:"rows"`
}

func (s *Server) handleSpawnSession(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	command := req.Command
	args := req.Args
	if req.Agent != "" {
		def, ok := agent.Lookup(req.Agent)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown agent: "+req.Agent)
			return
		}
		command = def.Command
		args = append([]string{}, def.Args...)
		if req.Resume {
			args = append(args, def.ResumeArgs...)
		}
		args = append(args, req.Args...)
	}

	if req.Dir == "" {
		home, _ := os.UserHomeDir()
		req.Dir = home
	}
	if info, err := os.Stat(req.Dir); err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "bad_request", "working directory does not exist: "+req.Dir)
		return
	}
	if req.AgentID == "" {
		req.AgentID = uuid.New().String()
	}
	if req.Cols == 0 {
		req.Cols = 80
	}
	if req.Rows == 0 {
		req.Rows = 24
	}

	sess, err := s.sessions.Spawn(session.SpawnRequest{
		TaskID:  req.TaskID,
		AgentID: req.AgentID,
		Command: command,
		Args:    args,
		Dir:     req.Dir,
		Env:     req.Env,
		Cols:    req.Cols,
		Rows:    req.Rows,
	}, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, sess.Info())
}

func (s *Server) handleCountSessions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]int{"count": s.sessions.CountLive()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found: "+id)
		return
	}
	writeJSONResponse(w, http.StatusOK, sess.Info())
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Kill(r.PathValue("id"))
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleKillAllSessions(w http.ResponseWriter, r *http.Request) {
	s.sessions.KillAll()
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.sessions.Write(id, []byte(req.Data)); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionResize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.sessions.Resize(id, req.Cols, req.Rows); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", err.Error())
}

// --- Tasks ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{"tasks": []store.TaskRecord{}})
		return
	}
	tasks, err := s.store.ListTasks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if tasks == nil {
		tasks = []store.TaskRecord{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		ProjectRoot  string   `json:"projectRoot"`
		BranchPrefix string   `json:"branchPrefix"`
		SymlinkDirs  []string `json:"symlinkDirs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	if req.ProjectRoot == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "projectRoot is required")
		return
	}

	t, err := s.tasks.Create(req.Name, req.ProjectRoot, req.BranchPrefix, req.SymlinkDirs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		AgentIDs     []string `json:"agentIds"`
		Branch       string   `json:"branch"`
		ProjectRoot  string   `json:"projectRoot"`
		DeleteBranch bool     `json:"deleteBranch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.tasks.Delete(id, req.AgentIDs, req.Branch, req.ProjectRoot, req.DeleteBranch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Git ---

func dirParam(r *http.Request) string {
	return r.URL.Query().Get("dir")
}

func (s *Server) handleGitBranch(w http.ResponseWriter, r *http.Request) {
	dir := dirParam(r)
	current, err := s.git.CurrentBranch(dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	main, err := s.git.DetectMainBranch(dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"current": current,
		"main":    main,
	})
}

func (s *Server) handleGitChangedFiles(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"files": s.git.ChangedFiles(dirParam(r)),
	})
}

func (s *Server) handleGitDiff(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "file is required")
		return
	}
	diff, err := s.git.FileDiff(dirParam(r), file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"diff": diff})
}

func (s *Server) handleGitWorktreeStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.git.WorktreeStatus(dirParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, state)
}

func (s *Server) handleGitMergeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.git.CheckMergeStatus(dirParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, status)
}

func (s *Server) handleGitBranchLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.git.BranchLog(dirParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"log": log})
}

func (s *Server) handleGitIgnoredDirs(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"dirs": s.git.GitignoredDirs(dirParam(r)),
	})
}

func (s *Server) handleGitMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectRoot string `json:"projectRoot"`
		Branch      string `json:"branch"`
		Squash      bool   `json:"squash"`
		Message     string `json:"message"`
		Cleanup     bool   `json:"cleanup"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	result, err := s.git.MergeTask(req.ProjectRoot, req.Branch, req.Squash, req.Message, req.Cleanup)
	if err != nil {
		if errors.Is(err, gitpkg.ErrDirtyWorktree) {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleGitRebase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir string `json:"dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.git.RebaseTask(req.Dir); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGitPush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectRoot string `json:"projectRoot"`
		Branch      string `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.git.PushTask(req.ProjectRoot, req.Branch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Web Push ---

func (s *Server) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "push notifications not configured")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"publicKey": s.notify.VAPIDPublicKey(),
	})
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "push notifications not configured")
		return
	}
	var sub webpush.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid subscription")
		return
	}
	s.notify.Subscribe(&sub)
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "push notifications not configured")
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request")
		return
	}
	s.notify.Unsubscribe(req.Endpoint)
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Helpers ---

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSONResponse(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
