// Package server exposes the SolDocs HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soldocs/soldocs/internal/idl"
	"github.com/soldocs/soldocs/internal/store"
	"github.com/soldocs/soldocs/internal/types"
)

const (
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 5 << 20
	// mutating routes allow this many requests per client IP per minute.
	rateLimit       = 30
	rateWindow      = time.Minute
	defaultPage     = 1
	defaultLimit    = 50
	maxLimit        = 100
	shutdownTimeout = 5 * time.Second
)

// AgentStatus exposes the agent's live state to the API.
type AgentStatus interface {
	State() (types.AgentState, error)
}

// Server is the SolDocs HTTP API server.
type Server struct {
	store   *store.Store
	agent   AgentStatus
	log     *slog.Logger
	limiter *rateLimiter
	httpSrv *http.Server
}

// New creates a Server listening on addr.
func New(addr string, s *store.Store, agent AgentStatus, log *slog.Logger) *Server {
	srv := &Server{
		store:   s,
		agent:   agent,
		log:     log,
		limiter: newRateLimiter(rateLimit, rateWindow),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/agent/status", srv.handleAgentStatus)
	mux.HandleFunc("GET /api/programs", srv.handleListPrograms)
	mux.HandleFunc("GET /api/programs/{id}", srv.handleGetProgram)
	mux.HandleFunc("GET /api/programs/{id}/idl", srv.handleGetIDL)
	mux.HandleFunc("POST /api/programs", srv.rateLimited(srv.handleSubmitProgram))
	mux.HandleFunc("POST /api/programs/{id}/idl", srv.rateLimited(srv.handleUploadIDL))
	mux.HandleFunc("DELETE /api/programs/{id}", srv.rateLimited(srv.handleDeleteProgram))
	mux.HandleFunc("GET /api/queue", srv.handleQueue)

	srv.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           http.MaxBytesHandler(mux, maxBodyBytes),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Start serves until Shutdown is called. Blocks.
func (s *Server) Start() error {
	s.log.Info("HTTP API listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests for up to 5 seconds, then forces
// the listener closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, _ *http.Request) {
	state, err := s.agent.State()
	if err != nil {
		s.internalError(w, "read agent state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := s.store.ListPrograms()
	if err != nil {
		s.internalError(w, "list programs", err)
		return
	}
	if programs == nil {
		programs = []types.ProgramMetadata{}
	}

	if search := strings.ToLower(r.URL.Query().Get("search")); search != "" {
		filtered := programs[:0:0]
		for _, p := range programs {
			if strings.Contains(strings.ToLower(p.Name), search) ||
				strings.Contains(strings.ToLower(p.ProgramID), search) ||
				strings.Contains(strings.ToLower(p.Description), search) {
				filtered = append(filtered, p)
			}
		}
		programs = filtered
	}

	sort.SliceStable(programs, func(i, j int) bool {
		return programs[i].UpdatedAt.After(programs[j].UpdatedAt)
	})

	page := queryInt(r, "page", defaultPage, 1, math.MaxInt)
	limit := queryInt(r, "limit", defaultLimit, 1, maxLimit)

	// A page past the end yields an empty slice. The bound check runs
	// before the multiply so huge page values cannot overflow.
	total := len(programs)
	start := total
	if page-1 <= total/limit {
		start = min((page-1)*limit, total)
	}
	end := min(start+limit, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"programs": programs[start:end],
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

func (s *Server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	program, err := s.store.GetProgram(id)
	if errors.Is(err, types.ErrInvalidProgramID) {
		writeError(w, http.StatusBadRequest, "invalid program ID")
		return
	}
	if err != nil {
		s.internalError(w, "read program", err)
		return
	}
	if program == nil {
		writeError(w, http.StatusNotFound, "program not found")
		return
	}
	docs, err := s.store.GetDocs(id)
	if err != nil {
		s.internalError(w, "read docs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"program": program,
		"docs":    docs,
	})
}

func (s *Server) handleGetIDL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetIDL(id)
	if errors.Is(err, types.ErrInvalidProgramID) {
		writeError(w, http.StatusBadRequest, "invalid program ID")
		return
	}
	if err != nil {
		s.internalError(w, "read IDL cache", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no cached IDL for program")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSubmitProgram(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProgramID string `json:"programId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ProgramID == "" {
		writeError(w, http.StatusBadRequest, "programId is required")
		return
	}

	item, result, err := s.store.AddToQueueSafe(body.ProgramID)
	if errors.Is(err, types.ErrInvalidProgramID) {
		writeError(w, http.StatusBadRequest, "invalid program ID")
		return
	}
	if err != nil {
		s.internalError(w, "enqueue program", err)
		return
	}

	status := http.StatusAccepted
	message := "program queued for documentation"
	switch result {
	case store.Requeued:
		status = http.StatusOK
		message = "program re-queued after failure"
	case store.AlreadyQueued:
		status = http.StatusOK
		message = "program already queued"
	}
	writeJSON(w, status, map[string]any{
		"message": message,
		"item":    item,
	})
}

func (s *Server) handleUploadIDL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := types.ValidateProgramID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid program ID")
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	doc := idl.Document(raw)
	if err := doc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid IDL: %v", err))
		return
	}

	rec, err := s.store.SaveIDLSafe(id, doc)
	if err != nil {
		s.internalError(w, "cache uploaded IDL", err)
		return
	}
	item, _, err := s.store.AddToQueueSafe(id)
	if err != nil {
		s.internalError(w, "enqueue uploaded program", err)
		return
	}
	s.log.Info("IDL uploaded", "program", id, "name", doc.Name(), "hash", rec.Hash)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "IDL accepted, program queued for documentation",
		"hash":    rec.Hash,
		"item":    item,
	})
}

func (s *Server) handleDeleteProgram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := types.ValidateProgramID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid program ID")
		return
	}

	programRemoved, err := s.store.RemoveProgramSafe(id)
	if err != nil {
		s.internalError(w, "remove program record", err)
		return
	}
	queueRemoved, err := s.store.RemoveFromQueueSafe(id)
	if err != nil {
		s.internalError(w, "remove queue item", err)
		return
	}
	docsRemoved, err := s.store.RemoveDocsSafe(id)
	if err != nil {
		s.internalError(w, "remove docs", err)
		return
	}
	idlRemoved, err := s.store.RemoveIDLSafe(id)
	if err != nil {
		s.internalError(w, "remove IDL cache", err)
		return
	}

	if !programRemoved && !queueRemoved && !docsRemoved && !idlRemoved {
		writeError(w, http.StatusNotFound, "program not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "program removed",
		"removed": map[string]bool{
			"program": programRemoved,
			"queue":   queueRemoved,
			"docs":    docsRemoved,
			"idl":     idlRemoved,
		},
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	queue, err := s.store.ListQueue()
	if err != nil {
		s.internalError(w, "list queue", err)
		return
	}
	if queue == nil {
		queue = []types.QueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue": queue,
		"total": len(queue),
	})
}

// rateLimited wraps mutating handlers with the per-IP limiter.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// queryInt parses a query parameter, clamping to [lo, hi]. Unparseable
// values fall back to def.
func queryInt(r *http.Request, key string, def, lo, hi int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
