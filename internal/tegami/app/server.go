package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bdobrica/Tegami/common/version"
	"github.com/bdobrica/Tegami/internal/tegami/chat"
	"github.com/bdobrica/Tegami/internal/tegami/dispatch"
	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
	"github.com/bdobrica/Tegami/internal/tegami/settings"
)

// maxBody bounds request bodies; stickers are the largest legitimate input.
const maxBody = 4 << 20

// Server exposes /health, /status and the /v1 conversation API.
type Server struct {
	addr      string
	app       *App
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

// NewServer creates the HTTP server (does not start it).
func NewServer(addr string, a *App) *Server {
	mux := http.NewServeMux()
	s := &Server{addr: addr, app: a, startedAt: time.Now(), mux: mux}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /v1/bind", s.handleBind)
	mux.HandleFunc("GET /v1/record", s.handleRecord)
	mux.HandleFunc("POST /v1/threads", s.handleCreateThread)
	mux.HandleFunc("POST /v1/threads/{id}/messages", s.handleSend)
	mux.HandleFunc("POST /v1/threads/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /v1/receive", s.handleReceive)
	mux.HandleFunc("POST /v1/contacts", s.handleAddContact)
	mux.HandleFunc("DELETE /v1/contacts/{id}", s.handleDeleteContact)
	mux.HandleFunc("POST /v1/moments", s.handleAddMoment)
	mux.HandleFunc("POST /v1/moments/{id}/like", s.handleLike)
	mux.HandleFunc("POST /v1/moments/{id}/comments", s.handleComment)
	mux.HandleFunc("PUT /v1/profile", s.handleProfile)
	mux.HandleFunc("POST /v1/stickers", s.handleAddSticker)
	mux.HandleFunc("DELETE /v1/stickers/{id}", s.handleRemoveSticker)
	mux.HandleFunc("POST /v1/clear", s.handleClear)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handlePutSettings)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	return s
}

// ServeHTTP lets the server be exercised with httptest.NewRecorder.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener
// is open.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}
	// No WriteTimeout: message sends wait on the generation backend.
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts down the listener if one is running.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	BuildTime   string    `json:"build_time"`
	StartedAt   time.Time `json:"started_at"`
	UptimeSecs  float64   `json:"uptime_seconds"`
	Storage     string    `json:"storage"`
	LocalBytes  int64     `json:"local_bytes"`
	LocalQuota  int64     `json:"local_quota"`
	ActiveScope string    `json:"active_scope,omitempty"`
	Pending     int       `json:"pending_replies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version, Commit: version.GitCommit})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	a := s.app
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		Storage:    a.kv.Backend().Name(),
		LocalQuota: a.config.LocalQuotaBytes,
		Pending:    a.pipeline.Pending(),
	}
	if n, err := a.local.Usage(r.Context()); err == nil {
		resp.LocalBytes = n
	}
	if scope, ok := a.chat.Active(); ok {
		resp.ActiveScope = scope.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := host.Parse(data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h, err := s.app.Bind(r.Context(), snap)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeRecord(w, r, h)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	s.writeRecord(w, r, h)
}

type recordResponse struct {
	Scope   string         `json:"scope"`
	Now     narrative.Time `json:"now"`
	Threads []chat.Thread  `json:"threads"`
	Record  *chat.Record   `json:"record"`
}

func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, h *chat.Scoped) {
	rec, err := h.Record(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	threads, err := h.Threads(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{
		Scope:   h.Scope().String(),
		Now:     s.app.resolver.Resolve(h.Snapshot()),
		Threads: threads,
		Record:  rec,
	})
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	var spec chat.ThreadSpec
	if !decode(w, r, &spec) {
		return
	}
	t, err := h.CreateThread(r.Context(), spec)
	respond(w, http.StatusCreated, t, err)
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	// The reply is generated in the background; failures arrive as events.
	out, err := s.app.pipeline.SendUserMessage(r.Context(), h, nil, r.PathValue("id"), req.Text)
	respond(w, http.StatusAccepted, out, err)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	respond(w, http.StatusNoContent, nil, h.MarkRead(r.Context(), r.PathValue("id")))
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	got, err := s.app.pipeline.Receive(r.Context(), h, data)
	respond(w, http.StatusOK, got, err)
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	var spec chat.ContactSpec
	if !decode(w, r, &spec) {
		return
	}
	c, err := h.AddContact(r.Context(), spec)
	respond(w, http.StatusCreated, c, err)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	respond(w, http.StatusNoContent, nil, h.DeleteContact(r.Context(), r.PathValue("id")))
}

func (s *Server) handleAddMoment(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	var m chat.Moment
	if !decode(w, r, &m) {
		return
	}
	out, err := h.AddMoment(r.Context(), m)
	respond(w, http.StatusCreated, out, err)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	m, err := h.ToggleLike(r.Context(), r.PathValue("id"))
	respond(w, http.StatusOK, m, err)
}

type commentRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.AddComment(r.Context(), r.PathValue("id"), req.Author, req.Text)
	respond(w, http.StatusCreated, m, err)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	var p chat.UserProfile
	if !decode(w, r, &p) {
		return
	}
	respond(w, http.StatusNoContent, nil, h.UpdateUserProfile(r.Context(), p))
}

type stickerRequest struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func (s *Server) handleAddSticker(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	var req stickerRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.AddSticker(r.Context(), req.Name, req.Data)
	respond(w, http.StatusCreated, st, err)
}

func (s *Server) handleRemoveSticker(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	respond(w, http.StatusNoContent, nil, h.RemoveSticker(r.Context(), r.PathValue("id")))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	h, ok := s.active(w)
	if !ok {
		return
	}
	respond(w, http.StatusNoContent, nil, h.Clear(r.Context()))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.settings.Get(r.Context()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.Settings
	if !decode(w, r, &next) {
		return
	}
	out, err := s.app.settings.Update(r.Context(), next)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, s.app.events.Since(since))
}

func (s *Server) active(w http.ResponseWriter) (*chat.Scoped, bool) {
	h, err := s.app.Active()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return nil, false
	}
	return h, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, code int, v any, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	writeJSON(w, code, v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrDuplicateContact):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyName),
		errors.Is(err, chat.ErrEmptyContent),
		errors.Is(err, chat.ErrInvalidKind),
		errors.Is(err, host.ErrInvalidSnapshot),
		errors.Is(err, dispatch.ErrInvalidPayload),
		errors.Is(err, settings.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, kv.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: failed to encode JSON response", "err", err)
	}
}
