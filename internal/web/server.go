package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"glamour-studio/internal/credential"
	"glamour-studio/internal/prompt"
	"glamour-studio/internal/session"
	"glamour-studio/internal/studio"
)

//go:embed static/*
var staticFS embed.FS

const maxUploadBytes = 25 << 20

type Options struct {
	Sessions       *session.Store
	Logger         *slog.Logger
	RequestTimeout time.Duration
	VideoTimeout   time.Duration
}

type Server struct {
	sessions       *session.Store
	logger         *slog.Logger
	requestTimeout time.Duration
	videoTimeout   time.Duration
}

type apiError struct {
	Error string `json:"error"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type keyRequest struct {
	APIKey string `json:"api_key"`
}

type dialogResponse struct {
	Dialog  studio.DialogView `json:"dialog"`
	Session studio.Snapshot   `json:"session"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 180 * time.Second
	}
	videoTimeout := opts.VideoTimeout
	if videoTimeout <= 0 {
		videoTimeout = 600 * time.Second
	}

	return &Server{
		sessions:       opts.Sessions,
		logger:         logger,
		requestTimeout: requestTimeout,
		videoTimeout:   videoTimeout,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/backdrops", s.handleBackdrops)
	mux.HandleFunc("POST /api/sessions", s.handleCreate)
	mux.HandleFunc("GET /api/sessions/{id}", s.withSession(s.handleGet))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/image", s.withSession(s.handleImage))
	mux.HandleFunc("POST /api/sessions/{id}/remix", s.withSession(s.handleRemix))
	mux.HandleFunc("POST /api/sessions/{id}/video/dialog", s.withSession(s.handleOpenDialog))
	mux.HandleFunc("DELETE /api/sessions/{id}/video/dialog", s.withSession(s.handleCloseDialog))
	mux.HandleFunc("POST /api/sessions/{id}/video/key", s.withSession(s.handleSelectKey))
	mux.HandleFunc("POST /api/sessions/{id}/video", s.withSession(s.handleVideo))
	mux.HandleFunc("POST /api/sessions/{id}/preview", s.withSession(s.handleOpenPreview))
	mux.HandleFunc("DELETE /api/sessions/{id}/preview", s.withSession(s.handleClosePreview))
	mux.HandleFunc("POST /api/sessions/{id}/reset", s.withSession(s.handleReset))
	mux.HandleFunc("GET /api/sessions/{id}/download", s.withSession(s.handleDownload))

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger)
}

func (s *Server) withSession(next func(http.ResponseWriter, *http.Request, *studio.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Get(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "session not found"})
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) handleBackdrops(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, prompt.Backdrops())
}

func (s *Server) handleCreate(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request, sess *studio.Session) {
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, sess *studio.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing image"})
		return
	}
	defer file.Close()

	imgBytes, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "failed to read image"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	err = sess.SubmitImage(ctx, studio.ImageInput{
		Data:     imgBytes,
		MimeType: header.Header.Get("Content-Type"),
		Backdrop: strings.TrimSpace(r.FormValue("backdrop")),
		Note:     strings.TrimSpace(r.FormValue("note")),
	})
	s.reply(w, sess, err)
}

func (s *Server) handleRemix(w http.ResponseWriter, r *http.Request, sess *studio.Session) {
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	s.reply(w, sess, sess.Remix(ctx, req.Prompt))
}

func (s *Server) handleOpenDialog(w http.ResponseWriter, r *http.Request, sess *studio.Session) {
	view, err := sess.OpenVideoDialog(r.Context())
	if err != nil {
		s.reply(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, dialogResponse{Dialog: view, Session: sess.Snapshot()})
}

func (s *Server) handleCloseDialog(w http.ResponseWriter, _ *http.Request, sess *studio.Session) {
	sess.CloseVideoDialog()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSelectKey(w http.ResponseWriter, r *http.Request, sess *studio.Session) {
	var req keyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := sess.SelectKey(r.Context(), req.APIKey)
	if err != nil {
		s.reply(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, dialogResponse{Dialog: view, Session: sess.Snapshot()})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request, sess *studio.Session) {
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.videoTimeout)
	defer cancel()

	s.reply(w, sess, sess.GenerateVideo(ctx, req.Prompt))
}

func (s *Server) handleOpenPreview(w http.ResponseWriter, _ *http.Request, sess *studio.Session) {
	s.reply(w, sess, sess.OpenPreview())
}

func (s *Server) handleClosePreview(w http.ResponseWriter, _ *http.Request, sess *studio.Session) {
	sess.ClosePreview()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request, sess *studio.Session) {
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDownload(w http.ResponseWriter, _ *http.Request, sess *studio.Session) {
	asset, err := sess.Download()
	if err != nil {
		s.reply(w, sess, err)
		return
	}

	w.Header().Set("content-type", asset.MimeType)
	w.Header().Set("content-length", strconv.Itoa(len(asset.Data)))
	w.Header().Set("content-disposition", `attachment; filename="`+asset.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Data)
}

// reply answers with the session snapshot. Remote failures are part of the
// snapshot; only rejected requests produce an error status.
func (s *Server) reply(w http.ResponseWriter, sess *studio.Session, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, sess.Snapshot())
		return
	}
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "session", sess.ID(), "err", err)
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, studio.ErrInvalidImage),
		errors.Is(err, studio.ErrEmptyPrompt),
		errors.Is(err, credential.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, studio.ErrKeyRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, studio.ErrBusy),
		errors.Is(err, studio.ErrNotReady),
		errors.Is(err, studio.ErrReset):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())
	})
}
