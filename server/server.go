// Package server exposes the upload pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"TrackHub/core/pipeline"
	"TrackHub/core/progress"
	"TrackHub/core/stream"
	"TrackHub/logger"
	"TrackHub/metrics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Handler holds the collaborators of the HTTP API.
type Handler struct {
	pipeline  *pipeline.Pipeline
	streamer  *stream.Streamer
	hub       *progress.Hub
	jwtSecret string
	// maxMemory bounds the in-memory part of multipart parsing
	maxMemory int64
	// maxUpload caps a whole upload request body, 0 means unlimited
	maxUpload int64
	upgrader  websocket.Upgrader
}

// NewHandler 创建 API 处理器
func NewHandler(p *pipeline.Pipeline, s *stream.Streamer, hub *progress.Hub, jwtSecret string) *Handler {
	return &Handler{
		pipeline:  p,
		streamer:  s,
		hub:       hub,
		jwtSecret: jwtSecret,
		maxMemory: 32 << 20,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WithUploadLimit caps the body of an upload request at n bytes.
func (h *Handler) WithUploadLimit(n int64) *Handler {
	h.maxUpload = n
	return h
}

// UploadLimit returns the request cap for maxFiles chunks of at most
// maxSize bytes each, plus room for the multipart framing and form fields.
func UploadLimit(maxFiles int, maxSize int64) int64 {
	if maxFiles <= 0 || maxSize <= 0 {
		return 0
	}
	return int64(maxFiles)*maxSize + 1<<20
}

// NewRouter registers every route on a gorilla/mux router.
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api/tracks").Subrouter()
	api.HandleFunc("/upload", h.AuthMiddleware(h.UploadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/merge", h.AuthMiddleware(h.MergeHandler)).Methods(http.MethodPost)
	api.HandleFunc("/stream", h.StreamHandler).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/{id}", h.GetTrackHandler).Methods(http.MethodGet)

	router.HandleFunc("/ws/tracks/{id}/progress", h.ProgressHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	// OPTIONS preflight for every path; corsMiddleware answers it
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	return router
}

// corsMiddleware 添加 CORS 头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 5 * time.Minute, // chunk uploads can be large
		// streaming responses are long lived; rely on client disconnects
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
