// Package server exposes agent builds over HTTP. Build parameters are read
// from request headers.
package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sandbuild/sandbuild/pkg/build"
	"github.com/sandbuild/sandbuild/pkg/compile"
	"github.com/zeebo/blake3"
)

const (
	DownloadPath = "/file/download"

	HeaderLibrary   = "x-library"
	HeaderRequestID = "X-Request-ID"
	HeaderFilename  = "FILENAME"
	HeaderDigest    = "X-Artifact-Digest"

	shutdownTimeout = 10 * time.Second
)

// Compiler produces agent artifacts for a build request.
type Compiler interface {
	CompileExecutable(ctx context.Context, req *build.Request) ([]byte, error)
	CompileLibrary(ctx context.Context, req *build.Request) ([]byte, error)
}

var _ Compiler = &compile.Service{}

type Server struct {
	compiler Compiler
	limiter  *RateLimiter
	logger   *slog.Logger
}

type Options struct {
	// Limiter is optional, requests are not limited without one
	Limiter *RateLimiter
	Logger  *slog.Logger
}

func New(compiler Compiler, opts Options) *Server {
	s := &Server{
		compiler: compiler,
		limiter:  opts.Limiter,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+DownloadPath, s.handleDownload)
	mux.HandleFunc("POST "+DownloadPath, s.handleDownload)

	var h http.Handler = gzhttp.GzipHandler(mux)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}

	return withRequestID(h)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts requests on ln until ctx is done, then shuts down. Requests
// do not inherit ctx's cancellation, so shutdown waits up to shutdownTimeout
// for running builds to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "listening for build requests", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := build.RequestFromHeaders(r.Header)
	logger := s.logger.With("request_id", w.Header().Get(HeaderRequestID), "file", req.File, "platform", req.Platform)

	compileFn := s.compiler.CompileExecutable
	if library, _ := strconv.ParseBool(r.Header.Get(HeaderLibrary)); library {
		compileFn = s.compiler.CompileLibrary
	}

	data, err := compileFn(ctx, req)
	switch {
	case errors.Is(err, compile.ErrInvalidRequest):
		logger.WarnContext(ctx, "rejected build request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, compile.ErrArtifactNotFound):
		logger.WarnContext(ctx, "no artifact available", "error", err)
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	case errors.Is(err, context.Canceled):
		logger.DebugContext(ctx, "build request abandoned")
		return
	case err != nil:
		logger.ErrorContext(ctx, "failed to serve artifact", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderFilename, req.File)
	w.Header().Set(HeaderDigest, Digest(data))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.DebugContext(ctx, "failed to write artifact", "error", err)
	}
}

// Digest identifies artifact content as "blake3:<hex>".
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// withRequestID tags every response with the caller's request id, or a new
// one when the caller sent none.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}
