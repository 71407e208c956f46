package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/agentstep/agent"
	"github.com/hupe1980/agentstep/chat"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/runner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hupe1980/agentstep/server"

// Options configures a Server.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    logging.Logger
	Tracer    trace.Tracer
}

// Server is the HTTP surface of the agent runner and the chat app.
type Server struct {
	runner  *runner.Runner
	chat    *chat.App
	limiter *RateLimiter
	logger  logging.Logger
	tracer  trace.Tracer
	http    *http.Server
}

// New creates a Server. chatApp may be nil, in which case the chat routes
// answer 404.
func New(r *runner.Runner, chatApp *chat.App, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:              ":8123",
		ReadHeaderTimeout: 10 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	s := &Server{
		runner:  r,
		chat:    chatApp,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateBurst),
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /ai/agent/chat", s.limit(s.handleAgentStream))
	mux.Handle("GET /ai/agent/chat/sync", s.limit(s.handleAgentSync))
	if s.chat != nil {
		mux.Handle("GET /ai/chat/sync", s.limit(s.handleChatSync))
		mux.Handle("GET /ai/chat/sse", s.limit(s.handleChatStream))
	}
	return mux
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server.listen", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) limit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if ok, retry := s.limiter.Allow(key); !ok {
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			s.logger.Warn("server.rate_limited", "client", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()
		next(w, r.WithContext(ctx))
	})
}

func (s *Server) handleAgentSync(w http.ResponseWriter, r *http.Request) {
	out, err := s.runner.Run(r.Context(), r.URL.Query().Get("message"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeText(w, out)
}

func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	sse, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	runID, stream, err := s.runner.RunStream(r.Context(), r.URL.Query().Get("message"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// A client disconnect cancels r.Context, which closes the stream.
	defer stream.Close()

	w.Header().Set("X-Run-ID", runID)
	sse.start()
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("agentstep.run_id", runID))

	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					_ = sse.send("error", "Error: "+err.Error())
				}
				_ = sse.done()
				return
			}
			event := ""
			if ev.IsError() {
				event = "error"
			}
			if err := sse.send(event, ev.Text); err != nil {
				s.logger.Warn("server.sse.write_failed", "run_id", runID, "error", err.Error())
				return
			}
		case <-r.Context().Done():
			s.logger.Info("server.sse.client_gone", "run_id", runID)
			return
		}
	}
}

func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.chat.Chat(r.Context(), q.Get("chatId"), q.Get("message"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeText(w, out)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sse, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	q := r.URL.Query()
	message := q.Get("message")
	if strings.TrimSpace(message) == "" {
		s.fail(w, r, chat.ErrEmptyMessage)
		return
	}

	chunks, errs := s.chat.ChatStream(r.Context(), q.Get("chatId"), message)
	sse.start()
	for chunk := range chunks {
		if err := sse.send("", chunk); err != nil {
			return
		}
	}
	if err := <-errs; err != nil {
		_ = sse.send("error", "Error: "+err.Error())
	}
	_ = sse.done()
}

// fail maps errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrInvalidInput), errors.Is(err, agent.ErrInvalidState), errors.Is(err, chat.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, runner.ErrShutdown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if status >= http.StatusInternalServerError {
		s.logger.Error("server.request.failed", "path", r.URL.Path, "status", status, "error", err.Error())
	} else {
		s.logger.Warn("server.request.rejected", "path", r.URL.Path, "status", status, "error", err.Error())
	}
	http.Error(w, fmt.Sprintf("Error: %s", err.Error()), status)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
