// Package httpapi serves one VibeKit session over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	vibekit "github.com/backupManager/vibekit-ai"
	"github.com/backupManager/vibekit-ai/pkg/agent"
	"github.com/backupManager/vibekit-ai/pkg/eventbus"
)

// Facade is the subset of *vibekit.VibeKit the server drives.
type Facade interface {
	GenerateCode(ctx context.Context, req vibekit.GenerateRequest) (*agent.Response, error)
	CreatePullRequest(ctx context.Context) (*agent.PullRequestResponse, error)
	RunTests(ctx context.Context, opts vibekit.RunTestsOptions) (*agent.Response, error)
	ExecuteCommand(ctx context.Context, command string, opts vibekit.ExecuteCommandOptions) (*agent.Response, error)
	Kill(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Session() string
}

var _ Facade = (*vibekit.VibeKit)(nil)

// Server exposes a Facade over HTTP. Operations run one at a time because
// they share a single sandbox.
type Server struct {
	vk     Facade
	bus    eventbus.Bus
	router chi.Router

	mu sync.Mutex
}

// New creates a Server. bus may be nil, which disables GET /v1/events.
func New(vk Facade, bus eventbus.Bus) *Server {
	s := &Server{vk: vk, bus: bus}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	clog.FromContext(ctx).With("addr", addr, "session", s.vk.Session()).Info("vibekit server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Post("/tests", s.handleTests)
		r.Post("/exec", s.handleExec)
		r.Post("/pull-request", s.handlePullRequest)
		r.Post("/sandbox/{action}", s.handleSandbox)
		r.Get("/events", s.handleEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type generateRequest struct {
	Prompt     string       `json:"prompt"`
	Mode       agent.Mode   `json:"mode,omitempty"`
	Branch     string       `json:"branch,omitempty"`
	History    []agent.Turn `json:"history,omitempty"`
	Background bool         `json:"background,omitempty"`
	Stream     bool         `json:"stream,omitempty"`
}

type testsRequest struct {
	Branch  string       `json:"branch,omitempty"`
	History []agent.Turn `json:"history,omitempty"`
	Stream  bool         `json:"stream,omitempty"`
}

type execRequest struct {
	Command        string `json:"command"`
	TimeoutMS      int64  `json:"timeoutMs,omitempty"`
	UseRepoContext bool   `json:"useRepoContext,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

// streamLine is one NDJSON line of a streamed response.
type streamLine struct {
	Type     string          `json:"type"` // "update", "error", "result"
	Data     string          `json:"data,omitempty"`
	Response *agent.Response `json:"response,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	switch req.Mode {
	case "", agent.ModeCode, agent.ModeAsk:
	default:
		writeError(w, http.StatusBadRequest, "mode must be 'code' or 'ask'")
		return
	}

	s.run(w, r, req.Stream, func(ctx context.Context, cb *vibekit.Callbacks) (*agent.Response, error) {
		return s.vk.GenerateCode(ctx, vibekit.GenerateRequest{
			Prompt:     req.Prompt,
			Mode:       req.Mode,
			Branch:     req.Branch,
			History:    req.History,
			Callbacks:  cb,
			Background: req.Background,
		})
	})
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	var req testsRequest
	if !decode(w, r, &req) {
		return
	}
	s.run(w, r, req.Stream, func(ctx context.Context, cb *vibekit.Callbacks) (*agent.Response, error) {
		return s.vk.RunTests(ctx, vibekit.RunTestsOptions{Branch: req.Branch, History: req.History, Callbacks: cb})
	})
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	s.run(w, r, req.Stream, func(ctx context.Context, cb *vibekit.Callbacks) (*agent.Response, error) {
		return s.vk.ExecuteCommand(ctx, req.Command, vibekit.ExecuteCommandOptions{
			Timeout:        time.Duration(req.TimeoutMS) * time.Millisecond,
			UseRepoContext: req.UseRepoContext,
			Callbacks:      cb,
		})
	})
}

func (s *Server) handlePullRequest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, err := s.vk.CreatePullRequest(r.Context())
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request) {
	var fn func(context.Context) error
	switch chi.URLParam(r, "action") {
	case "pause":
		fn = s.vk.Pause
	case "resume":
		fn = s.vk.Resume
	case "kill":
		fn = s.vk.Kill
	default:
		writeError(w, http.StatusNotFound, "action must be pause, resume or kill")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(r.Context()); err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams the session's events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotFound, "event streaming is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	session := s.vk.Session()
	ch := s.bus.Subscribe(session)
	defer s.bus.Unsubscribe(session, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

// run executes one streaming-capable operation. With stream set, progress
// is written as NDJSON while the call runs and the result is the last line.
func (s *Server) run(w http.ResponseWriter, r *http.Request, stream bool, call func(context.Context, *vibekit.Callbacks) (*agent.Response, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := r.Context()

	if !stream {
		res, err := call(ctx, nil)
		if err != nil {
			writeFailure(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	nw := newNDJSONWriter(w)
	var (
		errMu    sync.Mutex
		streamed []error
	)
	res, err := call(ctx, &vibekit.Callbacks{
		OnUpdate: func(msg string) { nw.write(streamLine{Type: "update", Data: msg}) },
		OnError: func(err error) {
			line := streamLine{Type: "error"}
			if err != nil {
				line.Data = err.Error()
			}
			errMu.Lock()
			streamed = append(streamed, err)
			errMu.Unlock()
			nw.write(line)
		},
	})
	if err != nil {
		clog.FromContext(ctx).With("error", err).Warn("streamed operation failed")
		errMu.Lock()
		seen := slices.ContainsFunc(streamed, func(e error) bool { return e != nil && errors.Is(err, e) })
		errMu.Unlock()
		if !seen {
			nw.write(streamLine{Type: "error", Data: err.Error()})
		}
		return
	}
	nw.write(streamLine{Type: "result", Response: res})
}

// --- Helpers ---

// ndjsonWriter serializes lines written from backend goroutines.
type ndjsonWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	enc     *json.Encoder
	flusher http.Flusher
	started bool
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	f, _ := w.(http.Flusher)
	return &ndjsonWriter{w: w, enc: json.NewEncoder(w), flusher: f}
}

func (n *ndjsonWriter) write(line streamLine) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	_ = n.enc.Encode(line)
	if n.flusher != nil {
		n.flusher.Flush()
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeFailure maps configuration errors to 4xx and everything else to 500.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vibekit.ErrMissingGitHubConfig), errors.Is(err, agent.ErrNoGitHubCredentials):
		status = http.StatusPreconditionFailed
	case errors.Is(err, agent.ErrNoChanges):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		clog.FromContext(ctx).With("error", err).Error("operation failed")
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *eventbus.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		log := clog.FromContext(r.Context()).With("method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(clog.WithLogger(r.Context(), log)))
		log.With("status", ww.Status(), "duration", time.Since(start)).Info("request handled")
	})
}
