package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/backend"
	"github.com/example/go-wordalign/internal/config"
	"github.com/example/go-wordalign/internal/record"
	"github.com/example/go-wordalign/internal/transform"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Settings are the per-request transform defaults. Requests may override the
// fields and batch size through query parameters.
type Settings struct {
	Backend     string
	SourceField string
	TargetField string
	OutputField string
	BatchSize   int
}

// SettingsFromConfig extracts the transform defaults from cfg.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		Backend:     cfg.Align.Backend,
		SourceField: cfg.Align.SourceField,
		TargetField: cfg.Align.TargetField,
		OutputField: cfg.Align.OutputField,
		BatchSize:   cfg.Align.BatchSize,
	}
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxBodyBytes   int64
	requestTimeout time.Duration
	backends       []string
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxBodyBytes:   8 << 20,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxBodyBytes caps the size of a POST /align body.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithRequestTimeout sets the per-request alignment deadline. A non-positive
// duration disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithBackends sets the backend names reported by GET /backends.
func WithBackends(names []string) Option {
	return func(o *options) { o.backends = append([]string(nil), names...) }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	aligner  align.Aligner
	settings Settings
	opts     options
	sem      chan struct{} // one alignment at a time on the shared aligner
	log      *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /backends, and
// POST /align. The aligner is shared by all requests; callers keep it
// acquired for the handler's lifetime and pass it through align.Retain so
// per-request runs do not reload the backend.
func NewHandler(aligner align.Aligner, settings Settings, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		aligner:  aligner,
		settings: settings,
		opts:     opts,
		sem:      make(chan struct{}, 1),
		log:      opts.logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/backends", h.handleBackends)
	mux.HandleFunc("/align", h.handleAlign)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
		"backend": h.settings.Backend,
	})
}

type backendsResponse struct {
	Active    string   `json:"active"`
	Available []string `json:"available"`
}

func (h *handler) handleBackends(w http.ResponseWriter, _ *http.Request) {
	available := h.opts.backends
	if available == nil {
		available = []string{}
	}
	writeJSON(w, http.StatusOK, backendsResponse{Active: h.settings.Backend, Available: available})
}

func (h *handler) handleAlign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	settings, err := h.requestSettings(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tr, err := transform.New(h.aligner, settings.SourceField, settings.TargetField,
		transform.WithBatchSize(settings.BatchSize),
		transform.WithOutputField(settings.OutputField),
		transform.WithBackendName(settings.Backend),
		transform.WithLogger(h.log),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Acquire the aligner slot; honour context cancellation while waiting.
	select {
	case h.sem <- struct{}{}:
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for aligner")
		return
	}
	defer func() { <-h.sem }()

	// Apply per-request timeout.
	ctx := r.Context()
	if h.opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.requestTimeout)
		defer cancel()
	}

	rc := http.NewResponseController(w)
	// Records are streamed back while the body is still being read.
	_ = rc.EnableFullDuplex()

	body := &errReader{r: http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes)}
	enc := record.NewEncoder(w)

	start := time.Now()
	written := 0
	var streamErr error

	for rec, err := range tr.Apply(ctx, record.ReadJSONL(body)) {
		if err != nil {
			streamErr = err
			break
		}
		if written == 0 {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
		if err := enc.Encode(rec); err != nil {
			streamErr = fmt.Errorf("write response: %w", err)
			break
		}
		written++
		_ = rc.Flush()
	}

	durationMS := time.Since(start).Milliseconds()

	// The line scanner turns a cut-off body into a malformed last line;
	// report the size limit instead.
	var tooLarge *http.MaxBytesError
	if errors.As(body.err, &tooLarge) {
		streamErr = body.err
	}

	if streamErr != nil {
		status, msg := classifyError(streamErr, h.opts.maxBodyBytes)
		level := slog.LevelError
		if status == StatusClientClosedRequest {
			level = slog.LevelWarn
		}
		h.log.Log(r.Context(), level, "alignment request failed",
			slog.String("backend", settings.Backend),
			slog.Int("records", written),
			slog.Int("status", status),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", streamErr.Error()),
		)
		if written == 0 {
			writeError(w, status, msg)
			return
		}
		// Headers are gone; report the failure as the final line.
		_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
		return
	}

	if written == 0 {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}

	stats := tr.Stats()
	h.log.InfoContext(r.Context(), "alignment request complete",
		slog.String("backend", settings.Backend),
		slog.Int("records", stats.Records),
		slog.Int("skipped", stats.Skipped),
		slog.Int("backend_calls", stats.BackendCalls),
		slog.Int64("duration_ms", durationMS),
	)
}

func (h *handler) requestSettings(q url.Values) (Settings, error) {
	s := h.settings
	if v := q.Get("source_field"); v != "" {
		s.SourceField = v
	}
	if v := q.Get("target_field"); v != "" {
		s.TargetField = v
	}
	if v := q.Get("output_field"); v != "" {
		s.OutputField = v
	}
	if v := q.Get("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid batch_size %q", v)
		}
		s.BatchSize = n
	}
	return s, nil
}

// StatusClientClosedRequest is reported when the client goes away before the
// alignment finishes. Nothing can read it; it shows up in logs.
const StatusClientClosedRequest = 499

func classifyError(err error, maxBody int64) (int, string) {
	var tooLarge *http.MaxBytesError
	var backendErr *align.BackendError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds maximum size of %d bytes", maxBody)
	case errors.Is(err, record.ErrMalformedLine),
		errors.Is(err, record.ErrMissingField),
		errors.Is(err, record.ErrNotWords):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "alignment timed out"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "client closed request"
	case errors.As(err, &backendErr):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// errReader remembers the first non-EOF read error.
type errReader struct {
	r   io.Reader
	err error
}

func (e *errReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF && e.err == nil {
		e.err = err
	}
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server wires the handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server owns one acquired aligner for its whole lifetime and serves it
// over HTTP.
type Server struct {
	cfg             config.Config
	aligner         align.Aligner
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a server for cfg. A nil aligner is built from cfg.Align.Backend.
func New(cfg config.Config, aligner align.Aligner) *Server {
	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		cfg:             cfg,
		aligner:         aligner,
		logger:          slog.Default(),
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start(ctx context.Context) error {
	name, err := backend.Resolve(s.cfg.Align.Backend)
	if err != nil {
		return err
	}

	aligner := s.aligner
	if aligner == nil {
		aligner, err = backend.New(s.cfg, s.logger)
		if err != nil {
			return err
		}
	}

	if err := aligner.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire %s aligner: %w", name, err)
	}
	defer aligner.Release()

	settings := SettingsFromConfig(s.cfg)
	settings.Backend = name

	h := NewHandler(align.Retain(aligner), settings,
		WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithBackends(backend.Names()),
		WithLogger(s.logger),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("alignment server listening",
		slog.String("addr", s.cfg.Server.ListenAddr),
		slog.String("backend", name),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
